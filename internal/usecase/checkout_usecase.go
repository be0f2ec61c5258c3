package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"storefront/internal/domain/cart"
	"storefront/internal/domain/model"
	"storefront/internal/identity"
	"storefront/internal/logger"
	"storefront/internal/metrics"
	repo "storefront/internal/repository"
)

// CheckoutState は注文確定の進み具合。
type CheckoutState int

const (
	StateIdle CheckoutState = iota
	StateValidating
	StateProfileEnsuring
	StateOrderCreating
	StateLinesInserting
	StateStockSettling
	StateSucceeded
	StateFailed
)

func (s CheckoutState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateProfileEnsuring:
		return "profile_ensuring"
	case StateOrderCreating:
		return "order_creating"
	case StateLinesInserting:
		return "lines_inserting"
	case StateStockSettling:
		return "stock_settling"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("CheckoutState(%d)", int(s))
}

// 書き込みのまとめ方
type CommitMode string

const (
	// 1トランザクション（失敗したら全て戻る）
	CommitTx CommitMode = "tx"
	// 1件ずつ書き、失敗したら逆順に取り消す
	CommitSaga CommitMode = "saga"
)

type CheckoutDeps struct {
	Tx      repo.TransactionManager
	Repos   repo.TxRepos // トランザクション外で使う
	Carts   *CartUsecase
	Gate    identity.Gate
	Catalog repo.CatalogCache
	IDGen   IDGenerator
	Clock   Clock
	Mode    CommitMode
}

type CheckoutUsecase struct {
	tx      repo.TransactionManager
	repos   repo.TxRepos
	carts   *CartUsecase
	gate    identity.Gate
	catalog repo.CatalogCache
	idGen   IDGenerator
	clock   Clock
	mode    CommitMode
}

func NewCheckoutUsecase(d CheckoutDeps) *CheckoutUsecase {
	mode := d.Mode
	if mode == "" {
		mode = CommitTx
	}
	return &CheckoutUsecase{
		tx:      d.Tx,
		repos:   d.Repos,
		carts:   d.Carts,
		gate:    d.Gate,
		catalog: d.Catalog,
		idGen:   d.IDGen,
		clock:   d.Clock,
		mode:    mode,
	}
}

// 1回の注文確定の状態
type attempt struct {
	state CheckoutState
	log   *slog.Logger
}

func (a *attempt) to(next CheckoutState) {
	a.log.Debug("checkout state", "from", a.state.String(), "to", next.String())
	a.state = next
}

// PlaceOrder はカートの中身で注文を作り、在庫を減らし、カートを空にする。
//
// カートが空、または未サインインなら何も書かずに返す。
// 在庫が足りなければ書いたものを全て戻して 409。
// それ以外の失敗は 500（カートはそのまま残る）。
func (u *CheckoutUsecase) PlaceOrder(ctx context.Context, sessionID string) (OrderOutput, error) {
	a := &attempt{state: StateIdle, log: logger.WithCtx(ctx).With("mode", string(u.mode))}

	a.to(StateValidating)
	key, err := cartKey(sessionID)
	if err != nil {
		metrics.CheckoutTotal.WithLabelValues("rejected").Inc()
		return OrderOutput{}, err
	}
	c, err := u.carts.load(ctx, key)
	if err != nil {
		return OrderOutput{}, u.fail(a, err)
	}
	if c.IsEmpty() {
		metrics.CheckoutTotal.WithLabelValues("rejected").Inc()
		return OrderOutput{}, WrapHTTPError(http.StatusBadRequest, "cart is empty", ErrCartEmpty)
	}
	who, ok := u.gate.Current(ctx)
	if !ok {
		metrics.CheckoutTotal.WithLabelValues("rejected").Inc()
		return OrderOutput{}, WrapHTTPError(http.StatusUnauthorized, "please sign in to checkout", ErrUnauthenticated)
	}
	a.log = a.log.With("user_id", who.ID)

	a.to(StateProfileEnsuring)
	if _, err := u.EnsureProfile(ctx, who); err != nil {
		return OrderOutput{}, u.fail(a, err)
	}

	lines := c.Lines()
	now := u.clock.Now()
	order := model.Order{
		ID:         u.idGen.NewID(),
		UserID:     who.ID,
		Status:     model.OrderStatusPending,
		TotalPrice: c.Total(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	items := make([]model.OrderItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, model.OrderItem{
			ID:                  u.idGen.NewID(),
			OrderID:             order.ID,
			ProductID:           l.ProductID,
			ProductNameSnapshot: l.Name,
			PriceAtPurchase:     l.UnitPrice,
			Quantity:            l.Quantity,
			CreatedAt:           now,
		})
	}
	a.log = a.log.With("order_id", order.ID)

	switch u.mode {
	case CommitSaga:
		err = u.commitSaga(ctx, a, order, items, lines)
	default:
		err = u.commitTx(ctx, a, order, items, lines)
	}
	if err != nil {
		return OrderOutput{}, u.fail(a, err)
	}

	a.to(StateSucceeded)
	metrics.CheckoutTotal.WithLabelValues("succeeded").Inc()
	a.log.Info("order placed", "total", order.TotalPrice, "lines", len(items))

	//ここから先の失敗は注文を取り消さない
	if err := u.carts.store.Delete(ctx, key); err != nil {
		a.log.Warn("failed to clear cart after checkout", "error", err)
	}
	if u.catalog != nil {
		if err := u.catalog.Invalidate(ctx); err != nil {
			a.log.Warn("failed to invalidate catalog cache", "error", err)
		}
	}

	return toOrderOutput(order, items, nil), nil
}

func (u *CheckoutUsecase) fail(a *attempt, err error) error {
	a.to(StateFailed)
	if errors.Is(err, ErrInsufficientStock) {
		metrics.CheckoutTotal.WithLabelValues("conflict").Inc()
		a.log.Info("checkout rejected", "error", err)
		return err
	}
	metrics.CheckoutTotal.WithLabelValues("failed").Inc()
	a.log.Error("checkout failed", "error", err)
	return WrapHTTPError(http.StatusInternalServerError, "checkout failed", fmt.Errorf("%w: %w", ErrCheckoutFailed, err))
}

func insufficientStock(l cart.Line) error {
	metrics.StockConflicts.Inc()
	name := l.Name
	if name == "" {
		name = l.ProductID
	}
	return WrapHTTPError(http.StatusConflict, "insufficient stock: "+name, ErrInsufficientStock)
}

// commitTx は注文・明細・在庫減算を1トランザクションで行う。
func (u *CheckoutUsecase) commitTx(ctx context.Context, a *attempt, order model.Order, items []model.OrderItem, lines []cart.Line) error {
	return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		a.to(StateOrderCreating)
		if _, err := r.Orders().Create(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		a.to(StateLinesInserting)
		if err := r.OrderItems().CreateBulk(ctx, order.ID, items); err != nil {
			return fmt.Errorf("insert order lines: %w", err)
		}

		a.to(StateStockSettling)
		for _, l := range lines {
			ok, err := r.Inventory().DecreaseStockIfEnough(ctx, l.ProductID, l.Quantity)
			if err != nil {
				return fmt.Errorf("decrease stock %s: %w", l.ProductID, err)
			}
			if !ok {
				return insufficientStock(l)
			}
		}
		return nil
	})
}

// commitSaga はトランザクションを使わずに書き、失敗したらそれまでの分を取り消す。
func (u *CheckoutUsecase) commitSaga(ctx context.Context, a *attempt, order model.Order, items []model.OrderItem, lines []cart.Line) error {
	a.to(StateOrderCreating)
	if _, err := u.repos.Orders().Create(ctx, order); err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	a.to(StateLinesInserting)
	if err := u.repos.OrderItems().CreateBulk(ctx, order.ID, items); err != nil {
		u.compensate(ctx, a, order.ID, nil)
		return fmt.Errorf("insert order lines: %w", err)
	}

	a.to(StateStockSettling)
	settled := make([]cart.Line, 0, len(lines))
	for _, l := range lines {
		ok, err := u.repos.Inventory().DecreaseStockIfEnough(ctx, l.ProductID, l.Quantity)
		if err != nil {
			u.compensate(ctx, a, order.ID, settled)
			return fmt.Errorf("decrease stock %s: %w", l.ProductID, err)
		}
		if !ok {
			u.compensate(ctx, a, order.ID, settled)
			return insufficientStock(l)
		}
		settled = append(settled, l)
	}
	return nil
}

// compensate は減らした在庫を戻し、明細と注文を消す。
// 呼び出し元が取り消されていても最後まで行う。
func (u *CheckoutUsecase) compensate(ctx context.Context, a *attempt, orderID string, settled []cart.Line) {
	cctx := context.WithoutCancel(ctx)

	for i := len(settled) - 1; i >= 0; i-- {
		l := settled[i]
		if err := u.repos.Inventory().IncreaseStock(cctx, l.ProductID, l.Quantity); err != nil {
			partialCommit(a, "restock", err, "product_id", l.ProductID, "quantity", l.Quantity)
		}
	}
	if err := u.repos.OrderItems().DeleteByOrderID(cctx, orderID); err != nil {
		partialCommit(a, "delete_lines", err)
	}
	if err := u.repos.Orders().Delete(cctx, orderID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		partialCommit(a, "delete_order", err)
	}
}

func partialCommit(a *attempt, stage string, err error, args ...any) {
	metrics.PartialCommits.WithLabelValues(stage).Inc()
	a.log.Error("PartialCommitInconsistency", append([]any{"stage", stage, "error", err}, args...)...)
}

// EnsureProfile はプロフィールが無ければ作る。
// 同時に作られた場合（重複）は読み直して同じものを返す。
func (u *CheckoutUsecase) EnsureProfile(ctx context.Context, who identity.Identity) (model.Profile, error) {
	p, err := u.repos.Profiles().FindByID(ctx, who.ID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return model.Profile{}, fmt.Errorf("find profile: %w", err)
	}

	p = model.Profile{
		ID:          who.ID,
		DisplayName: displayName(who.Email),
		CreatedAt:   u.clock.Now(),
	}
	err = u.repos.Profiles().Create(ctx, p)
	if errors.Is(err, repo.ErrDuplicate) {
		return u.repos.Profiles().FindByID(ctx, who.ID)
	}
	if err != nil {
		return model.Profile{}, fmt.Errorf("create profile: %w", err)
	}
	return p, nil
}

// メールの @ より前。無ければ "customer"
func displayName(email string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(email), "@")
	if local == "" {
		return "customer"
	}
	return local
}
