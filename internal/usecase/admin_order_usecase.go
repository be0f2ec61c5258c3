package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/logger"
	repo "storefront/internal/repository"
)

type AdminOrderUsecase struct {
	tx      repo.TransactionManager
	catalog repo.CatalogCache
	idGen   IDGenerator
	clock   Clock
}

func NewAdminOrderUsecase(tx repo.TransactionManager, catalog repo.CatalogCache, idGen IDGenerator, clock Clock) *AdminOrderUsecase {
	return &AdminOrderUsecase{tx: tx, catalog: catalog, idGen: idGen, clock: clock}
}

type AdminUpdateOrderStatusInput struct {
	Status string
}

// 注文一覧（全ユーザー、新しい順）
func (u *AdminOrderUsecase) List(ctx context.Context, f repo.AdminOrderListFilter) (OrderListOutput, error) {
	// page/limitの最低限チェック
	if f.Page < 1 {
		return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if f.Limit < 1 || f.Limit > 100 {
		return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}
	if f.Status != "" {
		s, ok := model.ParseOrderStatus(f.Status)
		if !ok {
			return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid status")
		}
		f.Status = string(s)
	}

	out := OrderListOutput{Items: []OrderOutput{}, Page: f.Page, Limit: f.Limit}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, total, err := r.Orders().ListAdmin(ctx, f)
		if err != nil {
			return dbError(err)
		}
		out.Total = total

		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return dbError(err)
			}
			out.Items = append(out.Items, toOrderOutput(o, items, nil))
		}
		return nil
	})

	if err != nil {
		return OrderListOutput{}, err
	}
	return out, nil
}

// 進める方向だけ許す。cancelled / delivered は終端。
func canTransition(from, to model.OrderStatus) bool {
	switch from {
	case model.OrderStatusPending:
		return to == model.OrderStatusShipped || to == model.OrderStatusDelivered || to == model.OrderStatusCancelled
	case model.OrderStatusShipped:
		return to == model.OrderStatusDelivered || to == model.OrderStatusCancelled
	}
	return false
}

// ステータス更新（cancelled なら在庫戻し）
func (u *AdminOrderUsecase) UpdateStatus(ctx context.Context, actorAdminUserID string, orderID string, in AdminUpdateOrderStatusInput) error {
	if actorAdminUserID == "" {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if strings.TrimSpace(orderID) == "" {
		return NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	newStatus, ok := model.ParseOrderStatus(in.Status)
	if !ok {
		return NewHTTPError(http.StatusBadRequest, "invalid status")
	}

	restocked := false
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 注文取得
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return dbError(err)
		}

		// すでに同じなら何もしない（200）
		if o.Status == newStatus {
			return nil
		}
		// 終端ガード
		if o.Status.IsTerminal() {
			return NewHTTPError(http.StatusBadRequest, fmt.Sprintf("cannot change %s order", o.Status))
		}
		if !canTransition(o.Status, newStatus) {
			return NewHTTPError(http.StatusBadRequest, fmt.Sprintf("cannot change %s to %s", o.Status, newStatus))
		}

		// ステータス更新（先に行う。同時に来た更新は片方だけが通る）
		if err := r.Orders().UpdateStatus(ctx, orderID, o.Status, newStatus); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NewHTTPError(http.StatusNotFound, "not found")
			}
			if errors.Is(err, repo.ErrConflict) {
				return NewHTTPError(http.StatusConflict, "order status was changed by another request")
			}
			return dbError(err)
		}

		// cancelledのときだけ在庫戻し
		if newStatus == model.OrderStatusCancelled {
			items, err := r.OrderItems().ListByOrderID(ctx, orderID)
			if err != nil {
				return dbError(err)
			}

			for _, it := range items {
				if err := r.Inventory().IncreaseStock(ctx, it.ProductID, it.Quantity); err != nil {
					return dbError(err)
				}
			}
			restocked = len(items) > 0
		}

		// 監査ログ（UPDATE_ORDER_STATUS）
		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ID:           u.idGen.NewID(),
			ActorUserID:  actorAdminUserID,
			Action:       model.AuditActionUpdateOrderStatus,
			ResourceType: model.AuditResourceOrder,
			ResourceID:   orderID,
			BeforeJSON:   toJSON(map[string]string{"status": string(o.Status)}),
			AfterJSON:    toJSON(map[string]string{"status": string(newStatus)}),
			CreatedAt:    u.clock.Now(),
		}); err != nil {
			return dbError(err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	if restocked && u.catalog != nil {
		if err := u.catalog.Invalidate(ctx); err != nil {
			logger.WithCtx(ctx).Warn("catalog cache invalidate", "error", err)
		}
	}
	return nil
}

// 期間パラメータ（RFC3339）。空なら nil
func ParseDateTimeRFC3339(s string) (*time.Time, bool) {
	if strings.TrimSpace(s) == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, false
	}
	return &t, true
}
