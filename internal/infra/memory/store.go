// Package memory はリポジトリのメモリ実装。テストと DB なしの起動で使う。
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"gorm.io/gorm"
)

// 障害を起こす操作名
const (
	OpProductFind       = "products.find"
	OpProfileFind       = "profiles.find"
	OpProfileCreate     = "profiles.create"
	OpOrderCreate       = "orders.create"
	OpOrderDelete       = "orders.delete"
	OpOrderItemsCreate  = "order_items.create_bulk"
	OpOrderItemsDelete  = "order_items.delete"
	OpInventoryDecrease = "inventory.decrease"
	OpInventoryIncrease = "inventory.increase"
)

type fault struct {
	nth int // 0 なら毎回
	err error
}

type state struct {
	products    map[string]model.Product
	orders      map[string]model.Order
	orderItems  map[string][]model.OrderItem
	profiles    map[string]model.Profile
	adjustments []model.InventoryAdjustment
	auditLogs   []model.AuditLog
}

// Store は全エンティティをまとめて持つ。repo.TxRepos と repo.TransactionManager を満たす。
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex // トランザクションは直列

	st     state
	writes int
	// トランザクション外で在庫を上書きした回数（商品ごと）
	stockEpoch map[string]int
	calls  map[string]int
	faults map[string]fault
	hooks  map[string]func()
}

func NewStore() *Store {
	return &Store{
		st: state{
			products:   map[string]model.Product{},
			orders:     map[string]model.Order{},
			orderItems: map[string][]model.OrderItem{},
			profiles:   map[string]model.Profile{},
		},
		stockEpoch: map[string]int{},
		calls:      map[string]int{},
		faults:     map[string]fault{},
		hooks:  map[string]func(){},
	}
}

// FailOn は op を毎回 err で失敗させる。
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = fault{err: err}
}

// FailOnCall は op の n 回目（1始まり）だけ err で失敗させる。
func (s *Store) FailOnCall(op string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = fault{nth: n, err: err}
}

// OnCall は op が呼ばれるたびに（ctx の確認より前に）fn を実行する。
func (s *Store) OnCall(op string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[op] = fn
}

// 成功した書き込みの数
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Store) SeedProduct(p model.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
		p.UpdatedAt = p.CreatedAt
	}
	s.st.products[p.ID] = p
	s.stockEpoch[p.ID]++
}

func (s *Store) StockOf(productID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.products[productID].Stock
}

func (s *Store) AllOrders() []model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Order, 0, len(s.st.orders))
	for _, o := range s.st.orders {
		out = append(out, o)
	}
	sortOrders(out)
	return out
}

func (s *Store) ItemsOf(orderID string) []model.OrderItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.OrderItem(nil), s.st.orderItems[orderID]...)
}

func (s *Store) ProfileCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.profiles)
}

func (s *Store) AuditCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.auditLogs)
}

// begin は呼び出し前の共通処理。ロックを取った状態で返る。
func (s *Store) begin(ctx context.Context, op string) error {
	if op != "" {
		s.mu.Lock()
		hook := s.hooks[op]
		s.mu.Unlock()
		if hook != nil {
			hook()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if op == "" {
		return nil
	}
	s.calls[op]++
	if f, ok := s.faults[op]; ok && (f.nth == 0 || f.nth == s.calls[op]) {
		s.mu.Unlock()
		return f.err
	}
	return nil
}

func (s *Store) Products() repo.ProductRepository     { return productRepo{s: s} }
func (s *Store) Inventory() repo.InventoryRepository  { return inventoryRepo{s: s} }
func (s *Store) Orders() repo.OrderRepository         { return orderRepo{s: s} }
func (s *Store) OrderItems() repo.OrderItemRepository { return orderItemRepo{s: s} }
func (s *Store) Profiles() repo.ProfileRepository     { return profileRepo{s: s} }
func (s *Store) AuditLogs() repo.AuditLogRepository   { return auditLogRepo{s: s} }

// txLog はトランザクション内の書き込みを取り消す手順。
// 取り消しは差分で行うので、外で並行して書かれた値は残る。
type txLog struct {
	undo   []func(st *state)
	writes int
}

// wrote は mu を持った状態で呼ぶ。
func (s *Store) wrote(tx *txLog, undo func(st *state)) {
	s.writes++
	if tx != nil {
		tx.undo = append(tx.undo, undo)
		tx.writes++
	}
}

// トランザクション内で使うリポジトリ一式
type txRepos struct {
	s  *Store
	tx *txLog
}

func (r txRepos) Products() repo.ProductRepository     { return productRepo{r.s, r.tx} }
func (r txRepos) Inventory() repo.InventoryRepository  { return inventoryRepo{r.s, r.tx} }
func (r txRepos) Orders() repo.OrderRepository         { return orderRepo{r.s, r.tx} }
func (r txRepos) OrderItems() repo.OrderItemRepository { return orderItemRepo{r.s, r.tx} }
func (r txRepos) Profiles() repo.ProfileRepository     { return profileRepo{r.s, r.tx} }
func (r txRepos) AuditLogs() repo.AuditLogRepository   { return auditLogRepo{r.s, r.tx} }

// WithinTx は fn がエラーなら、fn に渡したリポジトリで書いた分だけを逆順に取り消す。
func (s *Store) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	log := &txLog{}
	if err := fn(txRepos{s: s, tx: log}); err != nil {
		s.mu.Lock()
		for i := len(log.undo) - 1; i >= 0; i-- {
			log.undo[i](&s.st)
		}
		s.writes -= log.writes
		s.mu.Unlock()
		return err
	}
	return nil
}

// stockUndo は在庫を差分で戻す。
// その後トランザクション外で在庫が上書きされていたら、上書きを優先して戻さない。
func (s *Store) stockUndo(productID string, delta int64) func(st *state) {
	epoch := s.stockEpoch[productID]
	return func(st *state) {
		if s.stockEpoch[productID] != epoch {
			return
		}
		if p, ok := st.products[productID]; ok {
			p.Stock += delta
			st.products[productID] = p
		}
	}
}

// ---- products ----

type productRepo struct {
	s  *Store
	tx *txLog
}

func (r productRepo) List(ctx context.Context, q repo.ProductListQuery) ([]model.Product, int64, error) {
	if err := r.s.begin(ctx, ""); err != nil {
		return []model.Product{}, 0, err
	}
	defer r.s.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(q.Q))
	category := strings.TrimSpace(q.Category)
	var all []model.Product
	for _, p := range r.s.st.products {
		if p.DeletedAt.Valid {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(p.Name), needle) {
			continue
		}
		if category != "" && p.Category != category {
			continue
		}
		all = append(all, p)
	}

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		switch q.Sort {
		case "price_asc":
			if a.Price != b.Price {
				return a.Price < b.Price
			}
			return a.ID < b.ID
		case "price_desc":
			if a.Price != b.Price {
				return a.Price > b.Price
			}
			return a.ID > b.ID
		case "name":
			if a.Name != b.Name {
				return a.Name < b.Name
			}
			return a.ID < b.ID
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.ID > b.ID
		}
	})

	total := int64(len(all))
	return paginate(all, q.Page, q.Limit), total, nil
}

func (r productRepo) FindByID(ctx context.Context, id string) (model.Product, error) {
	if err := r.s.begin(ctx, OpProductFind); err != nil {
		return model.Product{}, err
	}
	defer r.s.mu.Unlock()
	p, ok := r.s.st.products[id]
	if !ok || p.DeletedAt.Valid {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

func (r productRepo) FindByIDs(ctx context.Context, ids []string) (map[string]model.Product, error) {
	if err := r.s.begin(ctx, ""); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	out := make(map[string]model.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.s.st.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (r productRepo) Categories(ctx context.Context) ([]string, error) {
	if err := r.s.begin(ctx, ""); err != nil {
		return []string{}, err
	}
	defer r.s.mu.Unlock()
	seen := map[string]struct{}{}
	cats := []string{}
	for _, p := range r.s.st.products {
		if p.DeletedAt.Valid || p.Category == "" {
			continue
		}
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		cats = append(cats, p.Category)
	}
	sort.Strings(cats)
	return cats, nil
}

func (r productRepo) Create(ctx context.Context, p model.Product) (model.Product, error) {
	if err := r.s.begin(ctx, ""); err != nil {
		return model.Product{}, err
	}
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.products[p.ID]; ok {
		return model.Product{}, repo.ErrDuplicate
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	r.s.st.products[p.ID] = p
	r.s.wrote(r.tx, func(st *state) { delete(st.products, p.ID) })
	return p, nil
}

func (r productRepo) Update(ctx context.Context, p model.Product) error {
	if err := r.s.begin(ctx, ""); err != nil {
		return err
	}
	defer r.s.mu.Unlock()
	cur, ok := r.s.st.products[p.ID]
	if !ok || cur.DeletedAt.Valid {
		return repo.ErrNotFound
	}
	prev := cur
	cur.Name = p.Name
	cur.Description = p.Description
	cur.Price = p.Price
	cur.ImageURL = p.ImageURL
	cur.Category = p.Category
	cur.StoreID = p.StoreID
	cur.UpdatedAt = time.Now()
	r.s.st.products[p.ID] = cur
	r.s.wrote(r.tx, func(st *state) {
		//在庫は戻さない（別の書き込みの結果）
		now := st.products[p.ID]
		prev.Stock = now.Stock
		st.products[p.ID] = prev
	})
	return nil
}

func (r productRepo) SoftDelete(ctx context.Context, id string) error {
	if err := r.s.begin(ctx, ""); err != nil {
		return err
	}
	defer r.s.mu.Unlock()
	cur, ok := r.s.st.products[id]
	if !ok || cur.DeletedAt.Valid {
		return repo.ErrNotFound
	}
	cur.DeletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
	r.s.st.products[id] = cur
	r.s.wrote(r.tx, func(st *state) {
		p := st.products[id]
		p.DeletedAt = gorm.DeletedAt{}
		st.products[id] = p
	})
	return nil
}

// ---- inventory ----

type inventoryRepo struct {
	s  *Store
	tx *txLog
}

func (r inventoryRepo) ReadStock(ctx context.Context, productID string) (int64, error) {
	if err := r.s.begin(ctx, ""); err != nil {
		return 0, err
	}
	defer r.s.mu.Unlock()
	p, ok := r.s.st.products[productID]
	if !ok || p.DeletedAt.Valid {
		return 0, repo.ErrNotFound
	}
	return p.Stock, nil
}

func (r inventoryRepo) WriteStock(ctx context.Context, productID string, newStock int64) error {
	if err := r.s.begin(ctx, ""); err != nil {
		return err
	}
	defer r.s.mu.Unlock()
	p, ok := r.s.st.products[productID]
	if !ok || p.DeletedAt.Valid {
		return repo.ErrNotFound
	}
	delta := p.Stock - newStock
	p.Stock = newStock
	r.s.st.products[productID] = p
	if r.tx == nil {
		r.s.stockEpoch[productID]++
	}
	r.s.wrote(r.tx, r.s.stockUndo(productID, delta))
	return nil
}

func (r inventoryRepo) DecreaseStockIfEnough(ctx context.Context, productID string, qty int64) (bool, error) {
	if err := r.s.begin(ctx, OpInventoryDecrease); err != nil {
		return false, err
	}
	defer r.s.mu.Unlock()
	p, ok := r.s.st.products[productID]
	if !ok || p.DeletedAt.Valid || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	r.s.st.products[productID] = p
	r.s.wrote(r.tx, r.s.stockUndo(productID, qty))
	return true, nil
}

func (r inventoryRepo) IncreaseStock(ctx context.Context, productID string, qty int64) error {
	if err := r.s.begin(ctx, OpInventoryIncrease); err != nil {
		return err
	}
	defer r.s.mu.Unlock()
	p, ok := r.s.st.products[productID]
	if !ok {
		return repo.ErrNotFound
	}
	p.Stock += qty
	r.s.st.products[productID] = p
	r.s.wrote(r.tx, r.s.stockUndo(productID, -qty))
	return nil
}

func (r inventoryRepo) CreateAdjustment(ctx context.Context, adj model.InventoryAdjustment) error {
	if err := r.s.begin(ctx, ""); err != nil {
		return err
	}
	defer r.s.mu.Unlock()
	r.s.st.adjustments = append(r.s.st.adjustments, adj)
	r.s.wrote(r.tx, func(st *state) { st.adjustments = removeByID(st.adjustments, adj.ID, adjustmentID) })
	return nil
}

// ---- orders ----

type orderRepo struct {
	s  *Store
	tx *txLog
}

func (r orderRepo) FindByID(ctx context.Context, orderID string) (model.Order, error) {
	if err := r.s.begin(ctx, ""); err != nil {
		return model.Order{}, err
	}
	defer r.s.mu.Unlock()
	o, ok := r.s.st.orders[orderID]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return o, nil
}

func (r orderRepo) ListByUserID(ctx context.Context, userID string, page int, limit int) ([]model.Order, int64, error) {
	if err := r.s.begin(ctx, ""); err != nil {
		return []model.Order{}, 0, err
	}
	defer r.s.mu.Unlock()
	var out []model.Order
	for _, o := range r.s.st.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sortOrders(out)
	return paginate(out, page, limit), int64(len(out)), nil
}

func (r orderRepo) Create(ctx context.Context, order model.Order) (model.Order, error) {
	if err := r.s.begin(ctx, OpOrderCreate); err != nil {
		return model.Order{}, err
	}
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.orders[order.ID]; ok {
		return model.Order{}, repo.ErrDuplicate
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	r.s.st.orders[order.ID] = order
	r.s.wrote(r.tx, func(st *state) { delete(st.orders, order.ID) })
	return order, nil
}

func (r orderRepo) UpdateStatus(ctx context.Context, orderID string, from, to model.OrderStatus) error {
	if err := r.s.begin(ctx, ""); err != nil {
		return err
	}
	defer r.s.mu.Unlock()
	o, ok := r.s.st.orders[orderID]
	if !ok {
		return repo.ErrNotFound
	}
	if o.Status != from {
		return repo.ErrConflict
	}
	prev := o
	o.Status = to
	o.UpdatedAt = time.Now()
	r.s.st.orders[orderID] = o
	r.s.wrote(r.tx, func(st *state) { st.orders[orderID] = prev })
	return nil
}

func (r orderRepo) Delete(ctx context.Context, orderID string) error {
	if err := r.s.begin(ctx, OpOrderDelete); err != nil {
		return err
	}
	defer r.s.mu.Unlock()
	prev, ok := r.s.st.orders[orderID]
	if !ok {
		return repo.ErrNotFound
	}
	delete(r.s.st.orders, orderID)
	r.s.wrote(r.tx, func(st *state) { st.orders[orderID] = prev })
	return nil
}

func (r orderRepo) ListAdmin(ctx context.Context, f repo.AdminOrderListFilter) ([]model.Order, int64, error) {
	if err := r.s.begin(ctx, ""); err != nil {
		return []model.Order{}, 0, err
	}
	defer r.s.mu.Unlock()
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	var out []model.Order
	for _, o := range r.s.st.orders {
		if f.Status != "" && string(o.Status) != f.Status {
			continue
		}
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.From != nil && o.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && o.CreatedAt.After(*f.To) {
			continue
		}
		out = append(out, o)
	}
	sortOrders(out)
	return paginate(out, f.Page, f.Limit), int64(len(out)), nil
}

// ---- order items ----

type orderItemRepo struct {
	s  *Store
	tx *txLog
}

func (r orderItemRepo) CreateBulk(ctx context.Context, orderID string, items []model.OrderItem) error {
	if err := r.s.begin(ctx, OpOrderItemsCreate); err != nil {
		return err
	}
	defer r.s.mu.Unlock()
	if len(items) == 0 {
		return nil
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		it.OrderID = orderID
		r.s.st.orderItems[orderID] = append(r.s.st.orderItems[orderID], it)
		ids = append(ids, it.ID)
	}
	r.s.wrote(r.tx, func(st *state) {
		rest := st.orderItems[orderID]
		for _, id := range ids {
			rest = removeByID(rest, id, orderItemID)
		}
		if len(rest) == 0 {
			delete(st.orderItems, orderID)
			return
		}
		st.orderItems[orderID] = rest
	})
	return nil
}

func (r orderItemRepo) ListByOrderID(ctx context.Context, orderID string) ([]model.OrderItem, error) {
	if err := r.s.begin(ctx, ""); err != nil {
		return []model.OrderItem{}, err
	}
	defer r.s.mu.Unlock()
	return append([]model.OrderItem{}, r.s.st.orderItems[orderID]...), nil
}

func (r orderItemRepo) DeleteByOrderID(ctx context.Context, orderID string) error {
	if err := r.s.begin(ctx, OpOrderItemsDelete); err != nil {
		return err
	}
	defer r.s.mu.Unlock()
	if prev, ok := r.s.st.orderItems[orderID]; ok {
		delete(r.s.st.orderItems, orderID)
		r.s.wrote(r.tx, func(st *state) {
			st.orderItems[orderID] = append(prev, st.orderItems[orderID]...)
		})
	}
	return nil
}

// ---- profiles ----

type profileRepo struct {
	s  *Store
	tx *txLog
}

func (r profileRepo) FindByID(ctx context.Context, id string) (model.Profile, error) {
	if err := r.s.begin(ctx, OpProfileFind); err != nil {
		return model.Profile{}, err
	}
	defer r.s.mu.Unlock()
	p, ok := r.s.st.profiles[id]
	if !ok {
		return model.Profile{}, repo.ErrNotFound
	}
	return p, nil
}

func (r profileRepo) Create(ctx context.Context, p model.Profile) error {
	if err := r.s.begin(ctx, OpProfileCreate); err != nil {
		return err
	}
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.profiles[p.ID]; ok {
		return repo.ErrDuplicate
	}
	r.s.st.profiles[p.ID] = p
	r.s.wrote(r.tx, func(st *state) { delete(st.profiles, p.ID) })
	return nil
}

// ---- audit logs ----

type auditLogRepo struct {
	s  *Store
	tx *txLog
}

func (r auditLogRepo) Create(ctx context.Context, log model.AuditLog) error {
	if err := r.s.begin(ctx, ""); err != nil {
		return err
	}
	defer r.s.mu.Unlock()
	r.s.st.auditLogs = append(r.s.st.auditLogs, log)
	r.s.wrote(r.tx, func(st *state) { st.auditLogs = removeByID(st.auditLogs, log.ID, auditLogID) })
	return nil
}

func (r auditLogRepo) List(ctx context.Context, f repo.AuditLogFilter) ([]model.AuditLog, error) {
	if err := r.s.begin(ctx, ""); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	var out []model.AuditLog
	for i := len(r.s.st.auditLogs) - 1; i >= 0; i-- {
		l := r.s.st.auditLogs[i]
		if f.ActorUserID != "" && l.ActorUserID != f.ActorUserID {
			continue
		}
		if f.Action != nil && l.Action != *f.Action {
			continue
		}
		if f.ResourceType != nil && l.ResourceType != *f.ResourceType {
			continue
		}
		if f.ResourceID != "" && l.ResourceID != f.ResourceID {
			continue
		}
		if f.CreatedFrom != nil && l.CreatedAt.Before(*f.CreatedFrom) {
			continue
		}
		if f.CreatedTo != nil && l.CreatedAt.After(*f.CreatedTo) {
			continue
		}
		out = append(out, l)
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return []model.AuditLog{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func adjustmentID(a model.InventoryAdjustment) string { return a.ID }
func orderItemID(it model.OrderItem) string            { return it.ID }
func auditLogID(l model.AuditLog) string               { return l.ID }

// removeByID は id が一致する最後の要素を1つ取り除く。
func removeByID[T any](items []T, id string, key func(T) string) []T {
	for i := len(items) - 1; i >= 0; i-- {
		if key(items[i]) == id {
			return append(items[:i:i], items[i+1:]...)
		}
	}
	return items
}

// 新しい順
func sortOrders(orders []model.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})
}

func paginate[T any](items []T, page, limit int) []T {
	if items == nil {
		items = []T{}
	}
	if limit <= 0 {
		return items
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
