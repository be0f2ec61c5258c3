package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/domain/money"
	"storefront/internal/logger"
	repo "storefront/internal/repository"
)

// 画像として受け付ける Content-Type と拡張子
var imageExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
}

type ProductUsecase struct {
	tx       repo.TransactionManager
	products repo.ProductRepository
	cache    repo.CatalogCache
	storage  repo.ObjectStorage
	idGen    IDGenerator
	clock    Clock
	cacheTTL time.Duration
}

// DI
func NewProductUsecase(
	tx repo.TransactionManager,
	products repo.ProductRepository,
	cache repo.CatalogCache,
	storage repo.ObjectStorage,
	idGen IDGenerator,
	clock Clock,
	cacheTTL time.Duration,
) *ProductUsecase {
	return &ProductUsecase{
		tx:       tx,
		products: products,
		cache:    cache,
		storage:  storage,
		idGen:    idGen,
		clock:    clock,
		cacheTTL: cacheTTL,
	}
}

// GET /products の入力
type ListProductsInput struct {
	Page     int
	Limit    int
	Q        string
	Category string
	Sort     string
}

type ProductOutput struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Price          int64  `json:"price"`
	PriceFormatted string `json:"price_formatted"`
	ImageURL       string `json:"image_url"`
	Category       string `json:"category"`
	Stock          int64  `json:"stock"`
	StoreID        string `json:"store_id,omitempty"`
}

type ProductListOutput struct {
	Items []ProductOutput `json:"items"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

func (u *ProductUsecase) ListProducts(ctx context.Context, in ListProductsInput) (ProductListOutput, error) {
	if in.Page < 1 {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if in.Limit < 1 || in.Limit > 100 {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}
	if len(in.Q) > 100 {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "q too long")
	}
	switch in.Sort {
	case "", "new", "price_asc", "price_desc", "name":
	default:
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid sort")
	}

	q := repo.ProductListQuery{
		Page:     in.Page,
		Limit:    in.Limit,
		Q:        strings.TrimSpace(in.Q),
		Category: strings.TrimSpace(in.Category),
		Sort:     in.Sort,
	}

	cacheKey := fmt.Sprintf("products:%d:%d:%s:%s:%s", q.Page, q.Limit, q.Sort, q.Category, strings.ToLower(q.Q))
	var (
		cached  ProductListOutput
		version int64
	)
	if u.cache != nil {
		//バージョンは DB を読む前に取る
		v, hit := u.cache.Get(ctx, cacheKey, &cached)
		if hit {
			return cached, nil
		}
		version = v
	}

	items, total, err := u.products.List(ctx, q)
	if err != nil {
		return ProductListOutput{}, dbError(err)
	}

	out := ProductListOutput{
		Items: make([]ProductOutput, 0, len(items)),
		Total: total,
		Page:  in.Page,
		Limit: in.Limit,
	}
	for _, p := range items {
		out.Items = append(out.Items, toProductOutput(p))
	}

	if u.cache != nil {
		if err := u.cache.Set(ctx, cacheKey, version, out, u.cacheTTL); err != nil {
			logger.WithCtx(ctx).Warn("catalog cache set", "error", err)
		}
	}
	return out, nil
}

func (u *ProductUsecase) GetProduct(ctx context.Context, productID string) (ProductOutput, error) {
	if strings.TrimSpace(productID) == "" {
		return ProductOutput{}, NewHTTPError(http.StatusBadRequest, "invalid product id")
	}

	p, err := u.products.FindByID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return ProductOutput{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return ProductOutput{}, dbError(err)
	}
	return toProductOutput(p), nil
}

func (u *ProductUsecase) Categories(ctx context.Context) ([]string, error) {
	cats, err := u.products.Categories(ctx)
	if err != nil {
		return []string{}, dbError(err)
	}
	return cats, nil
}

// 価格は "999.99" のような10進文字列で受け取る
type AdminProductInput struct {
	Name        string
	Description string
	Price       string
	Stock       int64
	Category    string
	ImageURL    string
	StoreID     string
}

func (in AdminProductInput) validate() (int64, error) {
	if strings.TrimSpace(in.Name) == "" {
		return 0, NewHTTPError(http.StatusBadRequest, "name required")
	}
	price, err := money.Parse(strings.TrimSpace(in.Price))
	if err != nil {
		return 0, WrapHTTPError(http.StatusBadRequest, "invalid price", err)
	}
	if in.Stock < 0 {
		return 0, NewHTTPError(http.StatusBadRequest, "stock must be >= 0")
	}
	return price, nil
}

func (u *ProductUsecase) AdminCreateProduct(ctx context.Context, adminUserID string, in AdminProductInput) (ProductOutput, error) {
	if adminUserID == "" {
		return ProductOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	price, err := in.validate()
	if err != nil {
		return ProductOutput{}, err
	}

	now := u.clock.Now()
	var created model.Product
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		p, err := r.Products().Create(ctx, model.Product{
			ID:          u.idGen.NewID(),
			Name:        strings.TrimSpace(in.Name),
			Description: in.Description,
			Price:       price,
			Stock:       in.Stock,
			Category:    strings.TrimSpace(in.Category),
			ImageURL:    in.ImageURL,
			StoreID:     in.StoreID,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return dbError(err)
		}
		created = p

		return u.audit(ctx, r, adminUserID, model.AuditActionCreateProduct, p.ID, nil, toProductOutput(p))
	})
	if err != nil {
		return ProductOutput{}, err
	}

	u.invalidate(ctx)
	return toProductOutput(created), nil
}

// 在庫は AdminUpdateInventory で変える（ここでは無視）
func (u *ProductUsecase) AdminUpdateProduct(ctx context.Context, adminUserID string, productID string, in AdminProductInput) (ProductOutput, error) {
	if adminUserID == "" {
		return ProductOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if strings.TrimSpace(productID) == "" {
		return ProductOutput{}, NewHTTPError(http.StatusBadRequest, "invalid product id")
	}
	price, err := in.validate()
	if err != nil {
		return ProductOutput{}, err
	}

	var updated model.Product
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		before, err := r.Products().FindByID(ctx, productID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return dbError(err)
		}

		after := before
		after.Name = strings.TrimSpace(in.Name)
		after.Description = in.Description
		after.Price = price
		after.Category = strings.TrimSpace(in.Category)
		after.StoreID = in.StoreID
		if in.ImageURL != "" {
			after.ImageURL = in.ImageURL
		}

		if err := r.Products().Update(ctx, after); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NewHTTPError(http.StatusNotFound, "not found")
			}
			return dbError(err)
		}
		updated = after

		return u.audit(ctx, r, adminUserID, model.AuditActionUpdateProduct, productID, toProductOutput(before), toProductOutput(after))
	})
	if err != nil {
		return ProductOutput{}, err
	}

	u.invalidate(ctx)
	return toProductOutput(updated), nil
}

func (u *ProductUsecase) AdminDeleteProduct(ctx context.Context, adminUserID string, productID string) error {
	if adminUserID == "" {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if strings.TrimSpace(productID) == "" {
		return NewHTTPError(http.StatusBadRequest, "invalid product id")
	}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		before, err := r.Products().FindByID(ctx, productID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return dbError(err)
		}

		if err := r.Products().SoftDelete(ctx, productID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NewHTTPError(http.StatusNotFound, "not found")
			}
			return dbError(err)
		}

		return u.audit(ctx, r, adminUserID, model.AuditActionDeleteProduct, productID, toProductOutput(before), nil)
	})
	if err != nil {
		return err
	}

	u.invalidate(ctx)
	return nil
}

// 在庫を「現在値」に更新し、調整履歴と監査ログを残す
func (u *ProductUsecase) AdminUpdateInventory(ctx context.Context, adminUserID string, productID string, newStock int64, reason string) error {
	if adminUserID == "" {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if strings.TrimSpace(productID) == "" {
		return NewHTTPError(http.StatusBadRequest, "invalid product id")
	}
	if newStock < 0 {
		return NewHTTPError(http.StatusBadRequest, "stock must be >= 0")
	}
	if strings.TrimSpace(reason) == "" {
		return NewHTTPError(http.StatusBadRequest, "reason required")
	}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		//変更前の在庫（before）
		current, err := r.Inventory().ReadStock(ctx, productID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return dbError(err)
		}

		//在庫の現在値を更新
		if err := r.Inventory().WriteStock(ctx, productID, newStock); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NewHTTPError(http.StatusNotFound, "not found")
			}
			return dbError(err)
		}

		//履歴を作成（差分）
		if err := r.Inventory().CreateAdjustment(ctx, model.InventoryAdjustment{
			ID:          u.idGen.NewID(),
			ProductID:   productID,
			AdminUserID: adminUserID,
			Delta:       newStock - current,
			Reason:      strings.TrimSpace(reason),
			CreatedAt:   u.clock.Now(),
		}); err != nil {
			return dbError(err)
		}

		return u.audit(ctx, r, adminUserID, model.AuditActionUpdateStock, productID,
			map[string]int64{"stock": current}, map[string]int64{"stock": newStock})
	})
	if err != nil {
		return err
	}

	u.invalidate(ctx)
	return nil
}

// UploadImage は画像を保存し、商品の image_url を差し替える。
func (u *ProductUsecase) UploadImage(ctx context.Context, adminUserID string, productID string, contentType string, body io.Reader) (ProductOutput, error) {
	if adminUserID == "" {
		return ProductOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	ext, ok := imageExtensions[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return ProductOutput{}, NewHTTPError(http.StatusBadRequest, "unsupported image type")
	}
	if u.storage == nil {
		return ProductOutput{}, NewHTTPError(http.StatusServiceUnavailable, "storage not configured")
	}

	p, err := u.products.FindByID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return ProductOutput{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return ProductOutput{}, dbError(err)
	}

	path := fmt.Sprintf("products/%s.%s", u.idGen.NewID(), ext)
	if err := u.storage.Upload(ctx, path, body, contentType); err != nil {
		return ProductOutput{}, WrapHTTPError(http.StatusBadGateway, "upload failed", err)
	}

	before := toProductOutput(p)
	p.ImageURL = u.storage.PublicURL(path)

	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if err := r.Products().Update(ctx, p); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NewHTTPError(http.StatusNotFound, "not found")
			}
			return dbError(err)
		}
		return u.audit(ctx, r, adminUserID, model.AuditActionUpdateProduct, p.ID, before, toProductOutput(p))
	})
	if err != nil {
		return ProductOutput{}, err
	}

	u.invalidate(ctx)
	return toProductOutput(p), nil
}

//監査ログを作成
//「誰が」「何を」「どの対象に」「どう変えたか」を残す
func (u *ProductUsecase) audit(ctx context.Context, r repo.TxRepos, actor string, action model.AuditAction, productID string, before, after any) error {
	if err := r.AuditLogs().Create(ctx, model.AuditLog{
		ID:           u.idGen.NewID(),
		ActorUserID:  actor,
		Action:       action,
		ResourceType: model.AuditResourceProduct,
		ResourceID:   productID,
		BeforeJSON:   toJSON(before),
		AfterJSON:    toJSON(after),
		CreatedAt:    u.clock.Now(),
	}); err != nil {
		return dbError(err)
	}
	return nil
}

func (u *ProductUsecase) invalidate(ctx context.Context) {
	if u.cache == nil {
		return
	}
	if err := u.cache.Invalidate(ctx); err != nil {
		logger.WithCtx(ctx).Warn("catalog cache invalidate", "error", err)
	}
}

func toJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func toProductOutput(p model.Product) ProductOutput {
	return ProductOutput{
		ID:             p.ID,
		Name:           p.Name,
		Description:    p.Description,
		Price:          p.Price,
		PriceFormatted: money.Format(p.Price),
		ImageURL:       p.ImageURL,
		Category:       p.Category,
		Stock:          p.Stock,
		StoreID:        p.StoreID,
	}
}
