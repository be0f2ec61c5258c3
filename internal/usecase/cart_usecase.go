package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"storefront/internal/domain/cart"
	"storefront/internal/domain/money"
	"storefront/internal/logger"
	repo "storefront/internal/repository"
)

const (
	cartKeyPrefix    = "cart:"
	maxCartSessionID = 128
)

// CartUsecase はセッション単位のカート操作。
// 毎回ストアから読み、1操作ごとにカート全体を書き戻す。
type CartUsecase struct {
	store    repo.CartStore
	products repo.ProductRepository
	ttl      time.Duration
}

func NewCartUsecase(store repo.CartStore, products repo.ProductRepository, ttl time.Duration) *CartUsecase {
	return &CartUsecase{store: store, products: products, ttl: ttl}
}

type CartItemResponse struct {
	Index          int    `json:"index"`
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	Price          int64  `json:"price"`
	PriceFormatted string `json:"price_formatted"`
	Quantity       int64  `json:"quantity"`
	Stock          int64  `json:"stock"`
	ImageURL       string `json:"image_url,omitempty"`
	Subtotal       int64  `json:"subtotal"`
}

type CartResponse struct {
	Items          []CartItemResponse `json:"items"`
	Total          int64              `json:"total"`
	TotalFormatted string             `json:"total_formatted"`
}

type AddCartInput struct {
	ProductID string
	Quantity  int64
}

func cartKey(sessionID string) (string, error) {
	s := strings.TrimSpace(sessionID)
	if s == "" || len(s) > maxCartSessionID {
		return "", NewHTTPError(http.StatusBadRequest, "invalid cart session")
	}
	return cartKeyPrefix + s, nil
}

// load は保存されたカートを読む。壊れていれば空として扱う。
func (u *CartUsecase) load(ctx context.Context, key string) (*cart.Cart, error) {
	data, ok, err := u.store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return cart.New(), nil
	}
	c, valid := cart.Unmarshal(data)
	if !valid {
		logger.WithCtx(ctx).Warn("discarding corrupted cart", "key", key)
	}
	return c, nil
}

func (u *CartUsecase) save(ctx context.Context, key string, c *cart.Cart) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	return u.store.Save(ctx, key, data, u.ttl)
}

func (u *CartUsecase) GetCart(ctx context.Context, sessionID string) (CartResponse, error) {
	key, err := cartKey(sessionID)
	if err != nil {
		return CartResponse{}, err
	}
	c, err := u.load(ctx, key)
	if err != nil {
		return CartResponse{}, WrapHTTPError(http.StatusInternalServerError, "cart store error", err)
	}
	return toCartResponse(c), nil
}

// AddItem は最新の商品情報（在庫）で行を追加・加算する。
func (u *CartUsecase) AddItem(ctx context.Context, sessionID string, in AddCartInput) (CartResponse, error) {
	key, err := cartKey(sessionID)
	if err != nil {
		return CartResponse{}, err
	}
	if strings.TrimSpace(in.ProductID) == "" {
		return CartResponse{}, NewHTTPError(http.StatusBadRequest, "invalid product_id")
	}
	if in.Quantity < 1 {
		return CartResponse{}, NewHTTPError(http.StatusBadRequest, "invalid quantity")
	}

	p, err := u.products.FindByID(ctx, in.ProductID)
	if errors.Is(err, repo.ErrNotFound) {
		return CartResponse{}, NewHTTPError(http.StatusNotFound, "product not found")
	}
	if err != nil {
		return CartResponse{}, dbError(err)
	}

	c, err := u.load(ctx, key)
	if err != nil {
		return CartResponse{}, WrapHTTPError(http.StatusInternalServerError, "cart store error", err)
	}

	err = c.AddLine(cart.Snapshot{
		ProductID: p.ID,
		Name:      p.Name,
		UnitPrice: p.Price,
		Stock:     p.Stock,
		ImageURL:  p.ImageURL,
	}, in.Quantity)
	if err != nil {
		return CartResponse{}, cartError(err)
	}

	if err := u.save(ctx, key, c); err != nil {
		return CartResponse{}, WrapHTTPError(http.StatusInternalServerError, "cart store error", err)
	}
	return toCartResponse(c), nil
}

// UpdateItem は index の行の数量を置き換える（在庫は最新を読む）。
func (u *CartUsecase) UpdateItem(ctx context.Context, sessionID string, index int, quantity int64) (CartResponse, error) {
	key, err := cartKey(sessionID)
	if err != nil {
		return CartResponse{}, err
	}
	if quantity < 1 {
		return CartResponse{}, NewHTTPError(http.StatusBadRequest, "invalid quantity")
	}

	c, err := u.load(ctx, key)
	if err != nil {
		return CartResponse{}, WrapHTTPError(http.StatusInternalServerError, "cart store error", err)
	}
	line, ok := c.Line(index)
	if !ok {
		return CartResponse{}, NewHTTPError(http.StatusNotFound, "cart item not found")
	}

	stock, err := u.products.FindByID(ctx, line.ProductID)
	if errors.Is(err, repo.ErrNotFound) {
		return CartResponse{}, NewHTTPError(http.StatusNotFound, "product not found")
	}
	if err != nil {
		return CartResponse{}, dbError(err)
	}

	if err := c.UpdateQuantity(index, quantity, stock.Stock); err != nil {
		return CartResponse{}, cartError(err)
	}
	if err := u.save(ctx, key, c); err != nil {
		return CartResponse{}, WrapHTTPError(http.StatusInternalServerError, "cart store error", err)
	}
	return toCartResponse(c), nil
}

// RemoveItem は index の行を消す。範囲外なら何もしない。
func (u *CartUsecase) RemoveItem(ctx context.Context, sessionID string, index int) (CartResponse, error) {
	key, err := cartKey(sessionID)
	if err != nil {
		return CartResponse{}, err
	}
	c, err := u.load(ctx, key)
	if err != nil {
		return CartResponse{}, WrapHTTPError(http.StatusInternalServerError, "cart store error", err)
	}
	if c.RemoveLine(index) {
		if err := u.save(ctx, key, c); err != nil {
			return CartResponse{}, WrapHTTPError(http.StatusInternalServerError, "cart store error", err)
		}
	}
	return toCartResponse(c), nil
}

func (u *CartUsecase) Clear(ctx context.Context, sessionID string) error {
	key, err := cartKey(sessionID)
	if err != nil {
		return err
	}
	if err := u.store.Delete(ctx, key); err != nil {
		return WrapHTTPError(http.StatusInternalServerError, "cart store error", err)
	}
	return nil
}

func cartError(err error) error {
	switch {
	case errors.Is(err, cart.ErrStockExceeded):
		return WrapHTTPError(http.StatusConflict, "stock exceeded", ErrStockExceeded)
	case errors.Is(err, cart.ErrInvalidQuantity):
		return NewHTTPError(http.StatusBadRequest, "invalid quantity")
	case errors.Is(err, cart.ErrInvalidProduct):
		return NewHTTPError(http.StatusBadRequest, "invalid product_id")
	case errors.Is(err, cart.ErrLineNotFound):
		return NewHTTPError(http.StatusNotFound, "cart item not found")
	case errors.Is(err, cart.ErrAmountTooLarge):
		return NewHTTPError(http.StatusBadRequest, "cart total too large")
	}
	return WrapHTTPError(http.StatusInternalServerError, "cart error", err)
}

func toCartResponse(c *cart.Cart) CartResponse {
	lines := c.Lines()
	items := make([]CartItemResponse, 0, len(lines))
	for i, l := range lines {
		items = append(items, CartItemResponse{
			Index:          i,
			ProductID:      l.ProductID,
			Name:           l.Name,
			Price:          l.UnitPrice,
			PriceFormatted: money.Format(l.UnitPrice),
			Quantity:       l.Quantity,
			Stock:          l.Stock,
			ImageURL:       l.ImageURL,
			Subtotal:       l.Subtotal(),
		})
	}
	total := c.Total()
	return CartResponse{
		Items:          items,
		Total:          total,
		TotalFormatted: money.Format(total),
	}
}
