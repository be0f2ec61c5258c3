package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/domain/money"
	"storefront/internal/identity"
	repo "storefront/internal/repository"
)

// 画面に出す注文番号の長さ
const shortIDLen = 8

type OrderUsecase struct {
	tx   repo.TransactionManager
	gate identity.Gate
}

func NewOrderUsecase(tx repo.TransactionManager, gate identity.Gate) *OrderUsecase {
	return &OrderUsecase{tx: tx, gate: gate}
}

type OrderItemOutput struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	ImageURL  string `json:"image_url,omitempty"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
	Subtotal  int64  `json:"subtotal"`
}

type OrderOutput struct {
	ID             string            `json:"id"`
	ShortID        string            `json:"short_id"`
	UserID         string            `json:"user_id"`
	Status         string            `json:"status"`
	TotalPrice     int64             `json:"total_price"`
	TotalFormatted string            `json:"total_formatted"`
	CreatedAt      time.Time         `json:"created_at"`
	Items          []OrderItemOutput `json:"items"`
}

type OrderListOutput struct {
	Items []OrderOutput `json:"items"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// 自分の注文一覧（新しい順）
func (u *OrderUsecase) ListMyOrders(ctx context.Context, page, limit int) (OrderListOutput, error) {
	id, ok := u.gate.Current(ctx)
	if !ok {
		return OrderListOutput{}, WrapHTTPError(http.StatusUnauthorized, "unauthorized", ErrUnauthenticated)
	}
	if page < 1 {
		return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if limit < 1 || limit > 100 {
		return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}

	out := OrderListOutput{Items: []OrderOutput{}, Page: page, Limit: limit}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, total, err := r.Orders().ListByUserID(ctx, id.ID, page, limit)
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

// 注文詳細。他人の注文は存在しない扱い。
func (u *OrderUsecase) GetMyOrderDetail(ctx context.Context, orderID string) (OrderOutput, error) {
	id, ok := u.gate.Current(ctx)
	if !ok {
		return OrderOutput{}, WrapHTTPError(http.StatusUnauthorized, "unauthorized", ErrUnauthenticated)
	}
	if strings.TrimSpace(orderID) == "" {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return dbError(err)
		}
		if o.UserID != id.ID {
			//他人の注文は「存在しない扱い」にする
			return NewHTTPError(http.StatusNotFound, "not found")
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return dbError(err)
		}

		//画像は商品から（削除済みでも引く）
		ids := make([]string, 0, len(items))
		for _, it := range items {
			ids = append(ids, it.ProductID)
		}
		products, err := r.Products().FindByIDs(ctx, ids)
		if err != nil {
			return dbError(err)
		}

		out = toOrderOutput(o, items, products)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

func toOrderOutput(o model.Order, items []model.OrderItem, products map[string]model.Product) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ProductID: it.ProductID,
			Name:      it.ProductNameSnapshot,
			ImageURL:  products[it.ProductID].ImageURL,
			Price:     it.PriceAtPurchase,
			Quantity:  it.Quantity,
			Subtotal:  it.PriceAtPurchase * it.Quantity,
		})
	}

	return OrderOutput{
		ID:             o.ID,
		ShortID:        shortID(o.ID),
		UserID:         o.UserID,
		Status:         string(o.Status),
		TotalPrice:     o.TotalPrice,
		TotalFormatted: money.Format(o.TotalPrice),
		CreatedAt:      o.CreatedAt,
		Items:          outItems,
	}
}
