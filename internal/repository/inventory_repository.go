package repository

import (
	"context"

	"storefront/internal/domain/model"
)

// 在庫数の読み書き
type InventoryRepository interface {
	// 現在の在庫を取得（カートの値ではなく最新）
	ReadStock(ctx context.Context, productID string) (int64, error)

	// 在庫の現在値で上書き（管理者の在庫設定用）
	WriteStock(ctx context.Context, productID string, newStock int64) error

	// 在庫が足りるときだけ減算。足りなければ false
	DecreaseStockIfEnough(ctx context.Context, productID string, qty int64) (bool, error)

	// 在庫戻し（キャンセル・補償）
	IncreaseStock(ctx context.Context, productID string, qty int64) error

	// 調整履歴作成
	CreateAdjustment(ctx context.Context, adjustment model.InventoryAdjustment) error
}
