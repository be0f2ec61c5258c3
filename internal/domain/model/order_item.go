package model

import "time"

// 注文明細。価格は購入時点のスナップショット。
type OrderItem struct {
	ID                  string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrderID             string    `gorm:"type:varchar(36);not null;index" json:"order_id"`
	ProductID           string    `gorm:"type:varchar(36);not null;index" json:"product_id"`
	ProductNameSnapshot string    `gorm:"type:varchar(255);not null" json:"product_name_snapshot"`
	PriceAtPurchase     int64     `gorm:"not null" json:"price_at_purchase"`
	Quantity            int64     `gorm:"not null" json:"quantity"`
	CreatedAt           time.Time `gorm:"not null" json:"created_at"`
}
