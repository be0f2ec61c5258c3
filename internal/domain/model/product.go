package model

import (
	"time"

	"gorm.io/gorm"
)

// 商品。price は最小通貨単位（セント）で持つ。
type Product struct {
	ID          string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name        string         `gorm:"type:varchar(255);not null" json:"name"`
	Description string         `gorm:"type:text" json:"description"`
	Price       int64          `gorm:"not null" json:"price"`
	ImageURL    string         `gorm:"type:text" json:"image_url"`
	Category    string         `gorm:"type:varchar(100);index" json:"category"`
	Stock       int64          `gorm:"not null;default:0;check:chk_products_stock,stock >= 0" json:"stock"`
	StoreID     string         `gorm:"type:varchar(36);index" json:"store_id"`
	CreatedAt   time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}
