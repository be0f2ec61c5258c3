package model

import "time"

// 認証基盤のユーザーに対応するプロフィール（IDは共通）
type Profile struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	DisplayName string    `gorm:"type:varchar(255);not null" json:"display_name"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
}
