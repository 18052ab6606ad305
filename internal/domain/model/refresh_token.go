package model

import "time"

// リフレッシュトークン（平文は保存しない）
type RefreshToken struct {
	TokenHash string    `gorm:"type:varchar(64);primaryKey" json:"-"`
	UserID    int64     `gorm:"not null;index" json:"user_id"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}
