package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 書籍（カタログ）。注文側からは読み取りと在庫の増減だけ。
type Product struct {
	ID     int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Title  string          `gorm:"type:varchar(255);not null" json:"title"`
	Author string          `gorm:"type:varchar(255)" json:"author"`
	Price  decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	Stock  int64           `gorm:"not null" json:"stock"`

	IsActive bool `gorm:"not null;default:false" json:"is_active"`

	//決済側に登録済みの価格ID（無ければ都度価格を渡す）
	StripePriceID *string `gorm:"type:varchar(255)" json:"-"`

	CreatedAt time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
