package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 注文明細。作成時点のタイトルと単価をそのまま保存し、以後変更しない。
type OrderItem struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID       int64           `gorm:"not null;index" json:"order_id"`
	ProductID     int64           `gorm:"not null;index" json:"product_id"`
	TitleSnapshot string          `gorm:"type:varchar(255);not null" json:"title"`
	Quantity      int64           `gorm:"not null" json:"quantity"`
	UnitPrice     decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unit_price"`
	TotalPrice    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total_price"`
	CreatedAt     time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
}
