package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusExpired  PaymentStatus = "expired"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

const PaymentMethodCard = "card"

// 注文。物理削除はしない。
// TotalAmount = Subtotal + TaxAmount + ShippingCost（セント単位で一致）
type Order struct {
	ID          int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      int64       `gorm:"not null;index;uniqueIndex:idx_orders_user_idem,priority:1" json:"user_id"`
	OrderNumber string      `gorm:"type:varchar(32);not null;uniqueIndex" json:"order_number"`
	Status      OrderStatus `gorm:"type:varchar(20);not null;index" json:"status"`

	Subtotal     decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"subtotal"`
	TaxAmount    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"tax_amount"`
	ShippingCost decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"shipping_cost"`
	TotalAmount  decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total_amount"`

	ShippingAddressID int64 `gorm:"not null;index" json:"shipping_address_id"`

	PaymentMethod     string        `gorm:"type:varchar(20);not null" json:"payment_method"`
	PaymentStatus     PaymentStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"payment_status"`
	ExternalSessionID *string       `gorm:"type:varchar(255);uniqueIndex" json:"-"`
	PaymentURL        string        `gorm:"type:text" json:"payment_url,omitempty"`

	TrackingNumber string `gorm:"type:varchar(100)" json:"tracking_number,omitempty"`
	Notes          string `gorm:"type:text" json:"notes,omitempty"`

	//同じキーなら同じ注文を返す
	IdempotencyKey *string `gorm:"type:varchar(255);uniqueIndex:idx_orders_user_idem,priority:2" json:"-"`
	//通知が未送信（送信前に落ちた場合に再送する）
	NotifyPending bool `gorm:"not null;default:false;index" json:"-"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (o Order) HasPaymentSession() bool {
	return o.ExternalSessionID != nil && *o.ExternalSessionID != ""
}
