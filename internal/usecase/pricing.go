package usecase

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// 税率・送料は設定値（TAX_RATE / SHIPPING_COST）
type Pricing struct {
	TaxRate      decimal.Decimal
	ShippingCost decimal.Decimal
}

type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// 各金額はセント単位に丸めてから合計する（Total = Subtotal + Tax + Shipping が必ず成り立つ）
func (p Pricing) Compute(subtotal decimal.Decimal) Totals {
	sub := subtotal.Round(2)
	tax := sub.Mul(p.TaxRate).Round(2)
	ship := p.ShippingCost.Round(2)

	return Totals{
		Subtotal: sub,
		Tax:      tax,
		Shipping: ship,
		Total:    sub.Add(tax).Add(ship),
	}
}

// 単価×数量
func lineTotal(unit decimal.Decimal, qty int64) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(qty)).Round(2)
}

// 最小通貨単位（セント）
func toMinorUnits(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// ORD + yyyymmdd + 16進10桁
func newOrderNumber(now time.Time) string {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		// 乱数が取れない環境ではナノ秒で代用
		return "ORD" + now.Format("20060102") + fmt.Sprintf("%010X", now.UnixNano()&0xFFFFFFFFFF)
	}
	return "ORD" + now.Format("20060102") + strings.ToUpper(hex.EncodeToString(b))
}
