package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"bookshop/internal/domain/model"
	repo "bookshop/internal/repository"

	"github.com/sony/gobreaker/v2"
)

type CheckoutLineItem struct {
	Name       string
	PriceRef   string // 登録済み価格ID。空ならUnitAmountを使う
	UnitAmount int64  // 最小通貨単位
	Quantity   int64
}

type CheckoutRequest struct {
	OrderNumber    string
	CustomerEmail  string
	Currency       string
	LineItems      []CheckoutLineItem
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

type CheckoutSession struct {
	ID  string
	URL string
}

const (
	WebhookCheckoutCompleted          = "checkout.session.completed"
	WebhookCheckoutExpired            = "checkout.session.expired"
	WebhookCheckoutAsyncPaymentOK     = "checkout.session.async_payment_succeeded"
	WebhookCheckoutAsyncPaymentFailed = "checkout.session.async_payment_failed"
)

type WebhookEvent struct {
	ID            string
	Type          string
	SessionID     string
	PaymentStatus string // paid / unpaid / no_payment_required
}

// 決済プロバイダ（Stripe Checkout）
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	// 署名を検証してからイベントを返す
	ParseWebhook(payload []byte, signatureHeader string) (WebhookEvent, error)
}

type PaymentConfig struct {
	Currency   string
	SuccessURL string
	CancelURL  string
	Timeout    time.Duration
}

// 注文から決済セッションを作り、セッションIDとURLを注文に保存する
type PaymentSessionBuilder struct {
	gateway  PaymentGateway
	products repo.ProductRepository
	orders   repo.OrderRepository
	users    repo.UserRepository
	breaker  *gobreaker.CircuitBreaker[CheckoutSession]
	cfg      PaymentConfig
	log      Logger
}

func NewPaymentSessionBuilder(
	gateway PaymentGateway,
	products repo.ProductRepository,
	orders repo.OrderRepository,
	users repo.UserRepository,
	cfg PaymentConfig,
	log Logger,
) *PaymentSessionBuilder {
	log = orNop(log)
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[CheckoutSession](gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warnf("circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	return &PaymentSessionBuilder{
		gateway:  gateway,
		products: products,
		orders:   orders,
		users:    users,
		breaker:  breaker,
		cfg:      cfg,
		log:      log,
	}
}

// 既にセッションがあればそれを返す。
// 失敗しても注文はロールバックしない（PENDINGのまま再試行できる）
func (b *PaymentSessionBuilder) Build(ctx context.Context, o model.Order, items []model.OrderItem) (CheckoutSession, error) {
	if o.HasPaymentSession() {
		return CheckoutSession{ID: *o.ExternalSessionID, URL: o.PaymentURL}, nil
	}

	req, err := b.buildRequest(ctx, o, items)
	if err != nil {
		return CheckoutSession{}, &PaymentSessionError{OrderNumber: o.OrderNumber, Err: err}
	}

	sess, err := b.breaker.Execute(func() (CheckoutSession, error) {
		cctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
		return b.gateway.CreateCheckoutSession(cctx, req)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
		}
		b.log.Errorf("order %s: create checkout session failed: %v", o.OrderNumber, err)
		return CheckoutSession{}, &PaymentSessionError{OrderNumber: o.OrderNumber, Err: err}
	}

	stored, err := b.orders.SetPaymentSession(ctx, o.ID, sess.ID, sess.URL)
	if err != nil {
		return CheckoutSession{}, &PaymentSessionError{OrderNumber: o.OrderNumber, Err: fmt.Errorf("store session: %w", err)}
	}
	if !stored {
		// 別リクエストが先に保存した
		current, err := b.orders.FindByID(ctx, o.ID)
		if err != nil {
			return CheckoutSession{}, &PaymentSessionError{OrderNumber: o.OrderNumber, Err: err}
		}
		if current.HasPaymentSession() {
			return CheckoutSession{ID: *current.ExternalSessionID, URL: current.PaymentURL}, nil
		}
	}
	return sess, nil
}

// 明細ごとに1行。登録済み価格IDは注文時の単価と一致するときだけ使う。
// 税と送料は別行
func (b *PaymentSessionBuilder) buildRequest(ctx context.Context, o model.Order, items []model.OrderItem) (CheckoutRequest, error) {
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	products, err := b.products.FindByIDs(ctx, ids)
	if err != nil {
		return CheckoutRequest{}, err
	}

	lines := make([]CheckoutLineItem, 0, len(items)+2)
	for _, it := range items {
		line := CheckoutLineItem{
			Name:       it.TitleSnapshot,
			UnitAmount: toMinorUnits(it.UnitPrice),
			Quantity:   it.Quantity,
		}
		if p, ok := products[it.ProductID]; ok && p.StripePriceID != nil && *p.StripePriceID != "" && p.Price.Equal(it.UnitPrice) {
			line.PriceRef = *p.StripePriceID
		}
		lines = append(lines, line)
	}
	if o.TaxAmount.IsPositive() {
		lines = append(lines, CheckoutLineItem{Name: "Tax", UnitAmount: toMinorUnits(o.TaxAmount), Quantity: 1})
	}
	if o.ShippingCost.IsPositive() {
		lines = append(lines, CheckoutLineItem{Name: "Shipping", UnitAmount: toMinorUnits(o.ShippingCost), Quantity: 1})
	}

	var email string
	if b.users != nil {
		if u, err := b.users.FindByID(ctx, o.UserID); err == nil && u != nil {
			email = u.Email
		}
	}

	return CheckoutRequest{
		OrderNumber:    o.OrderNumber,
		CustomerEmail:  email,
		Currency:       b.cfg.Currency,
		LineItems:      lines,
		SuccessURL:     b.cfg.SuccessURL,
		CancelURL:      b.cfg.CancelURL,
		IdempotencyKey: checkoutIdempotencyKey(o.OrderNumber, b.cfg.Currency, lines),
	}, nil
}

// 同じキーで違うパラメータを送るとStripeが拒否するので、明細の内容もキーに含める。
// 価格IDの有無が変わった再試行は別キーになる
func checkoutIdempotencyKey(orderNumber, currency string, lines []CheckoutLineItem) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|", currency)
	for _, l := range lines {
		fmt.Fprintf(h, "%s|%s|%d|%d|", l.Name, l.PriceRef, l.UnitAmount, l.Quantity)
	}
	return "checkout-" + orderNumber + "-" + hex.EncodeToString(h.Sum(nil))[:16]
}
