package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bookshop/internal/usecase"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

// 署名の許容時間
const webhookTolerance = 5 * time.Minute

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// 空なら本番のAPI
	APIURL string
}

// Stripe Checkout
type StripeGateway struct {
	sessions      session.Client
	webhookSecret string
}

var _ usecase.PaymentGateway = (*StripeGateway)(nil)

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	backendCfg := &stripe.BackendConfig{
		//リトライはbreaker側で扱う
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}

	return &StripeGateway{
		sessions: session.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: cfg.SecretKey,
		},
		webhookSecret: cfg.WebhookSecret,
	}
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req usecase.CheckoutRequest) (usecase.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderNumber),
		LineItems:         make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.LineItems)),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}

	for _, li := range req.LineItems {
		item := &stripe.CheckoutSessionLineItemParams{Quantity: stripe.Int64(li.Quantity)}
		if li.PriceRef != "" {
			item.Price = stripe.String(li.PriceRef)
		} else {
			item.PriceData = &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(li.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(li.Name),
				},
			}
		}
		params.LineItems = append(params.LineItems, item)
	}

	params.AddMetadata("order_number", req.OrderNumber)
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.Context = ctx

	s, err := g.sessions.New(params)
	if err != nil {
		if ctx.Err() != nil {
			return usecase.CheckoutSession{}, fmt.Errorf("create checkout session: %w", ctx.Err())
		}
		return usecase.CheckoutSession{}, fmt.Errorf("create checkout session: %w", err)
	}
	return usecase.CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// 署名を検証してからdataを読む
func (g *StripeGateway) ParseWebhook(payload []byte, signatureHeader string) (usecase.WebhookEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                webhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return usecase.WebhookEvent{}, err
	}

	out := usecase.WebhookEvent{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return out, nil
	}

	switch out.Type {
	case usecase.WebhookCheckoutCompleted, usecase.WebhookCheckoutExpired,
		usecase.WebhookCheckoutAsyncPaymentOK, usecase.WebhookCheckoutAsyncPaymentFailed:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return usecase.WebhookEvent{}, fmt.Errorf("decode checkout session: %w", err)
		}
		out.SessionID = s.ID
		out.PaymentStatus = string(s.PaymentStatus)
	}
	return out, nil
}
