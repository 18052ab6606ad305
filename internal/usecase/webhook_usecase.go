package usecase

import (
	"context"
	"errors"
	"fmt"

	"bookshop/internal/domain/model"
	repo "bookshop/internal/repository"
)

// 決済プロバイダからの通知を注文へ反映する。
// 同じイベントが何度来ても遷移は1回だけ（status条件付きUPDATE）
type WebhookUsecase struct {
	gateway PaymentGateway
	tx      repo.TransactionManager
	orders  repo.OrderRepository
	events  *OrderEvents
	log     Logger
}

func NewWebhookUsecase(gateway PaymentGateway, tx repo.TransactionManager, orders repo.OrderRepository, events *OrderEvents, log Logger) *WebhookUsecase {
	return &WebhookUsecase{gateway: gateway, tx: tx, orders: orders, events: events, log: orNop(log)}
}

type WebhookResult struct {
	EventType string `json:"event_type"`
	// 状態を変えたか（再送・対象外ならfalse）
	Applied bool `json:"applied"`
}

func (u *WebhookUsecase) Handle(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	//署名検証してからパース
	ev, err := u.gateway.ParseWebhook(payload, signature)
	if err != nil {
		u.log.Warnf("webhook rejected: %v", err)
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}

	res := WebhookResult{EventType: ev.Type}

	var (
		to     model.OrderStatus
		pay    model.PaymentStatus
		reason string
	)
	switch ev.Type {
	case WebhookCheckoutCompleted:
		// unpaidのcompletedは銀行振込などの非同期決済だけで来る（cardは常にpaid）。確定は async_payment_succeeded で行う
		if ev.PaymentStatus != "paid" && ev.PaymentStatus != "no_payment_required" {
			u.log.Infof("webhook %s: session %s not paid yet (%s)", ev.ID, ev.SessionID, ev.PaymentStatus)
			return res, nil
		}
		to, pay = model.OrderStatusConfirmed, model.PaymentStatusPaid
	case WebhookCheckoutAsyncPaymentOK:
		to, pay = model.OrderStatusConfirmed, model.PaymentStatusPaid
	case WebhookCheckoutExpired:
		to, pay, reason = model.OrderStatusCancelled, model.PaymentStatusExpired, "checkout expired"
	case WebhookCheckoutAsyncPaymentFailed:
		to, pay, reason = model.OrderStatusCancelled, model.PaymentStatusExpired, "payment failed"
	default:
		u.log.Infof("webhook %s: ignored event type %s", ev.ID, ev.Type)
		return res, nil
	}

	if ev.SessionID == "" {
		return res, nil
	}

	o, err := u.orders.FindByExternalSessionID(ctx, ev.SessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			//他システムのセッション
			u.log.Infof("webhook %s: no order for session %s", ev.ID, ev.SessionID)
			return res, nil
		}
		return WebhookResult{}, ErrInternal
	}

	applied := false
	txCtx := context.WithoutCancel(ctx)
	err = u.tx.WithinTx(txCtx, func(r repo.TxRepos) error {
		ok, err := r.Orders().TransitionStatus(txCtx, o.ID, repo.StatusTransition{
			From:          []model.OrderStatus{model.OrderStatusPending},
			To:            to,
			PaymentStatus: &pay,
			NotifyPending: true,
		})
		if err != nil {
			return fmt.Errorf("transition status: %w", err)
		}
		if !ok {
			// 再送 or 既に別の状態
			return nil
		}
		applied = true

		if to == model.OrderStatusCancelled {
			return restockOrder(txCtx, r, o, o.UserID, reason+" "+o.OrderNumber)
		}
		return nil
	})
	if err != nil {
		u.log.Errorf("webhook %s: apply to order %s failed: %v", ev.ID, o.OrderNumber, err)
		return WebhookResult{}, ErrInternal
	}

	res.Applied = applied
	if !applied {
		u.log.Infof("webhook %s: order %s already %s", ev.ID, o.OrderNumber, o.Status)
		return res, nil
	}

	updated, err := u.orders.FindByID(txCtx, o.ID)
	if err != nil {
		// 通知はスイープに任せる
		u.log.Warnf("webhook %s: reload order %s failed: %v", ev.ID, o.OrderNumber, err)
		return res, nil
	}
	u.events.Emit(txCtx, EventOrderUpdated, updated, nil)
	return res, nil
}
