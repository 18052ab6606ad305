package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"bookshop/internal/domain/model"
	repo "bookshop/internal/repository"
)

const (
	EventOrderCreated = "ORDER_CREATED"
	EventOrderUpdated = "ORDER_UPDATED"

	AdminOrdersChannel  = "orders:admin"
	ordersChannelPrefix = "orders:"
)

func OrdersChannel(userID int64) string {
	return ordersChannelPrefix + strconv.FormatInt(userID, 10)
}

// 注文の変更をクライアントへ届ける
type Notifier interface {
	Notify(ctx context.Context, eventType string, order OrderOutput) error
}

// チャネルへのpublish（realtime.Hub / realtime.RedisRelay）
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type OrderMessage struct {
	Type    string      `json:"type"`
	Payload OrderOutput `json:"payload"`
}

// 本人のチャネルと管理者チャネルの両方へ送る
type ChannelNotifier struct {
	pub Publisher
}

func NewChannelNotifier(pub Publisher) *ChannelNotifier {
	return &ChannelNotifier{pub: pub}
}

func (n *ChannelNotifier) Notify(ctx context.Context, eventType string, order OrderOutput) error {
	msg, err := json.Marshal(OrderMessage{Type: eventType, Payload: order})
	if err != nil {
		return fmt.Errorf("marshal order message failed: %w", err)
	}

	if err := n.pub.Publish(ctx, OrdersChannel(order.UserID), msg); err != nil {
		return err
	}
	return n.pub.Publish(ctx, AdminOrdersChannel, msg)
}

// 状態変更のコミット後に通知し、送れたらnotify_pendingを落とす。
// 送れなかった分はSweepで再送する
type OrderEvents struct {
	orders   repo.OrderRepository
	items    repo.OrderItemRepository
	notifier Notifier
	log      Logger
}

func NewOrderEvents(orders repo.OrderRepository, items repo.OrderItemRepository, notifier Notifier, log Logger) *OrderEvents {
	return &OrderEvents{orders: orders, items: items, notifier: notifier, log: orNop(log)}
}

// 失敗しても呼び出し元には返さない（best-effort）
func (e *OrderEvents) Emit(ctx context.Context, eventType string, o model.Order, items []model.OrderItem) {
	if items == nil {
		loaded, err := e.items.ListByOrderID(ctx, o.ID)
		if err != nil {
			e.log.Warnf("order %s: load items for %s failed: %v", o.OrderNumber, eventType, err)
			return
		}
		items = loaded
	}

	if err := e.notifier.Notify(ctx, eventType, toOrderOutput(o, items, nil)); err != nil {
		e.log.Warnf("order %s: notify %s failed: %v", o.OrderNumber, eventType, err)
		return
	}
	if err := e.orders.MarkNotified(ctx, o.ID); err != nil {
		e.log.Warnf("order %s: mark notified failed: %v", o.OrderNumber, err)
	}
}

// コミット後・通知前に落ちた注文を再送する
func (e *OrderEvents) Sweep(ctx context.Context, grace time.Duration, limit int) (int, error) {
	orders, err := e.orders.ListNotifyPending(ctx, time.Now().Add(-grace), limit)
	if err != nil {
		return 0, err
	}

	for _, o := range orders {
		if ctx.Err() != nil {
			break
		}
		e.Emit(ctx, EventOrderUpdated, o, nil)
	}
	return len(orders), nil
}
