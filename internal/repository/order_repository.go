package repository

import (
	"context"
	"time"

	"bookshop/internal/domain/model"
)

type AdminOrderListFilter struct {
	Page   int
	Limit  int
	Status string
	UserID *int64
	From   *time.Time
	To     *time.Time
}

// ステータスの条件付き更新。Fromのどれかに一致するときだけ更新する
type StatusTransition struct {
	From          []model.OrderStatus
	To            model.OrderStatus
	PaymentStatus *model.PaymentStatus
	NotifyPending bool
}

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)
	FindByExternalSessionID(ctx context.Context, sessionID string) (model.Order, error)
	ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error)
	Create(ctx context.Context, order *model.Order) error

	// 更新できたらtrue。他で先に更新されていればfalse（エラーではない）
	TransitionStatus(ctx context.Context, orderID int64, t StatusTransition) (bool, error)

	// 決済セッションが未設定のときだけ保存
	SetPaymentSession(ctx context.Context, orderID int64, sessionID string, paymentURL string) (bool, error)

	UpdateDetails(ctx context.Context, orderID int64, notes *string, trackingNumber *string) error

	MarkNotified(ctx context.Context, orderID int64) error
	ListNotifyPending(ctx context.Context, updatedBefore time.Time, limit int) ([]model.Order, error)

	//検索（同じキーなら同じ結果を返す）
	FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error)
	//管理者用の注文一覧
	ListAdmin(ctx context.Context, f AdminOrderListFilter) ([]model.Order, int64, error)
}
