package usecase

import (
	"context"
	"strings"
	"time"

	"bookshop/internal/domain/model"
	repo "bookshop/internal/repository"
)

type AdminOrderUsecase struct {
	orders    repo.OrderRepository
	items     repo.OrderItemRepository
	auditRepo repo.AuditLogRepository
	updater   *orderUpdater
	log       Logger
}

func NewAdminOrderUsecase(
	tx repo.TransactionManager,
	orders repo.OrderRepository,
	items repo.OrderItemRepository,
	auditRepo repo.AuditLogRepository,
	events *OrderEvents,
	log Logger,
) *AdminOrderUsecase {
	log = orNop(log)
	return &AdminOrderUsecase{
		orders:    orders,
		items:     items,
		auditRepo: auditRepo,
		updater:   newOrderUpdater(tx, items, events, log),
		log:       log,
	}
}

type AdminOrderListInput struct {
	Page    int
	PerPage int
	Status  string
	UserID  *int64
	From    *time.Time
	To      *time.Time
}

// 全ユーザーの注文一覧
func (u *AdminOrderUsecase) List(ctx context.Context, in AdminOrderListInput) (OrderPage, error) {
	page, perPage := normalizePage(in.Page, in.PerPage)

	status := strings.ToUpper(strings.TrimSpace(in.Status))
	if status != "" {
		if _, err := model.ToOrderStatus(status); err != nil {
			return OrderPage{}, NewValidationError("status", "is invalid")
		}
	}
	if in.From != nil && in.To != nil && in.From.After(*in.To) {
		return OrderPage{}, NewValidationError("from", "must be before to")
	}

	orders, total, err := u.orders.ListAdmin(ctx, repo.AdminOrderListFilter{
		Page:   page,
		Limit:  perPage,
		Status: status,
		UserID: in.UserID,
		From:   in.From,
		To:     in.To,
	})
	if err != nil {
		u.log.Errorf("admin list orders failed: %v", err)
		return OrderPage{}, ErrInternal
	}

	outs, err := ordersWithItems(ctx, u.items, orders, u.log)
	if err != nil {
		return OrderPage{}, err
	}
	return OrderPage{Orders: outs, Pagination: newPagination(page, perPage, total)}, nil
}

// ステータス・追跡番号・メモの更新（監査ログあり）
func (u *AdminOrderUsecase) Update(ctx context.Context, actor Actor, orderID int64, in UpdateOrderInput) (OrderOutput, error) {
	if actor.UserID <= 0 {
		return OrderOutput{}, ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return OrderOutput{}, ErrForbidden
	}
	if orderID <= 0 {
		return OrderOutput{}, NewValidationError("id", "invalid id")
	}
	return u.updater.apply(ctx, actor, orderID, in)
}

// 注文の変更履歴
func (u *AdminOrderUsecase) History(ctx context.Context, orderID int64, limit, offset int) ([]model.AuditLog, error) {
	if orderID <= 0 {
		return nil, NewValidationError("id", "invalid id")
	}
	if _, err := u.orders.FindByID(ctx, orderID); err != nil {
		if err == repo.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, ErrInternal
	}

	rt := model.AuditResourceOrder
	logs, err := u.auditRepo.List(ctx, repo.AuditLogFilter{
		ResourceType: &rt,
		ResourceID:   &orderID,
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		return nil, ErrInternal
	}
	return logs, nil
}
