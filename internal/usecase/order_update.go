package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookshop/internal/domain/model"
	repo "bookshop/internal/repository"
)

type UpdateOrderInput struct {
	Status         *string `json:"status"`
	Notes          *string `json:"notes"`
	TrackingNumber *string `json:"tracking_number"`
}

// 本人・管理者どちらの更新もここを通す
type orderUpdater struct {
	tx     repo.TransactionManager
	items  repo.OrderItemRepository
	events *OrderEvents
	log    Logger
}

func newOrderUpdater(tx repo.TransactionManager, items repo.OrderItemRepository, events *OrderEvents, log Logger) *orderUpdater {
	return &orderUpdater{tx: tx, items: items, events: events, log: orNop(log)}
}

// 監査ログに残す項目
type orderAuditSnapshot struct {
	Status         model.OrderStatus   `json:"status"`
	PaymentStatus  model.PaymentStatus `json:"payment_status"`
	TrackingNumber string              `json:"tracking_number"`
	Notes          string              `json:"notes"`
}

func (u *orderUpdater) apply(ctx context.Context, actor Actor, orderID int64, in UpdateOrderInput) (OrderOutput, error) {
	next, err := normalizeUpdate(&in)
	if err != nil {
		return OrderOutput{}, err
	}
	if next == nil && in.Notes == nil && in.TrackingNumber == nil {
		return OrderOutput{}, NewValidationError("", "nothing to update")
	}

	var (
		updated model.Order
		changed bool
	)

	txCtx := context.WithoutCancel(ctx)
	err = u.tx.WithinTx(txCtx, func(r repo.TxRepos) error {
		before, err := r.Orders().FindByID(txCtx, orderID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := checkUpdatePermission(actor, before, next, in); err != nil {
			return err
		}

		//ステータス変更（同じステータスなら何もしない）
		if next != nil && *next != before.Status {
			if !before.Status.CanTransitionTo(*next) {
				return NewValidationError("status", fmt.Sprintf("cannot transition from %s to %s", before.Status, *next))
			}

			t := repo.StatusTransition{
				From:          []model.OrderStatus{before.Status},
				To:            *next,
				NotifyPending: true,
			}
			if *next == model.OrderStatusRefunded {
				ps := model.PaymentStatusRefunded
				t.PaymentStatus = &ps
			}

			ok, err := r.Orders().TransitionStatus(txCtx, orderID, t)
			if err != nil {
				return fmt.Errorf("transition status: %w", err)
			}
			if !ok {
				//他で先に変わった
				return ErrConflict
			}

			if *next == model.OrderStatusCancelled && before.Status.RestocksOnCancel() {
				if err := restockOrder(txCtx, r, before, actor.UserID, "order cancelled "+before.OrderNumber); err != nil {
					return err
				}
			}
			changed = true
		}

		if in.Notes != nil || in.TrackingNumber != nil {
			if err := r.Orders().UpdateDetails(txCtx, orderID, in.Notes, in.TrackingNumber); err != nil {
				return fmt.Errorf("update details: %w", err)
			}
			changed = true
		}

		updated, err = r.Orders().FindByID(txCtx, orderID)
		if err != nil {
			return fmt.Errorf("reload order: %w", err)
		}

		if actor.IsAdmin() && changed {
			if err := writeOrderAudit(txCtx, r, actor.UserID, before, updated, next != nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isDomainError(err) {
			return OrderOutput{}, err
		}
		u.log.Errorf("update order %d failed: %v", orderID, err)
		return OrderOutput{}, ErrInternal
	}

	items, err := u.items.ListByOrderID(txCtx, orderID)
	if err != nil {
		return OrderOutput{}, ErrInternal
	}
	if changed {
		u.events.Emit(txCtx, EventOrderUpdated, updated, items)
	}
	return toOrderOutput(updated, items, nil), nil
}

func normalizeUpdate(in *UpdateOrderInput) (*model.OrderStatus, error) {
	var next *model.OrderStatus
	if in.Status != nil {
		s, err := model.ToOrderStatus(strings.ToUpper(strings.TrimSpace(*in.Status)))
		if err != nil {
			return nil, NewValidationError("status", "is invalid")
		}
		next = &s
	}
	if in.Notes != nil {
		n := strings.TrimSpace(*in.Notes)
		if len([]rune(n)) > maxNoteLength {
			return nil, NewValidationError("notes", fmt.Sprintf("must be at most %d characters", maxNoteLength))
		}
		in.Notes = &n
	}
	if in.TrackingNumber != nil {
		t := strings.TrimSpace(*in.TrackingNumber)
		if len(t) > maxTrackingLength {
			return nil, NewValidationError("tracking_number", fmt.Sprintf("must be at most %d characters", maxTrackingLength))
		}
		in.TrackingNumber = &t
	}
	return next, nil
}

func checkUpdatePermission(actor Actor, o model.Order, next *model.OrderStatus, in UpdateOrderInput) error {
	if actor.IsAdmin() {
		return nil
	}
	if o.UserID != actor.UserID {
		return ErrForbidden
	}
	if in.TrackingNumber != nil {
		return ErrForbidden
	}
	if next == nil || *next == o.Status {
		return nil
	}
	if *next != model.OrderStatusCancelled {
		return ErrForbidden
	}
	if o.Status != model.OrderStatusPending {
		return NewValidationError("status", "only pending orders can be cancelled")
	}
	return nil
}

// 明細分の在庫を戻して履歴を残す
func restockOrder(ctx context.Context, r repo.TxRepos, o model.Order, actorUserID int64, reason string) error {
	items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("list order items: %w", err)
	}
	for _, it := range items {
		if err := r.Inventory().IncreaseStock(ctx, it.ProductID, it.Quantity); err != nil {
			return fmt.Errorf("restock product %d: %w", it.ProductID, err)
		}
		if err := r.Inventory().CreateAdjustment(ctx, model.InventoryAdjustment{
			ProductID:   it.ProductID,
			OrderID:     &o.ID,
			ActorUserID: actorUserID,
			Delta:       it.Quantity,
			Reason:      reason,
		}); err != nil {
			return fmt.Errorf("record adjustment: %w", err)
		}
	}
	return nil
}

func writeOrderAudit(ctx context.Context, r repo.TxRepos, actorUserID int64, before, after model.Order, statusChange bool) error {
	b, err := json.Marshal(toAuditSnapshot(before))
	if err != nil {
		return err
	}
	a, err := json.Marshal(toAuditSnapshot(after))
	if err != nil {
		return err
	}

	action := model.AuditActionUpdateOrder
	if statusChange && before.Status != after.Status {
		action = model.AuditActionUpdateOrderStatus
	}

	return r.AuditLogs().Create(ctx, model.AuditLog{
		ActorUserID:  actorUserID,
		Action:       action,
		ResourceType: model.AuditResourceOrder,
		ResourceID:   after.ID,
		BeforeJSON:   string(b),
		AfterJSON:    string(a),
		CreatedAt:    time.Now(),
	})
}

func toAuditSnapshot(o model.Order) orderAuditSnapshot {
	return orderAuditSnapshot{
		Status:         o.Status,
		PaymentStatus:  o.PaymentStatus,
		TrackingNumber: o.TrackingNumber,
		Notes:          o.Notes,
	}
}
