package repository

import (
	"context"

	"bookshop/internal/domain/model"
	repo "bookshop/internal/repository"

	"gorm.io/gorm"
)

const (
	defaultAuditPage = 50
	maxAuditPage     = 200
)

type auditLogGormRepository struct {
	db *gorm.DB
}

func NewAuditLogGormRepository(db *gorm.DB) repo.AuditLogRepository {
	return &auditLogGormRepository{db: db}
}

// トランザクション内ではtx付きのdbで作られる
func (r *auditLogGormRepository) Create(ctx context.Context, entry model.AuditLog) error {
	return translate(r.db.WithContext(ctx).Create(&entry).Error)
}

// 注文履歴などで使う。新しい順
func (r *auditLogGormRepository) List(ctx context.Context, f repo.AuditLogFilter) ([]model.AuditLog, error) {
	limit := f.Limit
	if limit <= 0 || limit > maxAuditPage {
		limit = defaultAuditPage
	}
	offset := max(f.Offset, 0)

	var logs []model.AuditLog
	err := r.db.WithContext(ctx).
		Scopes(auditFilter(f)).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error
	if err != nil {
		return nil, translate(err)
	}
	return logs, nil
}

func auditFilter(f repo.AuditLogFilter) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if f.ActorUserID != nil {
			q = q.Where("actor_user_id = ?", *f.ActorUserID)
		}
		if f.Action != nil {
			q = q.Where("action = ?", *f.Action)
		}
		if f.ResourceType != nil {
			q = q.Where("resource_type = ?", *f.ResourceType)
		}
		if f.ResourceID != nil {
			q = q.Where("resource_id = ?", *f.ResourceID)
		}
		if f.CreatedFrom != nil {
			q = q.Where("created_at >= ?", *f.CreatedFrom)
		}
		if f.CreatedTo != nil {
			q = q.Where("created_at <= ?", *f.CreatedTo)
		}
		return q
	}
}
