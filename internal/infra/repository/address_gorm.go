package repository

import (
	"context"

	"bookshop/internal/domain/model"
	repo "bookshop/internal/repository"

	"gorm.io/gorm"
)

// 更新で書き換えてよい列
var addressEditable = []string{
	"first_name", "last_name", "line1", "line2", "city", "state", "postal_code", "country", "phone", "updated_at",
}

type addressGormRepository struct {
	db *gorm.DB
}

func NewAddressGormRepository(db *gorm.DB) repo.AddressRepository {
	return &addressGormRepository{db: db}
}

func (r *addressGormRepository) Create(ctx context.Context, a model.Address) (model.Address, error) {
	if err := r.db.WithContext(ctx).Create(&a).Error; err != nil {
		return model.Address{}, translate(err)
	}
	return a, nil
}

// デフォルトを先頭に
func (r *addressGormRepository) ListByUserID(ctx context.Context, userID int64) ([]model.Address, error) {
	var list []model.Address
	err := r.db.WithContext(ctx).
		Where(&model.Address{UserID: userID}).
		Order("is_default DESC").
		Order("id").
		Find(&list).Error
	return list, translate(err)
}

func (r *addressGormRepository) FindByID(ctx context.Context, id int64) (model.Address, error) {
	return r.first(r.db.WithContext(ctx), id)
}

// 注文の配送先表示用。論理削除済みも返す
func (r *addressGormRepository) FindAnyByID(ctx context.Context, id int64) (model.Address, error) {
	return r.first(r.db.WithContext(ctx).Unscoped(), id)
}

func (r *addressGormRepository) first(q *gorm.DB, id int64) (model.Address, error) {
	var a model.Address
	if err := q.Take(&a, "id = ?", id).Error; err != nil {
		return model.Address{}, translate(err)
	}
	return a, nil
}

// user_id / is_default / created_at は触らない
func (r *addressGormRepository) Update(ctx context.Context, a model.Address) error {
	return affected(r.db.WithContext(ctx).
		Model(&model.Address{ID: a.ID}).
		Select(addressEditable).
		Updates(&a))
}

func (r *addressGormRepository) Delete(ctx context.Context, id int64) error {
	return affected(r.db.WithContext(ctx).Delete(&model.Address{}, "id = ?", id))
}

func (r *addressGormRepository) IsOwnedByUser(ctx context.Context, addressID, userID int64) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.Address{}).
		Where("id = ? AND user_id = ?", addressID, userID).
		Count(&n).Error
	return n == 1, translate(err)
}

// 対象の行だけtrue、他はfalseを1文で
func (r *addressGormRepository) SetDefault(ctx context.Context, userID, addressID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		owned, err := (&addressGormRepository{db: tx}).IsOwnedByUser(ctx, addressID, userID)
		if err != nil {
			return err
		}
		if !owned {
			return repo.ErrNotFound
		}

		return tx.Model(&model.Address{}).
			Where("user_id = ?", userID).
			Update("is_default", gorm.Expr("id = ?", addressID)).Error
	})
}
