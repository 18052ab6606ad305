package repository

import (
	"bookshop/internal/domain/model"
	"context"
)

// 注文・カート側から見た商品。カタログの編集は扱わない
type ProductRepository interface {
	FindByID(ctx context.Context, id int64) (model.Product, error)
	FindByIDs(ctx context.Context, ids []int64) (map[int64]model.Product, error)
}
