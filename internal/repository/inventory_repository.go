package repository

import (
	"bookshop/internal/domain/model"
	"context"
)

type InventoryRepository interface {
	// 在庫が足りるときだけ減算
	DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error)

	// 在庫戻し（キャンセルなど）
	IncreaseStock(ctx context.Context, productID int64, qty int64) error

	// 増減履歴
	CreateAdjustment(ctx context.Context, adjustment model.InventoryAdjustment) error
}
