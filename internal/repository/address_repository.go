package repository

import (
	"bookshop/internal/domain/model"
	"context"
)

// 住所(Address)を保存・取得する窓口
// FindByID/ListByUserIDは削除済みを含まない。FindAnyByIDは含む。
type AddressRepository interface {
	//作成後はaddress（IDなどが埋まったもの）を返す
	Create(ctx context.Context, address model.Address) (model.Address, error)

	//ユーザーが持つ住所一覧を返す
	ListByUserID(ctx context.Context, userID int64) ([]model.Address, error)

	//住所IDから住所を1件取得
	FindByID(ctx context.Context, addressID int64) (model.Address, error)

	//削除済みも含めて1件取得（注文の配送先表示用）
	FindAnyByID(ctx context.Context, addressID int64) (model.Address, error)

	Update(ctx context.Context, address model.Address) error

	//論理削除
	Delete(ctx context.Context, addressID int64) error

	//住所がそのユーザーのものか
	IsOwnedByUser(ctx context.Context, addressID, userID int64) (bool, error)

	SetDefault(ctx context.Context, userID, addressID int64) error
}
