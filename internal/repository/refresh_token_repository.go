package repository

import (
	"context"
	"errors"
	"time"
)

var ErrRefreshTokenNotFound = errors.New("refresh token not found")

// リフレッシュトークンの保存先（redis / postgres）
// ハッシュだけを扱う。平文はここに来ない
type RefreshTokenStore interface {
	Save(ctx context.Context, tokenHash string, userID int64, ttl time.Duration) error

	// 旧ハッシュの削除と新ハッシュの保存を1回の原子的な操作で行う。
	// 旧が無い/期限切れならErrRefreshTokenNotFound
	Rotate(ctx context.Context, oldHash string, newHash string, ttl time.Duration) (int64, error)

	// 消した行の持ち主を返す。無ければErrRefreshTokenNotFound
	Delete(ctx context.Context, tokenHash string) (int64, error)
	// userIDの物だけ消す。他人のトークンは残したままErrRefreshTokenNotFound
	DeleteOwned(ctx context.Context, tokenHash string, userID int64) error
	DeleteAllByUserID(ctx context.Context, userID int64) error
}
