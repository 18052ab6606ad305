package repository

import (
	"context"
	"errors"
	"time"

	"bookshop/internal/domain/model"
	repo "bookshop/internal/repository"

	"gorm.io/gorm"
)

var errExpiredConsumed = errors.New("refresh token expired")

type refreshTokenGormStore struct {
	db  *gorm.DB //DB接続（GORM）
	now func() time.Time
}

// TOKEN_STORE=postgres のときの実装
func NewRefreshTokenGormStore(db *gorm.DB) repo.RefreshTokenStore {
	return &refreshTokenGormStore{db: db, now: time.Now}
}

func (s *refreshTokenGormStore) Save(ctx context.Context, tokenHash string, userID int64, ttl time.Duration) error {
	rt := model.RefreshToken{
		TokenHash: tokenHash,
		UserID:    userID,
		ExpiresAt: s.now().Add(ttl),
	}
	return translate(s.db.WithContext(ctx).Create(&rt).Error)
}

// 旧トークンをDELETE ... RETURNINGで消費し、同じTxで新トークンを入れる。
// 同じ旧トークンで同時に来ても行を消せるのは1つだけ
func (s *refreshTokenGormStore) Rotate(ctx context.Context, oldHash string, newHash string, ttl time.Duration) (int64, error) {
	var userID int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var consumed []model.RefreshToken
		if err := tx.Raw(
			"DELETE FROM refresh_tokens WHERE token_hash = ? RETURNING token_hash, user_id, expires_at",
			oldHash,
		).Scan(&consumed).Error; err != nil {
			return err
		}
		if len(consumed) == 0 {
			return repo.ErrRefreshTokenNotFound
		}

		now := s.now()
		//期限切れは消すだけ
		if !consumed[0].ExpiresAt.After(now) {
			return errExpiredConsumed
		}

		userID = consumed[0].UserID
		return tx.Create(&model.RefreshToken{
			TokenHash: newHash,
			UserID:    userID,
			ExpiresAt: now.Add(ttl),
		}).Error
	})

	if errors.Is(err, errExpiredConsumed) {
		// 期限切れトークンの削除はコミットしておく
		_, _ = s.Delete(ctx, oldHash)
		return 0, repo.ErrRefreshTokenNotFound
	}
	if err != nil {
		return 0, err
	}
	return userID, nil
}

func (s *refreshTokenGormStore) Delete(ctx context.Context, tokenHash string) (int64, error) {
	var consumed []model.RefreshToken
	if err := s.db.WithContext(ctx).Raw(
		"DELETE FROM refresh_tokens WHERE token_hash = ? RETURNING token_hash, user_id, expires_at",
		tokenHash,
	).Scan(&consumed).Error; err != nil {
		return 0, err
	}
	if len(consumed) == 0 {
		return 0, repo.ErrRefreshTokenNotFound
	}
	return consumed[0].UserID, nil
}

func (s *refreshTokenGormStore) DeleteOwned(ctx context.Context, tokenHash string, userID int64) error {
	res := s.db.WithContext(ctx).
		Where("token_hash = ? AND user_id = ?", tokenHash, userID).
		Delete(&model.RefreshToken{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrRefreshTokenNotFound
	}
	return nil
}

// 指定ユーザーのリフレッシュトークンを全削除します。
func (s *refreshTokenGormStore) DeleteAllByUserID(ctx context.Context, userID int64) error {
	return s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&model.RefreshToken{}).Error
}
