package usecase

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"time"

	"bookshop/internal/domain/model"
	repo "bookshop/internal/repository"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/sync/singleflight"
)

type TokenConfig struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// アクセストークン（JWT）とリフレッシュトークンの発行・ローテーション
type TokenService struct {
	store repo.RefreshTokenStore
	users repo.UserRepository
	cfg   TokenConfig
	group singleflight.Group
	log   Logger
}

func NewTokenService(store repo.RefreshTokenStore, users repo.UserRepository, cfg TokenConfig, log Logger) *TokenService {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 24 * time.Hour
	}
	return &TokenService{store: store, users: users, cfg: cfg, log: orNop(log)}
}

func (s *TokenService) Issue(ctx context.Context, user *model.User) (TokenPair, error) {
	access, expiresIn, err := s.issueAccessToken(user)
	if err != nil {
		return TokenPair{}, err
	}

	//DBにはhashだけ保存
	plain, hash, err := newRandomTokenAndHash()
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.Save(ctx, hash, user.ID, s.cfg.RefreshTTL); err != nil {
		return TokenPair{}, err
	}

	return TokenPair{AccessToken: access, RefreshToken: plain, ExpiresIn: expiresIn, TokenType: "Bearer"}, nil
}

// 旧トークンは1回だけ使える。同じトークンで同時に来た呼び出しは
// 進行中のローテーション結果を共有する。終わった後に来たものは失敗
func (s *TokenService) Refresh(ctx context.Context, refreshTokenPlain string) (TokenPair, error) {
	if refreshTokenPlain == "" {
		return TokenPair{}, ErrInvalidRefreshToken
	}
	oldHash := hashToken(refreshTokenPlain)

	ch := s.group.DoChan(oldHash, func() (interface{}, error) {
		//呼び出し元が切断してもローテーションは最後まで
		return s.rotate(context.WithoutCancel(ctx), oldHash)
	})

	select {
	case <-ctx.Done():
		return TokenPair{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return TokenPair{}, res.Err
		}
		return res.Val.(TokenPair), nil
	}
}

func (s *TokenService) rotate(ctx context.Context, oldHash string) (TokenPair, error) {
	newPlain, newHash, err := newRandomTokenAndHash()
	if err != nil {
		return TokenPair{}, ErrInternal
	}

	userID, err := s.store.Rotate(ctx, oldHash, newHash, s.cfg.RefreshTTL)
	if err != nil {
		if errors.Is(err, repo.ErrRefreshTokenNotFound) {
			return TokenPair{}, ErrInvalidRefreshToken
		}
		s.log.Errorf("rotate refresh token failed: %v", err)
		return TokenPair{}, ErrInternal
	}

	//停止・削除済みユーザーには新トークンを残さない
	user, err := s.users.FindByID(ctx, userID)
	if err != nil || user == nil || !user.IsActive {
		if _, derr := s.store.Delete(ctx, newHash); derr != nil {
			s.log.Warnf("discard refresh token of user %d failed: %v", userID, derr)
		}
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return TokenPair{}, ErrInternal
		}
		return TokenPair{}, ErrInvalidRefreshToken
	}

	access, expiresIn, err := s.issueAccessToken(user)
	if err != nil {
		return TokenPair{}, ErrInternal
	}
	return TokenPair{AccessToken: access, RefreshToken: newPlain, ExpiresIn: expiresIn, TokenType: "Bearer"}, nil
}

// 1つだけ失効。使用済み・期限切れ・他人のトークンはfalseで返す
func (s *TokenService) Revoke(ctx context.Context, userID int64, refreshTokenPlain string) (bool, error) {
	if refreshTokenPlain == "" {
		return false, nil
	}
	err := s.store.DeleteOwned(ctx, hashToken(refreshTokenPlain), userID)
	if errors.Is(err, repo.ErrRefreshTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ユーザーの全セッションを失効
func (s *TokenService) RevokeAll(ctx context.Context, userID int64) error {
	return s.store.DeleteAllByUserID(ctx, userID)
}

// jwt発行
func (s *TokenService) issueAccessToken(user *model.User) (string, int, error) {
	now := time.Now()
	exp := now.Add(s.cfg.AccessTTL)

	claims := jwt.MapClaims{
		"sub":  strconv.FormatInt(user.ID, 10),
		"role": string(user.Role),
		"tv":   user.TokenVersion,
		"iat":  now.Unix(),
		"exp":  exp.Unix(),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", 0, err
	}
	return signed, int(s.cfg.AccessTTL.Seconds()), nil
}

// refresh token生成（平文 + 保存用hash）
func newRandomTokenAndHash() (plain string, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}

	plain = base64.RawURLEncoding.EncodeToString(b)
	return plain, hashToken(plain), nil
}

func hashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
