package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	repo "bookshop/internal/repository"

	"github.com/redis/go-redis/v9"
)

const (
	refreshKeyPrefix     = "refresh_token:"
	userRefreshKeyPrefix = "user_refresh_tokens:"
)

// GET→DEL→SETを1スクリプトで実行する（Redis上で原子的）
// KEYS[1]=旧キー KEYS[2]=新キー
// ARGV[1]=ttl(ms) ARGV[2]=ユーザー集合のprefix ARGV[3]=旧hash ARGV[4]=新hash
var rotateScript = redis.NewScript(`
local uid = redis.call('GET', KEYS[1])
if not uid then
  return false
end
redis.call('DEL', KEYS[1])
redis.call('SET', KEYS[2], uid, 'PX', ARGV[1])
local set = ARGV[2] .. uid
redis.call('SREM', set, ARGV[3])
redis.call('SADD', set, ARGV[4])
redis.call('PEXPIRE', set, ARGV[1])
return uid
`)

var deleteScript = redis.NewScript(`
local uid = redis.call('GET', KEYS[1])
if not uid then
  return false
end
redis.call('DEL', KEYS[1])
redis.call('SREM', ARGV[1] .. uid, ARGV[2])
return uid
`)

// ARGV[3]=呼び出し元のuser_id。一致しなければ何もしない
var deleteOwnedScript = redis.NewScript(`
local uid = redis.call('GET', KEYS[1])
if not uid or uid ~= ARGV[3] then
  return false
end
redis.call('DEL', KEYS[1])
redis.call('SREM', ARGV[1] .. uid, ARGV[2])
return uid
`)

type RefreshTokenRedisStore struct {
	client *redis.Client
}

// TOKEN_STORE=redis のときの実装
func NewRefreshTokenRedisStore(client *redis.Client) *RefreshTokenRedisStore {
	return &RefreshTokenRedisStore{client: client}
}

func (s *RefreshTokenRedisStore) Save(ctx context.Context, tokenHash string, userID int64, ttl time.Duration) error {
	setKey := userKey(userID)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, tokenKey(tokenHash), userID, ttl)
	pipe.SAdd(ctx, setKey, tokenHash)
	pipe.PExpire(ctx, setKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save refresh token failed: %w", err)
	}
	return nil
}

func (s *RefreshTokenRedisStore) Rotate(ctx context.Context, oldHash string, newHash string, ttl time.Duration) (int64, error) {
	res, err := rotateScript.Run(ctx, s.client,
		[]string{tokenKey(oldHash), tokenKey(newHash)},
		ttl.Milliseconds(), userRefreshKeyPrefix, oldHash, newHash,
	).Text()
	if errors.Is(err, redis.Nil) {
		return 0, repo.ErrRefreshTokenNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis rotate refresh token failed: %w", err)
	}
	return parseUserID(res)
}

func (s *RefreshTokenRedisStore) Delete(ctx context.Context, tokenHash string) (int64, error) {
	res, err := deleteScript.Run(ctx, s.client,
		[]string{tokenKey(tokenHash)},
		userRefreshKeyPrefix, tokenHash,
	).Text()
	if errors.Is(err, redis.Nil) {
		return 0, repo.ErrRefreshTokenNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis delete refresh token failed: %w", err)
	}
	return parseUserID(res)
}

func (s *RefreshTokenRedisStore) DeleteOwned(ctx context.Context, tokenHash string, userID int64) error {
	err := deleteOwnedScript.Run(ctx, s.client,
		[]string{tokenKey(tokenHash)},
		userRefreshKeyPrefix, tokenHash, strconv.FormatInt(userID, 10),
	).Err()
	if errors.Is(err, redis.Nil) {
		return repo.ErrRefreshTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("redis delete refresh token failed: %w", err)
	}
	return nil
}

func (s *RefreshTokenRedisStore) DeleteAllByUserID(ctx context.Context, userID int64) error {
	setKey := userKey(userID)

	hashes, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("redis list refresh tokens failed: %w", err)
	}

	keys := make([]string, 0, len(hashes)+1)
	for _, h := range hashes {
		keys = append(keys, tokenKey(h))
	}
	keys = append(keys, setKey)

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete refresh tokens failed: %w", err)
	}
	return nil
}

func tokenKey(hash string) string {
	return refreshKeyPrefix + hash
}

func userKey(userID int64) string {
	return userRefreshKeyPrefix + strconv.FormatInt(userID, 10)
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt refresh token entry: %w", err)
	}
	return id, nil
}
