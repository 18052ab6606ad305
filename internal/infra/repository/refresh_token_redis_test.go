package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	repo "bookshop/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (*RefreshTokenRedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRefreshTokenRedisStore(client), mr
}

func TestRedisStore_SaveAndRotate(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "old", 42, time.Hour))
	assert.True(t, mr.Exists("refresh_token:old"))

	userID, err := store.Rotate(ctx, "old", "new", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)

	assert.False(t, mr.Exists("refresh_token:old"))
	v, err := mr.Get("refresh_token:new")
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	members, err := mr.SMembers("user_refresh_tokens:42")
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, members)
}

func TestRedisStore_RotateConsumedToken(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "old", 7, time.Hour))
	_, err := store.Rotate(ctx, "old", "new1", time.Hour)
	require.NoError(t, err)

	_, err = store.Rotate(ctx, "old", "new2", time.Hour)
	assert.ErrorIs(t, err, repo.ErrRefreshTokenNotFound)
}

func TestRedisStore_RotateExpired(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "old", 7, time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := store.Rotate(ctx, "old", "new", time.Hour)
	assert.ErrorIs(t, err, repo.ErrRefreshTokenNotFound)
	assert.False(t, mr.Exists("refresh_token:new"))
}

func TestRedisStore_ConcurrentRotateOnlyOneWins(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "old", 9, time.Hour))

	const n = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		failures int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Rotate(ctx, "old", "new"+string(rune('a'+i)), time.Hour)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else {
				failures++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, failures)
}

func TestRedisStore_DeleteAndDeleteAll(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "a", 1, time.Hour))
	require.NoError(t, store.Save(ctx, "b", 1, time.Hour))
	require.NoError(t, store.Save(ctx, "c", 2, time.Hour))

	userID, err := store.Delete(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), userID)

	_, err = store.Delete(ctx, "a")
	assert.ErrorIs(t, err, repo.ErrRefreshTokenNotFound)

	require.NoError(t, store.DeleteAllByUserID(ctx, 1))
	assert.False(t, mr.Exists("refresh_token:b"))
	assert.False(t, mr.Exists("user_refresh_tokens:1"))
	assert.True(t, mr.Exists("refresh_token:c"))
}

func TestRedisStore_DeleteOwned(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "a", 1, time.Hour))
	require.NoError(t, store.Save(ctx, "b", 1, time.Hour))

	// 持ち主以外は消せない
	assert.ErrorIs(t, store.DeleteOwned(ctx, "a", 2), repo.ErrRefreshTokenNotFound)
	assert.True(t, mr.Exists("refresh_token:a"))

	require.NoError(t, store.DeleteOwned(ctx, "a", 1))
	assert.False(t, mr.Exists("refresh_token:a"))
	members, err := mr.SMembers("user_refresh_tokens:1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, members)

	assert.ErrorIs(t, store.DeleteOwned(ctx, "a", 1), repo.ErrRefreshTokenNotFound)
}
