package redis_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-relay/internal/storage/kv"
	redisstore "github.com/tinywideclouds/go-push-relay/internal/storage/redis"
)

func setupStore(t *testing.T) (*miniredis.Miniredis, *redisstore.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, redisstore.NewStore(client)
}

func TestRedisStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	_, store := setupStore(t)

	t.Run("Get on absent key returns ErrNotFound", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		require.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("Put then Get round-trips", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "k1", []byte("v1"), 0))
		val, err := store.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), val)
	})

	t.Run("Delete removes the key", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "k2", []byte("v2"), 0))
		require.NoError(t, store.Delete(ctx, "k2"))
		_, err := store.Get(ctx, "k2")
		require.ErrorIs(t, err, kv.ErrNotFound)
	})
}

func TestRedisStore_TTL(t *testing.T) {
	ctx := context.Background()
	mr, store := setupStore(t)

	require.NoError(t, store.Put(ctx, "cred", []byte("token"), 50*time.Minute))

	val, err := store.Get(ctx, "cred")
	require.NoError(t, err)
	assert.Equal(t, []byte("token"), val)

	// Redis owns the expiry; past it the key simply stops existing.
	mr.FastForward(50*time.Minute + time.Second)
	_, err = store.Get(ctx, "cred")
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestRedisStore_ListByPrefix(t *testing.T) {
	ctx := context.Background()
	_, store := setupStore(t)

	expected := []string{"devices:a", "devices:b", "devices:c", "devices:d", "devices:e"}
	for _, key := range expected {
		require.NoError(t, store.Put(ctx, key, []byte("x"), 0))
	}
	require.NoError(t, store.Put(ctx, "credential:apns", []byte("x"), 0))

	// SCAN treats the count as a hint, so the only safe assertion is that
	// following the cursor to exhaustion yields exactly the prefixed keys.
	var collected []string
	cursor := ""
	for {
		keys, next, err := store.ListByPrefix(ctx, "devices:", cursor, 2)
		require.NoError(t, err)
		collected = append(collected, keys...)
		if next == "" {
			break
		}
		cursor = next
	}
	assert.ElementsMatch(t, expected, collected)
}
