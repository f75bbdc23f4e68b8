// Package redis provides the go-redis backed kv.Store.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tinywideclouds/go-push-relay/internal/storage/kv"
)

// redisClient defines the subset of go-redis commands the store needs.
// This allows mocking for unit tests.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// Store implements kv.Store on Redis. TTLs map directly onto Redis key
// expiry, so an expired credential simply stops existing.
type Store struct {
	client redisClient
}

// NewStore wraps an existing client.
func NewStore(client redisClient) *Store {
	return &Store{client: client}
}

// Connect dials Redis and fails fast if the connection is bad.
func Connect(addr, password string, db int) (*Store, func() error, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewStore(rdb), rdb.Close, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return val, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// ListByPrefix maps onto SCAN. The cursor is the decimal form of the SCAN
// cursor; "0" from Redis means exhausted, which we report as "".
func (s *Store) ListByPrefix(ctx context.Context, prefix, cursor string, limit int) ([]string, string, error) {
	var c uint64
	if cursor != "" {
		parsed, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("malformed scan cursor %q: %w", cursor, err)
		}
		c = parsed
	}

	keys, next, err := s.client.Scan(ctx, c, prefix+"*", int64(limit)).Result()
	if err != nil {
		return nil, "", fmt.Errorf("redis scan %q: %w", prefix, err)
	}

	if next == 0 {
		return keys, "", nil
	}
	return keys, strconv.FormatUint(next, 10), nil
}
