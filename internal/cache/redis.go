package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// RedisStore is an IdempotencyStore backed by Redis SETNX.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Claim(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	// The key can expire between SETNX and GET; one more round settles it.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.rdb.SetNX(ctx, key, pendingMarker, ttl).Result()
		if err != nil {
			return "", false, fmt.Errorf("failed to claim %s: %w", key, err)
		}
		if ok {
			return "", true, nil
		}

		val, err := s.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("failed to read %s: %w", key, err)
		}
		if val == pendingMarker {
			return "", false, nil
		}
		return val, false, nil
	}
	return "", false, nil
}

func (s *RedisStore) Store(ctx context.Context, key, result string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, result, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Forget(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to forget %s: %w", key, err)
	}
	return nil
}
