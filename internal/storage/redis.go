package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps the snapshot document under a single Redis key
type RedisBackend struct {
	client *redis.Client
	key    string
}

// NewRedisBackend creates a Redis backend. The connection is established lazily.
func NewRedisBackend(addr string, db int, key string) *RedisBackend {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	return &RedisBackend{
		client: client,
		key:    key,
	}
}

// Load fetches the snapshot document
func (b *RedisBackend) Load(ctx context.Context) ([]byte, error) {
	data, err := retryRedisOperation(ctx, func() ([]byte, error) {
		data, err := b.client.Get(ctx, b.key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return data, nil
}

// Save overwrites the snapshot document without expiry
func (b *RedisBackend) Save(ctx context.Context, data []byte) error {
	_, err := retryRedisOperation(ctx, func() (struct{}, error) {
		return struct{}{}, b.client.Set(ctx, b.key, data, 0).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// retryRedisOperation retries a Redis call with exponential backoff so a Redis
// restart does not lose a flush
func retryRedisOperation[T any](ctx context.Context, operation func() (T, error)) (T, error) {
	const maxRetries = 3
	const initialBackoff = 100 * time.Millisecond

	var lastErr error
	var zero T

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			// 100ms, 200ms
			backoff := initialBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := operation()
		if err != nil {
			lastErr = err
			continue
		}

		return result, nil
	}

	return zero, fmt.Errorf("redis operation failed after %d retries: %w", maxRetries, lastErr)
}
