package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// IdempotencyCache implements ports.IdempotencyCache using Redis. It is the
// fast path in front of the idempotency_logs table; a miss falls through to
// the database.
type IdempotencyCache struct {
	client goredis.UniversalClient
	prefix string
}

// NewIdempotencyCache creates a new Redis-backed idempotency cache.
func NewIdempotencyCache(client goredis.UniversalClient) *IdempotencyCache {
	return &IdempotencyCache{
		client: client,
		prefix: "trade:idempotency:",
	}
}

// Get retrieves the cached trade JSON for a buyer:client_reference key.
// Returns nil, nil if the key does not exist.
func (c *IdempotencyCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis idempotency get: %w", err)
	}
	return val, nil
}

// Set stores the trade JSON with TTL. A later Set for the same key overwrites,
// which only happens when the database already agreed on the same trade.
func (c *IdempotencyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis idempotency set: %w", err)
	}
	return nil
}
