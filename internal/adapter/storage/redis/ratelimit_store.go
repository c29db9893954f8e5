package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RateLimitStore implements fixed-window rate limiting counters backed by Redis.
type RateLimitStore struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRateLimitStore creates a new Redis-backed rate limit store.
func NewRateLimitStore(client goredis.UniversalClient) *RateLimitStore {
	return &RateLimitStore{
		client: client,
		prefix: "ratelimit:",
		now:    time.Now,
	}
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}

// Allow counts one request against key in the current window. Windows are
// discrete buckets of now / window; the first hit in a bucket sets its expiry.
func (s *RateLimitStore) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error) {
	seconds := int64(window.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	windowID := s.now().Unix() / seconds
	redisKey := fmt.Sprintf("%s%s:%d", s.prefix, key, windowID)

	count, err := s.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis rate limit incr: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, redisKey, window+time.Second).Err(); err != nil {
			return nil, fmt.Errorf("redis rate limit expire: %w", err)
		}
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitResult{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   (windowID + 1) * seconds,
	}, nil
}
