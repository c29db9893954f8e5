package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitStore_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRateLimitStore(client)
	clock := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)
	store.now = func() time.Time { return clock }
	ctx := context.Background()

	t.Run("allows requests within limit", func(t *testing.T) {
		for i := int64(1); i <= 3; i++ {
			result, err := store.Allow(ctx, "user1:trades", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, result.Allowed, "request %d should be allowed", i)
			assert.Equal(t, int64(3), result.Limit)
			assert.Equal(t, 3-i, result.Remaining)
		}
	})

	t.Run("blocks requests over limit", func(t *testing.T) {
		result, err := store.Allow(ctx, "user1:trades", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, int64(0), result.Remaining)
	})

	t.Run("different keys are independent", func(t *testing.T) {
		result, err := store.Allow(ctx, "user2:trades", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, int64(4), result.Remaining)
	})

	t.Run("next window starts fresh", func(t *testing.T) {
		_, err := store.Allow(ctx, "user3:quotes", 1, time.Minute)
		require.NoError(t, err)
		result, err := store.Allow(ctx, "user3:quotes", 1, time.Minute)
		require.NoError(t, err)
		assert.False(t, result.Allowed)

		clock = clock.Add(time.Minute)
		result, err = store.Allow(ctx, "user3:quotes", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	})

	t.Run("reset is the end of the window", func(t *testing.T) {
		result, err := store.Allow(ctx, "user4:offers", 10, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 1, 10, 2, 0, 0, time.UTC).Unix(), result.ResetAt)
	})

	t.Run("counter keys expire", func(t *testing.T) {
		keys := mr.Keys()
		require.NotEmpty(t, keys)
		assert.Greater(t, mr.TTL(keys[0]), time.Duration(0))
	})
}
