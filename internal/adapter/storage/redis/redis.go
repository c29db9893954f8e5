package redis

import (
	"context"
	"fmt"

	"trade-settlement-engine/config"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const clientName = "trade-settlement-engine"

// NewClient creates a Redis client and verifies connectivity. The client backs
// the idempotency cache, rate limiter, price store and event channel.
func NewClient(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (*goredis.Client, error) {
	client := goredis.NewClient(clientOptions(cfg))

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis %s: %w", cfg.Addr(), err)
	}

	log.Info().
		Str("addr", cfg.Addr()).
		Int("db", cfg.DB).
		Int("pool_size", cfg.PoolSize).
		Msg("Redis connection established")

	return client, nil
}

// clientOptions maps RedisConfig onto go-redis options; zero values keep the
// library defaults.
func clientOptions(cfg config.RedisConfig) *goredis.Options {
	opts := &goredis.Options{
		Addr:       cfg.Addr(),
		Password:   cfg.Password,
		DB:         cfg.DB,
		ClientName: clientName,
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	return opts
}
