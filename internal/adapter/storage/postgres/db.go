package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"trade-settlement-engine/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const applicationName = "trade-settlement-engine"

// NewPool creates the settlement connection pool and verifies connectivity.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Str("dbname", cfg.DBName).
		Int32("max_conns", cfg.MaxConns).
		Dur("lock_timeout", cfg.LockTimeout).
		Dur("statement_timeout", cfg.StatementTimeout).
		Msg("PostgreSQL connection pool established")

	return pool, nil
}

// poolConfig maps DatabaseConfig onto pgxpool settings. Lock and statement
// timeouts are sent as session runtime params on every connection.
func poolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 && cfg.MinConns <= poolCfg.MaxConns {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	params := poolCfg.ConnConfig.RuntimeParams
	params["application_name"] = applicationName
	if cfg.LockTimeout > 0 {
		params["lock_timeout"] = millis(cfg.LockTimeout)
	}
	if cfg.StatementTimeout > 0 {
		params["statement_timeout"] = millis(cfg.StatementTimeout)
	}
	return poolCfg, nil
}

// millis renders d in the integer-milliseconds form Postgres timeouts accept.
func millis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}
