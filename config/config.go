package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Events   EventsConfig   `mapstructure:"events"`
	Engine   EngineConfig   `mapstructure:"engine"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// Row locks are taken with FOR UPDATE; a waiter gives up after LockTimeout.
	LockTimeout      time.Duration `mapstructure:"lock_timeout"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // postgres, memory
}

type EventsConfig struct {
	Driver       string   `mapstructure:"driver"` // redis, kafka, none
	Channel      string   `mapstructure:"channel"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
}

// EngineConfig carries the settlement rules: spreads, fees, timeouts.
// Decimal values are kept as strings so YAML and env overrides stay exact.
type EngineConfig struct {
	PlatformAccountID  string            `mapstructure:"platform_account_id"`
	SellSpread         string            `mapstructure:"sell_spread"`
	BuySpread          string            `mapstructure:"buy_spread"`
	QuoteFeePercent    string            `mapstructure:"quote_fee_percent"`
	TradeFeePercent    string            `mapstructure:"trade_fee_percent"`
	WithdrawFeePercent string            `mapstructure:"withdraw_fee_percent"`
	DepositFeePercent  string            `mapstructure:"deposit_fee_percent"`
	DisputeFee         string            `mapstructure:"dispute_fee"`
	DisputeFees        map[string]string `mapstructure:"dispute_fees"`
	MinQuoteAmounts    map[string]string `mapstructure:"min_quote_amounts"`
	ReferencePrices    map[string]string `mapstructure:"reference_prices"`
	QuoteTTL           time.Duration     `mapstructure:"quote_ttl"`
	InstantQuoteTTL    time.Duration     `mapstructure:"instant_quote_ttl"`
	AutoCancelAfter    time.Duration     `mapstructure:"auto_cancel_after"`
	AutoReleaseAfter   time.Duration     `mapstructure:"auto_release_after"`
	SweepInterval      time.Duration     `mapstructure:"sweep_interval"`
	PriceMaxAge        time.Duration     `mapstructure:"price_max_age"`
	MaxConflictRetries int               `mapstructure:"max_conflict_retries"`
	BoostCurrency      string            `mapstructure:"boost_currency"`
	BoostPrices        map[string]string `mapstructure:"boost_prices"`
}

// Decimal parses a decimal setting, falling back to def when empty or malformed.
func Decimal(raw string, def decimal.Decimal) decimal.Decimal {
	if raw == "" {
		return def
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return def
	}
	return d
}

// DecimalMap parses a map of decimal settings, skipping malformed entries.
// Keys are upper-cased since viper lower-cases map keys.
func DecimalMap(raw map[string]string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(raw))
	for k, v := range raw {
		d, err := decimal.NewFromString(v)
		if err != nil {
			continue
		}
		out[strings.ToUpper(k)] = d
	}
	return out
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: SEE_ (Settlement & Escrow Engine).
// Nested keys use underscore: SEE_DATABASE_HOST, SEE_ENGINE_QUOTE_TTL, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "trade_settlement")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.lock_timeout", "5s")
	v.SetDefault("database.statement_timeout", "30s")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "trade-settlement-engine")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("events.driver", "redis")
	v.SetDefault("events.channel", "trade-events")
	v.SetDefault("events.kafka_brokers", []string{"localhost:9092"})
	v.SetDefault("events.kafka_topic", "trade-events")
	v.SetDefault("engine.platform_account_id", "00000000-0000-0000-0000-000000000001")
	v.SetDefault("engine.sell_spread", "0.975")
	v.SetDefault("engine.buy_spread", "1.025")
	v.SetDefault("engine.quote_fee_percent", "1")
	v.SetDefault("engine.trade_fee_percent", "0.5")
	v.SetDefault("engine.withdraw_fee_percent", "0.5")
	v.SetDefault("engine.deposit_fee_percent", "0")
	v.SetDefault("engine.dispute_fee", "5")
	v.SetDefault("engine.dispute_fees", map[string]string{"GBP": "5", "EUR": "5", "USD": "5"})
	v.SetDefault("engine.min_quote_amounts", map[string]string{"BTC": "0.0001", "ETH": "0.001", "USDT": "1"})
	v.SetDefault("engine.reference_prices", map[string]string{})
	v.SetDefault("engine.quote_ttl", "15m")
	v.SetDefault("engine.instant_quote_ttl", "60s")
	v.SetDefault("engine.auto_cancel_after", "30m")
	v.SetDefault("engine.auto_release_after", "0s")
	v.SetDefault("engine.sweep_interval", "30s")
	v.SetDefault("engine.price_max_age", "5m")
	v.SetDefault("engine.max_conflict_retries", 3)
	v.SetDefault("engine.boost_currency", "GBP")
	v.SetDefault("engine.boost_prices", map[string]string{"1h": "1.99", "6h": "4.99", "24h": "9.99"})

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: SEE_DATABASE_HOST -> database.host
	v.SetEnvPrefix("SEE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
