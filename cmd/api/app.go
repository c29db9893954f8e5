package main

import (
	"context"
	"fmt"
	"net/http"

	"trade-settlement-engine/config"
	httpHandler "trade-settlement-engine/internal/adapter/http/handler"
	"trade-settlement-engine/internal/adapter/messaging"
	"trade-settlement-engine/internal/adapter/pricing"
	"trade-settlement-engine/internal/adapter/storage/memory"
	pgStorage "trade-settlement-engine/internal/adapter/storage/postgres"
	redisStorage "trade-settlement-engine/internal/adapter/storage/redis"
	"trade-settlement-engine/internal/core/ports"
	"trade-settlement-engine/internal/service"
	"trade-settlement-engine/internal/worker"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app is the wired engine: the HTTP handler, the background scheduler and
// the resources to release on shutdown.
type app struct {
	handler   http.Handler
	scheduler *worker.Scheduler
	closers   []func()
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// repositories is the storage surface the services need, whichever driver backs it.
type repositories struct {
	balances   ports.BalanceRepository
	entries    ports.LedgerEntryRepository
	quotes     ports.QuoteRepository
	offers     ports.OfferRepository
	trades     ports.TradeRepository
	disputes   ports.DisputeRepository
	events     ports.TradeEventRepository
	idempotent ports.IdempotencyRepository
	audit      ports.AuditRepository
	transactor ports.DBTransactor
	health     ports.HealthChecker
	close      func()
}

// newApp connects storage, Redis and the event publisher, then builds the
// services, router and scheduler on top of them.
func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	a := &app{}

	repos, err := openStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, repos.close)

	healthCheckers := []ports.HealthChecker{repos.health}

	// Redis backs the idempotency cache, rate limits, cached prices and pub/sub.
	var rdb *goredis.Client
	if cfg.Redis.Enabled {
		rdb, err = redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		healthCheckers = append(healthCheckers, redisStorage.NewHealthCheck(rdb))
	}

	var (
		idempotencyCache ports.IdempotencyCache
		rateLimitStore   *redisStorage.RateLimitStore
		prices           = pricing.NewChain(log)
	)
	if rdb != nil {
		idempotencyCache = redisStorage.NewIdempotencyCache(rdb)
		rateLimitStore = redisStorage.NewRateLimitStore(rdb)
		prices.Then("redis", redisStorage.NewPriceStore(rdb, cfg.Engine.PriceMaxAge))
	}
	prices.Then("static", pricing.NewStatic(cfg.Engine.ReferencePrices))

	publisher, closePublisher := newPublisher(cfg.Events, rdb, log)
	a.closers = append(a.closers, closePublisher)

	settings := service.SettingsFromConfig(cfg.Engine)
	fees, err := service.FeeScheduleFromConfig(cfg.Engine)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("engine config: %w", err)
	}

	// Initialize core services
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	auditSvc := service.NewAuditService(repos.audit, log)
	ledger := service.NewLedgerService(repos.balances, repos.entries, log)

	// Initialize business services
	quoteSvc := service.NewQuoteService(repos.quotes, ledger, prices, repos.transactor, fees, settings, log)
	offerSvc := service.NewOfferService(repos.offers, ledger, repos.transactor, fees, settings, log)
	tradeSvc := service.NewTradeService(service.TradeServiceDeps{
		Trades:     repos.trades,
		Offers:     repos.offers,
		Disputes:   repos.disputes,
		Events:     repos.events,
		IdempRepo:  repos.idempotent,
		IdempCache: idempotencyCache,
		Ledger:     ledger,
		Prices:     prices,
		Publisher:  publisher,
		Transactor: repos.transactor,
		Fees:       fees,
		Settings:   settings,
		Log:        log,
	})
	disputeSvc := service.NewDisputeService(
		repos.disputes,
		repos.trades,
		repos.offers,
		repos.events,
		ledger,
		publisher,
		repos.transactor,
		fees,
		settings,
		log,
	)
	walletSvc := service.NewWalletService(repos.balances, repos.entries, ledger, repos.transactor, fees, settings, log)

	a.handler = httpHandler.SetupRouter(httpHandler.RouterDeps{
		QuoteSvc:       quoteSvc,
		OfferSvc:       offerSvc,
		TradeSvc:       tradeSvc,
		DisputeSvc:     disputeSvc,
		WalletSvc:      walletSvc,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: healthCheckers,
		AuditSvc:       auditSvc,
		Logger:         log,
	})
	a.scheduler = worker.NewSettlementScheduler(quoteSvc, tradeSvc, cfg.Engine.SweepInterval, log)

	return a, nil
}

// openStorage builds the repositories for the configured driver. The
// postgres driver applies the schema before returning.
func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*repositories, error) {
	switch cfg.Storage.Driver {
	case "memory":
		store := memory.NewStore()
		log.Warn().Msg("Using in-memory storage, state is lost on restart")
		return &repositories{
			balances:   memory.NewBalanceRepo(store),
			entries:    memory.NewLedgerEntryRepo(store),
			quotes:     memory.NewQuoteRepo(store),
			offers:     memory.NewOfferRepo(store),
			trades:     memory.NewTradeRepo(store),
			disputes:   memory.NewDisputeRepo(store),
			events:     memory.NewTradeEventRepo(store),
			idempotent: memory.NewIdempotencyRepo(store),
			audit:      memory.NewAuditRepo(store),
			transactor: store,
			health:     memory.HealthCheck{},
			close:      func() {},
		}, nil

	case "postgres", "":
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		if err := pgStorage.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("applying schema: %w", err)
		}
		log.Info().Msg("PostgreSQL connected")
		return &repositories{
			balances:   pgStorage.NewBalanceRepo(pool),
			entries:    pgStorage.NewLedgerEntryRepo(pool),
			quotes:     pgStorage.NewQuoteRepo(pool),
			offers:     pgStorage.NewOfferRepo(pool),
			trades:     pgStorage.NewTradeRepo(pool),
			disputes:   pgStorage.NewDisputeRepo(pool),
			events:     pgStorage.NewTradeEventRepo(pool),
			idempotent: pgStorage.NewIdempotencyRepo(pool),
			audit:      pgStorage.NewAuditRepository(pool),
			transactor: pgStorage.NewTransactor(pool),
			health:     pgStorage.NewHealthCheck(pool),
			close:      pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// newPublisher returns the trade event publisher for the configured driver
// and a func that releases it.
func newPublisher(cfg config.EventsConfig, rdb *goredis.Client, log zerolog.Logger) (ports.EventPublisher, func()) {
	switch cfg.Driver {
	case "kafka":
		p := messaging.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		return p, func() {
			if err := p.Close(); err != nil {
				log.Error().Err(err).Msg("closing kafka publisher")
			}
		}
	case "redis":
		if rdb != nil {
			return messaging.NewRedisPublisher(rdb, cfg.Channel), func() {}
		}
		log.Warn().Msg("Redis disabled, trade events will only be logged")
	}
	return messaging.NewLogPublisher(log), func() {}
}
