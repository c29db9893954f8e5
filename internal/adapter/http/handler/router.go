package handler

import (
	"trade-settlement-engine/internal/adapter/http/middleware"
	redisStore "trade-settlement-engine/internal/adapter/storage/redis"
	"trade-settlement-engine/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	QuoteSvc       ports.QuoteService
	OfferSvc       ports.OfferService
	TradeSvc       ports.TradeService
	DisputeSvc     ports.DisputeService
	WalletSvc      ports.WalletService
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	AuditSvc       ports.AuditService // nil = audit logging disabled
	MaxBodyBytes   int64
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(maxBody))
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1", middleware.JWTAuth(deps.TokenSvc, deps.Logger))

	quoteHandler := NewQuoteHandler(deps.QuoteSvc)
	quotes := v1.Group("/quotes")
	{
		quotes.POST("", rl("quotes"), quoteHandler.Create)
		quotes.GET("/:id", rl("reads"), quoteHandler.Get)
		quotes.POST("/:id/execute", rl("quotes_exec"), quoteHandler.Execute)
	}

	offerHandler := NewOfferHandler(deps.OfferSvc)
	offers := v1.Group("/offers")
	{
		offers.POST("", rl("offers"), offerHandler.Create)
		offers.GET("", rl("reads"), offerHandler.List)
		offers.GET("/:id", rl("reads"), offerHandler.Get)
		offers.POST("/:id/boost", rl("offers"), offerHandler.Boost)
		offers.POST("/:id/close", rl("offers"), offerHandler.Close)
	}

	tradeHandler := NewTradeHandler(deps.TradeSvc)
	trades := v1.Group("/trades")
	{
		trades.POST("", rl("trades"), tradeHandler.Create)
		trades.GET("", rl("reads"), tradeHandler.List)
		trades.GET("/:id", rl("reads"), tradeHandler.Get)
		trades.POST("/:id/claim-payment", rl("trades_action"), tradeHandler.ClaimPayment)
		trades.POST("/:id/release", rl("trades_action"), tradeHandler.Release)
		trades.POST("/:id/cancel", rl("trades_action"), tradeHandler.Cancel)
		trades.POST("/:id/dispute", rl("trades_action"), tradeHandler.RaiseDispute)
	}

	disputeHandler := NewDisputeHandler(deps.DisputeSvc)
	v1.GET("/disputes/:id", rl("reads"), disputeHandler.Get)

	walletHandler := NewWalletHandler(deps.WalletSvc)
	wallets := v1.Group("/wallets")
	{
		wallets.GET("/balances", rl("reads"), walletHandler.Balances)
		wallets.GET("/entries", rl("reads"), walletHandler.Entries)
		wallets.POST("/withdraw", rl("withdrawals"), walletHandler.Withdraw)
	}

	admin := v1.Group("/admin", middleware.RequireAdmin(), rl("admin"))
	{
		admin.GET("/disputes", disputeHandler.List)
		admin.POST("/disputes/:id/review", disputeHandler.Review)
		admin.POST("/disputes/:id/resolve", disputeHandler.Resolve)
		admin.POST("/wallets/deposit", walletHandler.Deposit)
	}

	return r
}
