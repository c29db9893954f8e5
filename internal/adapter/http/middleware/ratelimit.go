package middleware

import (
	"fmt"
	"strconv"
	"time"

	redisStore "trade-settlement-engine/internal/adapter/storage/redis"
	"trade-settlement-engine/pkg/apperror"
	"trade-settlement-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RateLimitRule defines a rate limit for an endpoint group.
type RateLimitRule struct {
	Limit  int64
	Window time.Duration
}

// DefaultRateLimitRules returns the per-group limits.
func DefaultRateLimitRules() map[string]RateLimitRule {
	return map[string]RateLimitRule{
		"quotes":        {Limit: 60, Window: time.Minute},
		"quotes_exec":   {Limit: 30, Window: time.Minute},
		"trades":        {Limit: 30, Window: time.Minute},
		"trades_action": {Limit: 60, Window: time.Minute},
		"offers":        {Limit: 20, Window: time.Minute},
		"reads":         {Limit: 120, Window: time.Minute},
		"withdrawals":   {Limit: 10, Window: time.Hour},
		"admin":         {Limit: 120, Window: time.Minute},
	}
}

// RateLimiter creates a rate-limiting middleware for a given endpoint group.
// Redis failures let the request through.
func RateLimiter(store *redisStore.RateLimitStore, group string, rule RateLimitRule, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := extractIdentifier(c)
		key := fmt.Sprintf("%s:%s", identifier, group)

		result, err := store.Allow(c.Request.Context(), key, rule.Limit, rule.Window)
		if err != nil {
			log.Warn().Err(err).Str("group", group).Msg("rate limit check failed, allowing request (degraded mode)")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

		if !result.Allowed {
			retryAfter := result.ResetAt - time.Now().Unix()
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			response.Abort(c, apperror.ErrRateLimitExceeded())
			return
		}

		c.Next()
	}
}

// extractIdentifier keys authenticated callers by user id and everyone else by IP.
func extractIdentifier(c *gin.Context) string {
	if p := PrincipalFrom(c); p.UserID != uuid.Nil {
		return "user:" + p.UserID.String()
	}
	return "ip:" + c.ClientIP()
}
