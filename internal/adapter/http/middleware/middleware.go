package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/core/ports"
	"trade-settlement-engine/pkg/apperror"
	"trade-settlement-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	HeaderRequestID = "X-Request-ID"

	// Context keys
	CtxRequestID = "request_id"
	CtxUserID    = "user_id"
	CtxRole      = "role"
)

// RequestID assigns every request an id, reusing a well-formed inbound header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(CtxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// JWTAuth validates the bearer token and stores the caller's identity.
func JWTAuth(tokenSvc ports.TokenService, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Abort(c, apperror.ErrMissingToken())
			return
		}
		tokenStr, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenStr == "" {
			response.Abort(c, apperror.ErrInvalidToken())
			return
		}

		claims, err := tokenSvc.Validate(tokenStr)
		if err != nil {
			log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("token rejected")
			response.Abort(c, apperror.ErrInvalidToken())
			return
		}

		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxRole, claims.Role)
		c.Next()
	}
}

// RequireAdmin rejects callers whose token does not carry the admin role.
// It must run after JWTAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !PrincipalFrom(c).IsAdmin() {
			response.Abort(c, apperror.ErrForbidden())
			return
		}
		c.Next()
	}
}

// PrincipalFrom returns the authenticated caller. The zero Principal is
// returned on unauthenticated routes.
func PrincipalFrom(c *gin.Context) domain.Principal {
	var p domain.Principal
	if v, ok := c.Get(CtxUserID); ok {
		p.UserID, _ = v.(uuid.UUID)
	}
	if v, ok := c.Get(CtxRole); ok {
		p.Role, _ = v.(domain.UserRole)
	}
	return p
}

// RequestLogger creates a middleware that logs every HTTP request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}

		if p := PrincipalFrom(c); p.UserID != uuid.Nil {
			event = event.Str("user_id", p.UserID.String())
		}
		event.
			Str("request_id", c.GetString(CtxRequestID)).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

// Recovery creates a panic recovery middleware.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("request_id", c.GetString(CtxRequestID)).
					Str("path", c.Request.URL.Path).
					Msg("panic recovered")
				response.Abort(c, apperror.InternalError(fmt.Errorf("panic: %v", r)))
			}
		}()
		c.Next()
	}
}
