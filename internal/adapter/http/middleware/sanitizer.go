package middleware

import (
	"net/http"

	"trade-settlement-engine/pkg/apperror"
	"trade-settlement-engine/pkg/response"

	"github.com/gin-gonic/gin"
)

// MaxBodySize limits the request body size. Declared lengths over the limit
// are rejected up front; chunked bodies fail on read once the limit is hit.
func MaxBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			response.Abort(c, apperror.ErrPayloadTooLarge())
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
