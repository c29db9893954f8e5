package handler

import (
	"trade-settlement-engine/internal/adapter/http/dto"
	"trade-settlement-engine/internal/adapter/http/middleware"
	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/pkg/apperror"
	"trade-settlement-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderIdempotencyKey may stand in for a body client_reference.
const HeaderIdempotencyKey = "Idempotency-Key"

// principal returns the authenticated caller, writing AUTH_003 when absent.
func principal(c *gin.Context) (domain.Principal, bool) {
	p := middleware.PrincipalFrom(c)
	if p.UserID == uuid.Nil {
		response.Error(c, apperror.ErrInvalidToken())
		return p, false
	}
	return p, true
}

// pathID parses the :id route parameter.
func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

// bindJSON binds and sanitizes a request body.
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return false
	}
	dto.SanitizeStruct(req)
	return true
}

// bindQuery binds and sanitizes query parameters.
func bindQuery(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return false
	}
	dto.SanitizeStruct(req)
	return true
}
