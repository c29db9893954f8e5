package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type auditRoute struct {
	action       domain.AuditAction
	resourceType string
}

// auditRoutes is keyed by "METHOD route-pattern" as registered on the router.
var auditRoutes = map[string]auditRoute{
	"POST /api/v1/quotes":                     {domain.AuditActionCreateQuote, "quote"},
	"POST /api/v1/quotes/:id/execute":         {domain.AuditActionExecuteQuote, "quote"},
	"POST /api/v1/offers":                     {domain.AuditActionCreateOffer, "offer"},
	"POST /api/v1/offers/:id/boost":           {domain.AuditActionBoostOffer, "offer"},
	"POST /api/v1/offers/:id/close":           {domain.AuditActionCloseOffer, "offer"},
	"POST /api/v1/trades":                     {domain.AuditActionCreateTrade, "trade"},
	"POST /api/v1/trades/:id/claim-payment":   {domain.AuditActionClaimPayment, "trade"},
	"POST /api/v1/trades/:id/release":         {domain.AuditActionReleaseTrade, "trade"},
	"POST /api/v1/trades/:id/cancel":          {domain.AuditActionCancelTrade, "trade"},
	"POST /api/v1/trades/:id/dispute":         {domain.AuditActionRaiseDispute, "trade"},
	"POST /api/v1/admin/disputes/:id/review":  {domain.AuditActionReviewDispute, "dispute"},
	"POST /api/v1/admin/disputes/:id/resolve": {domain.AuditActionResolveDispute, "dispute"},
	"POST /api/v1/admin/wallets/deposit":      {domain.AuditActionDeposit, "balance"},
	"POST /api/v1/wallets/withdraw":           {domain.AuditActionWithdraw, "balance"},
}

// AuditLog creates an audit middleware that logs successful write operations.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status < http.StatusOK || status >= http.StatusMultipleChoices {
			return
		}
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead || c.Request.Method == http.MethodOptions {
			return
		}

		action, resourceType := mapPathToAction(c.FullPath(), c.Request.Method)
		if action == "" {
			return
		}

		var userID *uuid.UUID
		if p := PrincipalFrom(c); p.UserID != uuid.Nil {
			userID = &p.UserID
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"request_id": c.GetString(CtxRequestID),
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			UserID:       userID,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   c.Param("id"),
			IPAddress:    c.ClientIP(),
			Details:      string(details),
			CreatedAt:    time.Now().UTC(),
		})
	}
}

func mapPathToAction(route, method string) (domain.AuditAction, string) {
	r, ok := auditRoutes[strings.ToUpper(method)+" "+route]
	if !ok {
		return "", ""
	}
	return r.action, r.resourceType
}
