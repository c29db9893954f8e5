package handler

import (
	"trade-settlement-engine/internal/adapter/http/dto"
	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/core/ports"
	"trade-settlement-engine/pkg/response"

	"github.com/gin-gonic/gin"
)

// DisputeHandler handles dispute endpoints. Review, resolve and list are
// mounted behind RequireAdmin.
type DisputeHandler struct {
	disputeSvc ports.DisputeService
}

// NewDisputeHandler creates a new DisputeHandler.
func NewDisputeHandler(disputeSvc ports.DisputeService) *DisputeHandler {
	return &DisputeHandler{disputeSvc: disputeSvc}
}

// Get handles GET /api/v1/disputes/:id for trade participants and admins.
func (h *DisputeHandler) Get(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	dispute, err := h.disputeSvc.GetDispute(c.Request.Context(), p, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dispute)
}

// List handles GET /api/v1/admin/disputes.
func (h *DisputeHandler) List(c *gin.Context) {
	var q dto.DisputeListQuery
	if !bindQuery(c, &q) {
		return
	}
	params := ports.DisputeListParams{Page: q.Page, PageSize: q.PageSize}
	if q.Status != "" {
		s := domain.DisputeStatus(q.Status)
		params.Status = &s
	}

	disputes, total, err := h.disputeSvc.ListDisputes(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewListResponse(disputes, total, q.PageQuery))
}

// Review handles POST /api/v1/admin/disputes/:id/review.
func (h *DisputeHandler) Review(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	dispute, err := h.disputeSvc.MarkUnderReview(c.Request.Context(), p.UserID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dispute)
}

// Resolve handles POST /api/v1/admin/disputes/:id/resolve.
func (h *DisputeHandler) Resolve(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.ResolveDisputeRequest
	if !bindJSON(c, &req) {
		return
	}

	dispute, err := h.disputeSvc.ResolveDispute(c.Request.Context(), ports.ResolveDisputeRequest{
		DisputeID:  id,
		AdminID:    p.UserID,
		Winner:     domain.TradeRole(req.Winner),
		Resolution: req.Resolution,
		AdminNote:  req.AdminNote,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dispute)
}
