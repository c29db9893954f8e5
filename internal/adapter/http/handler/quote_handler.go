package handler

import (
	"trade-settlement-engine/internal/adapter/http/dto"
	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/core/ports"
	"trade-settlement-engine/pkg/response"

	"github.com/gin-gonic/gin"
)

// QuoteHandler handles quote endpoints.
type QuoteHandler struct {
	quoteSvc ports.QuoteService
}

// NewQuoteHandler creates a new QuoteHandler.
func NewQuoteHandler(quoteSvc ports.QuoteService) *QuoteHandler {
	return &QuoteHandler{quoteSvc: quoteSvc}
}

// Create handles POST /api/v1/quotes.
func (h *QuoteHandler) Create(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req dto.CreateQuoteRequest
	if !bindJSON(c, &req) {
		return
	}
	amount, err := dto.ParseAmount("amount", req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	quote, err := h.quoteSvc.CreateQuote(c.Request.Context(), ports.CreateQuoteRequest{
		UserID:       p.UserID,
		Side:         domain.QuoteSide(req.Side),
		Currency:     req.Currency,
		FiatCurrency: req.FiatCurrency,
		Amount:       amount,
		Instant:      req.Instant,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.ToQuoteResponse(quote))
}

// Execute handles POST /api/v1/quotes/:id/execute.
func (h *QuoteHandler) Execute(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	exec, err := h.quoteSvc.ExecuteQuote(c.Request.Context(), p.UserID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToQuoteExecutionResponse(exec))
}

// Get handles GET /api/v1/quotes/:id.
func (h *QuoteHandler) Get(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	quote, err := h.quoteSvc.GetQuote(c.Request.Context(), p.UserID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToQuoteResponse(quote))
}
