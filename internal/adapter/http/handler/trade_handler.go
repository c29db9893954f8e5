package handler

import (
	"context"

	"trade-settlement-engine/internal/adapter/http/dto"
	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/core/ports"
	"trade-settlement-engine/pkg/apperror"
	"trade-settlement-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TradeHandler handles escrow trade endpoints.
type TradeHandler struct {
	tradeSvc ports.TradeService
}

// NewTradeHandler creates a new TradeHandler.
func NewTradeHandler(tradeSvc ports.TradeService) *TradeHandler {
	return &TradeHandler{tradeSvc: tradeSvc}
}

// Create handles POST /api/v1/trades.
func (h *TradeHandler) Create(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req dto.CreateTradeRequest
	if !bindJSON(c, &req) {
		return
	}
	amount, err := dto.ParseAmount("crypto_amount", req.CryptoAmount)
	if err != nil {
		response.Error(c, err)
		return
	}
	clientRef := req.ClientReference
	if clientRef == "" {
		clientRef = c.GetHeader(HeaderIdempotencyKey)
		if len(clientRef) > 100 {
			response.Error(c, apperror.Validation("Idempotency-Key must be at most 100 characters"))
			return
		}
	}

	trade, err := h.tradeSvc.CreateTrade(c.Request.Context(), ports.CreateTradeRequest{
		BuyerID:            p.UserID,
		SellOrderID:        uuid.MustParse(req.SellOrderID),
		CryptoAmount:       amount,
		PaymentMethod:      req.PaymentMethod,
		BuyerWalletAddress: req.BuyerWalletAddress,
		ClientReference:    clientRef,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.ToTradeCreatedResponse(trade))
}

// ClaimPayment handles POST /api/v1/trades/:id/claim-payment.
func (h *TradeHandler) ClaimPayment(c *gin.Context) {
	h.transition(c, h.tradeSvc.ClaimPayment)
}

// Release handles POST /api/v1/trades/:id/release.
func (h *TradeHandler) Release(c *gin.Context) {
	h.transition(c, h.tradeSvc.ConfirmRelease)
}

// Cancel handles POST /api/v1/trades/:id/cancel.
func (h *TradeHandler) Cancel(c *gin.Context) {
	h.transition(c, h.tradeSvc.CancelTrade)
}

func (h *TradeHandler) transition(c *gin.Context, fn func(ctx context.Context, userID, tradeID uuid.UUID) (*domain.Trade, error)) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	trade, err := fn(c.Request.Context(), p.UserID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, trade)
}

// RaiseDispute handles POST /api/v1/trades/:id/dispute.
func (h *TradeHandler) RaiseDispute(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.RaiseDisputeRequest
	if !bindJSON(c, &req) {
		return
	}

	dispute, err := h.tradeSvc.RaiseDispute(c.Request.Context(), ports.RaiseDisputeRequest{
		UserID:  p.UserID,
		TradeID: id,
		Reason:  req.Reason,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dispute)
}

// Get handles GET /api/v1/trades/:id.
func (h *TradeHandler) Get(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	trade, err := h.tradeSvc.GetTrade(c.Request.Context(), p, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, trade)
}

// List handles GET /api/v1/trades, returning trades the caller is party to.
func (h *TradeHandler) List(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var q dto.TradeListQuery
	if !bindQuery(c, &q) {
		return
	}
	params := ports.TradeListParams{UserID: p.UserID, Page: q.Page, PageSize: q.PageSize}
	if q.Status != "" {
		s := domain.TradeStatus(q.Status)
		params.Status = &s
	}

	trades, total, err := h.tradeSvc.ListTrades(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewListResponse(trades, total, q.PageQuery))
}
