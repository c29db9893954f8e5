package handler

import (
	"trade-settlement-engine/internal/adapter/http/dto"
	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/core/ports"
	"trade-settlement-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OfferHandler handles sell offer endpoints.
type OfferHandler struct {
	offerSvc ports.OfferService
}

// NewOfferHandler creates a new OfferHandler.
func NewOfferHandler(offerSvc ports.OfferService) *OfferHandler {
	return &OfferHandler{offerSvc: offerSvc}
}

// Create handles POST /api/v1/offers.
func (h *OfferHandler) Create(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req dto.CreateOfferRequest
	if !bindJSON(c, &req) {
		return
	}

	amounts := make([]decimal.Decimal, 4)
	for i, f := range []struct{ name, raw string }{
		{"price_value", req.PriceValue},
		{"min_amount", req.MinAmount},
		{"max_amount", req.MaxAmount},
		{"available_amount", req.AvailableAmount},
	} {
		d, err := dto.ParseAmount(f.name, f.raw)
		if err != nil {
			response.Error(c, err)
			return
		}
		amounts[i] = d
	}

	offer, err := h.offerSvc.CreateOffer(c.Request.Context(), ports.CreateOfferRequest{
		SellerID:        p.UserID,
		CryptoCurrency:  req.CryptoCurrency,
		FiatCurrency:    req.FiatCurrency,
		PriceType:       domain.PriceType(req.PriceType),
		PriceValue:      amounts[0],
		MinAmount:       amounts[1],
		MaxAmount:       amounts[2],
		AvailableAmount: amounts[3],
		PaymentMethods:  req.PaymentMethods,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, offer)
}

// List handles GET /api/v1/offers. Boosted offers come first.
func (h *OfferHandler) List(c *gin.Context) {
	var q dto.OfferListQuery
	if !bindQuery(c, &q) {
		return
	}
	params := ports.OfferListParams{
		CryptoCurrency: q.CryptoCurrency,
		FiatCurrency:   q.FiatCurrency,
		Page:           q.Page,
		PageSize:       q.PageSize,
	}
	if q.SellerID != "" {
		id := uuid.MustParse(q.SellerID)
		params.SellerID = &id
	}

	offers, total, err := h.offerSvc.ListOffers(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewListResponse(offers, total, q.PageQuery))
}

// Get handles GET /api/v1/offers/:id.
func (h *OfferHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	offer, err := h.offerSvc.GetOffer(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, offer)
}

// Boost handles POST /api/v1/offers/:id/boost.
func (h *OfferHandler) Boost(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.BoostOfferRequest
	if !bindJSON(c, &req) {
		return
	}

	offer, err := h.offerSvc.BoostOffer(c.Request.Context(), p.UserID, id, domain.BoostTier(req.Tier))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, offer)
}

// Close handles POST /api/v1/offers/:id/close.
func (h *OfferHandler) Close(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	offer, err := h.offerSvc.CloseOffer(c.Request.Context(), p.UserID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, offer)
}
