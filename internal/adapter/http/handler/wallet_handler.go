package handler

import (
	"trade-settlement-engine/internal/adapter/http/dto"
	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/core/ports"
	"trade-settlement-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WalletHandler handles balance and ledger endpoints.
type WalletHandler struct {
	walletSvc ports.WalletService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(walletSvc ports.WalletService) *WalletHandler {
	return &WalletHandler{walletSvc: walletSvc}
}

// Balances handles GET /api/v1/wallets/balances.
func (h *WalletHandler) Balances(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	balances, err := h.walletSvc.ListBalances(c.Request.Context(), p.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToBalanceResponses(balances))
}

// Entries handles GET /api/v1/wallets/entries, newest first.
func (h *WalletHandler) Entries(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var q dto.EntryListQuery
	if !bindQuery(c, &q) {
		return
	}
	params := ports.LedgerEntryListParams{
		UserID:      p.UserID,
		Currency:    q.Currency,
		ReferenceID: q.ReferenceID,
		Page:        q.Page,
		PageSize:    q.PageSize,
	}
	if q.ReferenceType != "" {
		rt := domain.ReferenceType(q.ReferenceType)
		params.ReferenceType = &rt
	}

	entries, total, err := h.walletSvc.ListEntries(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewListResponse(entries, total, q.PageQuery))
}

// Withdraw handles POST /api/v1/wallets/withdraw.
func (h *WalletHandler) Withdraw(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req dto.WithdrawRequest
	if !bindJSON(c, &req) {
		return
	}
	amount, err := dto.ParseAmount("amount", req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	balance, err := h.walletSvc.Withdraw(c.Request.Context(), ports.WithdrawRequest{
		UserID:   p.UserID,
		Currency: req.Currency,
		Amount:   amount,
		Address:  req.Address,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToBalanceResponse(balance))
}

// Deposit handles POST /api/v1/admin/wallets/deposit.
func (h *WalletHandler) Deposit(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req dto.DepositRequest
	if !bindJSON(c, &req) {
		return
	}
	amount, err := dto.ParseAmount("amount", req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	balance, err := h.walletSvc.Deposit(c.Request.Context(), ports.DepositRequest{
		AdminID:   p.UserID,
		UserID:    uuid.MustParse(req.UserID),
		Currency:  req.Currency,
		Amount:    amount,
		Reference: req.Reference,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.ToBalanceResponse(balance))
}
