package dto

import (
	"time"

	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/core/ports"

	"github.com/shopspring/decimal"
)

// Amounts travel as decimal strings and are parsed after binding.

// CreateQuoteRequest is the request body for POST /quotes.
type CreateQuoteRequest struct {
	Side         string `json:"side" binding:"required,oneof=buy sell"`
	Currency     string `json:"currency" binding:"required,currency_code"`
	FiatCurrency string `json:"fiat_currency" binding:"required,currency_code"`
	Amount       string `json:"amount" binding:"required,decimal_str"`
	Instant      bool   `json:"instant"`
}

// QuoteResponse is returned when a quote is issued or fetched.
type QuoteResponse struct {
	QuoteID        string          `json:"quote_id"`
	Side           string          `json:"side"`
	Currency       string          `json:"currency"`
	FiatCurrency   string          `json:"fiat_currency"`
	CryptoAmount   decimal.Decimal `json:"crypto_amount"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	LockedPrice    decimal.Decimal `json:"locked_price"`
	FeePercent     decimal.Decimal `json:"fee_percent"`
	Status         string          `json:"status"`
	ExpiresAt      time.Time       `json:"expires_at"`
	ExecutedAt     *time.Time      `json:"executed_at,omitempty"`
}

// QuoteExecutionResponse is returned by POST /quotes/:id/execute.
type QuoteExecutionResponse struct {
	QuoteID      string          `json:"quote_id"`
	Status       string          `json:"status"`
	Side         string          `json:"side"`
	CryptoAmount decimal.Decimal `json:"crypto_amount"`
	FiatAmount   decimal.Decimal `json:"fiat_amount"`
	FeeAmount    decimal.Decimal `json:"fee_amount"`
}

// CreateOfferRequest is the request body for POST /offers.
type CreateOfferRequest struct {
	CryptoCurrency  string   `json:"crypto_currency" binding:"required,currency_code"`
	FiatCurrency    string   `json:"fiat_currency" binding:"required,currency_code"`
	PriceType       string   `json:"price_type" binding:"required,oneof=fixed floating"`
	PriceValue      string   `json:"price_value" binding:"required,decimal_str"`
	MinAmount       string   `json:"min_amount" binding:"required,decimal_str"`
	MaxAmount       string   `json:"max_amount" binding:"required,decimal_str"`
	AvailableAmount string   `json:"available_amount" binding:"required,decimal_str"`
	PaymentMethods  []string `json:"payment_methods" binding:"required,min=1,max=10,dive,required,max=50,safe_id"`
}

// BoostOfferRequest is the request body for POST /offers/:id/boost.
type BoostOfferRequest struct {
	Tier string `json:"tier" binding:"required,oneof=1h 6h 24h"`
}

// OfferListQuery holds the query string of GET /offers.
type OfferListQuery struct {
	CryptoCurrency string `form:"crypto_currency" binding:"omitempty,currency_code"`
	FiatCurrency   string `form:"fiat_currency" binding:"omitempty,currency_code"`
	SellerID       string `form:"seller_id" binding:"omitempty,uuid"`
	PageQuery
}

// CreateTradeRequest is the request body for POST /trades.
type CreateTradeRequest struct {
	SellOrderID        string `json:"sell_order_id" binding:"required,uuid"`
	CryptoAmount       string `json:"crypto_amount" binding:"required,decimal_str"`
	PaymentMethod      string `json:"payment_method" binding:"required,max=50,safe_id"`
	BuyerWalletAddress string `json:"buyer_wallet_address" binding:"omitempty,wallet_address"`
	ClientReference    string `json:"client_reference,omitempty" binding:"omitempty,max=100,safe_id"`
}

// TradeCreatedResponse is returned by POST /trades.
type TradeCreatedResponse struct {
	TradeID      string     `json:"trade_id"`
	Status       string     `json:"status"`
	FiatAmount   string     `json:"fiat_amount"`
	FiatCurrency string     `json:"fiat_currency"`
	AutoCancelAt *time.Time `json:"auto_cancel_at,omitempty"`
}

// TradeListQuery holds the query string of GET /trades.
type TradeListQuery struct {
	Status string `form:"status" binding:"omitempty,oneof=escrowed payment_claimed released disputed resolved cancelled"`
	PageQuery
}

// RaiseDisputeRequest is the request body for POST /trades/:id/dispute.
type RaiseDisputeRequest struct {
	Reason string `json:"reason" binding:"required,min=3,max=1000"`
}

// ResolveDisputeRequest is the request body for POST /admin/disputes/:id/resolve.
// Presence of winner and resolution is checked by the dispute service.
type ResolveDisputeRequest struct {
	Winner     string `json:"winner" binding:"max=16"`
	Resolution string `json:"resolution" binding:"max=2000"`
	AdminNote  string `json:"admin_note" binding:"max=2000"`
}

// DisputeListQuery holds the query string of GET /admin/disputes.
type DisputeListQuery struct {
	Status string `form:"status" binding:"omitempty,oneof=open under_review resolved cancelled"`
	PageQuery
}

// DepositRequest is the request body for POST /admin/wallets/deposit.
type DepositRequest struct {
	UserID    string `json:"user_id" binding:"required,uuid"`
	Currency  string `json:"currency" binding:"required,currency_code"`
	Amount    string `json:"amount" binding:"required,decimal_str"`
	Reference string `json:"reference" binding:"omitempty,max=100,safe_id"`
}

// WithdrawRequest is the request body for POST /wallets/withdraw.
type WithdrawRequest struct {
	Currency string `json:"currency" binding:"required,currency_code"`
	Amount   string `json:"amount" binding:"required,decimal_str"`
	Address  string `json:"address" binding:"required,wallet_address"`
}

// EntryListQuery holds the query string of GET /wallets/entries.
type EntryListQuery struct {
	Currency      string `form:"currency" binding:"omitempty,currency_code"`
	ReferenceType string `form:"reference_type" binding:"omitempty,oneof=TRADE QUOTE DISPUTE BOOST DEPOSIT WITHDRAWAL"`
	ReferenceID   string `form:"reference_id" binding:"omitempty,max=100,safe_id"`
	PageQuery
}

// PageQuery holds pagination query parameters.
type PageQuery struct {
	Page     int `form:"page" binding:"omitempty,min=1"`
	PageSize int `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// Normalized returns the page and size the services will apply.
func (q PageQuery) Normalized() (int, int) {
	page, size := q.Page, q.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return page, size
}

// ListResponse wraps a paginated list.
type ListResponse[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// NewListResponse builds a ListResponse, never returning a null items array.
func NewListResponse[T any](items []T, total int64, q PageQuery) ListResponse[T] {
	page, size := q.Normalized()
	if items == nil {
		items = []T{}
	}
	pages := int((total + int64(size) - 1) / int64(size))
	return ListResponse[T]{Items: items, Total: total, Page: page, PageSize: size, TotalPages: pages}
}

// ToQuoteResponse maps a domain quote to its API shape.
func ToQuoteResponse(q *domain.Quote) QuoteResponse {
	return QuoteResponse{
		QuoteID:        q.ID.String(),
		Side:           string(q.Side),
		Currency:       q.Currency,
		FiatCurrency:   q.FiatCurrency,
		CryptoAmount:   q.CryptoAmount,
		ReferencePrice: q.ReferencePrice,
		LockedPrice:    q.LockedPrice,
		FeePercent:     q.FeePercent,
		Status:         string(q.Status),
		ExpiresAt:      q.ExpiresAt,
		ExecutedAt:     q.ExecutedAt,
	}
}

// ToQuoteExecutionResponse maps a settled quote.
func ToQuoteExecutionResponse(e *ports.QuoteExecution) QuoteExecutionResponse {
	return QuoteExecutionResponse{
		QuoteID:      e.Quote.ID.String(),
		Status:       string(e.Quote.Status),
		Side:         string(e.Quote.Side),
		CryptoAmount: e.CryptoAmount,
		FiatAmount:   e.FiatAmount,
		FeeAmount:    e.FeeAmount,
	}
}

// ToTradeCreatedResponse maps a freshly opened trade.
func ToTradeCreatedResponse(t *domain.Trade) TradeCreatedResponse {
	return TradeCreatedResponse{
		TradeID:      t.ID.String(),
		Status:       string(t.Status),
		FiatAmount:   t.FiatAmount.String(),
		FiatCurrency: t.FiatCurrency,
		AutoCancelAt: t.AutoCancelAt,
	}
}

// BalanceResponse is the API shape of a balance. Total is the holding; available
// and locked break it down into spendable and escrowed parts.
type BalanceResponse struct {
	Currency  string          `json:"currency"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ToBalanceResponse maps a domain balance.
func ToBalanceResponse(b *domain.Balance) BalanceResponse {
	return BalanceResponse{
		Currency:  b.Currency,
		Total:     b.Total(),
		Available: b.Available,
		Locked:    b.Locked,
		UpdatedAt: b.UpdatedAt,
	}
}

// ToBalanceResponses maps a list of balances, never returning nil.
func ToBalanceResponses(balances []domain.Balance) []BalanceResponse {
	out := make([]BalanceResponse, 0, len(balances))
	for i := range balances {
		out = append(out, ToBalanceResponse(&balances[i]))
	}
	return out
}
