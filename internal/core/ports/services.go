package ports

import (
	"context"
	"time"

	"trade-settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// TokenService validates bearer tokens issued by the identity provider.
type TokenService interface {
	Generate(userID uuid.UUID, role domain.UserRole) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID uuid.UUID
	Role   domain.UserRole
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// PriceSource supplies reference prices for a crypto/fiat pair.
type PriceSource interface {
	ReferencePrice(ctx context.Context, currency, fiatCurrency string) (decimal.Decimal, error)
}

// EventPublisher pushes committed trade events to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.TradeEvent) error
}

// AuditService records audited actions.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// --- Service Ports (Business Logic) ---

// Ledger applies balance primitives inside a caller-owned transaction.
// Every method rejects non-positive amounts and never leaves a negative balance.
type Ledger interface {
	Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string, amount decimal.Decimal, ref domain.EntryRef) (*domain.Balance, error)
	Debit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string, amount decimal.Decimal, ref domain.EntryRef) (*domain.Balance, error)
	Lock(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string, amount decimal.Decimal, ref domain.EntryRef) (*domain.Balance, error)
	Unlock(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string, amount decimal.Decimal, ref domain.EntryRef) (*domain.Balance, error)
	TransferLocked(ctx context.Context, tx pgx.Tx, fromID, toID uuid.UUID, currency string, amount decimal.Decimal, ref domain.EntryRef) error
}

// QuoteService issues and executes time-locked price quotes.
type QuoteService interface {
	CreateQuote(ctx context.Context, req CreateQuoteRequest) (*domain.Quote, error)
	ExecuteQuote(ctx context.Context, userID, quoteID uuid.UUID) (*QuoteExecution, error)
	GetQuote(ctx context.Context, userID, quoteID uuid.UUID) (*domain.Quote, error)
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// CreateQuoteRequest holds validated input for quoting.
type CreateQuoteRequest struct {
	UserID       uuid.UUID
	Side         domain.QuoteSide
	Currency     string
	FiatCurrency string
	Amount       decimal.Decimal
	Instant      bool
}

// QuoteExecution describes the settled movement of an executed quote.
type QuoteExecution struct {
	Quote        *domain.Quote
	CryptoAmount decimal.Decimal
	FiatAmount   decimal.Decimal
	FeeAmount    decimal.Decimal
}

// OfferService manages the sell offers trades are opened against.
type OfferService interface {
	CreateOffer(ctx context.Context, req CreateOfferRequest) (*domain.Offer, error)
	GetOffer(ctx context.Context, offerID uuid.UUID) (*domain.Offer, error)
	ListOffers(ctx context.Context, params OfferListParams) ([]domain.Offer, int64, error)
	BoostOffer(ctx context.Context, sellerID, offerID uuid.UUID, tier domain.BoostTier) (*domain.Offer, error)
	CloseOffer(ctx context.Context, sellerID, offerID uuid.UUID) (*domain.Offer, error)
}

// CreateOfferRequest holds validated input for listing an offer.
type CreateOfferRequest struct {
	SellerID        uuid.UUID
	CryptoCurrency  string
	FiatCurrency    string
	PriceType       domain.PriceType
	PriceValue      decimal.Decimal
	MinAmount       decimal.Decimal
	MaxAmount       decimal.Decimal
	AvailableAmount decimal.Decimal
	PaymentMethods  []string
}

// TradeService drives the escrow state machine.
type TradeService interface {
	CreateTrade(ctx context.Context, req CreateTradeRequest) (*domain.Trade, error)
	ClaimPayment(ctx context.Context, userID, tradeID uuid.UUID) (*domain.Trade, error)
	ConfirmRelease(ctx context.Context, userID, tradeID uuid.UUID) (*domain.Trade, error)
	CancelTrade(ctx context.Context, userID, tradeID uuid.UUID) (*domain.Trade, error)
	RaiseDispute(ctx context.Context, req RaiseDisputeRequest) (*domain.Dispute, error)
	GetTrade(ctx context.Context, principal domain.Principal, tradeID uuid.UUID) (*domain.Trade, error)
	ListTrades(ctx context.Context, params TradeListParams) ([]domain.Trade, int64, error)
	ProcessTimeouts(ctx context.Context, now time.Time) (*TimeoutResult, error)
}

// CreateTradeRequest holds validated input for opening a trade.
type CreateTradeRequest struct {
	BuyerID            uuid.UUID
	SellOrderID        uuid.UUID
	CryptoAmount       decimal.Decimal
	PaymentMethod      string
	BuyerWalletAddress string
	ClientReference    string // optional; makes the request idempotent
}

// RaiseDisputeRequest holds validated input for escalating a trade.
type RaiseDisputeRequest struct {
	UserID  uuid.UUID
	TradeID uuid.UUID
	Reason  string
}

// TimeoutResult counts what one timeout pass did.
type TimeoutResult struct {
	Cancelled int
	Released  int
	Failed    int
}

// DisputeService resolves escalated trades.
type DisputeService interface {
	ResolveDispute(ctx context.Context, req ResolveDisputeRequest) (*domain.Dispute, error)
	MarkUnderReview(ctx context.Context, adminID, disputeID uuid.UUID) (*domain.Dispute, error)
	GetDispute(ctx context.Context, principal domain.Principal, disputeID uuid.UUID) (*domain.Dispute, error)
	ListDisputes(ctx context.Context, params DisputeListParams) ([]domain.Dispute, int64, error)
}

// ResolveDisputeRequest holds the admin's ruling.
type ResolveDisputeRequest struct {
	DisputeID  uuid.UUID
	AdminID    uuid.UUID
	Winner     domain.TradeRole
	Resolution string
	AdminNote  string
}

// WalletService handles movements outside the trade state machine.
type WalletService interface {
	Deposit(ctx context.Context, req DepositRequest) (*domain.Balance, error)
	Withdraw(ctx context.Context, req WithdrawRequest) (*domain.Balance, error)
	ListBalances(ctx context.Context, userID uuid.UUID) ([]domain.Balance, error)
	ListEntries(ctx context.Context, params LedgerEntryListParams) ([]domain.LedgerEntry, int64, error)
}

// DepositRequest credits a user after an off-platform deposit was confirmed.
type DepositRequest struct {
	AdminID   uuid.UUID
	UserID    uuid.UUID
	Currency  string
	Amount    decimal.Decimal
	Reference string
}

// WithdrawRequest debits a user for an external payout.
type WithdrawRequest struct {
	UserID   uuid.UUID
	Currency string
	Amount   decimal.Decimal
	Address  string
}
