package ports

import (
	"context"
	"errors"
	"time"

	"trade-settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrVersionConflict is returned by versioned updates when the row changed
// since it was read.
var ErrVersionConflict = errors.New("version conflict")

// ErrDuplicateKey is returned when an insert violates a uniqueness constraint.
var ErrDuplicateKey = errors.New("duplicate key")

// BalanceRepository defines persistence operations for balances.
// Methods accepting pgx.Tx are used inside transaction blocks for pessimistic locking.
type BalanceRepository interface {
	Get(ctx context.Context, userID uuid.UUID, currency string) (*domain.Balance, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Balance, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string) (*domain.Balance, error)
	// CreateIfMissing inserts an empty row; an existing row is left untouched.
	CreateIfMissing(ctx context.Context, tx pgx.Tx, balance *domain.Balance) error
	// Update persists available/locked if the stored version still matches
	// balance.Version, then bumps balance.Version.
	Update(ctx context.Context, tx pgx.Tx, balance *domain.Balance) error
}

// LedgerEntryRepository defines the append-only balance journal.
type LedgerEntryRepository interface {
	Create(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error
	List(ctx context.Context, params LedgerEntryListParams) ([]domain.LedgerEntry, int64, error)
}

// LedgerEntryListParams holds filter + pagination for listing ledger entries.
type LedgerEntryListParams struct {
	UserID        uuid.UUID
	Currency      string
	ReferenceType *domain.ReferenceType
	ReferenceID   string
	Page          int
	PageSize      int
}

// QuoteRepository defines persistence operations for quotes.
type QuoteRepository interface {
	Create(ctx context.Context, quote *domain.Quote) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Quote, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Quote, error)
	// TransitionStatus moves a quote from one status to another only if it is
	// still in from. Returns false when another writer got there first.
	TransitionStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.QuoteStatus, at time.Time) (bool, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// OfferRepository defines persistence operations for offers.
type OfferRepository interface {
	Create(ctx context.Context, offer *domain.Offer) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Offer, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Offer, error)
	Update(ctx context.Context, tx pgx.Tx, offer *domain.Offer) error
	List(ctx context.Context, params OfferListParams) ([]domain.Offer, int64, error)
}

// OfferListParams holds filter + pagination for listing offers.
// Boosted offers sort first, then newest.
type OfferListParams struct {
	CryptoCurrency string
	FiatCurrency   string
	SellerID       *uuid.UUID
	Status         *domain.OfferStatus
	Now            time.Time
	Page           int
	PageSize       int
}

// TradeRepository defines persistence operations for trades.
type TradeRepository interface {
	Create(ctx context.Context, tx pgx.Tx, trade *domain.Trade) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Trade, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Trade, error)
	Update(ctx context.Context, tx pgx.Tx, trade *domain.Trade) error
	List(ctx context.Context, params TradeListParams) ([]domain.Trade, int64, error)
	// ListDue returns trades whose auto-cancel or auto-release deadline has passed.
	ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// TradeListParams holds filter + pagination for listing a user's trades.
type TradeListParams struct {
	UserID   uuid.UUID
	Status   *domain.TradeStatus
	Page     int
	PageSize int
}

// DisputeRepository defines persistence operations for disputes.
type DisputeRepository interface {
	Create(ctx context.Context, tx pgx.Tx, dispute *domain.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Dispute, error)
	GetByTradeID(ctx context.Context, tradeID uuid.UUID) (*domain.Dispute, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Dispute, error)
	Update(ctx context.Context, tx pgx.Tx, dispute *domain.Dispute) error
	List(ctx context.Context, params DisputeListParams) ([]domain.Dispute, int64, error)
}

// DisputeListParams holds filter + pagination for the admin dispute queue.
type DisputeListParams struct {
	Status   *domain.DisputeStatus
	Page     int
	PageSize int
}

// TradeEventRepository stores the transition history of trades.
type TradeEventRepository interface {
	Create(ctx context.Context, tx pgx.Tx, event *domain.TradeEvent) error
	ListByTrade(ctx context.Context, tradeID uuid.UUID) ([]domain.TradeEvent, error)
}

// IdempotencyRepository defines persistence for idempotency logs (DB backup).
type IdempotencyRepository interface {
	Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error
	Get(ctx context.Context, key string) (*domain.IdempotencyLog, error)
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
