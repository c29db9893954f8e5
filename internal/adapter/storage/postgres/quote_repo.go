package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trade-settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const quoteColumns = `id, user_id, side, currency, fiat_currency, crypto_amount::text, reference_price::text,
	locked_price::text, fee_percent::text, expires_at, status, version, created_at, executed_at`

// QuoteRepo implements ports.QuoteRepository.
type QuoteRepo struct {
	pool Pool
}

// NewQuoteRepo creates a new QuoteRepo.
func NewQuoteRepo(pool Pool) *QuoteRepo {
	return &QuoteRepo{pool: pool}
}

// Create inserts a new quote.
func (r *QuoteRepo) Create(ctx context.Context, q *domain.Quote) error {
	query := `INSERT INTO quotes (id, user_id, side, currency, fiat_currency, crypto_amount, reference_price,
		locked_price, fee_percent, expires_at, status, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.pool.Exec(ctx, query,
		q.ID, q.UserID, q.Side, q.Currency, q.FiatCurrency, q.CryptoAmount.String(), q.ReferencePrice.String(),
		q.LockedPrice.String(), q.FeePercent.String(), q.ExpiresAt, q.Status, q.Version, q.CreatedAt,
	)
	if err != nil {
		return mapWriteError("insert quote", err)
	}
	return nil
}

// GetByID fetches a quote by its UUID.
func (r *QuoteRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Quote, error) {
	query := `SELECT ` + quoteColumns + ` FROM quotes WHERE id = $1`
	return r.scanQuote(r.pool.QueryRow(ctx, query, id))
}

// GetForUpdate fetches a quote with a row-level lock.
func (r *QuoteRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Quote, error) {
	query := `SELECT ` + quoteColumns + ` FROM quotes WHERE id = $1 FOR UPDATE`
	return r.scanQuote(tx.QueryRow(ctx, query, id))
}

// TransitionStatus is a compare-and-set on status. Zero rows affected means
// another writer moved the quote first.
func (r *QuoteRepo) TransitionStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.QuoteStatus, at time.Time) (bool, error) {
	query := `UPDATE quotes SET status = $1, version = version + 1,
		executed_at = CASE WHEN $1 = 'executed' THEN $2 ELSE executed_at END
		WHERE id = $3 AND status = $4`

	tag, err := tx.Exec(ctx, query, to, at, id, from)
	if err != nil {
		return false, mapWriteError("transition quote", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListExpired returns active quotes whose expiry has passed, oldest first.
func (r *QuoteRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query := `SELECT id FROM quotes WHERE status = 'active' AND expires_at <= $1 ORDER BY expires_at LIMIT $2`
	return collectIDs(ctx, r.pool, "list expired quotes", query, now, limit)
}

func (r *QuoteRepo) scanQuote(row pgx.Row) (*domain.Quote, error) {
	q := &domain.Quote{}
	var nums decimalCols
	err := row.Scan(
		&q.ID, &q.UserID, &q.Side, &q.Currency, &q.FiatCurrency,
		nums.col(&q.CryptoAmount), nums.col(&q.ReferencePrice), nums.col(&q.LockedPrice), nums.col(&q.FeePercent),
		&q.ExpiresAt, &q.Status, &q.Version, &q.CreatedAt, &q.ExecutedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan quote: %w", err)
	}
	if err := nums.decode(); err != nil {
		return nil, fmt.Errorf("scan quote: %w", err)
	}
	return q, nil
}

func collectIDs(ctx context.Context, pool Pool, op, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ids, nil
}
