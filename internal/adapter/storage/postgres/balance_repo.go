package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const balanceColumns = `user_id, currency, available::text, locked::text, version, created_at, updated_at`

// BalanceRepo implements ports.BalanceRepository.
type BalanceRepo struct {
	pool Pool
}

// NewBalanceRepo creates a new BalanceRepo.
func NewBalanceRepo(pool Pool) *BalanceRepo {
	return &BalanceRepo{pool: pool}
}

// Get fetches a balance without locking. Returns nil when the row does not exist.
func (r *BalanceRepo) Get(ctx context.Context, userID uuid.UUID, currency string) (*domain.Balance, error) {
	query := `SELECT ` + balanceColumns + ` FROM balances WHERE user_id = $1 AND currency = $2`
	return r.scanBalance(r.pool.QueryRow(ctx, query, userID, currency))
}

// ListByUser returns every currency row held by a user.
func (r *BalanceRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Balance, error) {
	query := `SELECT ` + balanceColumns + ` FROM balances WHERE user_id = $1 ORDER BY currency`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	var out []domain.Balance
	for rows.Next() {
		b, err := r.scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balance rows: %w", err)
	}
	return out, nil
}

// GetForUpdate fetches a balance with a row-level lock (SELECT ... FOR UPDATE).
func (r *BalanceRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string) (*domain.Balance, error) {
	query := `SELECT ` + balanceColumns + ` FROM balances WHERE user_id = $1 AND currency = $2 FOR UPDATE`
	return r.scanBalance(tx.QueryRow(ctx, query, userID, currency))
}

// CreateIfMissing inserts an empty balance row. Concurrent creators race on
// the primary key and the loser's insert is a no-op.
func (r *BalanceRepo) CreateIfMissing(ctx context.Context, tx pgx.Tx, b *domain.Balance) error {
	query := `INSERT INTO balances (user_id, currency, available, locked, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
		ON CONFLICT (user_id, currency) DO NOTHING`

	_, err := tx.Exec(ctx, query, b.UserID, b.Currency, b.Available.String(), b.Locked.String(), b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return mapWriteError("insert balance", err)
	}
	return nil
}

// Update writes available/locked if the stored version still matches.
func (r *BalanceRepo) Update(ctx context.Context, tx pgx.Tx, b *domain.Balance) error {
	now := time.Now().UTC()
	query := `UPDATE balances SET available = $1, locked = $2, version = version + 1, updated_at = $3
		WHERE user_id = $4 AND currency = $5 AND version = $6`

	tag, err := tx.Exec(ctx, query, b.Available.String(), b.Locked.String(), now, b.UserID, b.Currency, b.Version)
	if err != nil {
		return mapWriteError("update balance", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update balance %s/%s: %w", b.UserID, b.Currency, ports.ErrVersionConflict)
	}
	b.Version++
	b.UpdatedAt = now
	return nil
}

func (r *BalanceRepo) scanBalance(row pgx.Row) (*domain.Balance, error) {
	b := &domain.Balance{}
	var nums decimalCols
	err := row.Scan(&b.UserID, &b.Currency, nums.col(&b.Available), nums.col(&b.Locked), &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan balance: %w", err)
	}
	if err := nums.decode(); err != nil {
		return nil, fmt.Errorf("scan balance: %w", err)
	}
	return b, nil
}

// LedgerEntryRepo implements ports.LedgerEntryRepository.
type LedgerEntryRepo struct {
	pool Pool
}

// NewLedgerEntryRepo creates a new LedgerEntryRepo.
func NewLedgerEntryRepo(pool Pool) *LedgerEntryRepo {
	return &LedgerEntryRepo{pool: pool}
}

// Create appends a journal row within a database transaction.
func (r *LedgerEntryRepo) Create(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	query := `INSERT INTO ledger_entries (id, user_id, currency, kind, amount, available_after, locked_after,
		reference_type, reference_id, memo, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := tx.Exec(ctx, query,
		e.ID, e.UserID, e.Currency, e.Kind, e.Amount.String(), e.AvailableAfter.String(), e.LockedAfter.String(),
		e.ReferenceType, e.ReferenceID, e.Memo, e.CreatedAt,
	)
	if err != nil {
		return mapWriteError("insert ledger entry", err)
	}
	return nil
}

// List fetches a user's journal, newest first.
func (r *LedgerEntryRepo) List(ctx context.Context, params ports.LedgerEntryListParams) ([]domain.LedgerEntry, int64, error) {
	b := newWhere()
	b.add("user_id = $%d", params.UserID)
	if params.Currency != "" {
		b.add("currency = $%d", params.Currency)
	}
	if params.ReferenceType != nil {
		b.add("reference_type = $%d", *params.ReferenceType)
	}
	if params.ReferenceID != "" {
		b.add("reference_id = $%d", params.ReferenceID)
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_entries "+b.clause(), b.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ledger entries: %w", err)
	}

	dataQuery := fmt.Sprintf(`SELECT id, user_id, currency, kind, amount::text, available_after::text, locked_after::text,
		reference_type, reference_id, memo, created_at
		FROM ledger_entries %s ORDER BY id DESC %s`, b.clause(), b.page(params.Page, params.PageSize))

	rows, err := r.pool.Query(ctx, dataQuery, b.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		e := domain.LedgerEntry{}
		var nums decimalCols
		err := rows.Scan(&e.ID, &e.UserID, &e.Currency, &e.Kind,
			nums.col(&e.Amount), nums.col(&e.AvailableAfter), nums.col(&e.LockedAfter),
			&e.ReferenceType, &e.ReferenceID, &e.Memo, &e.CreatedAt)
		if err != nil {
			return nil, 0, fmt.Errorf("scan ledger entry row: %w", err)
		}
		if err := nums.decode(); err != nil {
			return nil, 0, fmt.Errorf("scan ledger entry row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate ledger entry rows: %w", err)
	}
	return out, total, nil
}
