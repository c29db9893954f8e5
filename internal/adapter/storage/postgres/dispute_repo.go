package postgres

import (
	"context"
	"errors"
	"fmt"

	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const disputeColumns = `id, trade_id, buyer_id, seller_id, amount::text, currency, reason, initiated_by, status,
	winner, resolution_note, admin_note, admin_id, fee_amount::text, fee_currency, fee_charged,
	version, created_at, resolved_at`

// DisputeRepo implements ports.DisputeRepository.
type DisputeRepo struct {
	pool Pool
}

// NewDisputeRepo creates a new DisputeRepo.
func NewDisputeRepo(pool Pool) *DisputeRepo {
	return &DisputeRepo{pool: pool}
}

// Create inserts a dispute. The unique index on trade_id rejects a second
// dispute for the same trade with ports.ErrDuplicateKey.
func (r *DisputeRepo) Create(ctx context.Context, tx pgx.Tx, d *domain.Dispute) error {
	query := `INSERT INTO disputes (id, trade_id, buyer_id, seller_id, amount, currency, reason, initiated_by, status,
		winner, resolution_note, admin_note, admin_id, fee_amount, fee_currency, fee_charged, version, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err := tx.Exec(ctx, query,
		d.ID, d.TradeID, d.BuyerID, d.SellerID, d.Amount.String(), d.Currency, d.Reason, d.InitiatedBy, d.Status,
		d.Winner, d.ResolutionNote, d.AdminNote, d.AdminID, d.FeeAmount.String(), d.FeeCurrency, d.FeeCharged,
		d.Version, d.CreatedAt, d.ResolvedAt,
	)
	if err != nil {
		return mapWriteError("insert dispute", err)
	}
	return nil
}

// GetByID fetches a dispute by its UUID.
func (r *DisputeRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`
	return r.scanDispute(r.pool.QueryRow(ctx, query, id))
}

// GetByTradeID fetches the dispute raised on a trade, if any.
func (r *DisputeRepo) GetByTradeID(ctx context.Context, tradeID uuid.UUID) (*domain.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE trade_id = $1`
	return r.scanDispute(r.pool.QueryRow(ctx, query, tradeID))
}

// GetForUpdate fetches a dispute with a row-level lock.
func (r *DisputeRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1 FOR UPDATE`
	return r.scanDispute(tx.QueryRow(ctx, query, id))
}

// Update persists the resolution fields under a version check.
func (r *DisputeRepo) Update(ctx context.Context, tx pgx.Tx, d *domain.Dispute) error {
	query := `UPDATE disputes SET status = $1, winner = $2, resolution_note = $3, admin_note = $4, admin_id = $5,
		fee_amount = $6, fee_currency = $7, fee_charged = $8, resolved_at = $9, version = version + 1
		WHERE id = $10 AND version = $11`

	tag, err := tx.Exec(ctx, query,
		d.Status, d.Winner, d.ResolutionNote, d.AdminNote, d.AdminID,
		d.FeeAmount.String(), d.FeeCurrency, d.FeeCharged, d.ResolvedAt, d.ID, d.Version,
	)
	if err != nil {
		return mapWriteError("update dispute", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update dispute %s: %w", d.ID, ports.ErrVersionConflict)
	}
	d.Version++
	return nil
}

// List fetches the dispute queue, oldest first.
func (r *DisputeRepo) List(ctx context.Context, params ports.DisputeListParams) ([]domain.Dispute, int64, error) {
	b := newWhere()
	if params.Status != nil {
		b.add("status = $%d", *params.Status)
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM disputes "+b.clause(), b.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count disputes: %w", err)
	}

	dataQuery := fmt.Sprintf(`SELECT %s FROM disputes %s ORDER BY created_at %s`,
		disputeColumns, b.clause(), b.page(params.Page, params.PageSize))

	rows, err := r.pool.Query(ctx, dataQuery, b.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list disputes: %w", err)
	}
	defer rows.Close()

	var out []domain.Dispute
	for rows.Next() {
		d, err := r.scanDispute(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate dispute rows: %w", err)
	}
	return out, total, nil
}

func (r *DisputeRepo) scanDispute(row pgx.Row) (*domain.Dispute, error) {
	d := &domain.Dispute{}
	var nums decimalCols
	err := row.Scan(
		&d.ID, &d.TradeID, &d.BuyerID, &d.SellerID, nums.col(&d.Amount), &d.Currency, &d.Reason, &d.InitiatedBy, &d.Status,
		&d.Winner, &d.ResolutionNote, &d.AdminNote, &d.AdminID, nums.col(&d.FeeAmount), &d.FeeCurrency, &d.FeeCharged,
		&d.Version, &d.CreatedAt, &d.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan dispute: %w", err)
	}
	if err := nums.decode(); err != nil {
		return nil, fmt.Errorf("scan dispute: %w", err)
	}
	return d, nil
}
