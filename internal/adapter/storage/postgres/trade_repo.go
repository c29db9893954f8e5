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

const tradeColumns = `id, sell_order_id, buyer_id, seller_id, crypto_currency, crypto_amount::text, fiat_currency,
	fiat_amount::text, unit_price::text, payment_method, buyer_wallet_address, status, fee_amount::text,
	auto_cancel_at, auto_release_at, payment_claimed_at, completed_at, version, created_at, updated_at`

// TradeRepo implements ports.TradeRepository.
type TradeRepo struct {
	pool Pool
}

// NewTradeRepo creates a new TradeRepo.
func NewTradeRepo(pool Pool) *TradeRepo {
	return &TradeRepo{pool: pool}
}

// Create inserts a new trade within a database transaction.
func (r *TradeRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Trade) error {
	query := `INSERT INTO trades (id, sell_order_id, buyer_id, seller_id, crypto_currency, crypto_amount, fiat_currency,
		fiat_amount, unit_price, payment_method, buyer_wallet_address, status, fee_amount,
		auto_cancel_at, auto_release_at, payment_claimed_at, completed_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	_, err := tx.Exec(ctx, query,
		t.ID, t.SellOrderID, t.BuyerID, t.SellerID, t.CryptoCurrency, t.CryptoAmount.String(), t.FiatCurrency,
		t.FiatAmount.String(), t.UnitPrice.String(), t.PaymentMethod, t.BuyerWalletAddress, t.Status, t.FeeAmount.String(),
		t.AutoCancelAt, t.AutoReleaseAt, t.PaymentClaimedAt, t.CompletedAt, t.Version, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return mapWriteError("insert trade", err)
	}
	return nil
}

// GetByID fetches a trade by its UUID.
func (r *TradeRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = $1`
	return r.scanTrade(r.pool.QueryRow(ctx, query, id))
}

// GetForUpdate fetches a trade with a row-level lock.
func (r *TradeRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = $1 FOR UPDATE`
	return r.scanTrade(tx.QueryRow(ctx, query, id))
}

// Update persists status, fee and timestamps under a version check.
func (r *TradeRepo) Update(ctx context.Context, tx pgx.Tx, t *domain.Trade) error {
	now := time.Now().UTC()
	query := `UPDATE trades SET status = $1, fee_amount = $2, auto_cancel_at = $3, auto_release_at = $4,
		payment_claimed_at = $5, completed_at = $6, version = version + 1, updated_at = $7
		WHERE id = $8 AND version = $9`

	tag, err := tx.Exec(ctx, query,
		t.Status, t.FeeAmount.String(), t.AutoCancelAt, t.AutoReleaseAt,
		t.PaymentClaimedAt, t.CompletedAt, now, t.ID, t.Version,
	)
	if err != nil {
		return mapWriteError("update trade", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update trade %s: %w", t.ID, ports.ErrVersionConflict)
	}
	t.Version++
	t.UpdatedAt = now
	return nil
}

// List fetches trades where the user is buyer or seller, newest first.
func (r *TradeRepo) List(ctx context.Context, params ports.TradeListParams) ([]domain.Trade, int64, error) {
	b := newWhere()
	b.add("(buyer_id = $%[1]d OR seller_id = $%[1]d)", params.UserID)
	if params.Status != nil {
		b.add("status = $%d", *params.Status)
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM trades "+b.clause(), b.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count trades: %w", err)
	}

	dataQuery := fmt.Sprintf(`SELECT %s FROM trades %s ORDER BY created_at DESC %s`,
		tradeColumns, b.clause(), b.page(params.Page, params.PageSize))

	rows, err := r.pool.Query(ctx, dataQuery, b.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		t, err := r.scanTrade(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate trade rows: %w", err)
	}
	return out, total, nil
}

// ListDue returns trades past their auto-cancel or auto-release deadline.
func (r *TradeRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query := `SELECT id FROM trades
		WHERE (status = 'escrowed' AND auto_cancel_at <= $1)
		   OR (status = 'payment_claimed' AND auto_release_at <= $1)
		ORDER BY created_at LIMIT $2`
	return collectIDs(ctx, r.pool, "list due trades", query, now, limit)
}

func (r *TradeRepo) scanTrade(row pgx.Row) (*domain.Trade, error) {
	t := &domain.Trade{}
	var nums decimalCols
	err := row.Scan(
		&t.ID, &t.SellOrderID, &t.BuyerID, &t.SellerID, &t.CryptoCurrency, nums.col(&t.CryptoAmount), &t.FiatCurrency,
		nums.col(&t.FiatAmount), nums.col(&t.UnitPrice), &t.PaymentMethod, &t.BuyerWalletAddress, &t.Status, nums.col(&t.FeeAmount),
		&t.AutoCancelAt, &t.AutoReleaseAt, &t.PaymentClaimedAt, &t.CompletedAt, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan trade: %w", err)
	}
	if err := nums.decode(); err != nil {
		return nil, fmt.Errorf("scan trade: %w", err)
	}
	return t, nil
}
