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

const offerColumns = `id, seller_id, ad_type, crypto_currency, fiat_currency, price_type, price_value::text,
	min_amount::text, max_amount::text, available_amount::text, payment_methods, boosted_until, status,
	version, created_at, updated_at`

// OfferRepo implements ports.OfferRepository.
type OfferRepo struct {
	pool Pool
}

// NewOfferRepo creates a new OfferRepo.
func NewOfferRepo(pool Pool) *OfferRepo {
	return &OfferRepo{pool: pool}
}

// Create inserts a new offer.
func (r *OfferRepo) Create(ctx context.Context, o *domain.Offer) error {
	query := `INSERT INTO offers (id, seller_id, ad_type, crypto_currency, fiat_currency, price_type, price_value,
		min_amount, max_amount, available_amount, payment_methods, boosted_until, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.pool.Exec(ctx, query,
		o.ID, o.SellerID, o.AdType, o.CryptoCurrency, o.FiatCurrency, o.PriceType, o.PriceValue.String(),
		o.MinAmount.String(), o.MaxAmount.String(), o.AvailableAmount.String(), o.PaymentMethods, o.BoostedUntil,
		o.Status, o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return mapWriteError("insert offer", err)
	}
	return nil
}

// GetByID fetches an offer by its UUID.
func (r *OfferRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE id = $1`
	return r.scanOffer(r.pool.QueryRow(ctx, query, id))
}

// GetForUpdate fetches an offer with a row-level lock.
func (r *OfferRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE id = $1 FOR UPDATE`
	return r.scanOffer(tx.QueryRow(ctx, query, id))
}

// Update persists the mutable offer fields under a version check.
func (r *OfferRepo) Update(ctx context.Context, tx pgx.Tx, o *domain.Offer) error {
	now := time.Now().UTC()
	query := `UPDATE offers SET available_amount = $1, boosted_until = $2, status = $3,
		version = version + 1, updated_at = $4
		WHERE id = $5 AND version = $6`

	tag, err := tx.Exec(ctx, query, o.AvailableAmount.String(), o.BoostedUntil, o.Status, now, o.ID, o.Version)
	if err != nil {
		return mapWriteError("update offer", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update offer %s: %w", o.ID, ports.ErrVersionConflict)
	}
	o.Version++
	o.UpdatedAt = now
	return nil
}

// List fetches offers with filtering and pagination. Offers boosted at
// params.Now sort ahead of the rest, then newest first.
func (r *OfferRepo) List(ctx context.Context, params ports.OfferListParams) ([]domain.Offer, int64, error) {
	b := newWhere()
	if params.CryptoCurrency != "" {
		b.add("crypto_currency = $%d", params.CryptoCurrency)
	}
	if params.FiatCurrency != "" {
		b.add("fiat_currency = $%d", params.FiatCurrency)
	}
	if params.SellerID != nil {
		b.add("seller_id = $%d", *params.SellerID)
	}
	if params.Status != nil {
		b.add("status = $%d", *params.Status)
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM offers "+b.clause(), b.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count offers: %w", err)
	}

	where := b.clause()
	b.args = append(b.args, params.Now)
	nowIdx := len(b.args)
	dataQuery := fmt.Sprintf(`SELECT %s FROM offers %s
		ORDER BY (boosted_until IS NOT NULL AND boosted_until > $%d) DESC, created_at DESC %s`,
		offerColumns, where, nowIdx, b.page(params.Page, params.PageSize))

	rows, err := r.pool.Query(ctx, dataQuery, b.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()

	var out []domain.Offer
	for rows.Next() {
		o, err := r.scanOffer(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate offer rows: %w", err)
	}
	return out, total, nil
}

func (r *OfferRepo) scanOffer(row pgx.Row) (*domain.Offer, error) {
	o := &domain.Offer{}
	var nums decimalCols
	err := row.Scan(
		&o.ID, &o.SellerID, &o.AdType, &o.CryptoCurrency, &o.FiatCurrency, &o.PriceType, nums.col(&o.PriceValue),
		nums.col(&o.MinAmount), nums.col(&o.MaxAmount), nums.col(&o.AvailableAmount), &o.PaymentMethods,
		&o.BoostedUntil, &o.Status, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan offer: %w", err)
	}
	if err := nums.decode(); err != nil {
		return nil, fmt.Errorf("scan offer: %w", err)
	}
	return o, nil
}
