package postgres

import (
	"context"
	"fmt"

	"trade-settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TradeEventRepo implements ports.TradeEventRepository.
type TradeEventRepo struct {
	pool Pool
}

// NewTradeEventRepo creates a new TradeEventRepo.
func NewTradeEventRepo(pool Pool) *TradeEventRepo {
	return &TradeEventRepo{pool: pool}
}

// Create appends a transition record in the same transaction as the transition.
func (r *TradeEventRepo) Create(ctx context.Context, tx pgx.Tx, e *domain.TradeEvent) error {
	query := `INSERT INTO trade_events (id, trade_id, event_type, from_status, to_status, actor_id, buyer_id, seller_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := tx.Exec(ctx, query, e.ID, e.TradeID, e.Type, e.FromStatus, e.ToStatus, e.ActorID, e.BuyerID, e.SellerID, e.CreatedAt)
	if err != nil {
		return mapWriteError("insert trade event", err)
	}
	return nil
}

// ListByTrade returns a trade's history in the order it happened.
func (r *TradeEventRepo) ListByTrade(ctx context.Context, tradeID uuid.UUID) ([]domain.TradeEvent, error) {
	query := `SELECT id, trade_id, event_type, from_status, to_status, actor_id, buyer_id, seller_id, created_at
		FROM trade_events WHERE trade_id = $1 ORDER BY id`

	rows, err := r.pool.Query(ctx, query, tradeID)
	if err != nil {
		return nil, fmt.Errorf("list trade events: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeEvent
	for rows.Next() {
		e := domain.TradeEvent{}
		if err := rows.Scan(&e.ID, &e.TradeID, &e.Type, &e.FromStatus, &e.ToStatus, &e.ActorID, &e.BuyerID, &e.SellerID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade event row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade event rows: %w", err)
	}
	return out, nil
}
