package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/core/ports"
	"trade-settlement-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// saveTrade persists a trade with its version check.
func saveTrade(ctx context.Context, repo ports.TradeRepository, tx pgx.Tx, t *domain.Trade) error {
	if err := repo.Update(ctx, tx, t); err != nil {
		if errors.Is(err, ports.ErrVersionConflict) {
			return apperror.ErrConcurrencyConflict()
		}
		return apperror.InternalError(fmt.Errorf("update trade: %w", err))
	}
	return nil
}

// recordTransition appends the event for a status change to the trade's history.
func recordTransition(ctx context.Context, repo ports.TradeEventRepository, tx pgx.Tx, t *domain.Trade, from domain.TradeStatus, actor uuid.UUID, now time.Time) (*domain.TradeEvent, error) {
	ev := &domain.TradeEvent{
		ID:         newULID(now),
		TradeID:    t.ID,
		Type:       domain.EventForStatus(t.Status),
		FromStatus: from,
		ToStatus:   t.Status,
		ActorID:    actor,
		BuyerID:    t.BuyerID,
		SellerID:   t.SellerID,
		CreatedAt:  now,
	}
	if err := repo.Create(ctx, tx, ev); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("record trade event: %w", err))
	}
	return ev, nil
}

// publishEvent pushes a committed event. Delivery is best-effort: the event is
// already durable in the trade history.
func publishEvent(ctx context.Context, pub ports.EventPublisher, log zerolog.Logger, ev *domain.TradeEvent) {
	if pub == nil || ev == nil {
		return
	}
	if err := pub.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).
			Str("trade_id", ev.TradeID.String()).
			Str("event", string(ev.Type)).
			Msg("failed to publish trade event")
	}
}

// normalizePage applies default paging bounds.
func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return page, size
}
