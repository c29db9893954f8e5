package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TradeRepo implements ports.TradeRepository.
type TradeRepo struct {
	s *Store
}

// NewTradeRepo creates a new TradeRepo.
func NewTradeRepo(s *Store) *TradeRepo {
	return &TradeRepo{s: s}
}

func (r *TradeRepo) Create(_ context.Context, tx pgx.Tx, t *domain.Trade) error {
	return r.s.write(tx, func() (func(), error) {
		if _, ok := r.s.trades[t.ID]; ok {
			return nil, fmt.Errorf("insert trade: duplicate id %s", t.ID)
		}
		r.s.trades[t.ID] = *t
		return func() { delete(r.s.trades, t.ID) }, nil
	})
}

func (r *TradeRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Trade, error) {
	defer r.s.readCommitted()()
	t, ok := r.s.trades[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *TradeRepo) GetForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Trade, error) {
	unlock, err := r.s.readInTx(tx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	t, ok := r.s.trades[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *TradeRepo) Update(_ context.Context, tx pgx.Tx, t *domain.Trade) error {
	return r.s.write(tx, func() (func(), error) {
		prev, ok := r.s.trades[t.ID]
		if !ok || prev.Version != t.Version {
			return nil, ports.ErrVersionConflict
		}
		t.Version++
		t.UpdatedAt = time.Now().UTC()
		r.s.trades[t.ID] = *t
		return func() { r.s.trades[t.ID] = prev }, nil
	})
}

func (r *TradeRepo) List(_ context.Context, params ports.TradeListParams) ([]domain.Trade, int64, error) {
	defer r.s.readCommitted()()
	var matched []domain.Trade
	for _, t := range r.s.trades {
		if !t.IsParticipant(params.UserID) {
			continue
		}
		if params.Status != nil && t.Status != *params.Status {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	start, end := page(len(matched), params.Page, params.PageSize)
	return matched[start:end], int64(len(matched)), nil
}

func (r *TradeRepo) ListDue(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	defer r.s.readCommitted()()
	var due []domain.Trade
	for _, t := range r.s.trades {
		if t.AutoCancelDue(now) || t.AutoReleaseDue(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]uuid.UUID, 0, len(due))
	for _, t := range due {
		ids = append(ids, t.ID)
	}
	return ids, nil
}
