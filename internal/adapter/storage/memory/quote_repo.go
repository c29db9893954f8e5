package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"trade-settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// QuoteRepo implements ports.QuoteRepository.
type QuoteRepo struct {
	s *Store
}

// NewQuoteRepo creates a new QuoteRepo.
func NewQuoteRepo(s *Store) *QuoteRepo {
	return &QuoteRepo{s: s}
}

func (r *QuoteRepo) Create(_ context.Context, q *domain.Quote) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.quotes[q.ID]; ok {
		return fmt.Errorf("insert quote: duplicate id %s", q.ID)
	}
	r.s.quotes[q.ID] = *q
	return nil
}

func (r *QuoteRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Quote, error) {
	defer r.s.readCommitted()()
	q, ok := r.s.quotes[id]
	if !ok {
		return nil, nil
	}
	return &q, nil
}

func (r *QuoteRepo) GetForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Quote, error) {
	unlock, err := r.s.readInTx(tx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	q, ok := r.s.quotes[id]
	if !ok {
		return nil, nil
	}
	return &q, nil
}

func (r *QuoteRepo) TransitionStatus(_ context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.QuoteStatus, at time.Time) (bool, error) {
	moved := false
	err := r.s.write(tx, func() (func(), error) {
		prev, ok := r.s.quotes[id]
		if !ok || prev.Status != from {
			return nil, nil
		}
		next := prev
		next.Status = to
		next.Version++
		if to == domain.QuoteStatusExecuted {
			next.ExecutedAt = &at
		}
		r.s.quotes[id] = next
		moved = true
		return func() { r.s.quotes[id] = prev }, nil
	})
	return moved, err
}

func (r *QuoteRepo) ListExpired(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	defer r.s.readCommitted()()
	var stale []domain.Quote
	for _, q := range r.s.quotes {
		if q.Status == domain.QuoteStatusActive && q.IsExpiredAt(now) {
			stale = append(stale, q)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ExpiresAt.Before(stale[j].ExpiresAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	ids := make([]uuid.UUID, 0, len(stale))
	for _, q := range stale {
		ids = append(ids, q.ID)
	}
	return ids, nil
}
