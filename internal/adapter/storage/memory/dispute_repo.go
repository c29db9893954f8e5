package memory

import (
	"context"
	"fmt"
	"sort"

	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DisputeRepo implements ports.DisputeRepository.
type DisputeRepo struct {
	s *Store
}

// NewDisputeRepo creates a new DisputeRepo.
func NewDisputeRepo(s *Store) *DisputeRepo {
	return &DisputeRepo{s: s}
}

func (r *DisputeRepo) Create(_ context.Context, tx pgx.Tx, d *domain.Dispute) error {
	return r.s.write(tx, func() (func(), error) {
		for _, existing := range r.s.disputes {
			if existing.TradeID == d.TradeID {
				return nil, fmt.Errorf("insert dispute for trade %s: %w", d.TradeID, ports.ErrDuplicateKey)
			}
		}
		r.s.disputes[d.ID] = *d
		return func() { delete(r.s.disputes, d.ID) }, nil
	})
}

func (r *DisputeRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Dispute, error) {
	defer r.s.readCommitted()()
	d, ok := r.s.disputes[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r *DisputeRepo) GetByTradeID(_ context.Context, tradeID uuid.UUID) (*domain.Dispute, error) {
	defer r.s.readCommitted()()
	for _, d := range r.s.disputes {
		if d.TradeID == tradeID {
			return &d, nil
		}
	}
	return nil, nil
}

func (r *DisputeRepo) GetForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Dispute, error) {
	unlock, err := r.s.readInTx(tx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	d, ok := r.s.disputes[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r *DisputeRepo) Update(_ context.Context, tx pgx.Tx, d *domain.Dispute) error {
	return r.s.write(tx, func() (func(), error) {
		prev, ok := r.s.disputes[d.ID]
		if !ok || prev.Version != d.Version {
			return nil, ports.ErrVersionConflict
		}
		d.Version++
		r.s.disputes[d.ID] = *d
		return func() { r.s.disputes[d.ID] = prev }, nil
	})
}

func (r *DisputeRepo) List(_ context.Context, params ports.DisputeListParams) ([]domain.Dispute, int64, error) {
	defer r.s.readCommitted()()
	var matched []domain.Dispute
	for _, d := range r.s.disputes {
		if params.Status != nil && d.Status != *params.Status {
			continue
		}
		matched = append(matched, d)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })
	start, end := page(len(matched), params.Page, params.PageSize)
	return matched[start:end], int64(len(matched)), nil
}
