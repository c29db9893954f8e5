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

// OfferRepo implements ports.OfferRepository.
type OfferRepo struct {
	s *Store
}

// NewOfferRepo creates a new OfferRepo.
func NewOfferRepo(s *Store) *OfferRepo {
	return &OfferRepo{s: s}
}

func cloneOffer(o domain.Offer) domain.Offer {
	o.PaymentMethods = append([]string(nil), o.PaymentMethods...)
	return o
}

func (r *OfferRepo) Create(_ context.Context, o *domain.Offer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.offers[o.ID]; ok {
		return fmt.Errorf("insert offer: duplicate id %s", o.ID)
	}
	r.s.offers[o.ID] = cloneOffer(*o)
	return nil
}

func (r *OfferRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Offer, error) {
	defer r.s.readCommitted()()
	o, ok := r.s.offers[id]
	if !ok {
		return nil, nil
	}
	o = cloneOffer(o)
	return &o, nil
}

func (r *OfferRepo) GetForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Offer, error) {
	unlock, err := r.s.readInTx(tx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	o, ok := r.s.offers[id]
	if !ok {
		return nil, nil
	}
	o = cloneOffer(o)
	return &o, nil
}

func (r *OfferRepo) Update(_ context.Context, tx pgx.Tx, o *domain.Offer) error {
	return r.s.write(tx, func() (func(), error) {
		prev, ok := r.s.offers[o.ID]
		if !ok || prev.Version != o.Version {
			return nil, ports.ErrVersionConflict
		}
		o.Version++
		o.UpdatedAt = time.Now().UTC()
		r.s.offers[o.ID] = cloneOffer(*o)
		return func() { r.s.offers[o.ID] = prev }, nil
	})
}

func (r *OfferRepo) List(_ context.Context, params ports.OfferListParams) ([]domain.Offer, int64, error) {
	defer r.s.readCommitted()()
	var matched []domain.Offer
	for _, o := range r.s.offers {
		if params.CryptoCurrency != "" && o.CryptoCurrency != params.CryptoCurrency {
			continue
		}
		if params.FiatCurrency != "" && o.FiatCurrency != params.FiatCurrency {
			continue
		}
		if params.SellerID != nil && o.SellerID != *params.SellerID {
			continue
		}
		if params.Status != nil && o.Status != *params.Status {
			continue
		}
		matched = append(matched, cloneOffer(o))
	}
	now := params.Now
	sort.Slice(matched, func(i, j int) bool {
		bi, bj := matched[i].IsBoostedAt(now), matched[j].IsBoostedAt(now)
		if bi != bj {
			return bi
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	start, end := page(len(matched), params.Page, params.PageSize)
	return matched[start:end], int64(len(matched)), nil
}
