package memory

import (
	"context"
	"sort"
	"time"

	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// BalanceRepo implements ports.BalanceRepository.
type BalanceRepo struct {
	s *Store
}

// NewBalanceRepo creates a new BalanceRepo.
func NewBalanceRepo(s *Store) *BalanceRepo {
	return &BalanceRepo{s: s}
}

func (r *BalanceRepo) Get(_ context.Context, userID uuid.UUID, currency string) (*domain.Balance, error) {
	defer r.s.readCommitted()()
	b, ok := r.s.balances[balanceKey{userID, currency}]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (r *BalanceRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]domain.Balance, error) {
	defer r.s.readCommitted()()
	var out []domain.Balance
	for k, b := range r.s.balances {
		if k.userID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (r *BalanceRepo) GetForUpdate(_ context.Context, tx pgx.Tx, userID uuid.UUID, currency string) (*domain.Balance, error) {
	unlock, err := r.s.readInTx(tx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	b, ok := r.s.balances[balanceKey{userID, currency}]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (r *BalanceRepo) CreateIfMissing(_ context.Context, tx pgx.Tx, b *domain.Balance) error {
	return r.s.write(tx, func() (func(), error) {
		key := balanceKey{b.UserID, b.Currency}
		if _, ok := r.s.balances[key]; ok {
			return nil, nil
		}
		r.s.balances[key] = *b
		return func() { delete(r.s.balances, key) }, nil
	})
}

func (r *BalanceRepo) Update(_ context.Context, tx pgx.Tx, b *domain.Balance) error {
	return r.s.write(tx, func() (func(), error) {
		key := balanceKey{b.UserID, b.Currency}
		prev, ok := r.s.balances[key]
		if !ok || prev.Version != b.Version {
			return nil, ports.ErrVersionConflict
		}
		b.Version++
		b.UpdatedAt = time.Now().UTC()
		r.s.balances[key] = *b
		return func() { r.s.balances[key] = prev }, nil
	})
}

// LedgerEntryRepo implements ports.LedgerEntryRepository.
type LedgerEntryRepo struct {
	s *Store
}

// NewLedgerEntryRepo creates a new LedgerEntryRepo.
func NewLedgerEntryRepo(s *Store) *LedgerEntryRepo {
	return &LedgerEntryRepo{s: s}
}

func (r *LedgerEntryRepo) Create(_ context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	return r.s.write(tx, func() (func(), error) {
		n := len(r.s.entries)
		r.s.entries = append(r.s.entries, *e)
		return func() { r.s.entries = r.s.entries[:n] }, nil
	})
}

func (r *LedgerEntryRepo) List(_ context.Context, params ports.LedgerEntryListParams) ([]domain.LedgerEntry, int64, error) {
	defer r.s.readCommitted()()
	var matched []domain.LedgerEntry
	for i := len(r.s.entries) - 1; i >= 0; i-- {
		e := r.s.entries[i]
		if e.UserID != params.UserID {
			continue
		}
		if params.Currency != "" && e.Currency != params.Currency {
			continue
		}
		if params.ReferenceType != nil && e.ReferenceType != *params.ReferenceType {
			continue
		}
		if params.ReferenceID != "" && e.ReferenceID != params.ReferenceID {
			continue
		}
		matched = append(matched, e)
	}
	start, end := page(len(matched), params.Page, params.PageSize)
	return matched[start:end], int64(len(matched)), nil
}
