package memory

import (
	"context"
	"fmt"

	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TradeEventRepo implements ports.TradeEventRepository.
type TradeEventRepo struct {
	s *Store
}

// NewTradeEventRepo creates a new TradeEventRepo.
func NewTradeEventRepo(s *Store) *TradeEventRepo {
	return &TradeEventRepo{s: s}
}

func (r *TradeEventRepo) Create(_ context.Context, tx pgx.Tx, e *domain.TradeEvent) error {
	return r.s.write(tx, func() (func(), error) {
		n := len(r.s.events)
		r.s.events = append(r.s.events, *e)
		return func() { r.s.events = r.s.events[:n] }, nil
	})
}

func (r *TradeEventRepo) ListByTrade(_ context.Context, tradeID uuid.UUID) ([]domain.TradeEvent, error) {
	defer r.s.readCommitted()()
	var out []domain.TradeEvent
	for _, e := range r.s.events {
		if e.TradeID == tradeID {
			out = append(out, e)
		}
	}
	return out, nil
}

// IdempotencyRepo implements ports.IdempotencyRepository.
type IdempotencyRepo struct {
	s *Store
}

// NewIdempotencyRepo creates a new IdempotencyRepo.
func NewIdempotencyRepo(s *Store) *IdempotencyRepo {
	return &IdempotencyRepo{s: s}
}

func (r *IdempotencyRepo) Create(_ context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error {
	return r.s.write(tx, func() (func(), error) {
		if _, ok := r.s.idempotency[log.Key]; ok {
			return nil, fmt.Errorf("insert idempotency log %s: %w", log.Key, ports.ErrDuplicateKey)
		}
		r.s.idempotency[log.Key] = *log
		return func() { delete(r.s.idempotency, log.Key) }, nil
	})
}

func (r *IdempotencyRepo) Get(_ context.Context, key string) (*domain.IdempotencyLog, error) {
	defer r.s.readCommitted()()
	log, ok := r.s.idempotency[key]
	if !ok {
		return nil, nil
	}
	return &log, nil
}

// AuditRepo implements ports.AuditRepository.
type AuditRepo struct {
	s *Store
}

// NewAuditRepo creates a new AuditRepo.
func NewAuditRepo(s *Store) *AuditRepo {
	return &AuditRepo{s: s}
}

func (r *AuditRepo) Create(_ context.Context, log *domain.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.audits = append(r.s.audits, *log)
	return nil
}

// Entries returns a copy of the recorded audit entries.
func (r *AuditRepo) Entries() []domain.AuditLog {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]domain.AuditLog(nil), r.s.audits...)
}
