// Package memory implements the repository ports in process memory. It backs
// the "memory" storage driver and the service-level tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"trade-settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type balanceKey struct {
	userID   uuid.UUID
	currency string
}

// Store holds every table. Write transactions are serialised: Begin blocks
// until the previous transaction finishes, and Rollback replays the undo log.
// Reads outside a transaction wait for the running one to end, so they only
// ever see committed state.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	balances    map[balanceKey]domain.Balance
	entries     []domain.LedgerEntry
	quotes      map[uuid.UUID]domain.Quote
	offers      map[uuid.UUID]domain.Offer
	trades      map[uuid.UUID]domain.Trade
	disputes    map[uuid.UUID]domain.Dispute
	events      []domain.TradeEvent
	idempotency map[string]domain.IdempotencyLog
	audits      []domain.AuditLog
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		balances:    make(map[balanceKey]domain.Balance),
		quotes:      make(map[uuid.UUID]domain.Quote),
		offers:      make(map[uuid.UUID]domain.Offer),
		trades:      make(map[uuid.UUID]domain.Trade),
		disputes:    make(map[uuid.UUID]domain.Dispute),
		idempotency: make(map[string]domain.IdempotencyLog),
	}
}

// Begin implements ports.DBTransactor.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	return &Tx{store: s}, nil
}

// Tx is a serialised in-memory transaction. Only Commit and Rollback are
// implemented; the embedded pgx.Tx is nil.
type Tx struct {
	pgx.Tx
	store *Store
	undo  []func()
	done  bool
}

// Commit keeps the writes made in the transaction.
func (t *Tx) Commit(_ context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.undo = nil
	t.store.txMu.Unlock()
	return nil
}

// Rollback reverts every write made in the transaction.
func (t *Tx) Rollback(_ context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.store.mu.Unlock()
	t.undo = nil
	t.store.txMu.Unlock()
	return nil
}

// readCommitted waits out any running transaction and takes the read lock.
// The returned func releases both.
func (s *Store) readCommitted() func() {
	s.txMu.Lock()
	s.mu.RLock()
	return func() {
		s.mu.RUnlock()
		s.txMu.Unlock()
	}
}

// readInTx takes the read lock for a locking read inside tx.
func (s *Store) readInTx(tx pgx.Tx) (func(), error) {
	if err := s.checkTx(tx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	return s.mu.RUnlock, nil
}

// write applies fn under the data lock and records its undo step.
func (s *Store) write(tx pgx.Tx, fn func() (func(), error)) error {
	mtx, ok := tx.(*Tx)
	if !ok || mtx.store != s {
		return fmt.Errorf("memory store: foreign transaction %T", tx)
	}
	if mtx.done {
		return pgx.ErrTxClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	undo, err := fn()
	if err != nil {
		return err
	}
	if undo != nil {
		mtx.undo = append(mtx.undo, undo)
	}
	return nil
}

// checkTx verifies tx belongs to this store for locking reads.
func (s *Store) checkTx(tx pgx.Tx) error {
	mtx, ok := tx.(*Tx)
	if !ok || mtx.store != s {
		return fmt.Errorf("memory store: foreign transaction %T", tx)
	}
	if mtx.done {
		return pgx.ErrTxClosed
	}
	return nil
}

// page returns the [start,end) bounds of a 1-based page over n items.
func page(n, pageNum, pageSize int) (int, int) {
	if pageNum < 1 {
		pageNum = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	start := (pageNum - 1) * pageSize
	if start > n {
		start = n
	}
	end := start + pageSize
	if end > n {
		end = n
	}
	return start, end
}
