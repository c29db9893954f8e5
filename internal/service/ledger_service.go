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
	"github.com/shopspring/decimal"
)

// LedgerServiceImpl implements ports.Ledger. Every primitive locks the balance
// row, mutates it through domain.Balance, persists it with a version check and
// appends a journal entry, all inside the caller's transaction.
type LedgerServiceImpl struct {
	balances ports.BalanceRepository
	entries  ports.LedgerEntryRepository
	log      zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(balances ports.BalanceRepository, entries ports.LedgerEntryRepository, log zerolog.Logger) *LedgerServiceImpl {
	return &LedgerServiceImpl{balances: balances, entries: entries, log: log}
}

// Credit adds amount to available, creating the balance row on first use.
func (l *LedgerServiceImpl) Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string, amount decimal.Decimal, ref domain.EntryRef) (*domain.Balance, error) {
	if !amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	b, err := l.lockOrCreate(ctx, tx, userID, currency)
	if err != nil {
		return nil, err
	}
	if err := b.Credit(amount); err != nil {
		return nil, mapBalanceErr(err)
	}
	return b, l.persist(ctx, tx, b, domain.EntryKindCredit, amount, ref)
}

// Debit removes amount from available. Fails with InsufficientFunds if
// available < amount.
func (l *LedgerServiceImpl) Debit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string, amount decimal.Decimal, ref domain.EntryRef) (*domain.Balance, error) {
	if !amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	b, err := l.lockExisting(ctx, tx, userID, currency, apperror.ErrInsufficientFunds())
	if err != nil {
		return nil, err
	}
	if err := b.Debit(amount); err != nil {
		return nil, mapBalanceErr(err)
	}
	return b, l.persist(ctx, tx, b, domain.EntryKindDebit, amount, ref)
}

// Lock moves amount from available to locked.
func (l *LedgerServiceImpl) Lock(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string, amount decimal.Decimal, ref domain.EntryRef) (*domain.Balance, error) {
	if !amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	b, err := l.lockExisting(ctx, tx, userID, currency, apperror.ErrInsufficientFunds())
	if err != nil {
		return nil, err
	}
	if err := b.Lock(amount); err != nil {
		return nil, mapBalanceErr(err)
	}
	return b, l.persist(ctx, tx, b, domain.EntryKindLock, amount, ref)
}

// Unlock moves amount from locked back to available. Fails with InvalidState
// if less than amount is locked.
func (l *LedgerServiceImpl) Unlock(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string, amount decimal.Decimal, ref domain.EntryRef) (*domain.Balance, error) {
	if !amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	b, err := l.lockExisting(ctx, tx, userID, currency, errLockedShortfall())
	if err != nil {
		return nil, err
	}
	if err := b.Unlock(amount); err != nil {
		return nil, mapBalanceErr(err)
	}
	return b, l.persist(ctx, tx, b, domain.EntryKindUnlock, amount, ref)
}

// TransferLocked moves amount out of from's locked balance into to's
// available balance. Rows are locked in user id order so two transfers
// between the same pair never deadlock.
func (l *LedgerServiceImpl) TransferLocked(ctx context.Context, tx pgx.Tx, fromID, toID uuid.UUID, currency string, amount decimal.Decimal, ref domain.EntryRef) error {
	if !amount.IsPositive() {
		return apperror.ErrInvalidAmount()
	}
	if fromID == toID {
		return apperror.Validation("cannot transfer locked funds to the same account")
	}

	var from, to *domain.Balance
	var err error
	if fromID.String() < toID.String() {
		if from, err = l.lockExisting(ctx, tx, fromID, currency, errLockedShortfall()); err != nil {
			return err
		}
		if to, err = l.lockOrCreate(ctx, tx, toID, currency); err != nil {
			return err
		}
	} else {
		if to, err = l.lockOrCreate(ctx, tx, toID, currency); err != nil {
			return err
		}
		if from, err = l.lockExisting(ctx, tx, fromID, currency, errLockedShortfall()); err != nil {
			return err
		}
	}

	if err := from.ReleaseLocked(amount); err != nil {
		return mapBalanceErr(err)
	}
	if err := to.Credit(amount); err != nil {
		return mapBalanceErr(err)
	}
	if err := l.persist(ctx, tx, from, domain.EntryKindTransferOut, amount, ref); err != nil {
		return err
	}
	return l.persist(ctx, tx, to, domain.EntryKindTransferIn, amount, ref)
}

// lockExisting locks a balance row that must already exist. A missing row is
// an empty balance, so the primitive fails with missing.
func (l *LedgerServiceImpl) lockExisting(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string, missing *apperror.AppError) (*domain.Balance, error) {
	b, err := l.balances.GetForUpdate(ctx, tx, userID, currency)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock balance: %w", err))
	}
	if b == nil {
		return nil, missing
	}
	return b, nil
}

// lockOrCreate locks a balance row, inserting an empty one first if needed.
func (l *LedgerServiceImpl) lockOrCreate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string) (*domain.Balance, error) {
	b, err := l.balances.GetForUpdate(ctx, tx, userID, currency)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock balance: %w", err))
	}
	if b != nil {
		return b, nil
	}
	if err := l.balances.CreateIfMissing(ctx, tx, domain.NewBalance(userID, currency)); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create balance: %w", err))
	}
	b, err = l.balances.GetForUpdate(ctx, tx, userID, currency)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock created balance: %w", err))
	}
	if b == nil {
		return nil, apperror.InternalError(fmt.Errorf("balance %s/%s vanished after create", userID, currency))
	}
	return b, nil
}

func (l *LedgerServiceImpl) persist(ctx context.Context, tx pgx.Tx, b *domain.Balance, kind domain.EntryKind, amount decimal.Decimal, ref domain.EntryRef) error {
	if err := l.balances.Update(ctx, tx, b); err != nil {
		if errors.Is(err, ports.ErrVersionConflict) {
			return apperror.ErrConcurrencyConflict()
		}
		return apperror.InternalError(fmt.Errorf("update balance: %w", err))
	}

	now := time.Now().UTC()
	entry := &domain.LedgerEntry{
		ID:             newULID(now),
		UserID:         b.UserID,
		Currency:       b.Currency,
		Kind:           kind,
		Amount:         amount,
		AvailableAfter: b.Available,
		LockedAfter:    b.Locked,
		ReferenceType:  ref.Type,
		ReferenceID:    ref.ID,
		Memo:           ref.Memo,
		CreatedAt:      now,
	}
	if err := l.entries.Create(ctx, tx, entry); err != nil {
		return apperror.InternalError(fmt.Errorf("append ledger entry: %w", err))
	}

	l.log.Debug().
		Str("user_id", b.UserID.String()).
		Str("currency", b.Currency).
		Str("kind", string(kind)).
		Str("amount", amount.String()).
		Str("reference", string(ref.Type)+":"+ref.ID).
		Msg("ledger entry applied")
	return nil
}

func errLockedShortfall() *apperror.AppError {
	return apperror.ErrInvalidState("locked balance is lower than the requested amount")
}

func mapBalanceErr(err error) error {
	switch {
	case errors.Is(err, domain.ErrNonPositiveAmount):
		return apperror.ErrInvalidAmount()
	case errors.Is(err, domain.ErrInsufficientAvailable):
		return apperror.ErrInsufficientFunds()
	case errors.Is(err, domain.ErrInsufficientLocked):
		return errLockedShortfall()
	}
	return apperror.InternalError(err)
}
