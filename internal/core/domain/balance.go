package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNonPositiveAmount     = errors.New("amount must be greater than zero")
	ErrInsufficientAvailable = errors.New("insufficient available balance")
	ErrInsufficientLocked    = errors.New("insufficient locked balance")
)

// Balance is a user's holding of one currency, split into spendable and escrowed parts.
// Neither part may go negative.
type Balance struct {
	UserID    uuid.UUID       `json:"user_id"`
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	Version   int64           `json:"-"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewBalance returns an empty balance row for lazy creation.
func NewBalance(userID uuid.UUID, currency string) *Balance {
	now := time.Now().UTC()
	return &Balance{
		UserID:    userID,
		Currency:  currency,
		Available: decimal.Zero,
		Locked:    decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Total returns available + locked.
func (b *Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

func (b *Balance) Credit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	b.Available = b.Available.Add(amount)
	return nil
}

func (b *Balance) Debit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if b.Available.LessThan(amount) {
		return ErrInsufficientAvailable
	}
	b.Available = b.Available.Sub(amount)
	return nil
}

// Lock moves amount from available into escrow.
func (b *Balance) Lock(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if b.Available.LessThan(amount) {
		return ErrInsufficientAvailable
	}
	b.Available = b.Available.Sub(amount)
	b.Locked = b.Locked.Add(amount)
	return nil
}

// Unlock moves amount from escrow back to available.
func (b *Balance) Unlock(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if b.Locked.LessThan(amount) {
		return ErrInsufficientLocked
	}
	b.Locked = b.Locked.Sub(amount)
	b.Available = b.Available.Add(amount)
	return nil
}

// ReleaseLocked removes amount from escrow without crediting it back; the
// counterparty side of a locked transfer.
func (b *Balance) ReleaseLocked(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if b.Locked.LessThan(amount) {
		return ErrInsufficientLocked
	}
	b.Locked = b.Locked.Sub(amount)
	return nil
}
