package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryKind is the ledger primitive that produced an entry.
type EntryKind string

const (
	EntryKindCredit      EntryKind = "CREDIT"
	EntryKindDebit       EntryKind = "DEBIT"
	EntryKindLock        EntryKind = "LOCK"
	EntryKindUnlock      EntryKind = "UNLOCK"
	EntryKindTransferOut EntryKind = "TRANSFER_OUT"
	EntryKindTransferIn  EntryKind = "TRANSFER_IN"
)

// ReferenceType names the business object that caused a ledger movement.
type ReferenceType string

const (
	ReferenceTrade      ReferenceType = "TRADE"
	ReferenceQuote      ReferenceType = "QUOTE"
	ReferenceDispute    ReferenceType = "DISPUTE"
	ReferenceBoost      ReferenceType = "BOOST"
	ReferenceDeposit    ReferenceType = "DEPOSIT"
	ReferenceWithdrawal ReferenceType = "WITHDRAWAL"
)

// EntryRef ties a ledger movement to the object that caused it.
type EntryRef struct {
	Type ReferenceType
	ID   string
	Memo string
}

// LedgerEntry is an append-only journal row written for every balance mutation.
type LedgerEntry struct {
	ID             string          `json:"id"` // ULID, sortable by creation
	UserID         uuid.UUID       `json:"user_id"`
	Currency       string          `json:"currency"`
	Kind           EntryKind       `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	AvailableAfter decimal.Decimal `json:"available_after"`
	LockedAfter    decimal.Decimal `json:"locked_after"`
	ReferenceType  ReferenceType   `json:"reference_type"`
	ReferenceID    string          `json:"reference_id"`
	Memo           string          `json:"memo,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
