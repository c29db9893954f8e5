package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// QuoteSide is the direction of an instant trade from the user's point of view.
type QuoteSide string

const (
	QuoteSideBuy  QuoteSide = "buy"
	QuoteSideSell QuoteSide = "sell"
)

// QuoteStatus represents the lifecycle of a quote.
type QuoteStatus string

const (
	QuoteStatusActive   QuoteStatus = "active"
	QuoteStatusExecuted QuoteStatus = "executed"
	QuoteStatusExpired  QuoteStatus = "expired"
)

// Quote is a time-limited commitment to a price. Only Status, ExecutedAt and
// Version change after creation.
type Quote struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"user_id"`
	Side           QuoteSide       `json:"side"`
	Currency       string          `json:"currency"`
	FiatCurrency   string          `json:"fiat_currency"`
	CryptoAmount   decimal.Decimal `json:"crypto_amount"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	LockedPrice    decimal.Decimal `json:"locked_price"`
	FeePercent     decimal.Decimal `json:"fee_percent"`
	ExpiresAt      time.Time       `json:"expires_at"`
	Status         QuoteStatus     `json:"status"`
	Version        int64           `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
	ExecutedAt     *time.Time      `json:"executed_at,omitempty"`
}

// IsExpiredAt reports whether the quote's lifetime has elapsed at now.
// A quote is expired at exactly ExpiresAt.
func (q *Quote) IsExpiredAt(now time.Time) bool {
	return !now.Before(q.ExpiresAt)
}

// GrossFiat is crypto amount times the locked price, at fiat precision.
func (q *Quote) GrossFiat() decimal.Decimal {
	return Round(q.CryptoAmount.Mul(q.LockedPrice), q.FiatCurrency)
}

// FeeAmount is the platform fee in fiat.
func (q *Quote) FeeAmount() decimal.Decimal {
	return Round(Percent(q.GrossFiat(), q.FeePercent), q.FiatCurrency)
}

// FiatSettlement is what the user receives (sell) or pays (buy), fee included.
func (q *Quote) FiatSettlement() decimal.Decimal {
	if q.Side == QuoteSideBuy {
		return q.GrossFiat().Add(q.FeeAmount())
	}
	return q.GrossFiat().Sub(q.FeeAmount())
}
