package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceType determines how an offer's unit price is derived.
type PriceType string

const (
	PriceTypeFixed    PriceType = "fixed"
	PriceTypeFloating PriceType = "floating"
)

// OfferStatus represents whether an offer accepts new trades.
type OfferStatus string

const (
	OfferStatusActive OfferStatus = "active"
	OfferStatusClosed OfferStatus = "closed"
)

// Offer is a seller's advertisement that trades are opened against.
// MinAmount and MaxAmount bound the fiat value of a single trade.
type Offer struct {
	ID              uuid.UUID       `json:"id"`
	SellerID        uuid.UUID       `json:"seller_id"`
	AdType          string          `json:"ad_type"`
	CryptoCurrency  string          `json:"crypto_currency"`
	FiatCurrency    string          `json:"fiat_currency"`
	PriceType       PriceType       `json:"price_type"`
	PriceValue      decimal.Decimal `json:"price_value"`
	MinAmount       decimal.Decimal `json:"min_amount"`
	MaxAmount       decimal.Decimal `json:"max_amount"`
	AvailableAmount decimal.Decimal `json:"available_amount"`
	PaymentMethods  []string        `json:"payment_methods"`
	BoostedUntil    *time.Time      `json:"boosted_until,omitempty"`
	Status          OfferStatus     `json:"status"`
	Version         int64           `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsActive returns true if the offer accepts trades.
func (o *Offer) IsActive() bool {
	return o.Status == OfferStatusActive
}

// UnitPrice returns the fiat price per crypto unit. Floating offers apply
// PriceValue as a percentage margin over the reference price.
func (o *Offer) UnitPrice(reference decimal.Decimal) decimal.Decimal {
	if o.PriceType == PriceTypeFloating {
		return Round(reference.Add(Percent(reference, o.PriceValue)), o.FiatCurrency)
	}
	return o.PriceValue
}

// AcceptsPaymentMethod reports whether method is listed on the offer (case-insensitive).
func (o *Offer) AcceptsPaymentMethod(method string) bool {
	for _, m := range o.PaymentMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// IsBoostedAt reports whether the offer's boost is still running at now.
func (o *Offer) IsBoostedAt(now time.Time) bool {
	return o.BoostedUntil != nil && now.Before(*o.BoostedUntil)
}

// ExtendBoost pushes the boost window out by d, stacking on any running boost.
func (o *Offer) ExtendBoost(now time.Time, d time.Duration) time.Time {
	start := now
	if o.IsBoostedAt(now) {
		start = *o.BoostedUntil
	}
	until := start.Add(d)
	o.BoostedUntil = &until
	return until
}

// BoostTier is a purchasable visibility window.
type BoostTier string

const (
	BoostTier1h  BoostTier = "1h"
	BoostTier6h  BoostTier = "6h"
	BoostTier24h BoostTier = "24h"
)

// Duration returns the boost length, or zero for unknown tiers.
func (t BoostTier) Duration() time.Duration {
	switch t {
	case BoostTier1h:
		return time.Hour
	case BoostTier6h:
		return 6 * time.Hour
	case BoostTier24h:
		return 24 * time.Hour
	}
	return 0
}
