package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeStatus represents the escrow lifecycle of a P2P trade.
type TradeStatus string

const (
	TradeStatusEscrowed       TradeStatus = "escrowed"
	TradeStatusPaymentClaimed TradeStatus = "payment_claimed"
	TradeStatusReleased       TradeStatus = "released"
	TradeStatusDisputed       TradeStatus = "disputed"
	TradeStatusResolved       TradeStatus = "resolved"
	TradeStatusCancelled      TradeStatus = "cancelled"
)

var tradeTransitions = map[TradeStatus][]TradeStatus{
	TradeStatusEscrowed:       {TradeStatusPaymentClaimed, TradeStatusDisputed, TradeStatusCancelled},
	TradeStatusPaymentClaimed: {TradeStatusReleased, TradeStatusDisputed},
	TradeStatusDisputed:       {TradeStatusResolved},
}

// TradeRole is a participant's side of a trade.
type TradeRole string

const (
	RoleBuyer  TradeRole = "buyer"
	RoleSeller TradeRole = "seller"
)

// Trade is a P2P exchange whose crypto sits in the seller's locked balance
// until it is released, cancelled or resolved.
type Trade struct {
	ID                 uuid.UUID       `json:"id"`
	SellOrderID        uuid.UUID       `json:"sell_order_id"`
	BuyerID            uuid.UUID       `json:"buyer_id"`
	SellerID           uuid.UUID       `json:"seller_id"`
	CryptoCurrency     string          `json:"crypto_currency"`
	CryptoAmount       decimal.Decimal `json:"crypto_amount"`
	FiatCurrency       string          `json:"fiat_currency"`
	FiatAmount         decimal.Decimal `json:"fiat_amount"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	PaymentMethod      string          `json:"payment_method"`
	BuyerWalletAddress string          `json:"buyer_wallet_address,omitempty"`
	Status             TradeStatus     `json:"status"`
	FeeAmount          decimal.Decimal `json:"fee_amount"`
	AutoCancelAt       *time.Time      `json:"auto_cancel_at,omitempty"`
	AutoReleaseAt      *time.Time      `json:"auto_release_at,omitempty"`
	PaymentClaimedAt   *time.Time      `json:"payment_claimed_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	Version            int64           `json:"-"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// CanTransitionTo reports whether next is a legal successor of the current status.
func (t *Trade) CanTransitionTo(next TradeStatus) bool {
	for _, s := range tradeTransitions[t.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the trade is in a final state.
func (t *Trade) IsTerminal() bool {
	return t.Status == TradeStatusReleased ||
		t.Status == TradeStatusResolved ||
		t.Status == TradeStatusCancelled
}

// IsParticipant reports whether userID is the buyer or the seller.
func (t *Trade) IsParticipant(userID uuid.UUID) bool {
	return t.BuyerID == userID || t.SellerID == userID
}

// RoleOf returns the participant role for userID, or "" for outsiders.
func (t *Trade) RoleOf(userID uuid.UUID) TradeRole {
	switch userID {
	case t.BuyerID:
		return RoleBuyer
	case t.SellerID:
		return RoleSeller
	}
	return ""
}

// PartyID returns the user holding role in this trade.
func (t *Trade) PartyID(role TradeRole) uuid.UUID {
	if role == RoleBuyer {
		return t.BuyerID
	}
	return t.SellerID
}

// AutoCancelDue reports whether an escrowed trade has passed its cancel deadline.
func (t *Trade) AutoCancelDue(now time.Time) bool {
	return t.Status == TradeStatusEscrowed && t.AutoCancelAt != nil && !now.Before(*t.AutoCancelAt)
}

// AutoReleaseDue reports whether a claimed trade has passed its release deadline.
func (t *Trade) AutoReleaseDue(now time.Time) bool {
	return t.Status == TradeStatusPaymentClaimed && t.AutoReleaseAt != nil && !now.Before(*t.AutoReleaseAt)
}
