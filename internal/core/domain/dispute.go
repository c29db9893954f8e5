package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DisputeStatus represents the lifecycle of a dispute.
type DisputeStatus string

const (
	DisputeStatusOpen        DisputeStatus = "open"
	DisputeStatusUnderReview DisputeStatus = "under_review"
	DisputeStatusResolved    DisputeStatus = "resolved"
	DisputeStatusCancelled   DisputeStatus = "cancelled"
)

// Dispute is an escalation on a trade, resolved by an administrator.
// A trade has at most one dispute.
type Dispute struct {
	ID             uuid.UUID       `json:"id"`
	TradeID        uuid.UUID       `json:"trade_id"`
	BuyerID        uuid.UUID       `json:"buyer_id"`
	SellerID       uuid.UUID       `json:"seller_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Reason         string          `json:"reason"`
	InitiatedBy    uuid.UUID       `json:"initiated_by"`
	Status         DisputeStatus   `json:"status"`
	Winner         TradeRole       `json:"winner,omitempty"`
	ResolutionNote string          `json:"resolution_note,omitempty"`
	AdminNote      string          `json:"admin_note,omitempty"`
	AdminID        *uuid.UUID      `json:"admin_id,omitempty"`
	FeeAmount      decimal.Decimal `json:"fee_amount"`
	FeeCurrency    string          `json:"fee_currency,omitempty"`
	FeeCharged     bool            `json:"fee_charged"`
	Version        int64           `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
}

// IsOpen reports whether the dispute can still be reviewed or resolved.
func (d *Dispute) IsOpen() bool {
	return d.Status == DisputeStatusOpen || d.Status == DisputeStatusUnderReview
}

// ValidWinner reports whether w names a trade party.
func ValidWinner(w TradeRole) bool {
	return w == RoleBuyer || w == RoleSeller
}

// Opponent returns the other side of a two-party trade.
func Opponent(r TradeRole) TradeRole {
	if r == RoleBuyer {
		return RoleSeller
	}
	return RoleBuyer
}
