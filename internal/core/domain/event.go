package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a trade lifecycle event.
type EventType string

const (
	EventTradeCreated        EventType = "trade.created"
	EventTradePaymentClaimed EventType = "trade.payment_claimed"
	EventTradeReleased       EventType = "trade.released"
	EventTradeDisputed       EventType = "trade.disputed"
	EventTradeResolved       EventType = "trade.resolved"
	EventTradeCancelled      EventType = "trade.cancelled"
)

// EventForStatus maps a target status to the event announcing it.
func EventForStatus(s TradeStatus) EventType {
	switch s {
	case TradeStatusPaymentClaimed:
		return EventTradePaymentClaimed
	case TradeStatusReleased:
		return EventTradeReleased
	case TradeStatusDisputed:
		return EventTradeDisputed
	case TradeStatusResolved:
		return EventTradeResolved
	case TradeStatusCancelled:
		return EventTradeCancelled
	}
	return EventTradeCreated
}

// TradeEvent records one state transition. Written in the same DB transaction
// as the transition and published to subscribers after commit.
type TradeEvent struct {
	ID         string      `json:"id"` // ULID
	TradeID    uuid.UUID   `json:"trade_id"`
	Type       EventType   `json:"type"`
	FromStatus TradeStatus `json:"from_status,omitempty"`
	ToStatus   TradeStatus `json:"to_status"`
	ActorID    uuid.UUID   `json:"actor_id"` // uuid.Nil for scheduled transitions
	BuyerID    uuid.UUID   `json:"buyer_id"`
	SellerID   uuid.UUID   `json:"seller_id"`
	CreatedAt  time.Time   `json:"created_at"`
}
