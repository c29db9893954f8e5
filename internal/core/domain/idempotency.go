package domain

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyLog stores the result of a trade creation so a retried request
// with the same client reference returns the original trade.
type IdempotencyLog struct {
	Key          string    `json:"key"` // Format: "user_id:client_reference"
	TradeID      uuid.UUID `json:"trade_id"`
	ResponseJSON []byte    `json:"response_json"`
	CreatedAt    time.Time `json:"created_at"`
}

// BuildIdempotencyKey constructs the standard key format.
func BuildIdempotencyKey(userID uuid.UUID, clientReference string) string {
	return userID.String() + ":" + clientReference
}
