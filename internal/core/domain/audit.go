package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionCreateQuote    AuditAction = "CREATE_QUOTE"
	AuditActionExecuteQuote   AuditAction = "EXECUTE_QUOTE"
	AuditActionCreateOffer    AuditAction = "CREATE_OFFER"
	AuditActionBoostOffer     AuditAction = "BOOST_OFFER"
	AuditActionCloseOffer     AuditAction = "CLOSE_OFFER"
	AuditActionCreateTrade    AuditAction = "CREATE_TRADE"
	AuditActionClaimPayment   AuditAction = "CLAIM_PAYMENT"
	AuditActionReleaseTrade   AuditAction = "RELEASE_TRADE"
	AuditActionCancelTrade    AuditAction = "CANCEL_TRADE"
	AuditActionRaiseDispute   AuditAction = "RAISE_DISPUTE"
	AuditActionReviewDispute  AuditAction = "REVIEW_DISPUTE"
	AuditActionResolveDispute AuditAction = "RESOLVE_DISPUTE"
	AuditActionDeposit        AuditAction = "DEPOSIT"
	AuditActionWithdraw       AuditAction = "WITHDRAW"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	UserID       *uuid.UUID  `json:"user_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}
