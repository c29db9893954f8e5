package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			appErr:   New("LED_001", "Insufficient funds", http.StatusPaymentRequired),
			expected: "[LED_001] Insufficient funds",
		},
		{
			name:     "with wrapped error",
			appErr:   Wrap("SYS_001", "DB error", http.StatusInternalServerError, fmt.Errorf("connection refused")),
			expected: "[SYS_001] DB error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.appErr.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap("SYS_001", "wrapped", http.StatusInternalServerError, inner)

	assert.True(t, errors.Is(appErr, inner))
	assert.Nil(t, New("LED_001", "test", http.StatusBadRequest).Unwrap())
}

func TestHasCode(t *testing.T) {
	wrapped := fmt.Errorf("ledger: %w", ErrInsufficientFunds())

	assert.True(t, HasCode(wrapped, CodeInsufficientFunds))
	assert.False(t, HasCode(wrapped, CodeInvalidAmount))
	assert.False(t, HasCode(fmt.Errorf("plain"), CodeInsufficientFunds))
	assert.False(t, HasCode(nil, CodeInsufficientFunds))
}

func TestTaxonomyErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"InsufficientFunds", ErrInsufficientFunds(), "LED_001", 402},
		{"InvalidAmount", ErrInvalidAmount(), "LED_002", 400},
		{"InvalidAmountMessage", InvalidAmount("minimum order is 100"), "LED_002", 400},
		{"InvalidState", ErrInvalidState("trade is released"), "TRD_001", 409},
		{"OfferExhausted", ErrOfferExhausted(), "TRD_002", 409},
		{"QuoteExpired", ErrQuoteExpired(), "QTE_001", 410},
		{"QuoteAlreadyUsed", ErrQuoteAlreadyUsed(), "QTE_002", 409},
		{"DisputeNotFound", ErrDisputeNotFound(), "DSP_001", 404},
		{"InvalidDisputeState", ErrInvalidDisputeState(), "DSP_002", 409},
		{"MissingResolutionDetails", ErrMissingResolutionDetails(), "DSP_003", 400},
		{"ConcurrencyConflict", ErrConcurrencyConflict(), "SYS_004", 409},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
		})
	}
}

func TestAuthErrors(t *testing.T) {
	assert.Equal(t, 401, ErrMissingToken().HTTPStatus)
	assert.Equal(t, "AUTH_003", ErrInvalidToken().Code)
	assert.Equal(t, 403, ErrForbidden().HTTPStatus)
}

func TestSystemErrors(t *testing.T) {
	inner := fmt.Errorf("pg: connection closed")
	dbErr := ErrDatabaseError(inner)
	assert.Equal(t, "SYS_001", dbErr.Code)
	assert.Equal(t, 500, dbErr.HTTPStatus)
	assert.True(t, errors.Is(dbErr, inner))

	lockErr := ErrLockTimeout(inner)
	assert.Equal(t, "SYS_002", lockErr.Code)
	assert.Equal(t, 503, lockErr.HTTPStatus)

	priceErr := ErrPriceUnavailable(inner)
	assert.Equal(t, "SYS_003", priceErr.Code)
	assert.Equal(t, 503, priceErr.HTTPStatus)
}

func TestRateLimitError(t *testing.T) {
	err := ErrRateLimitExceeded()
	assert.Equal(t, "RATE_001", err.Code)
	assert.Equal(t, 429, err.HTTPStatus)
}

func TestNotFoundEntity(t *testing.T) {
	err := ErrNotFound("Trade")
	assert.Contains(t, err.Message, "Trade")
	assert.Equal(t, "GEN_004", err.Code)
}

func TestPayloadTooLarge(t *testing.T) {
	err := ErrPayloadTooLarge()
	assert.Equal(t, "GEN_005", err.Code)
	assert.Equal(t, 413, err.HTTPStatus)
}
