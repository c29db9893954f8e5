package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

const (
	CodeInsufficientFunds        = "LED_001"
	CodeInvalidAmount            = "LED_002"
	CodeInvalidState             = "TRD_001"
	CodeOfferExhausted           = "TRD_002"
	CodeQuoteExpired             = "QTE_001"
	CodeQuoteAlreadyUsed         = "QTE_002"
	CodeDisputeNotFound          = "DSP_001"
	CodeInvalidDisputeState      = "DSP_002"
	CodeMissingResolutionDetails = "DSP_003"
	CodeConcurrencyConflict      = "SYS_004"
)

// ---- Ledger (LED) ----

func ErrInsufficientFunds() *AppError {
	return New(CodeInsufficientFunds, "Insufficient available balance", http.StatusPaymentRequired)
}

func ErrInvalidAmount() *AppError {
	return New(CodeInvalidAmount, "Amount must be greater than zero", http.StatusBadRequest)
}

// InvalidAmount returns an LED_002 error naming the violated bound.
func InvalidAmount(message string) *AppError {
	return New(CodeInvalidAmount, message, http.StatusBadRequest)
}

// ---- Trades & Offers (TRD) ----

// ErrInvalidState is returned when an operation is not permitted from the current status.
func ErrInvalidState(message string) *AppError {
	return New(CodeInvalidState, message, http.StatusConflict)
}

func ErrOfferExhausted() *AppError {
	return New(CodeOfferExhausted, "Offer does not have enough available amount", http.StatusConflict)
}

// ---- Quotes (QTE) ----

func ErrQuoteExpired() *AppError {
	return New(CodeQuoteExpired, "Quote has expired", http.StatusGone)
}

func ErrQuoteAlreadyUsed() *AppError {
	return New(CodeQuoteAlreadyUsed, "Quote has already been executed", http.StatusConflict)
}

// ---- Disputes (DSP) ----

func ErrDisputeNotFound() *AppError {
	return New(CodeDisputeNotFound, "Dispute not found", http.StatusNotFound)
}

func ErrInvalidDisputeState() *AppError {
	return New(CodeInvalidDisputeState, "Dispute is not open for resolution", http.StatusConflict)
}

func ErrMissingResolutionDetails() *AppError {
	return New(CodeMissingResolutionDetails, "Winner and resolution note are required", http.StatusBadRequest)
}

// ---- Generic (GEN) ----

func ErrNotFound(entity string) *AppError {
	return New("GEN_004", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrPayloadTooLarge() *AppError {
	return New("GEN_005", "Request body too large", http.StatusRequestEntityTooLarge)
}

func ErrDuplicateRequest() *AppError {
	return New("GEN_003", "Duplicate request", http.StatusConflict)
}

// ---- Authentication (AUTH) ----

func ErrMissingToken() *AppError {
	return New("AUTH_001", "Missing bearer token", http.StatusUnauthorized)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrForbidden() *AppError {
	return New("AUTH_005", "Not permitted for this user", http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrLockTimeout(err error) *AppError {
	return Wrap("SYS_002", "Lock acquisition timeout", http.StatusServiceUnavailable, err)
}

func ErrPriceUnavailable(err error) *AppError {
	return Wrap("SYS_003", "Reference price unavailable", http.StatusServiceUnavailable, err)
}

// ErrConcurrencyConflict signals a lost optimistic version check. Safe to retry.
func ErrConcurrencyConflict() *AppError {
	return New(CodeConcurrencyConflict, "Record was modified concurrently, retry", http.StatusConflict)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a GEN_002 request validation error.
func Validation(message string) *AppError {
	return New("GEN_002", message, http.StatusBadRequest)
}
