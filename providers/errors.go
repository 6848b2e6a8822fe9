package providers

import (
	"errors"
	"fmt"
)

// ErrorCode classifies why a provider call failed.
type ErrorCode string

const (
	ErrInsufficientFunds    ErrorCode = "INSUFFICIENT_FUNDS"
	ErrExpiredCard          ErrorCode = "EXPIRED_CARD"
	ErrInvalidCVV           ErrorCode = "INVALID_CVV"
	ErrCardDeclined         ErrorCode = "CARD_DECLINED"
	ErrNetworkError         ErrorCode = "NETWORK_ERROR"
	ErrTimeout              ErrorCode = "TIMEOUT"
	ErrRateLimited          ErrorCode = "RATE_LIMITED"
	ErrProviderUnavailable  ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrFraudSuspected       ErrorCode = "FRAUD_SUSPECTED"
	ErrNotFound             ErrorCode = "NOT_FOUND"
	ErrDuplicateTransaction ErrorCode = "DUPLICATE_TRANSACTION"
)

// Transient infrastructure failures. Everything else is a final answer
// about this payment method and retrying elsewhere will not change it.
var retryableCodes = map[ErrorCode]bool{
	ErrNetworkError:        true,
	ErrTimeout:             true,
	ErrRateLimited:         true,
	ErrProviderUnavailable: true,
}

// Error is the failure an adapter returns when the provider rejects or
// cannot process a request. Retryable is derived from Code at construction
// so callers never re-derive the classification.
type Error struct {
	Provider  string    `json:"provider"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

func (e *Error) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Code, e.Message)
}

// NewError builds a provider error with its retryability filled in.
func NewError(provider string, code ErrorCode, message string) *Error {
	return &Error{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Retryable: retryableCodes[code],
	}
}

// IsRetryable reports whether err is a provider error worth retrying on
// another provider. Non-provider errors are never retryable.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// CodeOf extracts the provider error code from err, or "" when err did not
// come from an adapter.
func CodeOf(err error) ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
