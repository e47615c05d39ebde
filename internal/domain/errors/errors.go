package errors

import (
	"errors"
	"fmt"
)

var (
	// Configuration errors
	ErrConfiguration        = errors.New("configuration error")
	ErrProviderNotSupported = fmt.Errorf("%w: payment provider is not supported", ErrConfiguration)
	ErrMissingConfiguration = fmt.Errorf("%w: provider configuration is missing", ErrConfiguration)
	ErrMissingPaymentToken  = fmt.Errorf("%w: customer has no payment token", ErrConfiguration)
	ErrUnknownProvider      = errors.New("unknown payment provider")

	// Provider errors
	ErrProviderRejected     = errors.New("payment rejected by provider")
	ErrMissingTransactionID = errors.New("provider did not return a transaction id")
	ErrPaymentWindowFailed  = errors.New("failed to load the payment window")
	ErrEditNotSupported     = errors.New("provider does not support editing payment data")
	ErrEditFailed           = errors.New("editing payment data failed")

	// Cancellation
	ErrUserCancelled = errors.New("payment was cancelled by the user")

	// Transport and response errors
	ErrTransport         = errors.New("transport error")
	ErrRequestRejected   = errors.New("request rejected by remote endpoint")
	ErrMalformedResponse = errors.New("malformed response")
	ErrNotStarted        = errors.New("call could not be started")

	// Attempt errors
	ErrAttemptNotFound        = errors.New("attempt not found")
	ErrSessionClosed          = errors.New("attempt session is closed")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrAttemptExpired         = errors.New("attempt expired before the provider answered")

	// Idempotency errors
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// Lock errors
	ErrLockAcquisitionFailed = errors.New("failed to acquire lock")
	ErrLockNotHeld           = errors.New("lock not held")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ProviderError is a failure reported by a payment provider's own SDK or form.
// Critical errors force the payment screen to be dismissed.
type ProviderError struct {
	Provider string
	Code     int
	Message  string
	Critical bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error %d: %s", e.Provider, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return ErrProviderRejected
}

// NewProviderError creates a new provider error
func NewProviderError(provider string, code int, message string, critical bool) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Code:     code,
		Message:  message,
		Critical: critical,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsConfiguration reports whether err is fatal to an attempt before any provider call.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsRetryable reports whether a confirmation failure may be retried.
// Transport failures are; rejections, malformed bodies and refusals to start are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotStarted) || errors.Is(err, ErrRequestRejected) || errors.Is(err, ErrMalformedResponse) {
		return false
	}
	return errors.Is(err, ErrTransport)
}
