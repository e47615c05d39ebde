package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name: "with wrapped error",
			err: &DomainError{
				Code:    "missing_transaction_id",
				Message: "DIBS payment didn't return a transaction ID.",
				Err:     ErrMissingTransactionID,
			},
			expected: "DIBS payment didn't return a transaction ID.: provider did not return a transaction id",
		},
		{
			name: "without wrapped error",
			err: &DomainError{
				Code:    "invalid_state",
				Message: "attempt is already terminal",
				Err:     nil,
			},
			expected: "attempt is already terminal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	domainErr := NewDomainError("cancelled", "Payment was cancelled by the user.", ErrUserCancelled)

	assert.Equal(t, ErrUserCancelled, domainErr.Unwrap())
	assert.ErrorIs(t, domainErr, ErrUserCancelled)
}

func TestNewDomainError_NilWrappedError(t *testing.T) {
	err := NewDomainError("test_code", "test message", nil)

	assert.NotNil(t, err)
	assert.Equal(t, "test_code", err.Code)
	assert.Equal(t, "test message", err.Message)
	assert.Nil(t, err.Err)
}

func TestProviderError(t *testing.T) {
	err := NewProviderError("dibs", 3, "card expired", true)

	assert.Equal(t, "dibs error 3: card expired", err.Error())
	assert.True(t, err.Critical)
	assert.ErrorIs(t, err, ErrProviderRejected)

	var pe *ProviderError
	wrapped := fmt.Errorf("attempt failed: %w", err)
	assert.True(t, errors.As(wrapped, &pe))
	assert.Equal(t, 3, pe.Code)
}

func TestValidationError_Error(t *testing.T) {
	err := NewValidationError("order_id", "required validation failed")

	assert.Equal(t, "validation failed for field order_id: required validation failed", err.Error())
}

func TestConfigurationErrors(t *testing.T) {
	for _, err := range []error{ErrProviderNotSupported, ErrMissingConfiguration, ErrMissingPaymentToken} {
		assert.True(t, IsConfiguration(err), err.Error())
		assert.False(t, IsRetryable(err), err.Error())
	}
	assert.False(t, IsConfiguration(ErrTransport))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport", fmt.Errorf("dial tcp: %w", ErrTransport), true},
		{"rejected", fmt.Errorf("status 400: %w", ErrRequestRejected), false},
		{"malformed", ErrMalformedResponse, false},
		{"not started", fmt.Errorf("breaker open: %w", ErrNotStarted), false},
		{"unrelated", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
