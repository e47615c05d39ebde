package payment

import (
	"fmt"
	"strings"

	"github.com/mobilbillet/payments/internal/domain/errors"
)

// PurchaseIntent is what the caller wants to buy. It is immutable once an attempt starts.
type PurchaseIntent struct {
	OrderID        string
	Price          int64 // minor currency unit
	AddToFavorites bool
}

// Validate checks the intent before any provider is touched.
func (i PurchaseIntent) Validate() error {
	if strings.TrimSpace(i.OrderID) == "" {
		return errors.NewValidationError("order_id", "cannot be empty")
	}
	if i.Price <= 0 {
		return errors.NewValidationError("price", "must be greater than 0")
	}
	return nil
}

// MajorUnits returns the price in the major currency unit.
func (i PurchaseIntent) MajorUnits() float64 {
	return float64(i.Price) / 100.0
}

// Customer carries the per-customer data some providers need.
type Customer struct {
	ID string
	// PaymentToken is the card token previously issued by the card gateway.
	PaymentToken string
	// SubscriptionID is the stored card subscription at the hosted-form gateway.
	SubscriptionID *int64
	// InstallationID scopes installation-wide flags.
	InstallationID string
	// AccessToken is forwarded to backend calls made on the customer's behalf. Never persisted.
	AccessToken string
}

// FlagScope returns the key scoping installation-wide flags for this customer.
func (c Customer) FlagScope() string {
	if c.InstallationID != "" {
		return c.InstallationID
	}
	return c.ID
}

// ConfirmationRequest is derived from a provider acceptance and sent to the confirm endpoint.
type ConfirmationRequest struct {
	TransactionID  string `json:"transactionId"`
	OrderID        string `json:"orderId"`
	AddToFavorites bool   `json:"addToFavorites"`
}

// NewConfirmationRequest echoes the intent fields next to the provider transaction id.
// Only the wallet app may report an empty transaction id.
func NewConfirmationRequest(provider Provider, intent PurchaseIntent, transactionID string) (ConfirmationRequest, error) {
	if transactionID == "" && provider != ProviderMobilePay {
		return ConfirmationRequest{}, fmt.Errorf("%s: %w", provider, errors.ErrMissingTransactionID)
	}
	return ConfirmationRequest{
		TransactionID:  transactionID,
		OrderID:        intent.OrderID,
		AddToFavorites: intent.AddToFavorites,
	}, nil
}

// EditResult is the outcome of a successful payment-method edit.
type EditResult struct {
	SubscriptionID int64  `json:"subscriptionId"`
	CardNumber     string `json:"cardNumber"`
}
