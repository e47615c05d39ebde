package testutil

import (
	"github.com/mobilbillet/payments/internal/domain/payment"
)

// NewTestIntent creates a purchase intent for tests.
func NewTestIntent(orderID string, price int64) payment.PurchaseIntent {
	return payment.PurchaseIntent{OrderID: orderID, Price: price, AddToFavorites: true}
}

// NewTestCustomer creates a customer holding both a card token and a card subscription.
func NewTestCustomer(id string) payment.Customer {
	return payment.Customer{
		ID:             id,
		PaymentToken:   "tok-" + id,
		SubscriptionID: Int64Ptr(5500),
		InstallationID: "inst-" + id,
		AccessToken:    "access-" + id,
	}
}

// NewTestAttempt creates an idle purchase attempt with no handlers.
func NewTestAttempt(provider payment.Provider, orderID string) *payment.Attempt {
	return payment.NewAttempt(provider, NewTestIntent(orderID, 2400), NewTestCustomer("cust-1"), payment.Handlers{})
}

func Int64Ptr(v int64) *int64 {
	return &v
}
