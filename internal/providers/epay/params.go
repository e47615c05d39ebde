package epay

import (
	"strconv"

	"github.com/mobilbillet/payments/internal/infrastructure/config"
	"github.com/mobilbillet/payments/internal/providers"
)

const defaultPaymentTypes = "1, 3, 4, 6, 7, 9"

// Subscription modes of the hosted form.
const (
	subscriptionCreate   = "1"
	subscriptionEdit     = "2"
	subscriptionPurchase = "4"
)

// Form is the ordered parameter list of the hosted payment window.
type Form []providers.Param

func (f *Form) add(key, value string) {
	*f = append(*f, providers.Param{Key: key, Value: value})
}

// Fields returns the form as screen parameters.
func (f Form) Fields() map[string]string {
	out := make(map[string]string, len(f))
	for _, p := range f {
		out[p.Key] = p.Value
	}
	return out
}

func baseForm(cfg *config.EpayConfig) Form {
	var f Form
	f.add("merchantnumber", cfg.MerchantID)
	f.add("currency", cfg.CurrencyCode)
	f.add("mobile", "2")
	f.add("paymentcollection", "1")
	f.add("lockpaymentcollection", "1")
	f.add("paymenttype", paymentTypes(cfg))
	f.add("language", "0")
	f.add("encoding", "UTF-8")
	if cfg.MobileCSSURL != "" {
		f.add("mobilecssurl", cfg.MobileCSSURL)
	}
	f.add("instantcapture", "0")
	f.add("instantcallback", "1")
	f.add("description", description(cfg))
	f.add("declinetext", cfg.DeclineText)
	return f
}

func paymentTypes(cfg *config.EpayConfig) string {
	if len(cfg.PayTypes) == 0 {
		return defaultPaymentTypes
	}
	out := cfg.PayTypes[0]
	for _, t := range cfg.PayTypes[1:] {
		out += ", " + t
	}
	return out
}

func description(cfg *config.EpayConfig) string {
	if cfg.CustomerMobileNumber == "" || cfg.CustomerName == "" {
		return ""
	}
	return cfg.CustomerMobileNumber + " " + cfg.CustomerName
}

// PurchaseForm charges amount to an existing card subscription.
func PurchaseForm(cfg *config.EpayConfig, subscriptionID int64, epayOrderID string, amount int64) Form {
	f := baseForm(cfg)
	f.add("subscription", subscriptionPurchase)
	f.add("subscriptionId", strconv.FormatInt(subscriptionID, 10))
	f.add("orderid", epayOrderID)
	f.add("amount", strconv.FormatInt(amount, 10))
	return f
}

// EditForm creates a card subscription, or replaces the card behind an existing one.
func EditForm(cfg *config.EpayConfig, subscriptionID *int64) Form {
	f := baseForm(cfg)
	if subscriptionID == nil {
		f.add("subscription", subscriptionCreate)
		return f
	}
	f.add("subscription", subscriptionEdit)
	f.add("subscriptionId", strconv.FormatInt(*subscriptionID, 10))
	return f
}
