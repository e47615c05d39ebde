package mobilepay

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	domainErrors "github.com/mobilbillet/payments/internal/domain/errors"
	"github.com/mobilbillet/payments/internal/infrastructure/config"
	"github.com/mobilbillet/payments/internal/ui"
)

// DefaultAppSwitchURL opens the wallet app's payment screen.
const DefaultAppSwitchURL = "mobilepay://online"

// WalletPayment is the request handed to the wallet app.
type WalletPayment struct {
	AttemptID     string
	OrderID       string
	Amount        float64 // major currency unit
	MerchantID    string
	URLScheme     string
	Country       string
	CaptureType   string
	ReturnSeconds int
}

// Wallet starts a payment in the external wallet app. The result never
// comes back through this call; it arrives later as a URL re-entry.
type Wallet interface {
	BeginPayment(ctx context.Context, host ui.Host, p WalletPayment) error
}

// AppSwitch launches the wallet through its URL scheme.
type AppSwitch struct {
	BaseURL string
}

func NewAppSwitch(cfg *config.MobilePayConfig) *AppSwitch {
	base := cfg.AppSwitchURL
	if base == "" {
		base = DefaultAppSwitchURL
	}
	return &AppSwitch{BaseURL: base}
}

func (w *AppSwitch) BeginPayment(ctx context.Context, host ui.Host, p WalletPayment) error {
	launch, err := LaunchURL(w.BaseURL, p)
	if err != nil {
		return err
	}
	host.OpenURL(launch)
	return nil
}

// LaunchURL builds the app-switch URL for p. The wallet returns to
// <scheme>://mobilepay carrying the attempt id.
func LaunchURL(base string, p WalletPayment) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: invalid app switch url %q", domainErrors.ErrConfiguration, base)
	}

	ret := url.URL{Scheme: p.URLScheme, Host: "mobilepay", RawQuery: url.Values{"attempt": {p.AttemptID}}.Encode()}

	q := u.Query()
	q.Set("merchantId", p.MerchantID)
	q.Set("orderId", p.OrderID)
	q.Set("amount", strconv.FormatFloat(p.Amount, 'f', 2, 64))
	q.Set("returnUrl", ret.String())
	if p.Country != "" {
		q.Set("country", p.Country)
	}
	if p.CaptureType != "" {
		q.Set("captureType", p.CaptureType)
	}
	if p.ReturnSeconds > 0 {
		q.Set("returnSeconds", strconv.Itoa(p.ReturnSeconds))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
