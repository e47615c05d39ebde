// Package epay drives the ePay hosted payment form. The form reports back
// through loose notifications delivered into the attempt's session.
package epay

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	domainErrors "github.com/mobilbillet/payments/internal/domain/errors"
	"github.com/mobilbillet/payments/internal/domain/payment"
	"github.com/mobilbillet/payments/internal/infrastructure/apiclient"
	"github.com/mobilbillet/payments/internal/infrastructure/config"
	"github.com/mobilbillet/payments/internal/infrastructure/observability"
	"github.com/mobilbillet/payments/internal/providers"
	"github.com/mobilbillet/payments/internal/ui"
	"github.com/rs/zerolog"
)

// Parameters reported with an accepted edit.
const (
	ParamSubscriptionID = "subscriptionid"
	ParamCardNumber     = "cardno"
)

// DefaultNoInternetCode is the form's error code for a lost connection.
const DefaultNoInternetCode = -1009

var (
	errNoTransaction = fmt.Errorf("%w: ePay payment didn't return a transaction ID.", domainErrors.ErrMissingTransactionID)
	errEditCancelled = fmt.Errorf("%w: %w", domainErrors.ErrEditFailed, domainErrors.ErrUserCancelled)
	errEditNoResult  = fmt.Errorf("%w: ePay returned no subscription id", domainErrors.ErrEditFailed)
)

// OrderIDSource mints the short-lived ePay order id for a purchase.
type OrderIDSource interface {
	GetJSON(ctx context.Context, rawURL string, query url.Values, out any) error
}

type Adapter struct {
	cfg    *config.EpayConfig
	orders OrderIDSource
	logger zerolog.Logger
}

func NewAdapter(cfg *config.EpayConfig, orders OrderIDSource, logger zerolog.Logger) (*Adapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("epay: %w", domainErrors.ErrMissingConfiguration)
	}
	return &Adapter{
		cfg:    cfg,
		orders: orders,
		logger: observability.Component(logger, "epay"),
	}, nil
}

func (a *Adapter) Provider() payment.Provider {
	return payment.ProviderEpay
}

func (a *Adapter) noInternetCode() int {
	if a.cfg.NoInternetCode != 0 {
		return a.cfg.NoInternetCode
	}
	return DefaultNoInternetCode
}

// MakePayment mints an ePay order id and charges the customer's card subscription.
func (a *Adapter) MakePayment(ctx context.Context, s *providers.Session) providers.Result {
	if s.Customer.SubscriptionID == nil {
		return providers.Failed(fmt.Errorf("epay: %w", domainErrors.ErrMissingPaymentToken))
	}

	epayOrderID, err := a.OrderID(ctx, s.Intent.OrderID)
	if err != nil {
		return providers.FromCallError(err)
	}
	s.Logger.Debug().Str("epay_order_id", epayOrderID).Msg("epay order id minted")

	form := PurchaseForm(a.cfg, *s.Customer.SubscriptionID, epayOrderID, s.Intent.Price)
	return a.run(ctx, s, ui.ScreenEpayPayment, form)
}

// EditPaymentData creates or replaces the customer's card subscription.
func (a *Adapter) EditPaymentData(ctx context.Context, s *providers.Session) providers.Result {
	form := EditForm(a.cfg, s.Customer.SubscriptionID)
	return a.run(ctx, s, ui.ScreenEpayEdit, form)
}

// OrderID asks the backend for the ePay order id of orderID. The reply must
// be an object carrying an integral epayPaymentId.
func (a *Adapter) OrderID(ctx context.Context, orderID string) (string, error) {
	if a.cfg.OrderIDURL == "" {
		return "", fmt.Errorf("epay order_id_url: %w", domainErrors.ErrMissingConfiguration)
	}

	var reply map[string]any
	if err := a.orders.GetJSON(ctx, a.cfg.OrderIDURL, url.Values{"orderId": {orderID}}, &reply); err != nil {
		return "", fmt.Errorf("epay order id: %w", err)
	}

	n, ok := apiclient.Integer(reply["epayPaymentId"])
	if !ok {
		return "", fmt.Errorf("epay order id: %w: epayPaymentId is not an integer", domainErrors.ErrMalformedResponse)
	}
	return strconv.FormatInt(n, 10), nil
}

func (a *Adapter) run(ctx context.Context, s *providers.Session, screen string, form Form) providers.Result {
	fields := form.Fields()
	s.UI.Push(screen, fields)
	s.UI.ShowActivity()

	waitingForNetwork := false
	for {
		ev, err := s.Next(ctx)
		if err != nil {
			return providers.Interrupted(err)
		}

		switch ev.Name {
		case providers.EventLoading:
			// activity indicator is already visible

		case providers.EventLoaded:
			s.UI.HideActivity()
			if !s.IsEdit() {
				s.ShowCVCPromptOnce(ctx, providers.CVCPromptTitle, providers.CVCPromptMessage)
			}

		case providers.EventLoadingAcceptPage:
			s.UI.HideActivity()

		case providers.EventAccepted:
			s.UI.HideActivity()
			s.UI.Pop(1)
			if s.IsEdit() {
				return editAccepted(ev)
			}
			tx := ev.First()
			if tx == "" {
				return providers.Failed(errNoTransaction)
			}
			return providers.Accepted(tx)

		case providers.EventCancelled:
			s.UI.HideActivity()
			if s.IsEdit() {
				s.UI.Pop(1)
				return providers.Failed(errEditCancelled)
			}
			// Back to the screen before the approval screen.
			s.UI.Pop(2)
			return providers.Cancelled(domainErrors.ErrUserCancelled)

		case providers.EventError:
			s.UI.HideActivity()
			if ev.Code == a.noInternetCode() {
				waitingForNetwork = true
				s.UI.ShowActivity()
				continue
			}
			a.logger.Warn().Str("attempt_id", s.AttemptID.String()).Int("code", ev.Code).Str("message", ev.Message).Msg("epay form error")
			perr := domainErrors.NewProviderError(string(payment.ProviderEpay), ev.Code, ev.Message, true)
			s.UI.Pop(1)
			if s.IsEdit() {
				return providers.Failed(fmt.Errorf("%w: %w", domainErrors.ErrEditFailed, perr))
			}
			return providers.Failed(perr)

		case providers.EventReachable:
			if !waitingForNetwork {
				s.Ignore(ev, "form is not waiting for the network")
				continue
			}
			waitingForNetwork = false
			s.UI.Pop(1)
			s.UI.Push(screen, fields)

		default:
			s.Ignore(ev, "not an epay event")
		}
	}
}

func editAccepted(ev providers.Event) providers.Result {
	raw, _ := ev.Param(ParamSubscriptionID)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return providers.Failed(errEditNoResult)
	}
	card, _ := ev.Param(ParamCardNumber)
	return providers.Edited(payment.EditResult{SubscriptionID: id, CardNumber: card})
}
