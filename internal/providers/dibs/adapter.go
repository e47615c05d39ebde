// Package dibs drives the DIBS card gateway: a signed payment window charged
// against the customer's stored card ticket, or a pre-authorization that
// registers a new card.
package dibs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	domainErrors "github.com/mobilbillet/payments/internal/domain/errors"
	"github.com/mobilbillet/payments/internal/domain/payment"
	"github.com/mobilbillet/payments/internal/infrastructure/config"
	"github.com/mobilbillet/payments/internal/infrastructure/observability"
	"github.com/mobilbillet/payments/internal/providers"
	"github.com/mobilbillet/payments/internal/ui"
	"github.com/rs/zerolog"
)

// Keys of the payment_error and payment_accepted event parameters.
const (
	ParamTransaction  = "transact"
	ParamErrorNumber  = "error_number"
	ParamErrorMessage = "error_message"
	ParamMAC          = "MAC"
)

var (
	errWindowLoad      = fmt.Errorf("%w: Failed to load the DIBS payment window.", domainErrors.ErrPaymentWindowFailed)
	errNoTransaction   = fmt.Errorf("%w: DIBS payment didn't return a transaction ID.", domainErrors.ErrMissingTransactionID)
	errEditCancelled   = fmt.Errorf("%w: %w", domainErrors.ErrEditFailed, domainErrors.ErrUserCancelled)
	errBadSubscription = fmt.Errorf("%w: DIBS returned no usable subscription id", domainErrors.ErrEditFailed)
)

// OrderIDSource mints the DIBS order ids used for pre-authorizations.
type OrderIDSource interface {
	GetString(ctx context.Context, rawURL string, query url.Values) (string, error)
}

type Adapter struct {
	cfg    *config.DIBSConfig
	signer *Signer
	orders OrderIDSource
	logger zerolog.Logger
}

func NewAdapter(cfg *config.DIBSConfig, orders OrderIDSource, logger zerolog.Logger) (*Adapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("dibs: %w", domainErrors.ErrMissingConfiguration)
	}
	signer, err := NewSigner(cfg.HMACKey)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		cfg:    cfg,
		signer: signer,
		orders: orders,
		logger: observability.Component(logger, "dibs"),
	}, nil
}

func (a *Adapter) Provider() payment.Provider {
	return payment.ProviderDIBS
}

// MakePayment charges the intent's price to the customer's card ticket.
func (a *Adapter) MakePayment(ctx context.Context, s *providers.Session) providers.Result {
	token := s.Customer.PaymentToken
	if token == "" {
		return providers.Failed(fmt.Errorf("dibs: %w", domainErrors.ErrMissingPaymentToken))
	}

	req, err := NewTicketPurchase(a.cfg, s.Intent.OrderID, s.Intent.Price, token)
	if err != nil {
		return providers.Failed(fmt.Errorf("dibs purchase: %w", err))
	}
	a.open(s, req)
	return a.await(ctx, s)
}

// EditPaymentData registers a new card through a pre-authorization.
func (a *Adapter) EditPaymentData(ctx context.Context, s *providers.Session) providers.Result {
	if a.cfg.OrderIDURL == "" {
		return providers.Failed(fmt.Errorf("dibs order_id_url: %w", domainErrors.ErrMissingConfiguration))
	}
	orderID, err := a.orders.GetString(ctx, a.cfg.OrderIDURL, nil)
	if err != nil {
		return providers.FromCallError(fmt.Errorf("dibs order id: %w", err))
	}
	a.logger.Debug().Str("attempt_id", s.AttemptID.String()).Str("dibs_order_id", orderID).Msg("pre-authorization order id minted")

	req, err := NewPreAuthorization(a.cfg, orderID)
	if err != nil {
		return providers.Failed(fmt.Errorf("dibs pre-authorization: %w", err))
	}
	a.open(s, req)
	return a.await(ctx, s)
}

func (a *Adapter) open(s *providers.Session, req *Request) {
	req.Set(ParamMAC, a.signer.Sign(req.PostData()))
	s.UI.Push(ui.ScreenDIBSPayment, req.Fields())
	s.UI.ShowActivity()
}

func (a *Adapter) await(ctx context.Context, s *providers.Session) providers.Result {
	for {
		ev, err := s.Next(ctx)
		if err != nil {
			return providers.Interrupted(err)
		}

		switch ev.Name {
		case providers.EventWindowLoaded:
			s.UI.HideActivity()
			if !s.IsEdit() {
				s.ShowCVCPromptOnce(ctx, providers.CVCPromptTitle, providers.CVCPromptMessage)
			}

		case providers.EventWindowLoadFailed:
			s.UI.HideActivity()
			s.UI.Pop(1)
			return a.failure(s, errWindowLoad)

		case providers.EventPaymentCancelled:
			s.UI.HideActivity()
			s.UI.Pop(1)
			if s.IsEdit() {
				return providers.Failed(errEditCancelled)
			}
			return providers.Cancelled(domainErrors.ErrUserCancelled)

		case providers.EventPaymentAccepted:
			if s.IsEdit() {
				s.UI.Pop(1)
				return editAccepted(ev)
			}
			// DIBS also reports an accept when card data is changed from the profile.
			if s.UI.PreviousScreen() == ui.ScreenEditProfile {
				s.Ignore(ev, "accept raised by a profile card edit")
				continue
			}
			s.UI.Pop(1)
			tx, _ := ev.Param(ParamTransaction)
			if tx == "" {
				return providers.Failed(errNoTransaction)
			}
			return providers.Accepted(tx)

		case providers.EventPaymentError:
			s.UI.HideActivity()
			code, msg := errorDetails(ev)
			critical := code <= a.cfg.CriticalErrorMax
			if critical {
				s.UI.Pop(1)
			}
			s.Logger.Warn().Int("error_number", code).Bool("critical", critical).Msg("dibs payment error")
			return a.failure(s, domainErrors.NewProviderError(string(payment.ProviderDIBS), code, msg, critical))

		default:
			s.Ignore(ev, "not a dibs event")
		}
	}
}

func (a *Adapter) failure(s *providers.Session, err error) providers.Result {
	if s.IsEdit() && !errors.Is(err, domainErrors.ErrEditFailed) {
		err = fmt.Errorf("%w: %w", domainErrors.ErrEditFailed, err)
	}
	return providers.Failed(err)
}

func editAccepted(ev providers.Event) providers.Result {
	raw, _ := ev.Param(ParamTransaction)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return providers.Failed(errBadSubscription)
	}
	return providers.Edited(payment.EditResult{SubscriptionID: id})
}

// errorDetails reads the error number and message from the event, preferring
// explicit parameters over the generic code and message fields.
func errorDetails(ev providers.Event) (int, string) {
	code := ev.IntParam(ParamErrorNumber, ev.Code)
	msg, ok := ev.Param(ParamErrorMessage)
	if !ok || msg == "" {
		msg = ev.Message
	}
	return code, msg
}
