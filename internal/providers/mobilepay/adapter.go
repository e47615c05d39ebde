// Package mobilepay hands purchases to the MobilePay wallet app.
//
// The wallet's own success signal is not trusted: any return into the app
// that is not an explicit cancel or error is confirmed against the backend,
// which decides whether the purchase went through.
package mobilepay

import (
	"context"
	"fmt"

	domainErrors "github.com/mobilbillet/payments/internal/domain/errors"
	"github.com/mobilbillet/payments/internal/domain/payment"
	"github.com/mobilbillet/payments/internal/infrastructure/config"
	"github.com/mobilbillet/payments/internal/infrastructure/observability"
	"github.com/mobilbillet/payments/internal/providers"
	"github.com/rs/zerolog"
)

// DefaultRESTErrorMessage is reported when the wallet could not be started.
const DefaultRESTErrorMessage = "Something went wrong. Please try again later."

var (
	errWalletStart = fmt.Errorf("%w: %s", domainErrors.ErrProviderRejected, DefaultRESTErrorMessage)
	errCancelled   = fmt.Errorf("%w: ticket purchase cancelled", domainErrors.ErrUserCancelled)
)

type Adapter struct {
	cfg    *config.MobilePayConfig
	wallet Wallet
	logger zerolog.Logger
}

// NewAdapter uses the app switch when wallet is nil.
func NewAdapter(cfg *config.MobilePayConfig, wallet Wallet, logger zerolog.Logger) (*Adapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mobilepay: %w", domainErrors.ErrMissingConfiguration)
	}
	if wallet == nil {
		wallet = NewAppSwitch(cfg)
	}
	return &Adapter{
		cfg:    cfg,
		wallet: wallet,
		logger: observability.Component(logger, "mobilepay"),
	}, nil
}

func (a *Adapter) Provider() payment.Provider {
	return payment.ProviderMobilePay
}

func (a *Adapter) MakePayment(ctx context.Context, s *providers.Session) providers.Result {
	if err := a.begin(ctx, s); err != nil {
		return providers.Failed(err)
	}

	for {
		ev, err := s.Next(ctx)
		if err != nil {
			return providers.Interrupted(err)
		}
		if ev.Name != providers.EventURLReentry {
			s.Ignore(ev, "not a wallet re-entry")
			continue
		}

		re := reentryFromEvent(ev)
		switch re.Result {
		case ResultCancel:
			s.Logger.Info().Str("wallet_order_id", re.OrderID).Msg("wallet payment cancelled by user")
			return providers.Cancelled(errCancelled)
		case ResultError:
			s.Logger.Warn().Int("error_code", re.ErrorCode).Str("error_message", re.ErrorMessage).Msg("wallet payment failed")
			return providers.Failed(domainErrors.NewProviderError(string(payment.ProviderMobilePay), re.ErrorCode, re.ErrorMessage, false))
		default:
			orderID := re.OrderID
			if orderID == "" {
				orderID = s.Intent.OrderID
			}
			s.Logger.Info().
				Str("wallet_order_id", orderID).
				Str("transaction_id", re.TransactionID).
				Float64("amount", re.AmountWithdrawn).
				Msg("returned from wallet, confirming with backend")
			return providers.AcceptedForOrder(orderID, re.TransactionID)
		}
	}
}

// begin starts the wallet. A panic inside the wallet is reported like any
// other start failure.
func (a *Adapter) begin(ctx context.Context, s *providers.Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().Str("attempt_id", s.AttemptID.String()).Interface("panic", r).Msg("wallet panicked while starting payment")
			err = errWalletStart
		}
	}()

	p := WalletPayment{
		AttemptID:     s.AttemptID.String(),
		OrderID:       s.Intent.OrderID,
		Amount:        s.Intent.MajorUnits(),
		MerchantID:    a.cfg.MerchantID,
		URLScheme:     a.cfg.MerchantURLScheme,
		Country:       a.cfg.Country,
		CaptureType:   a.cfg.CaptureType,
		ReturnSeconds: a.cfg.ReturnSeconds,
	}
	if err := a.wallet.BeginPayment(ctx, s.UI, p); err != nil {
		a.logger.Warn().Err(err).Str("attempt_id", s.AttemptID.String()).Msg("wallet refused to start payment")
		return fmt.Errorf("%w: %w", errWalletStart, err)
	}
	return nil
}

// EditPaymentData is not offered: cards are managed inside the wallet app.
func (a *Adapter) EditPaymentData(ctx context.Context, s *providers.Session) providers.Result {
	a.logger.Warn().Str("attempt_id", s.AttemptID.String()).Msg("edits handled by MobilePay app")
	return providers.Failed(fmt.Errorf("mobilepay: %w", domainErrors.ErrEditNotSupported))
}
