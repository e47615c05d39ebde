package bootstrap

import (
	"fmt"

	"github.com/mobilbillet/payments/internal/confirmation"
	domainErrors "github.com/mobilbillet/payments/internal/domain/errors"
	"github.com/mobilbillet/payments/internal/domain/payment"
	"github.com/mobilbillet/payments/internal/infrastructure/apiclient"
	"github.com/mobilbillet/payments/internal/infrastructure/observability"
	infraRedis "github.com/mobilbillet/payments/internal/infrastructure/redis"
	"github.com/mobilbillet/payments/internal/providers"
	"github.com/mobilbillet/payments/internal/providers/dibs"
	"github.com/mobilbillet/payments/internal/providers/epay"
	"github.com/mobilbillet/payments/internal/providers/mobilepay"
	"github.com/mobilbillet/payments/internal/repository/postgres"
	"github.com/mobilbillet/payments/internal/service"
	"github.com/mobilbillet/payments/pkg/retry"
)

// Orchestrator wires the configured provider adapters, the confirmation
// client and the Redis and PostgreSQL stores into a purchase orchestrator.
func (a *App) Orchestrator() (*service.Orchestrator, error) {
	cfg := a.Config.Payments

	supported, err := cfg.Providers()
	if err != nil {
		return nil, err
	}

	api := apiclient.New(a.Config.APIClient, observability.Component(a.Logger, "apiclient"),
		apiclient.WithMetrics(a.Metrics))

	registry := providers.NewRegistry()
	for _, p := range supported {
		adapter, err := a.adapter(p, api)
		if err != nil {
			return nil, fmt.Errorf("build %s adapter: %w", p, err)
		}
		registry.Register(adapter)
	}

	orch := service.New(service.Config{
		Supported:       payment.NewProviderSet(supported...),
		ConfirmationURL: cfg.ConfirmationURL,
		AttemptTimeout:  cfg.AttemptTimeout,
		SessionTTL:      cfg.SessionTTL,
		EventBuffer:     cfg.EventBuffer,
		Retry: retry.Config{
			MaxAttempts:  a.Config.Retry.MaxAttempts,
			InitialDelay: a.Config.Retry.InitialDelay,
			MaxDelay:     a.Config.Retry.MaxDelay,
			Multiplier:   a.Config.Retry.Multiplier,
		},
	}, registry, confirmation.NewClient(api), observability.Component(a.Logger, "orchestrator"),
		service.WithMetrics(a.Metrics),
		service.WithLocker(infraRedis.NewConfirmationLocker(a.Redis, cfg.ConfirmationLockTTL)),
		service.WithPublisher(infraRedis.NewOutcomeProducer(a.Redis, a.Config.Worker.Stream)),
		service.WithSnapshotStore(infraRedis.NewAttemptStore(a.Redis, cfg.SessionTTL)),
		service.WithArchive(postgres.NewAttemptRepository(a.Pool)),
		service.WithFlags(infraRedis.NewFlagStore(a.Redis)),
	)
	return orch, nil
}

func (a *App) adapter(p payment.Provider, api *apiclient.Client) (providers.Adapter, error) {
	cfg := a.Config.Payments

	switch p {
	case payment.ProviderDIBS:
		return dibs.NewAdapter(cfg.DIBS, api, a.Logger)
	case payment.ProviderEpay:
		return epay.NewAdapter(cfg.Epay, api, a.Logger)
	case payment.ProviderMobilePay:
		return mobilepay.NewAdapter(cfg.MobilePay, nil, a.Logger)
	}
	return nil, fmt.Errorf("%q: %w", p, domainErrors.ErrUnknownProvider)
}
