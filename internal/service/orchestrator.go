// Package service hosts the payment orchestrator: it validates a provider
// selection, runs the provider adapter for one attempt, confirms accepted
// payments through the retry coordinator and reports exactly one outcome.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/mobilbillet/payments/internal/domain/errors"
	"github.com/mobilbillet/payments/internal/domain/payment"
	"github.com/mobilbillet/payments/internal/infrastructure/apiclient"
	"github.com/mobilbillet/payments/internal/infrastructure/observability"
	"github.com/mobilbillet/payments/internal/providers"
	"github.com/mobilbillet/payments/internal/ui"
	"github.com/mobilbillet/payments/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	persistTimeout    = 5 * time.Second
	sweepInterval     = time.Minute
	otherEventLabel   = "other"
	defaultUIBuffer   = 256
	defaultSessionTTL = 15 * time.Minute
)

// Config holds the orchestrator's tunables.
type Config struct {
	Supported       payment.ProviderSet
	ConfirmationURL func(payment.Provider) string
	AttemptTimeout  time.Duration
	SessionTTL      time.Duration
	EventBuffer     int
	Retry           retry.Config
}

// Option configures optional collaborators.
type Option func(*Orchestrator)

func WithLocker(l Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

func WithPublisher(p OutcomePublisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithSnapshotStore sets the short-lived store terminal snapshots are cached in.
func WithSnapshotStore(r payment.Repository) Option {
	return func(o *Orchestrator) { o.cache = r }
}

// WithArchive sets the durable store consulted when neither the live registry
// nor the snapshot store knows an attempt.
func WithArchive(r payment.Repository) Option {
	return func(o *Orchestrator) { o.archive = r }
}

func WithFlags(f providers.FlagStore) Option {
	return func(o *Orchestrator) { o.flags = f }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// Orchestrator is the entry point for purchases and payment-method edits.
// Run must be active while attempts are in flight: UI commands are
// serialized on its dispatcher.
type Orchestrator struct {
	cfg         Config
	registry    *providers.Registry
	confirmer   Confirmer
	coordinator *retry.Coordinator[int]
	locker      Locker
	publisher   OutcomePublisher
	cache       payment.Repository
	archive     payment.Repository
	flags       providers.FlagStore
	metrics     *observability.Metrics
	tracer      trace.Tracer
	logger      zerolog.Logger

	dispatcher *ui.Dispatcher
	sessions   *SessionRegistry
	wg         sync.WaitGroup
	root       context.Context
	stop       context.CancelFunc
}

// New creates an Orchestrator.
func New(cfg Config, registry *providers.Registry, confirmer Confirmer, logger zerolog.Logger, opts ...Option) *Orchestrator {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	root, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:        cfg,
		registry:   registry,
		confirmer:  confirmer,
		logger:     observability.Component(logger, "orchestrator"),
		dispatcher: ui.NewDispatcher(defaultUIBuffer),
		sessions:   NewSessionRegistry(cfg.SessionTTL),
		root:       root,
		stop:       stop,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observability.NewMetrics("payments", prometheus.NewRegistry())
	}
	if o.tracer == nil {
		o.tracer = observability.Tracer()
	}

	o.coordinator = retry.NewCoordinator[int](cfg.Retry,
		retry.WithRetryIf[int](domainErrors.IsRetryable),
		retry.WithSoftSuccess[int](func(err error) (int, bool) {
			if errors.Is(err, domainErrors.ErrMalformedResponse) {
				o.metrics.SoftSuccesses.Inc()
				return payment.UnknownTicketID, true
			}
			return 0, false
		}),
		retry.WithOnRetry[int](func(n uint, err error) {
			o.metrics.ConfirmationRetries.Inc()
			o.logger.Warn().Err(err).Uint("retry", n).Msg("confirmation failed, retrying")
		}),
	)
	return o
}

// Run serves the UI dispatcher and expires finished sessions until ctx ends.
// On return every in-flight attempt has been interrupted and completed.
func (o *Orchestrator) Run(ctx context.Context) error {
	uiCtx, stopUI := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return o.dispatcher.Run(uiCtx)
	})
	g.Go(func() error {
		defer stopUI()
		o.janitor(gctx)
		o.stop()
		o.wg.Wait()
		return nil
	})

	o.logger.Info().Msg("orchestrator started")
	err := g.Wait()
	o.logger.Info().Msg("orchestrator stopped")
	return err
}

func (o *Orchestrator) janitor(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := o.sessions.Sweep(now); n > 0 {
				o.logger.Debug().Int("removed", n).Msg("expired finished sessions")
			}
		}
	}
}

// MakePayment starts a purchase and returns immediately. Exactly one of h's
// terminal handlers fires. An unsupported provider or an invalid intent
// fails synchronously without touching any adapter.
func (o *Orchestrator) MakePayment(ctx context.Context, req PurchaseRequest, h payment.Handlers) *payment.Attempt {
	a := payment.NewAttempt(req.Provider, req.Intent, req.Customer, h)
	origin := originOrDefault(req.OriginScreen, ui.ScreenPurchaseMenu)

	if err := o.checkSupported(req.Provider); err != nil {
		return o.reject(a, origin, err)
	}
	if err := req.Intent.Validate(); err != nil {
		return o.reject(a, origin, err)
	}
	adapter, err := o.registry.Get(req.Provider)
	if err != nil {
		return o.reject(a, origin, err)
	}

	o.launch(ctx, a, origin, adapter.MakePayment)
	return a
}

// EditPaymentData starts a payment-method edit. No confirmation follows.
func (o *Orchestrator) EditPaymentData(ctx context.Context, req EditRequest, h payment.Handlers) *payment.Attempt {
	a := payment.NewEditAttempt(req.Provider, req.Customer, h)
	origin := originOrDefault(req.OriginScreen, ui.ScreenEditProfile)

	if err := o.checkSupported(req.Provider); err != nil {
		return o.reject(a, origin, err)
	}
	editor, err := o.registry.Editor(req.Provider)
	if err != nil {
		return o.reject(a, origin, err)
	}

	o.launch(ctx, a, origin, editor.EditPaymentData)
	return a
}

func (o *Orchestrator) checkSupported(p payment.Provider) error {
	if !o.cfg.Supported.Contains(p) {
		return fmt.Errorf("%q: %w", p, domainErrors.ErrProviderNotSupported)
	}
	return nil
}

func originOrDefault(origin, def string) string {
	if origin == "" {
		return def
	}
	return origin
}

// reject completes a on the caller's goroutine.
func (o *Orchestrator) reject(a *payment.Attempt, origin string, err error) *payment.Attempt {
	logger := o.attemptLogger(a)
	logger.Warn().Err(err).Msg("attempt rejected before dispatch")

	o.sessions.add(&liveAttempt{attempt: a, host: ui.NewRecorder(origin)})
	o.finish(a, payment.Failed(err), logger)
	o.wg.Go(func() { o.persist(a, logger) })
	return a
}

type runFunc func(ctx context.Context, s *providers.Session) providers.Result

func (o *Orchestrator) launch(ctx context.Context, a *payment.Attempt, origin string, run runFunc) {
	logger := o.attemptLogger(a)

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.attemptTimeout())
	stopAfter := context.AfterFunc(o.root, cancel)
	actx = apiclient.WithAccessToken(actx, a.Customer.AccessToken)

	host := ui.NewRecorder(origin)
	opts := []providers.SessionOption{
		providers.WithLogger(logger),
		providers.WithObserver(o.observeEvent),
		providers.WithBuffer(o.cfg.EventBuffer),
		providers.WithOriginScreen(origin),
	}
	if o.flags != nil {
		opts = append(opts, providers.WithFlags(o.flags))
	}
	s := providers.NewSession(a, ui.Dispatched(host, o.dispatcher), opts...)

	o.sessions.add(&liveAttempt{attempt: a, session: s, host: host})
	if err := a.TransitionTo(payment.StateAwaitingProviderResult); err != nil {
		logger.Error().Err(err).Msg("attempt could not be dispatched")
	}
	o.metrics.ActiveAttempts.Inc()
	logger.Info().Str("kind", string(a.Kind)).Msg("attempt dispatched")

	o.wg.Go(func() {
		defer o.metrics.ActiveAttempts.Dec()
		defer stopAfter()
		defer cancel()

		out := o.drive(actx, a, s, run, logger)
		o.finish(a, out, logger)
		o.persist(a, logger)
	})
}

func (o *Orchestrator) attemptTimeout() time.Duration {
	if o.cfg.AttemptTimeout <= 0 {
		return 30 * time.Minute
	}
	return o.cfg.AttemptTimeout
}

func (o *Orchestrator) attemptLogger(a *payment.Attempt) zerolog.Logger {
	return observability.ForAttempt(o.logger, a.ID.String(), string(a.Provider), a.Intent.OrderID)
}

func (o *Orchestrator) observeEvent(p payment.Provider, ev providers.Event, ignored bool) {
	name := ev.Name
	if !providers.IsKnownEvent(name) {
		name = otherEventLabel
	}
	if ignored {
		o.metrics.IgnoredEvents.WithLabelValues(string(p), name).Inc()
		return
	}
	o.metrics.ProviderEvents.WithLabelValues(string(p), name).Inc()
}

// drive runs the adapter and turns its result into the attempt's outcome.
func (o *Orchestrator) drive(ctx context.Context, a *payment.Attempt, s *providers.Session, run runFunc, logger zerolog.Logger) (out payment.Outcome) {
	ctx, span := o.tracer.Start(ctx, "payment."+string(a.Kind), trace.WithAttributes(
		attribute.String("attempt.id", a.ID.String()),
		attribute.String("payment.provider", string(a.Provider)),
	))
	defer func() {
		if out.Err != nil {
			span.SetStatus(codes.Error, out.Err.Error())
		}
		span.SetAttributes(attribute.String("payment.outcome", string(out.Kind)))
		span.End()
	}()
	defer func() {
		if r := recover(); r != nil {
			s.Close()
			logger.Error().Interface("panic", r).Msg("provider adapter panicked")
			out = payment.Failed(fmt.Errorf("%w: adapter panic: %v", domainErrors.ErrProviderRejected, r))
		}
	}()

	res := run(ctx, s)
	s.Close()
	return o.settle(ctx, a, res, logger)
}

func (o *Orchestrator) settle(ctx context.Context, a *payment.Attempt, res providers.Result, logger zerolog.Logger) payment.Outcome {
	edit := a.Kind == payment.KindEdit

	switch res.Kind {
	case providers.ResultAccepted:
		if edit {
			return payment.Failed(fmt.Errorf("%w: provider accepted a payment during an edit", domainErrors.ErrEditFailed))
		}
		return o.confirm(ctx, a, res, logger)
	case providers.ResultEdited:
		if !edit || res.Edit == nil {
			return payment.Failed(fmt.Errorf("%w: unexpected edit result", domainErrors.ErrProviderRejected))
		}
		return payment.Edited(*res.Edit)
	case providers.ResultCancelled:
		if edit {
			return payment.Failed(fmt.Errorf("%w: %w", domainErrors.ErrEditFailed, res.Err))
		}
		return payment.Cancelled(res.Err)
	case providers.ResultNotStarted:
		return payment.NotStarted()
	default:
		if res.Err == nil {
			return payment.Failed(domainErrors.ErrProviderRejected)
		}
		return payment.Failed(res.Err)
	}
}

// confirm turns an accepted payment into a ticket. OnStarted fires before
// the first confirm call; calls never overlap.
func (o *Orchestrator) confirm(ctx context.Context, a *payment.Attempt, res providers.Result, logger zerolog.Logger) payment.Outcome {
	if err := a.MarkAccepted(res.TransactionID); err != nil {
		return payment.Failed(err)
	}

	intent := a.Intent
	if res.OrderID != "" {
		intent.OrderID = res.OrderID
	}
	req, err := payment.NewConfirmationRequest(a.Provider, intent, res.TransactionID)
	if err != nil {
		return payment.Failed(err)
	}

	endpoint := ""
	if o.cfg.ConfirmationURL != nil {
		endpoint = o.cfg.ConfirmationURL(a.Provider)
	}
	if endpoint == "" {
		return payment.Failed(fmt.Errorf("confirmation endpoint for %s: %w", a.Provider, domainErrors.ErrMissingConfiguration))
	}

	if o.locker != nil {
		unlock, err := o.locker.Lock(ctx, req.OrderID)
		if err != nil {
			return payment.Failed(fmt.Errorf("lock order %s: %w", req.OrderID, err))
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				logger.Warn().Err(err).Msg("failed to release confirmation lock")
			}
		}()
	}

	a.MarkStarted()
	logger.Info().Str("transaction_id", req.TransactionID).Msg("confirming order")

	ctx, span := o.tracer.Start(ctx, "confirmation.confirm", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
	))
	defer span.End()

	start := time.Now()
	ticketID, err := o.coordinator.Run(ctx, func(ctx context.Context) (int, error) {
		id, err := o.confirmer.Confirm(ctx, endpoint, req)
		o.metrics.ConfirmationCalls.WithLabelValues(callResult(err)).Inc()
		return id, err
	})
	o.metrics.ConfirmationDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, domainErrors.ErrNotStarted) {
			logger.Warn().Err(err).Msg("confirmation was not started")
			return payment.NotStarted()
		}
		logger.Error().Err(err).Msg("order confirmation failed")
		return payment.Failed(err)
	}

	span.SetAttributes(attribute.Int("ticket.id", ticketID))
	return payment.Confirmed(ticketID)
}

func callResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domainErrors.ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, domainErrors.ErrNotStarted):
		return "not_started"
	case errors.Is(err, domainErrors.ErrTransport):
		return "transport"
	default:
		return "error"
	}
}

// finish records the outcome, which fires the caller's handler.
func (o *Orchestrator) finish(a *payment.Attempt, out payment.Outcome, logger zerolog.Logger) {
	if err := a.Complete(out); err != nil {
		logger.Error().Err(err).Str("outcome", out.String()).Msg("attempt already completed")
		return
	}
	now := time.Now()
	o.sessions.markDone(a.ID, now)
	o.metrics.AttemptsTotal.WithLabelValues(string(a.Provider), string(a.Kind), string(out.Kind)).Inc()
	o.metrics.AttemptDuration.WithLabelValues(string(a.Provider), string(a.Kind)).Observe(now.Sub(a.CreatedAt).Seconds())

	ev := logger.Info()
	if out.Err != nil {
		ev = logger.Warn().Err(out.Err)
	}
	ev.Str("outcome", string(out.Kind)).Int("ticket_id", out.TicketID).Msg("attempt completed")
}

func (o *Orchestrator) persist(a *payment.Attempt, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	snap := a.Snapshot()
	if o.cache != nil {
		if err := o.cache.Save(ctx, &snap); err != nil {
			logger.Warn().Err(err).Msg("failed to cache attempt snapshot")
		}
	}
	if o.publisher != nil {
		if err := o.publisher.PublishOutcome(ctx, &snap); err != nil {
			logger.Error().Err(err).Msg("failed to publish attempt outcome")
		}
	}
}

// DeliverEvent forwards a provider event to a running attempt.
func (o *Orchestrator) DeliverEvent(ctx context.Context, id uuid.UUID, ev providers.Event) error {
	la, ok := o.sessions.get(id)
	if !ok {
		return domainErrors.ErrAttemptNotFound
	}
	if la.attempt.IsTerminal() || la.session == nil {
		return domainErrors.ErrSessionClosed
	}
	return la.session.Deliver(ctx, ev)
}

// Get returns an attempt from memory, then the snapshot store, then the archive.
func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (*AttemptView, error) {
	if la, ok := o.sessions.get(id); ok {
		return &AttemptView{
			Snapshot: la.attempt.Snapshot(),
			Commands: la.host.Commands(),
			Live:     true,
		}, nil
	}

	for _, repo := range []payment.Repository{o.cache, o.archive} {
		if repo == nil {
			continue
		}
		snap, err := repo.GetByID(ctx, id)
		if err == nil {
			return &AttemptView{Snapshot: *snap}, nil
		}
		if !errors.Is(err, domainErrors.ErrAttemptNotFound) {
			o.logger.Warn().Err(err).Str("attempt_id", id.String()).Msg("attempt lookup failed")
		}
	}
	return nil, domainErrors.ErrAttemptNotFound
}

// ListOrderAttempts returns the attempts made for one order, newest first.
func (o *Orchestrator) ListOrderAttempts(ctx context.Context, orderID string) ([]*payment.Snapshot, error) {
	var lastErr error
	for _, repo := range []payment.Repository{o.archive, o.cache} {
		if repo == nil {
			continue
		}
		snaps, err := repo.ListByOrderID(ctx, orderID)
		if err != nil {
			lastErr = fmt.Errorf("list attempts for order %s: %w", orderID, err)
			continue
		}
		if len(snaps) > 0 {
			return snaps, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return []*payment.Snapshot{}, nil
}

// Providers lists the providers this orchestrator accepts.
func (o *Orchestrator) Providers() []payment.Provider {
	var out []payment.Provider
	for _, p := range o.registry.Providers() {
		if o.cfg.Supported.Contains(p) {
			out = append(out, p)
		}
	}
	return out
}

// ActiveSessions reports how many attempts the registry holds.
func (o *Orchestrator) ActiveSessions() int {
	return o.sessions.Len()
}
