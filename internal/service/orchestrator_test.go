package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/mobilbillet/payments/internal/domain/errors"
	"github.com/mobilbillet/payments/internal/domain/payment"
	"github.com/mobilbillet/payments/internal/infrastructure/apiclient"
	"github.com/mobilbillet/payments/internal/infrastructure/observability"
	"github.com/mobilbillet/payments/internal/providers"
	"github.com/mobilbillet/payments/internal/service"
	"github.com/mobilbillet/payments/internal/testutil"
	"github.com/mobilbillet/payments/internal/ui"
	"github.com/mobilbillet/payments/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const confirmURL = "https://api.example.com/orders/confirm"

// --- Test Helpers ---

type harness struct {
	orch      *service.Orchestrator
	dibs      *testutil.SpyAdapter
	wallet    *testutil.SpyAdapter
	confirmer *testutil.SpyConfirmer
	locker    *testutil.MockLocker
	publisher *testutil.MockOutcomePublisher
	cache     *testutil.MockAttemptRepository
	archive   *testutil.MockAttemptRepository
	metrics   *observability.Metrics
}

type harnessOpts struct {
	supported  []payment.Provider
	confirmURL string
	registry   *providers.Registry
}

func newHarness(t *testing.T, mutate ...func(*harnessOpts)) *harness {
	t.Helper()

	h := &harness{
		dibs:      testutil.NewSpyAdapter(payment.ProviderDIBS),
		wallet:    testutil.NewSpyAdapter(payment.ProviderMobilePay),
		confirmer: testutil.NewSpyConfirmer(),
		locker:    testutil.NewMockLocker(),
		publisher: testutil.NewMockOutcomePublisher(),
		cache:     testutil.NewMockAttemptRepository(),
		archive:   testutil.NewMockAttemptRepository(),
		metrics:   observability.NewMetrics("test", prometheus.NewRegistry()),
	}
	opts := harnessOpts{
		supported:  []payment.Provider{payment.ProviderDIBS, payment.ProviderMobilePay},
		confirmURL: confirmURL,
	}
	for _, m := range mutate {
		m(&opts)
	}
	registry := opts.registry
	if registry == nil {
		registry = providers.NewRegistry(h.dibs, h.wallet)
	}

	cfg := service.Config{
		Supported:       payment.NewProviderSet(opts.supported...),
		ConfirmationURL: func(payment.Provider) string { return opts.confirmURL },
		AttemptTimeout:  5 * time.Second,
		SessionTTL:      time.Minute,
		EventBuffer:     4,
		Retry: retry.Config{
			MaxAttempts:  4,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		},
	}
	h.orch = service.New(cfg, registry, h.confirmer, zerolog.Nop(),
		service.WithLocker(h.locker),
		service.WithPublisher(h.publisher),
		service.WithSnapshotStore(h.cache),
		service.WithArchive(h.archive),
		service.WithFlags(testutil.NewMockFlagStore()),
		service.WithMetrics(h.metrics),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("orchestrator did not stop")
		}
	})
	return h
}

// calls records every handler invocation in order.
type calls struct {
	mu       sync.Mutex
	events   []string
	ticketID int
	err      error
	edit     payment.EditResult
	terminal chan struct{}
}

func newCalls() *calls {
	return &calls{terminal: make(chan struct{}, 4)}
}

func (c *calls) record(name string, terminal bool) {
	c.mu.Lock()
	c.events = append(c.events, name)
	c.mu.Unlock()
	if terminal {
		c.terminal <- struct{}{}
	}
}

func (c *calls) handlers(withNotStarted bool) payment.Handlers {
	h := payment.Handlers{
		OnStarted: func() { c.record("started", false) },
		OnConfirmed: func(id int) {
			c.mu.Lock()
			c.ticketID = id
			c.mu.Unlock()
			c.record("confirmed", true)
		},
		OnEdited: func(res payment.EditResult) {
			c.mu.Lock()
			c.edit = res
			c.mu.Unlock()
			c.record("edited", true)
		},
		OnFailed: func(err error) {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			c.record("failed", true)
		},
	}
	if withNotStarted {
		h.OnNotStarted = func() { c.record("not_started", true) }
	}
	return h
}

func (c *calls) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.terminal:
	case <-time.After(3 * time.Second):
		t.Fatal("no terminal handler fired")
	}
	// a second terminal handler would be a bug; give it a chance to show up
	time.Sleep(10 * time.Millisecond)
}

func (c *calls) snapshot() ([]string, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	copy(out, c.events)
	return out, c.ticketID, c.err
}

func purchase(provider payment.Provider, orderID string) service.PurchaseRequest {
	return service.PurchaseRequest{
		Provider: provider,
		Intent:   testutil.NewTestIntent(orderID, 2400),
		Customer: testutil.NewTestCustomer("cust-1"),
	}
}

func accept(tx string) providers.Event {
	return providers.Event{
		Name:   providers.EventPaymentAccepted,
		Params: []providers.Param{{Key: "transact", Value: tx}},
	}
}

func deliver(t *testing.T, h *harness, id uuid.UUID, ev providers.Event) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.orch.DeliverEvent(context.Background(), id, ev) == nil
	}, time.Second, 5*time.Millisecond)
}

// --- MakePayment Tests ---

func TestMakePayment_ConfirmsAcceptedPayment(t *testing.T) {
	h := newHarness(t)
	c := newCalls()

	a := h.orch.MakePayment(context.Background(), purchase(payment.ProviderDIBS, "order-1"), c.handlers(true))
	deliver(t, h, a.ID, accept("tx-1"))
	c.wait(t)

	events, ticketID, _ := c.snapshot()
	assert.Equal(t, []string{"started", "confirmed"}, events)
	assert.Equal(t, 1, ticketID)
	assert.Equal(t, payment.StateConfirmed, a.State())

	reqs := h.confirmer.Calls()
	require.Len(t, reqs, 1)
	assert.Equal(t, payment.ConfirmationRequest{TransactionID: "tx-1", OrderID: "order-1", AddToFavorites: true}, reqs[0])
	assert.Equal(t, []string{"order-1"}, h.locker.Locked())
	assert.False(t, h.locker.Held("order-1"))

	require.Eventually(t, func() bool { return len(h.publisher.Published()) == 1 }, time.Second, 5*time.Millisecond)
	published := h.publisher.Published()[0]
	assert.Equal(t, a.ID, published.ID)
	assert.Equal(t, payment.OutcomeConfirmed, published.Outcome)
	assert.Equal(t, "tx-1", published.TransactionID)
	assert.Equal(t, 1, h.cache.Saves())

	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.AttemptsTotal.WithLabelValues("dibs", "purchase", "confirmed")))
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.ProviderEvents.WithLabelValues("dibs", providers.EventPaymentAccepted)))
}

func TestMakePayment_UnsupportedProviderFailsSynchronously(t *testing.T) {
	h := newHarness(t, func(o *harnessOpts) { o.supported = []payment.Provider{payment.ProviderMobilePay} })
	c := newCalls()

	a := h.orch.MakePayment(context.Background(), purchase(payment.ProviderDIBS, "order-1"), c.handlers(true))

	// the handler has already fired when MakePayment returns
	events, _, err := c.snapshot()
	assert.Equal(t, []string{"failed"}, events)
	assert.ErrorIs(t, err, domainErrors.ErrProviderNotSupported)
	assert.True(t, domainErrors.IsConfiguration(err))
	assert.Equal(t, payment.StateProviderError, a.State())
	assert.Equal(t, 0, h.dibs.PayCalls())
	assert.Empty(t, h.confirmer.Calls())
}

func TestMakePayment_InvalidIntentFailsSynchronously(t *testing.T) {
	h := newHarness(t)
	c := newCalls()

	req := purchase(payment.ProviderDIBS, "order-1")
	req.Intent.Price = 0
	h.orch.MakePayment(context.Background(), req, c.handlers(true))

	events, _, err := c.snapshot()
	assert.Equal(t, []string{"failed"}, events)
	var verr *domainErrors.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, h.dibs.PayCalls())
}

func TestMakePayment_StartedFiresBeforeConfirmation(t *testing.T) {
	h := newHarness(t)
	c := newCalls()

	var seenAtConfirm []string
	h.confirmer.ConfirmFunc = func(ctx context.Context, endpoint string, req payment.ConfirmationRequest) (int, error) {
		seenAtConfirm, _, _ = c.snapshot()
		assert.Equal(t, confirmURL, endpoint)
		return 31, nil
	}

	a := h.orch.MakePayment(context.Background(), purchase(payment.ProviderDIBS, "order-1"), c.handlers(true))
	deliver(t, h, a.ID, accept("tx-1"))
	c.wait(t)

	assert.Equal(t, []string{"started"}, seenAtConfirm)
	_, ticketID, _ := c.snapshot()
	assert.Equal(t, 31, ticketID)
}

func TestMakePayment_RetriesTransportFailures(t *testing.T) {
	h := newHarness(t)
	c := newCalls()

	var mu sync.Mutex
	n := 0
	h.confirmer.ConfirmFunc = func(ctx context.Context, endpoint string, req payment.ConfirmationRequest) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		if n <= 2 {
			return 0, fmt.Errorf("%w: connection reset", domainErrors.ErrTransport)
		}
		return 77, nil
	}

	a := h.orch.MakePayment(context.Background(), purchase(payment.ProviderDIBS, "order-1"), c.handlers(true))
	deliver(t, h, a.ID, accept("tx-1"))
	c.wait(t)

	events, ticketID, _ := c.snapshot()
	assert.Equal(t, []string{"started", "confirmed"}, events)
	assert.Equal(t, 77, ticketID)
	assert.Len(t, h.confirmer.Calls(), 3)
	assert.Equal(t, 1, h.confirmer.Peak())
	assert.Equal(t, 2.0, promtest.ToFloat64(h.metrics.ConfirmationRetries))
}

func TestMakePayment_ConfirmationFailures(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
		wantState payment.State
	}{
		{"transport failures exhaust attempts", domainErrors.ErrTransport, 4, payment.StateConfirmFailed},
		{"rejected request is not retried", domainErrors.ErrRequestRejected, 1, payment.StateConfirmFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			c := newCalls()
			h.confirmer.ConfirmFunc = func(ctx context.Context, endpoint string, req payment.ConfirmationRequest) (int, error) {
				return 0, tt.err
			}

			a := h.orch.MakePayment(context.Background(), purchase(payment.ProviderDIBS, "order-1"), c.handlers(true))
			deliver(t, h, a.ID, accept("tx-1"))
			c.wait(t)

			events, _, err := c.snapshot()
			assert.Equal(t, []string{"started", "failed"}, events)
			assert.ErrorIs(t, err, tt.err)
			assert.Len(t, h.confirmer.Calls(), tt.wantCalls)
			assert.Equal(t, tt.wantState, a.State())
		})
	}
}

func TestMakePayment_MalformedResponseIsSoftSuccess(t *testing.T) {
	h := newHarness(t)
	c := newCalls()
	h.confirmer.ConfirmFunc = func(ctx context.Context, endpoint string, req payment.ConfirmationRequest) (int, error) {
		return 0, fmt.Errorf("%w: productId missing", domainErrors.ErrMalformedResponse)
	}

	a := h.orch.MakePayment(context.Background(), purchase(payment.ProviderDIBS, "order-1"), c.handlers(true))
	deliver(t, h, a.ID, accept("tx-1"))
	c.wait(t)

	events, ticketID, _ := c.snapshot()
	assert.Equal(t, []string{"started", "confirmed"}, events)
	assert.Equal(t, payment.UnknownTicketID, ticketID)
	assert.Len(t, h.confirmer.Calls(), 1)
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.SoftSuccesses))
}

func TestMakePayment_CancelNeverConfirms(t *testing.T) {
	h := newHarness(t)
	c := newCalls()
	h.dibs.MakePaymentFunc = func(ctx context.Context, s *providers.Session) providers.Result {
		return providers.Cancelled(nil)
	}

	a := h.orch.MakePayment(context.Background(), purchase(payment.ProviderDIBS, "order-1"), c.handlers(true))
	c.wait(t)

	events, _, err := c.snapshot()
	assert.Equal(t, []string{"failed"}, events)
	assert.ErrorIs(t, err, domainErrors.ErrUserCancelled)
	assert.Equal(t, payment.StateCancelled, a.State())
	assert.Empty(t, h.confirmer.Calls())
	assert.Empty(t, h.locker.Locked())
}

func TestMakePayment_NotStarted(t *testing.T) {
	tests := []struct {
		name           string
		withNotStarted bool
		wantEvents     []string
	}{
		{"not-started handler", true, []string{"started", "not_started"}},
		{"falls back to failure handler", false, []string{"started", "failed"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			c := newCalls()
			h.confirmer.ConfirmFunc = func(ctx context.Context, endpoint string, req payment.ConfirmationRequest) (int, error) {
				return 0, fmt.Errorf("circuit open: %w", domainErrors.ErrNotStarted)
			}

			a := h.orch.MakePayment(context.Background(), purchase(payment.ProviderDIBS, "order-1"), c.handlers(tt.withNotStarted))
			deliver(t, h, a.ID, accept("tx-1"))
			c.wait(t)

			events, _, err := c.snapshot()
			assert.Equal(t, tt.wantEvents, events)
			if !tt.withNotStarted {
				assert.ErrorIs(t, err, domainErrors.ErrNotStarted)
			}
			assert.Equal(t, payment.StateNotStarted, a.State())
			assert.Len(t, h.confirmer.Calls(), 1)
		})
	}
}

func TestMakePayment_AdapterNotStartedSkipsConfirmation(t *testing.T) {
	h := newHarness(t)
	c := newCalls()
	h.dibs.MakePaymentFunc = func(ctx context.Context, s *providers.Session) providers.Result {
		return providers.FromCallError(domainErrors.ErrNotStarted)
	}

	a := h.orch.MakePayment(context.Background(), purchase(payment.ProviderDIBS, "order-1"), c.handlers(true))
	c.wait(t)

	events, _, _ := c.snapshot()
	assert.Equal(t, []string{"not_started"}, events)
	assert.Equal(t, payment.StateNotStarted, a.State())
	assert.Empty(t, h.confirmer.Calls())
}

func TestMakePayment_AdapterPanicFails(t *testing.T) {
	h := newHarness(t)
	c := newCalls()
	h.dibs.MakePaymentFunc = func(ctx context.Context, s *providers.Session) providers.Result {
		panic("sdk exploded")
	}

	a := h.orch.MakePayment(context.Background(), purchase(payment.ProviderDIBS, "order-1"), c.handlers(true))
	c.wait(t)

	events, _, err := c.snapshot()
	assert.Equal(t, []string{"failed"}, events)
	assert.ErrorIs(t, err, domainErrors.ErrProviderRejected)
	assert.Equal(t, payment.StateProviderError, a.State())
}

func TestMakePayment_WalletOrderIDOverridesIntent(t *testing.T) {
	h := newHarness(t)
	c := newCalls()
	h.wallet.MakePaymentFunc = func(ctx context.Context, s *providers.Session) providers.Result {
		assert.Equal(t, "access-cust-1", apiclient.AccessToken(ctx))
		return providers.AcceptedForOrder("order-from-wallet", "")
	}

	h.orch.MakePayment(context.Background(), purchase(payment.ProviderMobilePay, "order-1"), c.handlers(true))
	c.wait(t)

	reqs := h.confirmer.Calls()
	require.Len(t, reqs, 1)
	assert.Equal(t, "order-from-wallet", reqs[0].OrderID)
	assert.Empty(t, reqs[0].TransactionID)
	assert.True(t, reqs[0].AddToFavorites)
}

func TestMakePayment_ConfirmationPreconditions(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *harnessOpts)
		prepare func(h *harness)
		wantErr error
	}{
		{
			name:    "missing confirmation endpoint",
			mutate:  func(o *harnessOpts) { o.confirmURL = "" },
			wantErr: domainErrors.ErrMissingConfiguration,
		},
		{
			name: "order already being confirmed",
			prepare: func(h *harness) {
				_, err := h.locker.Lock(context.Background(), "order-1")
				require.NoError(t, err)
			},
			wantErr: domainErrors.ErrLockAcquisitionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mutators []func(*harnessOpts)
			if tt.mutate != nil {
				mutators = append(mutators, tt.mutate)
			}
			h := newHarness(t, mutators...)
			if tt.prepare != nil {
				tt.prepare(h)
			}
			c := newCalls()

			a := h.orch.MakePayment(context.Background(), purchase(payment.ProviderDIBS, "order-1"), c.handlers(true))
			deliver(t, h, a.ID, accept("tx-1"))
			c.wait(t)

			events, _, err := c.snapshot()
			assert.Equal(t, []string{"failed"}, events)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, payment.StateConfirmFailed, a.State())
			assert.Empty(t, h.confirmer.Calls())
		})
	}
}

func TestMakePayment_AttemptsAreIsolated(t *testing.T) {
	h := newHarness(t)
	c1, c2 := newCalls(), newCalls()

	a1 := h.orch.MakePayment(context.Background(), purchase(payment.ProviderDIBS, "order-1"), c1.handlers(true))
	a2 := h.orch.MakePayment(context.Background(), purchase(payment.ProviderDIBS, "order-2"), c2.handlers(true))
	deliver(t, h, a2.ID, accept("tx-2"))
	deliver(t, h, a1.ID, accept("tx-1"))
	c1.wait(t)
	c2.wait(t)

	byOrder := map[string]string{}
	for _, r := range h.confirmer.Calls() {
		byOrder[r.OrderID] = r.TransactionID
	}
	assert.Equal(t, map[string]string{"order-1": "tx-1", "order-2": "tx-2"}, byOrder)
}

func TestMakePayment_RecordsUICommands(t *testing.T) {
	h := newHarness(t)
	c := newCalls()
	h.dibs.MakePaymentFunc = func(ctx context.Context, s *providers.Session) providers.Result {
		s.UI.Push(ui.ScreenDIBSPayment, map[string]string{"orderid": "order-1"})
		assert.Equal(t, ui.ScreenPurchaseMenu, s.UI.PreviousScreen())
		s.UI.Pop(1)
		return providers.Accepted("tx-1")
	}

	a := h.orch.MakePayment(context.Background(), purchase(payment.ProviderDIBS, "order-1"), c.handlers(true))
	c.wait(t)

	var view *service.AttemptView
	require.Eventually(t, func() bool {
		v, err := h.orch.Get(context.Background(), a.ID)
		if err != nil {
			return false
		}
		view = v
		return len(v.Commands) == 2
	}, time.Second, 5*time.Millisecond)
	assert.True(t, view.Live)
	assert.Equal(t, payment.StateConfirmed, view.Snapshot.State)
	require.Len(t, view.Commands, 2)
	assert.Equal(t, ui.CommandPush, view.Commands[0].Kind)
	assert.Equal(t, ui.ScreenDIBSPayment, view.Commands[0].Screen)
	assert.Equal(t, ui.CommandPop, view.Commands[1].Kind)
}

// --- EditPaymentData Tests ---

type payOnly struct{}

func (payOnly) Provider() payment.Provider { return payment.ProviderDIBS }

func (payOnly) MakePayment(ctx context.Context, s *providers.Session) providers.Result {
	return providers.Failed(errors.New("unused"))
}

func TestEditPaymentData_Edited(t *testing.T) {
	h := newHarness(t)
	c := newCalls()
	h.dibs.EditPaymentDataFunc = func(ctx context.Context, s *providers.Session) providers.Result {
		assert.True(t, s.IsEdit())
		assert.Equal(t, ui.ScreenEditProfile, s.OriginScreen)
		return providers.Edited(payment.EditResult{SubscriptionID: 9001, CardNumber: "XXXX1234"})
	}

	a := h.orch.EditPaymentData(context.Background(), service.EditRequest{
		Provider: payment.ProviderDIBS,
		Customer: testutil.NewTestCustomer("cust-1"),
	}, c.handlers(true))
	c.wait(t)

	events, _, _ := c.snapshot()
	assert.Equal(t, []string{"edited"}, events)
	assert.Equal(t, payment.EditResult{SubscriptionID: 9001, CardNumber: "XXXX1234"}, c.edit)
	assert.Equal(t, payment.StateEdited, a.State())
	assert.Empty(t, h.confirmer.Calls())
}

func TestEditPaymentData_Failures(t *testing.T) {
	tests := []struct {
		name     string
		registry *providers.Registry
		result   providers.Result
		wantErr  error
	}{
		{
			name:    "cancel is an edit failure",
			result:  providers.Cancelled(nil),
			wantErr: domainErrors.ErrEditFailed,
		},
		{
			name:    "accepted payment during edit",
			result:  providers.Accepted("tx-1"),
			wantErr: domainErrors.ErrEditFailed,
		},
		{
			name:     "adapter without edit support",
			registry: providers.NewRegistry(payOnly{}),
			wantErr:  domainErrors.ErrEditNotSupported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mutators []func(*harnessOpts)
			if tt.registry != nil {
				mutators = append(mutators, func(o *harnessOpts) { o.registry = tt.registry })
			}
			h := newHarness(t, mutators...)
			c := newCalls()
			h.dibs.EditPaymentDataFunc = func(ctx context.Context, s *providers.Session) providers.Result {
				return tt.result
			}

			h.orch.EditPaymentData(context.Background(), service.EditRequest{
				Provider: payment.ProviderDIBS,
				Customer: testutil.NewTestCustomer("cust-1"),
			}, c.handlers(true))
			c.wait(t)

			events, _, err := c.snapshot()
			assert.Equal(t, []string{"failed"}, events)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, h.confirmer.Calls())
		})
	}
}

// --- Event Delivery Tests ---

func TestDeliverEvent_Errors(t *testing.T) {
	h := newHarness(t)

	err := h.orch.DeliverEvent(context.Background(), uuid.New(), accept("tx-1"))
	assert.ErrorIs(t, err, domainErrors.ErrAttemptNotFound)

	c := newCalls()
	a := h.orch.MakePayment(context.Background(), purchase(payment.ProviderDIBS, "order-1"), c.handlers(true))
	deliver(t, h, a.ID, accept("tx-1"))
	c.wait(t)

	err = h.orch.DeliverEvent(context.Background(), a.ID, accept("tx-again"))
	assert.ErrorIs(t, err, domainErrors.ErrSessionClosed)
	assert.Len(t, h.confirmer.Calls(), 1)
}

func TestDeliverEvent_UnknownEventNameUsesOtherLabel(t *testing.T) {
	h := newHarness(t)
	c := newCalls()
	h.dibs.MakePaymentFunc = func(ctx context.Context, s *providers.Session) providers.Result {
		ev, err := s.Next(ctx)
		if err != nil {
			return providers.Interrupted(err)
		}
		s.Ignore(ev, "test")
		return providers.Cancelled(nil)
	}

	a := h.orch.MakePayment(context.Background(), purchase(payment.ProviderDIBS, "order-1"), c.handlers(true))
	deliver(t, h, a.ID, providers.Event{Name: "surprise"})
	c.wait(t)

	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.ProviderEvents.WithLabelValues("dibs", "other")))
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.IgnoredEvents.WithLabelValues("dibs", "other")))
}

// --- Lookup Tests ---

func TestGet_FallsBackToStores(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cached := &payment.Snapshot{ID: uuid.New(), OrderID: "order-c", State: payment.StateConfirmed, CreatedAt: time.Now()}
	archived := &payment.Snapshot{ID: uuid.New(), OrderID: "order-a", State: payment.StateCancelled, CreatedAt: time.Now()}
	require.NoError(t, h.cache.Save(ctx, cached))
	require.NoError(t, h.archive.Save(ctx, archived))

	view, err := h.orch.Get(ctx, cached.ID)
	require.NoError(t, err)
	assert.False(t, view.Live)
	assert.Equal(t, "order-c", view.Snapshot.OrderID)

	view, err = h.orch.Get(ctx, archived.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StateCancelled, view.Snapshot.State)

	_, err = h.orch.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, domainErrors.ErrAttemptNotFound)
}

func TestGet_StoreErrorFallsThrough(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.cache.GetByIDFunc = func(ctx context.Context, id uuid.UUID) (*payment.Snapshot, error) {
		return nil, errors.New("redis down")
	}
	archived := &payment.Snapshot{ID: uuid.New(), OrderID: "order-a", CreatedAt: time.Now()}
	require.NoError(t, h.archive.Save(ctx, archived))

	view, err := h.orch.Get(ctx, archived.ID)
	require.NoError(t, err)
	assert.Equal(t, "order-a", view.Snapshot.OrderID)
}

func TestListOrderAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	older := &payment.Snapshot{ID: uuid.New(), OrderID: "order-1", CreatedAt: time.Now().Add(-time.Minute)}
	newer := &payment.Snapshot{ID: uuid.New(), OrderID: "order-1", CreatedAt: time.Now()}
	require.NoError(t, h.cache.Save(ctx, older))
	require.NoError(t, h.cache.Save(ctx, newer))

	snaps, err := h.orch.ListOrderAttempts(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, newer.ID, snaps[0].ID)

	require.NoError(t, h.archive.Save(ctx, older))
	snaps, err = h.orch.ListOrderAttempts(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, older.ID, snaps[0].ID)

	snaps, err = h.orch.ListOrderAttempts(ctx, "order-unknown")
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestProviders_IntersectsRegistryAndConfiguration(t *testing.T) {
	h := newHarness(t, func(o *harnessOpts) {
		o.supported = []payment.Provider{payment.ProviderMobilePay, payment.ProviderEpay}
	})

	assert.Equal(t, []payment.Provider{payment.ProviderMobilePay}, h.orch.Providers())
}

// --- Lifecycle Tests ---

func TestRun_ShutdownInterruptsAttempts(t *testing.T) {
	h := newHarness(t)
	c := newCalls()

	ctx, cancel := context.WithCancel(context.Background())
	orch := service.New(service.Config{
		Supported:       payment.NewProviderSet(payment.ProviderDIBS),
		ConfirmationURL: func(payment.Provider) string { return confirmURL },
		Retry:           retry.Config{MaxAttempts: 1},
	}, providers.NewRegistry(h.dibs), h.confirmer, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	orch.MakePayment(context.Background(), purchase(payment.ProviderDIBS, "order-1"), c.handlers(true))
	require.Eventually(t, func() bool { return h.dibs.PayCalls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return")
	}
	c.wait(t)

	events, _, err := c.snapshot()
	assert.Equal(t, []string{"failed"}, events)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.confirmer.Calls())
}
