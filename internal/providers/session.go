package providers

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/mobilbillet/payments/internal/domain/errors"
	"github.com/mobilbillet/payments/internal/domain/payment"
	"github.com/mobilbillet/payments/internal/ui"
	"github.com/rs/zerolog"
)

// FlagStore persists installation-scoped booleans.
type FlagStore interface {
	Get(ctx context.Context, scope, name string) (bool, error)
	Set(ctx context.Context, scope, name string, value bool) error
}

// CVCPromptShownFlag records that the one-time CVC hint was displayed.
const CVCPromptShownFlag = "hasEnterCVCPromptShown"

const (
	CVCPromptTitle   = "Enter CVC"
	CVCPromptMessage = "Remember to enter the CVC code from the back of your card."
)

// EventObserver is told about every event a session sees.
type EventObserver func(provider payment.Provider, ev Event, ignored bool)

// Session is the context of one attempt: its inputs, its UI host and the
// channel provider events arrive on. It is owned by the orchestrator and
// never shared between attempts.
type Session struct {
	AttemptID    uuid.UUID
	Kind         payment.Kind
	Provider     payment.Provider
	Intent       payment.PurchaseIntent
	Customer     payment.Customer
	OriginScreen string
	UI           ui.Host
	Flags        FlagStore
	Logger       zerolog.Logger

	observe   EventObserver
	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once
}

type SessionOption func(*Session)

func WithFlags(f FlagStore) SessionOption {
	return func(s *Session) { s.Flags = f }
}

func WithLogger(l zerolog.Logger) SessionOption {
	return func(s *Session) { s.Logger = l }
}

func WithObserver(o EventObserver) SessionOption {
	return func(s *Session) { s.observe = o }
}

func WithBuffer(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.events = make(chan Event, n)
		}
	}
}

func WithOriginScreen(screen string) SessionOption {
	return func(s *Session) { s.OriginScreen = screen }
}

// NewSession builds a session for attempt a that drives host.
func NewSession(a *payment.Attempt, host ui.Host, opts ...SessionOption) *Session {
	s := &Session{
		AttemptID: a.ID,
		Kind:      a.Kind,
		Provider:  a.Provider,
		Intent:    a.Intent,
		Customer:  a.Customer,
		UI:        host,
		Logger:    zerolog.Nop(),
		events:    make(chan Event, 16),
		closed:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Deliver hands ev to the adapter. It fails with ErrSessionClosed once the
// attempt is over.
func (s *Session) Deliver(ctx context.Context, ev Event) error {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	select {
	case <-s.closed:
		return domainErrors.ErrSessionClosed
	default:
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.closed:
		return domainErrors.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next waits for the next provider event.
func (s *Session) Next(ctx context.Context) (Event, error) {
	select {
	case ev := <-s.events:
		s.Logger.Debug().Str("event", ev.Name).Int("code", ev.Code).Msg("provider event")
		if s.observe != nil {
			s.observe(s.Provider, ev, false)
		}
		return ev, nil
	case <-s.closed:
		return Event{}, domainErrors.ErrSessionClosed
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Ignore records an event the adapter deliberately drops.
func (s *Session) Ignore(ev Event, reason string) {
	s.Logger.Info().Str("event", ev.Name).Str("reason", reason).Msg("provider event ignored")
	if s.observe != nil {
		s.observe(s.Provider, ev, true)
	}
}

// Close ends the session. Pending and later deliveries fail.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *Session) Closed() <-chan struct{} {
	return s.closed
}

func (s *Session) IsEdit() bool {
	return s.Kind == payment.KindEdit
}

// ShowCVCPromptOnce shows the CVC hint unless this installation has seen it.
// The read and write are not atomic; a concurrent attempt may show it twice.
func (s *Session) ShowCVCPromptOnce(ctx context.Context, title, message string) {
	if s.Flags == nil {
		return
	}
	scope := s.Customer.FlagScope()
	shown, err := s.Flags.Get(ctx, scope, CVCPromptShownFlag)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("failed to read CVC prompt flag")
		return
	}
	if shown {
		return
	}
	if err := s.Flags.Set(ctx, scope, CVCPromptShownFlag, true); err != nil {
		s.Logger.Warn().Err(err).Msg("failed to persist CVC prompt flag")
	}
	s.UI.ShowAlert(title, message)
}
