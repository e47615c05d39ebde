package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mobilbillet/payments/internal/domain/errors"
)

// Kind distinguishes purchases from payment-method edits.
type Kind string

const (
	KindPurchase Kind = "purchase"
	KindEdit     Kind = "edit"
)

// State represents the attempt status in the state machine
type State string

const (
	StateIdle                   State = "idle"
	StateAwaitingProviderResult State = "awaiting_provider_result"
	StateAccepted               State = "accepted"
	StateConfirmPending         State = "confirm_pending"
	StateConfirmed              State = "confirmed"
	StateConfirmFailed          State = "confirm_failed"
	StateCancelled              State = "cancelled"
	StateProviderError          State = "provider_error"
	StateNotStarted             State = "not_started"
	StateEdited                 State = "edited"
)

var transitions = map[State][]State{
	StateIdle: {
		StateAwaitingProviderResult,
		StateProviderError, // configuration errors
		StateNotStarted,
	},
	StateAwaitingProviderResult: {
		StateAccepted,
		StateCancelled,
		StateProviderError,
		StateNotStarted,
		StateEdited,
	},
	StateAccepted: {
		StateConfirmPending,
		StateConfirmFailed,
	},
	StateConfirmPending: {
		StateConfirmed,
		StateConfirmFailed,
		StateNotStarted,
	},
	StateConfirmed:     {},
	StateConfirmFailed: {},
	StateCancelled:     {},
	StateProviderError: {},
	StateNotStarted:    {},
	StateEdited:        {},
}

// IsTerminal reports whether no further caller-visible events may follow s.
func (s State) IsTerminal() bool {
	allowed, ok := transitions[s]
	return ok && len(allowed) == 0
}

// Handlers are the caller-visible callbacks of one attempt. Exactly one of
// OnConfirmed, OnEdited, OnFailed or OnNotStarted fires. OnStarted fires at
// most once, before confirmation begins.
type Handlers struct {
	OnStarted    func()
	OnConfirmed  func(ticketID int)
	OnEdited     func(EditResult)
	OnFailed     func(error)
	OnNotStarted func()
}

// Attempt tracks one purchase or edit from dispatch to its terminal outcome.
type Attempt struct {
	ID        uuid.UUID
	Kind      Kind
	Provider  Provider
	Intent    PurchaseIntent
	Customer  Customer
	CreatedAt time.Time

	mu            sync.Mutex
	state         State
	transactionID string
	updatedAt     time.Time
	completedAt   *time.Time
	outcome       *Outcome
	handlers      Handlers
	started       bool
	done          chan struct{}
}

// NewAttempt creates an idle purchase attempt.
func NewAttempt(provider Provider, intent PurchaseIntent, customer Customer, h Handlers) *Attempt {
	return newAttempt(KindPurchase, provider, intent, customer, h)
}

// NewEditAttempt creates an idle payment-method edit attempt.
func NewEditAttempt(provider Provider, customer Customer, h Handlers) *Attempt {
	return newAttempt(KindEdit, provider, PurchaseIntent{}, customer, h)
}

func newAttempt(kind Kind, provider Provider, intent PurchaseIntent, customer Customer, h Handlers) *Attempt {
	now := time.Now()
	return &Attempt{
		ID:        uuid.New(),
		Kind:      kind,
		Provider:  provider,
		Intent:    intent,
		Customer:  customer,
		CreatedAt: now,
		state:     StateIdle,
		updatedAt: now,
		handlers:  h,
		done:      make(chan struct{}),
	}
}

// State returns the current state.
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// CanTransitionTo checks if the attempt can transition to the given state
func (a *Attempt) CanTransitionTo(next State) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return canTransition(a.state, next)
}

func canTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionTo moves the attempt to a non-terminal state. Terminal states are
// reached only through Complete so that handlers fire.
func (a *Attempt) TransitionTo(next State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if next.IsTerminal() {
		return invalidTransition(a.state, next)
	}
	if !canTransition(a.state, next) {
		return invalidTransition(a.state, next)
	}
	a.state = next
	a.updatedAt = time.Now()
	return nil
}

func invalidTransition(from, to State) error {
	return errors.NewDomainError(
		"invalid_transition",
		"cannot transition from "+string(from)+" to "+string(to),
		errors.ErrInvalidStateTransition,
	)
}

// MarkAccepted records the provider transaction id and moves to Accepted.
func (a *Attempt) MarkAccepted(transactionID string) error {
	if err := a.TransitionTo(StateAccepted); err != nil {
		return err
	}
	a.mu.Lock()
	a.transactionID = transactionID
	a.mu.Unlock()
	return nil
}

// MarkStarted fires OnStarted and moves to ConfirmPending. It reports false if
// the attempt was already started or cannot start confirming.
func (a *Attempt) MarkStarted() bool {
	a.mu.Lock()
	if a.started || !canTransition(a.state, StateConfirmPending) {
		a.mu.Unlock()
		return false
	}
	a.started = true
	a.state = StateConfirmPending
	a.updatedAt = time.Now()
	onStarted := a.handlers.OnStarted
	a.mu.Unlock()

	if onStarted != nil {
		onStarted()
	}
	return true
}

// Complete records the terminal outcome and fires exactly one handler.
// A second call returns ErrInvalidStateTransition and fires nothing.
func (a *Attempt) Complete(o Outcome) error {
	a.mu.Lock()
	if a.outcome != nil {
		a.mu.Unlock()
		return invalidTransition(a.state, terminalStateFor(a.state, o))
	}
	next := terminalStateFor(a.state, o)
	if !canTransition(a.state, next) {
		a.mu.Unlock()
		return invalidTransition(a.state, next)
	}
	now := time.Now()
	a.state = next
	a.updatedAt = now
	a.completedAt = &now
	a.outcome = &o
	h := a.handlers
	close(a.done)
	a.mu.Unlock()

	fire(h, o)
	return nil
}

func terminalStateFor(current State, o Outcome) State {
	switch o.Kind {
	case OutcomeConfirmed:
		return StateConfirmed
	case OutcomeEdited:
		return StateEdited
	case OutcomeCancelled:
		return StateCancelled
	case OutcomeNotStarted:
		return StateNotStarted
	}
	if current == StateAccepted || current == StateConfirmPending {
		return StateConfirmFailed
	}
	return StateProviderError
}

func fire(h Handlers, o Outcome) {
	switch o.Kind {
	case OutcomeConfirmed:
		if h.OnConfirmed != nil {
			h.OnConfirmed(o.TicketID)
		}
	case OutcomeEdited:
		if h.OnEdited != nil {
			h.OnEdited(*o.Edit)
		}
	case OutcomeNotStarted:
		if h.OnNotStarted != nil {
			h.OnNotStarted()
		} else if h.OnFailed != nil {
			h.OnFailed(o.Err)
		}
	default:
		if h.OnFailed != nil {
			h.OnFailed(o.Err)
		}
	}
}

// Done is closed once the attempt reaches its terminal outcome.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Wait blocks until the attempt completes or ctx is done.
func (a *Attempt) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-a.done:
		o, _ := a.Outcome()
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Outcome returns the terminal outcome, if any.
func (a *Attempt) Outcome() (Outcome, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.outcome == nil {
		return Outcome{}, false
	}
	return *a.outcome, true
}

// IsTerminal checks if the attempt is in a terminal state
func (a *Attempt) IsTerminal() bool {
	return a.State().IsTerminal()
}

// Snapshot returns a persistable copy of the attempt.
func (a *Attempt) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Snapshot{
		ID:             a.ID,
		Kind:           a.Kind,
		Provider:       a.Provider,
		OrderID:        a.Intent.OrderID,
		Price:          a.Intent.Price,
		AddToFavorites: a.Intent.AddToFavorites,
		CustomerID:     a.Customer.ID,
		State:          a.state,
		TransactionID:  a.transactionID,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.updatedAt,
		CompletedAt:    a.completedAt,
	}
	if a.outcome != nil {
		s.Outcome = a.outcome.Kind
		s.TicketID = a.outcome.TicketID
		if a.outcome.Err != nil {
			s.Error = a.outcome.Err.Error()
		}
		if a.outcome.Edit != nil {
			s.SubscriptionID = a.outcome.Edit.SubscriptionID
			s.CardNumber = a.outcome.Edit.CardNumber
		}
	}
	return s
}
