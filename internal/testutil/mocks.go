package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	domainErrors "github.com/mobilbillet/payments/internal/domain/errors"
	"github.com/mobilbillet/payments/internal/domain/payment"
	"github.com/mobilbillet/payments/internal/providers"
)

// --- Attempt Repository Mock ---

// MockAttemptRepository is an in-memory payment.Repository.
type MockAttemptRepository struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID]*payment.Snapshot
	saves     int

	SaveFunc          func(ctx context.Context, s *payment.Snapshot) error
	GetByIDFunc       func(ctx context.Context, id uuid.UUID) (*payment.Snapshot, error)
	ListByOrderIDFunc func(ctx context.Context, orderID string) ([]*payment.Snapshot, error)
}

func NewMockAttemptRepository() *MockAttemptRepository {
	return &MockAttemptRepository{snapshots: make(map[uuid.UUID]*payment.Snapshot)}
}

func (m *MockAttemptRepository) Save(ctx context.Context, s *payment.Snapshot) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.snapshots[s.ID] = &cp
	m.saves++
	return nil
}

func (m *MockAttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Snapshot, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[id]
	if !ok {
		return nil, domainErrors.ErrAttemptNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MockAttemptRepository) ListByOrderID(ctx context.Context, orderID string) ([]*payment.Snapshot, error) {
	if m.ListByOrderIDFunc != nil {
		return m.ListByOrderIDFunc(ctx, orderID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*payment.Snapshot
	for _, s := range m.snapshots {
		if s.OrderID == orderID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Saves counts successful default Save calls.
func (m *MockAttemptRepository) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// --- Flag Store Mock ---

type MockFlagStore struct {
	mu    sync.Mutex
	flags map[string]bool

	GetFunc func(ctx context.Context, scope, name string) (bool, error)
	SetFunc func(ctx context.Context, scope, name string, value bool) error
}

func NewMockFlagStore() *MockFlagStore {
	return &MockFlagStore{flags: make(map[string]bool)}
}

func (m *MockFlagStore) Get(ctx context.Context, scope, name string) (bool, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, scope, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags[scope+"/"+name], nil
}

func (m *MockFlagStore) Set(ctx context.Context, scope, name string, value bool) error {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, scope, name, value)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[scope+"/"+name] = value
	return nil
}

// --- Spy Adapter ---

// SpyAdapter is a providers.Adapter and providers.Editor whose behaviour is
// set per test. By default it waits for one event and accepts with the
// event's first parameter as transaction id.
type SpyAdapter struct {
	mu        sync.Mutex
	provider  payment.Provider
	payCalls  int
	editCalls int

	MakePaymentFunc     func(ctx context.Context, s *providers.Session) providers.Result
	EditPaymentDataFunc func(ctx context.Context, s *providers.Session) providers.Result
}

func NewSpyAdapter(p payment.Provider) *SpyAdapter {
	return &SpyAdapter{provider: p}
}

func (a *SpyAdapter) Provider() payment.Provider { return a.provider }

func (a *SpyAdapter) MakePayment(ctx context.Context, s *providers.Session) providers.Result {
	a.mu.Lock()
	a.payCalls++
	fn := a.MakePaymentFunc
	a.mu.Unlock()
	if fn != nil {
		return fn(ctx, s)
	}
	ev, err := s.Next(ctx)
	if err != nil {
		return providers.Interrupted(err)
	}
	return providers.Accepted(ev.First())
}

func (a *SpyAdapter) EditPaymentData(ctx context.Context, s *providers.Session) providers.Result {
	a.mu.Lock()
	a.editCalls++
	fn := a.EditPaymentDataFunc
	a.mu.Unlock()
	if fn != nil {
		return fn(ctx, s)
	}
	return providers.Edited(payment.EditResult{SubscriptionID: 1})
}

func (a *SpyAdapter) PayCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.payCalls
}

func (a *SpyAdapter) EditCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.editCalls
}

// --- Spy Confirmer ---

// SpyConfirmer records confirm calls and the peak number running at once.
type SpyConfirmer struct {
	mu       sync.Mutex
	calls    []payment.ConfirmationRequest
	inFlight int
	peak     int

	ConfirmFunc func(ctx context.Context, endpoint string, req payment.ConfirmationRequest) (int, error)
}

func NewSpyConfirmer() *SpyConfirmer {
	return &SpyConfirmer{}
}

func (c *SpyConfirmer) Confirm(ctx context.Context, endpoint string, req payment.ConfirmationRequest) (int, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	c.inFlight++
	if c.inFlight > c.peak {
		c.peak = c.inFlight
	}
	fn := c.ConfirmFunc
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight--
		c.mu.Unlock()
	}()

	if fn != nil {
		return fn(ctx, endpoint, req)
	}
	return 1, nil
}

func (c *SpyConfirmer) Calls() []payment.ConfirmationRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]payment.ConfirmationRequest, len(c.calls))
	copy(out, c.calls)
	return out
}

func (c *SpyConfirmer) Peak() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peak
}

// --- Locker Mock ---

// MockLocker is an in-process stand-in for the Redis confirmation lock.
type MockLocker struct {
	mu     sync.Mutex
	held   map[string]bool
	locked []string

	LockFunc func(ctx context.Context, orderID string) (func(context.Context) error, error)
}

func NewMockLocker() *MockLocker {
	return &MockLocker{held: make(map[string]bool)}
}

func (m *MockLocker) Lock(ctx context.Context, orderID string) (func(context.Context) error, error) {
	if m.LockFunc != nil {
		return m.LockFunc(ctx, orderID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[orderID] {
		return nil, domainErrors.ErrLockAcquisitionFailed
	}
	m.held[orderID] = true
	m.locked = append(m.locked, orderID)
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, orderID)
		return nil
	}, nil
}

// Locked lists every order id locked so far.
func (m *MockLocker) Locked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.locked))
	copy(out, m.locked)
	return out
}

func (m *MockLocker) Held(orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[orderID]
}

// --- Outcome Publisher Mock ---

type MockOutcomePublisher struct {
	mu        sync.Mutex
	published []*payment.Snapshot

	PublishOutcomeFunc func(ctx context.Context, s *payment.Snapshot) error
}

func NewMockOutcomePublisher() *MockOutcomePublisher {
	return &MockOutcomePublisher{}
}

func (m *MockOutcomePublisher) PublishOutcome(ctx context.Context, s *payment.Snapshot) error {
	if m.PublishOutcomeFunc != nil {
		return m.PublishOutcomeFunc(ctx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.published = append(m.published, &cp)
	return nil
}

func (m *MockOutcomePublisher) Published() []*payment.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*payment.Snapshot, len(m.published))
	copy(out, m.published)
	return out
}
