package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mobilbillet/payments/internal/domain/payment"
	"github.com/mobilbillet/payments/internal/providers"
	"github.com/mobilbillet/payments/internal/ui"
)

type liveAttempt struct {
	attempt *payment.Attempt
	session *providers.Session
	host    *ui.Recorder
	doneAt  time.Time
}

// SessionRegistry holds attempts that are running or finished recently
// enough for clients to still fetch their UI commands.
type SessionRegistry struct {
	mu   sync.RWMutex
	live map[uuid.UUID]*liveAttempt
	ttl  time.Duration
}

func NewSessionRegistry(ttl time.Duration) *SessionRegistry {
	return &SessionRegistry{
		live: make(map[uuid.UUID]*liveAttempt),
		ttl:  ttl,
	}
}

func (r *SessionRegistry) add(la *liveAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[la.attempt.ID] = la
}

func (r *SessionRegistry) get(id uuid.UUID) (*liveAttempt, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	la, ok := r.live[id]
	return la, ok
}

func (r *SessionRegistry) markDone(id uuid.UUID, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if la, ok := r.live[id]; ok {
		la.doneAt = at
	}
}

// Sweep drops attempts that finished more than ttl before now and returns
// how many were removed.
func (r *SessionRegistry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, la := range r.live {
		if la.doneAt.IsZero() || now.Sub(la.doneAt) < r.ttl {
			continue
		}
		delete(r.live, id)
		removed++
	}
	return removed
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}
