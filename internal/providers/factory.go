package providers

import (
	"fmt"
	"sync"

	domainErrors "github.com/mobilbillet/payments/internal/domain/errors"
	"github.com/mobilbillet/payments/internal/domain/payment"
)

// Registry maps a provider selection to its adapter.
type Registry struct {
	mu       sync.RWMutex
	adapters map[payment.Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[payment.Provider]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Provider()] = a
}

// Get returns the adapter for p. A provider without a registered adapter is
// a configuration error.
func (r *Registry) Get(p payment.Provider) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, domainErrors.ErrMissingConfiguration)
	}
	return a, nil
}

// Editor returns p's edit capability.
func (r *Registry) Editor(p payment.Provider) (Editor, error) {
	a, err := r.Get(p)
	if err != nil {
		return nil, err
	}
	e, ok := a.(Editor)
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, domainErrors.ErrEditNotSupported)
	}
	return e, nil
}

// Providers lists the registered providers.
func (r *Registry) Providers() []payment.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]payment.Provider, 0, len(r.adapters))
	for _, p := range payment.Providers {
		if _, ok := r.adapters[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
