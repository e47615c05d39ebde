package payment

import (
	"fmt"
	"strings"

	"github.com/mobilbillet/payments/internal/domain/errors"
)

// Provider represents the external payment provider
type Provider string

const (
	ProviderDIBS      Provider = "dibs"
	ProviderEpay      Provider = "epay"
	ProviderMobilePay Provider = "mobilepay"
)

// Providers lists every provider the module knows how to drive.
var Providers = []Provider{ProviderDIBS, ProviderEpay, ProviderMobilePay}

// ParseProvider converts a configuration or request value into a Provider.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", errors.ErrUnknownProvider, s)
	}
	return p, nil
}

// Valid reports whether p names a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderDIBS, ProviderEpay, ProviderMobilePay:
		return true
	}
	return false
}

func (p Provider) String() string {
	return string(p)
}

// ProviderSet is the configured set of supported providers.
type ProviderSet map[Provider]struct{}

// NewProviderSet builds a set from a list of providers.
func NewProviderSet(providers ...Provider) ProviderSet {
	s := make(ProviderSet, len(providers))
	for _, p := range providers {
		s[p] = struct{}{}
	}
	return s
}

// Contains reports whether p is supported.
func (s ProviderSet) Contains(p Provider) bool {
	_, ok := s[p]
	return ok
}
