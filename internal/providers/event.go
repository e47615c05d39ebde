package providers

import (
	"strconv"
	"time"
)

// Names of the provider notifications the client forwards.
const (
	// Card gateway (DIBS)
	EventWindowLoaded     = "window_loaded"
	EventWindowLoadFailed = "window_load_failed"
	EventPaymentAccepted  = "payment_accepted"
	EventPaymentCancelled = "payment_cancelled"
	EventPaymentError     = "payment_error"

	// Hosted form (ePay)
	EventLoaded            = "loaded"
	EventLoading           = "loading"
	EventLoadingAcceptPage = "loading_accept_page"
	EventAccepted          = "accepted"
	EventCancelled         = "cancelled"
	EventError             = "error"
	EventReachable         = "reachable"

	// Wallet app (MobilePay)
	EventURLReentry = "url_reentry"
)

// Param is one provider key/value pair. Order is significant for some providers.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event is a provider notification delivered into a live session.
type Event struct {
	Name       string    `json:"name"`
	Params     []Param   `json:"params,omitempty"`
	Code       int       `json:"code,omitempty"`
	Message    string    `json:"message,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Param returns the first value stored under key.
func (e Event) Param(key string) (string, bool) {
	for _, p := range e.Params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// IntParam parses the value under key, falling back to def.
func (e Event) IntParam(key string, def int) int {
	v, ok := e.Param(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// First returns the value of the first parameter, if any.
func (e Event) First() string {
	if len(e.Params) == 0 {
		return ""
	}
	return e.Params[0].Value
}

var knownEvents = map[string]struct{}{
	EventWindowLoaded: {}, EventWindowLoadFailed: {}, EventPaymentAccepted: {}, EventPaymentCancelled: {}, EventPaymentError: {},
	EventLoaded: {}, EventLoading: {}, EventLoadingAcceptPage: {}, EventAccepted: {}, EventCancelled: {}, EventError: {}, EventReachable: {},
	EventURLReentry: {},
}

// IsKnownEvent reports whether name is part of any provider's vocabulary.
func IsKnownEvent(name string) bool {
	_, ok := knownEvents[name]
	return ok
}
