package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit allows requestsPerMinute per customer, falling back to the
// client IP for unauthenticated requests.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(keyByCustomerOrIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "rate_limit")
		}),
	)
}

func keyByCustomerOrIP(r *http.Request) (string, error) {
	if userID, ok := GetUserID(r.Context()); ok && userID != "" {
		return "user:" + userID, nil
	}
	return httprate.KeyByIP(r)
}
