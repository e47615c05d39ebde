package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

type HealthController struct {
	checks   map[string]Check
	sessions func() int
}

func NewHealthController(pool *pgxpool.Pool, rdb *redis.Client, sessions func() int) *HealthController {
	checks := make(map[string]Check)
	if pool != nil {
		checks["database"] = pool.Ping
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return &HealthController{checks: checks, sessions: sessions}
}

func (h *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if h.sessions != nil {
		resp["active_sessions"] = h.sessions()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HealthController) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *HealthController) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": name + " unavailable",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
