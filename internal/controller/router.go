package controller

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mobilbillet/payments/internal/infrastructure/config"
	"github.com/mobilbillet/payments/internal/infrastructure/observability"
	customMW "github.com/mobilbillet/payments/internal/middleware"
	"github.com/mobilbillet/payments/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type RouterDeps struct {
	Pool             *pgxpool.Pool
	RedisClient      *redis.Client
	Orchestrator     *service.Orchestrator
	IdempotencyStore customMW.IdempotencyStore
	IdempotencyTTL   time.Duration
	Metrics          *observability.Metrics
	Gatherer         prometheus.Gatherer
	JWTSecret        string
	ServerConfig     config.ServerConfig
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing("payments-api"))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.ServerConfig.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Location", "X-Idempotency-Replayed"},
		AllowCredentials: deps.ServerConfig.CORS.AllowCredentials,
		MaxAge:           300,
	}))
	if deps.Metrics != nil {
		r.Use(customMW.Metrics(deps.Metrics))
	}

	healthH := NewHealthController(deps.Pool, deps.RedisClient, deps.Orchestrator.ActiveSessions)
	purchaseH := NewPurchaseController(deps.Orchestrator)
	callbackH := NewCallbackController(deps.Orchestrator)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	rateLimit := func(next http.Handler) http.Handler { return next }
	if deps.ServerConfig.RateLimit > 0 {
		rateLimit = customMW.RateLimit(deps.ServerConfig.RateLimit)
	}

	r.With(rateLimit).Get("/callbacks/mobilepay", callbackH.MobilePayReturn)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(customMW.RequireAuth(deps.JWTSecret))
		r.Use(rateLimit)
		r.Use(chimw.Timeout(30 * time.Second))

		mutating := func(h http.HandlerFunc) http.Handler { return h }
		if deps.IdempotencyStore != nil {
			idempotencyMW := customMW.Idempotency(deps.IdempotencyStore, deps.IdempotencyTTL)
			mutating = func(h http.HandlerFunc) http.Handler { return idempotencyMW(h) }
		}

		r.Get("/providers", purchaseH.ListProviders)

		// Purchases
		r.Method(http.MethodPost, "/purchases", mutating(purchaseH.CreatePurchase))
		r.Get("/purchases/{id}", purchaseH.GetPurchase)
		r.Post("/purchases/{id}/events", purchaseH.DeliverEvent)

		// Payment methods
		r.Method(http.MethodPost, "/payment-methods/edit", mutating(purchaseH.EditPaymentMethod))

		r.Get("/orders/{orderId}/attempts", purchaseH.ListOrderAttempts)
	})

	return r
}
