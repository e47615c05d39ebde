package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mobilbillet/payments/internal/bootstrap"
	"github.com/mobilbillet/payments/internal/controller"
	"github.com/mobilbillet/payments/internal/domain/payment"
	"github.com/mobilbillet/payments/internal/repository/postgres"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "payments-api", "payments")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	orchestrator, err := app.Orchestrator()
	if err != nil {
		app.Logger.Error().Err(err).Msg("Failed to build orchestrator")
		return
	}

	// --- Build router ---
	router := controller.NewRouter(controller.RouterDeps{
		Pool:             app.Pool,
		RedisClient:      app.Redis,
		Orchestrator:     orchestrator,
		IdempotencyStore: postgres.NewIdempotencyRepository(app.Pool),
		IdempotencyTTL:   app.Config.Worker.IdempotencyTTL,
		Metrics:          app.Metrics,
		JWTSecret:        app.Config.Auth.JWTSecret,
		ServerConfig:     app.Config.Server,
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
		IdleTimeout:  app.Config.Server.IdleTimeout,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return orchestrator.Run(gCtx)
	})

	g.Go(func() error {
		app.Logger.Info().Str("addr", addr).Strs("providers", providerNames(orchestrator)).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		app.Logger.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.Logger.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("API error")
	}
	app.Logger.Info().Msg("Server exited")
}

func providerNames(o interface{ Providers() []payment.Provider }) []string {
	var out []string
	for _, p := range o.Providers() {
		out = append(out, p.String())
	}
	return out
}
