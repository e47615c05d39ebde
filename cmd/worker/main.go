package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mobilbillet/payments/internal/bootstrap"
	infraRedis "github.com/mobilbillet/payments/internal/infrastructure/redis"
	"github.com/mobilbillet/payments/internal/repository/postgres"
	"github.com/mobilbillet/payments/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "payments-worker", "payments_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	// --- Outcome stream consumer ---
	workerCfg := app.Config.Worker
	consumer := infraRedis.NewStreamConsumer(
		app.Redis,
		workerCfg.Stream,
		workerCfg.ConsumerGroup,
		app.Config.InstanceID,
		workerCfg.BatchSize,
		workerCfg.BlockDuration,
	)
	if err := consumer.CreateGroup(ctx); err != nil {
		app.Logger.Error().Err(err).Msg("Failed to create consumer group")
		return
	}

	recorder := worker.NewRecorder(
		worker.Config{
			ClaimMinIdle:    workerCfg.ClaimMinIdle,
			CleanupInterval: workerCfg.CleanupInterval,
		},
		consumer,
		postgres.NewAttemptRepository(app.Pool),
		postgres.NewTxManager(app.Pool),
		infraRedis.NewOutcomeProducer(app.Redis, workerCfg.Stream),
		postgres.NewIdempotencyRepository(app.Pool),
		app.Metrics,
		app.Logger,
	)

	app.Logger.Info().
		Str("stream", consumer.Stream()).
		Str("group", workerCfg.ConsumerGroup).
		Str("consumer", app.Config.InstanceID).
		Msg("Worker started, listening for messages...")

	if err := recorder.Run(ctx); err != nil {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}
