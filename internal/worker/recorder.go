// Package worker drains the attempt outcome stream into PostgreSQL.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/mobilbillet/payments/internal/domain/payment"
	"github.com/mobilbillet/payments/internal/infrastructure/observability"
	infraRedis "github.com/mobilbillet/payments/internal/infrastructure/redis"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const readErrorBackoff = time.Second

// Source is the consumer side of the outcome stream.
type Source interface {
	Stream() string
	Read(ctx context.Context) ([]redis.XMessage, error)
	ClaimStale(ctx context.Context, minIdle time.Duration) ([]redis.XMessage, error)
	Ack(ctx context.Context, messageID string) error
}

// Archive stores terminal snapshots and their history.
type Archive interface {
	Save(ctx context.Context, s *payment.Snapshot) error
	AddEvent(ctx context.Context, messageID string, s *payment.Snapshot) error
}

type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type DeadLetters interface {
	PublishToDLQ(ctx context.Context, msg redis.XMessage, reason string) error
}

// Cleaner removes expired idempotency records.
type Cleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

type Config struct {
	ClaimMinIdle    time.Duration
	CleanupInterval time.Duration
}

// Recorder persists every outcome message exactly once per message id.
type Recorder struct {
	cfg     Config
	source  Source
	archive Archive
	tx      Transactor
	dlq     DeadLetters
	cleaner Cleaner
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewRecorder(cfg Config, source Source, archive Archive, tx Transactor, dlq DeadLetters, cleaner Cleaner, metrics *observability.Metrics, logger zerolog.Logger) *Recorder {
	return &Recorder{
		cfg:     cfg,
		source:  source,
		archive: archive,
		tx:      tx,
		dlq:     dlq,
		cleaner: cleaner,
		metrics: metrics,
		logger:  observability.Component(logger, "recorder"),
	}
}

// Run consumes until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return r.consume(gCtx) })
	if r.cfg.ClaimMinIdle > 0 {
		g.Go(func() error { return r.every(gCtx, r.cfg.ClaimMinIdle, r.reclaim) })
	}
	if r.cleaner != nil && r.cfg.CleanupInterval > 0 {
		g.Go(func() error { return r.every(gCtx, r.cfg.CleanupInterval, r.cleanup) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (r *Recorder) consume(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := r.source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error().Err(err).Msg("Failed to read from stream")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(readErrorBackoff):
			}
			continue
		}

		for _, msg := range msgs {
			r.Process(ctx, msg)
		}
	}
}

func (r *Recorder) every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (r *Recorder) reclaim(ctx context.Context) {
	msgs, err := r.source.ClaimStale(ctx, r.cfg.ClaimMinIdle)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to claim stale messages")
		return
	}
	if len(msgs) > 0 {
		r.logger.Info().Int("count", len(msgs)).Msg("Claimed stale messages")
	}
	for _, msg := range msgs {
		r.Process(ctx, msg)
	}
}

func (r *Recorder) cleanup(ctx context.Context) {
	n, err := r.cleaner.Cleanup(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("Idempotency cleanup failed")
		return
	}
	if n > 0 {
		r.logger.Info().Int64("deleted", n).Msg("Expired idempotency keys removed")
	}
}

// Process records one message. Undecodable messages go to the dead-letter
// stream; a storage failure leaves the message pending for a later claim.
func (r *Recorder) Process(ctx context.Context, msg redis.XMessage) {
	start := time.Now()
	stream := r.source.Stream()
	status := "success"
	defer func() {
		if r.metrics != nil {
			r.metrics.WorkerMessagesProcessed.WithLabelValues(stream, status).Inc()
			r.metrics.WorkerProcessingDuration.WithLabelValues(stream).Observe(time.Since(start).Seconds())
		}
	}()

	snap, err := infraRedis.DecodeOutcome(msg)
	if err != nil {
		status = "dead_letter"
		r.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Undecodable outcome message")
		if err := r.dlq.PublishToDLQ(ctx, msg, err.Error()); err != nil {
			status = "error"
			r.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to dead-letter message")
			return
		}
		r.ack(ctx, msg.ID)
		return
	}

	err = r.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := r.archive.Save(txCtx, snap); err != nil {
			return err
		}
		return r.archive.AddEvent(txCtx, msg.ID, snap)
	})
	if err != nil {
		status = "error"
		r.logger.Error().Err(err).
			Str("message_id", msg.ID).
			Str("attempt_id", snap.ID.String()).
			Msg("Failed to record outcome")
		return
	}

	r.logger.Debug().
		Str("attempt_id", snap.ID.String()).
		Str("outcome", string(snap.Outcome)).
		Msg("Outcome recorded")
	r.ack(ctx, msg.ID)
}

func (r *Recorder) ack(ctx context.Context, id string) {
	if err := r.source.Ack(ctx, id); err != nil {
		r.logger.Warn().Err(err).Str("message_id", id).Msg("Failed to ack message")
	}
}
