package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	domainErrors "github.com/mobilbillet/payments/internal/domain/errors"
	"github.com/mobilbillet/payments/internal/domain/payment"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxOrderAttempts = 50

const attemptColumns = `id, kind, provider, order_id, price, add_to_favorites, customer_id,
	state, outcome, ticket_id, transaction_id, subscription_id, card_number, error,
	created_at, updated_at, completed_at`

// AttemptRepository implements payment.Repository using PostgreSQL. It is
// the durable record of terminal attempts written by the outcome worker.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func (r *AttemptRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Save upserts a snapshot. An older snapshot never overwrites a newer one,
// so redelivered stream messages are harmless.
func (r *AttemptRepository) Save(ctx context.Context, s *payment.Snapshot) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO purchase_attempts (`+attemptColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		 ON CONFLICT (id) DO UPDATE SET
		  state=EXCLUDED.state, outcome=EXCLUDED.outcome, ticket_id=EXCLUDED.ticket_id,
		  transaction_id=EXCLUDED.transaction_id, subscription_id=EXCLUDED.subscription_id,
		  card_number=EXCLUDED.card_number, error=EXCLUDED.error,
		  updated_at=EXCLUDED.updated_at, completed_at=EXCLUDED.completed_at
		 WHERE purchase_attempts.updated_at <= EXCLUDED.updated_at`,
		s.ID, string(s.Kind), string(s.Provider), s.OrderID, s.Price, s.AddToFavorites, s.CustomerID,
		string(s.State), string(s.Outcome), s.TicketID, s.TransactionID, s.SubscriptionID, s.CardNumber, s.Error,
		s.CreatedAt, s.UpdatedAt, s.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert purchase attempt: %w", err)
	}
	return nil
}

// GetByID retrieves an attempt by its ID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Snapshot, error) {
	return scanAttempt(r.db(ctx).QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM purchase_attempts WHERE id = $1`, id))
}

// ListByOrderID lists the most recent attempts for an order, newest first.
func (r *AttemptRepository) ListByOrderID(ctx context.Context, orderID string) ([]*payment.Snapshot, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+attemptColumns+` FROM purchase_attempts
		 WHERE order_id = $1 ORDER BY created_at DESC LIMIT $2`, orderID, maxOrderAttempts)
	if err != nil {
		return nil, fmt.Errorf("list purchase attempts: %w", err)
	}
	defer rows.Close()

	snaps := []*payment.Snapshot{}
	for rows.Next() {
		s, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

// AddEvent appends the snapshot carried by one stream message to the
// attempt's history. A message seen before is ignored.
func (r *AttemptRepository) AddEvent(ctx context.Context, messageID string, s *payment.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal attempt event: %w", err)
	}
	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO purchase_attempt_events (id, attempt_id, message_id, state, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (message_id) DO NOTHING`,
		uuid.New(), s.ID, messageID, string(s.State), data, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert attempt event: %w", err)
	}
	return nil
}

// --- scanning helpers ---

func scanAttempt(s scanner) (*payment.Snapshot, error) {
	snap := &payment.Snapshot{}
	var kind, provider, state, outcome string
	err := s.Scan(
		&snap.ID, &kind, &provider, &snap.OrderID, &snap.Price, &snap.AddToFavorites, &snap.CustomerID,
		&state, &outcome, &snap.TicketID, &snap.TransactionID, &snap.SubscriptionID, &snap.CardNumber, &snap.Error,
		&snap.CreatedAt, &snap.UpdatedAt, &snap.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("scan purchase attempt: %w", err)
	}
	snap.Kind = payment.Kind(kind)
	snap.Provider = payment.Provider(provider)
	snap.State = payment.State(state)
	snap.Outcome = payment.OutcomeKind(outcome)
	return snap, nil
}
