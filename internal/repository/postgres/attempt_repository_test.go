package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	domainErrors "github.com/mobilbillet/payments/internal/domain/errors"
	"github.com/mobilbillet/payments/internal/domain/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRow replays fixed column values into Scan destinations.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("column count mismatch")
	}
	for i, v := range r.values {
		switch d := dest[i].(type) {
		case *uuid.UUID:
			*d = v.(uuid.UUID)
		case *string:
			*d = v.(string)
		case *int64:
			*d = v.(int64)
		case *int:
			*d = v.(int)
		case *bool:
			*d = v.(bool)
		case *time.Time:
			*d = v.(time.Time)
		case **time.Time:
			*d = v.(*time.Time)
		default:
			return errors.New("unsupported destination")
		}
	}
	return nil
}

func TestScanAttempt(t *testing.T) {
	id := uuid.New()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	completed := created.Add(2 * time.Minute)

	row := fakeRow{values: []any{
		id, "purchase", "epay", "order-1", int64(2400), true, "cust-1",
		"confirmed", "confirmed", 4711, "tx-1", int64(0), "", "",
		created, completed, &completed,
	}}

	snap, err := scanAttempt(row)
	require.NoError(t, err)
	assert.Equal(t, id, snap.ID)
	assert.Equal(t, payment.KindPurchase, snap.Kind)
	assert.Equal(t, payment.ProviderEpay, snap.Provider)
	assert.Equal(t, payment.StateConfirmed, snap.State)
	assert.Equal(t, payment.OutcomeConfirmed, snap.Outcome)
	assert.Equal(t, 4711, snap.TicketID)
	assert.Equal(t, int64(2400), snap.Price)
	assert.True(t, snap.AddToFavorites)
	require.NotNil(t, snap.CompletedAt)
	assert.True(t, completed.Equal(*snap.CompletedAt))
	assert.True(t, snap.IsTerminal())
}

func TestScanAttempt_Errors(t *testing.T) {
	_, err := scanAttempt(fakeRow{err: pgx.ErrNoRows})
	assert.ErrorIs(t, err, domainErrors.ErrAttemptNotFound)

	boom := errors.New("connection reset")
	_, err = scanAttempt(fakeRow{err: boom})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, domainErrors.ErrAttemptNotFound)
}
