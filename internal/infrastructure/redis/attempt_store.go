package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/mobilbillet/payments/internal/domain/errors"
	"github.com/mobilbillet/payments/internal/domain/payment"
	"github.com/redis/go-redis/v9"
)

func attemptKey(id uuid.UUID) string {
	return "attempt:" + id.String()
}

func orderAttemptsKey(orderID string) string {
	return "order:" + orderID + ":attempts"
}

// AttemptStore keeps live attempt snapshots in Redis so any API instance
// can answer status queries. Entries expire after ttl.
type AttemptStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewAttemptStore(client redis.Cmdable, ttl time.Duration) *AttemptStore {
	return &AttemptStore{client: client, ttl: ttl}
}

func (s *AttemptStore) Save(ctx context.Context, snap *payment.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, attemptKey(snap.ID), data, s.ttl)
		if snap.OrderID != "" {
			idx := orderAttemptsKey(snap.OrderID)
			pipe.ZAdd(ctx, idx, redis.Z{Score: float64(snap.CreatedAt.UnixNano()), Member: snap.ID.String()})
			pipe.Expire(ctx, idx, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save attempt %s: %w", snap.ID, err)
	}
	return nil
}

func (s *AttemptStore) GetByID(ctx context.Context, id uuid.UUID) (*payment.Snapshot, error) {
	raw, err := s.client.Get(ctx, attemptKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domainErrors.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt %s: %w", id, err)
	}

	var snap payment.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode attempt %s: %w", id, err)
	}
	return &snap, nil
}

// ListByOrderID returns the attempts still cached for an order, newest first.
// Expired members are skipped.
func (s *AttemptStore) ListByOrderID(ctx context.Context, orderID string) ([]*payment.Snapshot, error) {
	ids, err := s.client.ZRevRange(ctx, orderAttemptsKey(orderID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts for order %s: %w", orderID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = "attempt:" + id
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load attempts for order %s: %w", orderID, err)
	}

	out := make([]*payment.Snapshot, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var snap payment.Snapshot
		if err := json.UnmarshalFromString(str, &snap); err != nil {
			return nil, fmt.Errorf("failed to decode attempt: %w", err)
		}
		out = append(out, &snap)
	}
	return out, nil
}
