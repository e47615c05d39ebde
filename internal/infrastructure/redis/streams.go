package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mobilbillet/payments/internal/domain/payment"
	"github.com/redis/go-redis/v9"
)

const (
	OutcomeStream = "purchases:outcomes"
	DLQStream     = "purchases:outcomes:dlq"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EncodeOutcome flattens a terminal snapshot into stream fields.
func EncodeOutcome(s *payment.Snapshot) (map[string]any, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outcome: %w", err)
	}
	return map[string]any{
		"attempt_id": s.ID.String(),
		"provider":   string(s.Provider),
		"outcome":    string(s.Outcome),
		"event_type": "attempt." + string(s.Outcome),
		"payload":    string(payload),
		"timestamp":  time.Now().Unix(),
	}, nil
}

// DecodeOutcome is the inverse of EncodeOutcome.
func DecodeOutcome(msg redis.XMessage) (*payment.Snapshot, error) {
	raw, ok := msg.Values["payload"].(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("message %s has no payload", msg.ID)
	}
	var s payment.Snapshot
	if err := json.UnmarshalFromString(raw, &s); err != nil {
		return nil, fmt.Errorf("message %s: invalid payload: %w", msg.ID, err)
	}
	return &s, nil
}

// OutcomeProducer publishes terminal attempt snapshots for the recorder worker.
type OutcomeProducer struct {
	client redis.Cmdable
	stream string
}

func NewOutcomeProducer(client redis.Cmdable, stream string) *OutcomeProducer {
	if stream == "" {
		stream = OutcomeStream
	}
	return &OutcomeProducer{client: client, stream: stream}
}

func (p *OutcomeProducer) PublishOutcome(ctx context.Context, s *payment.Snapshot) error {
	values, err := EncodeOutcome(s)
	if err != nil {
		return err
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{Stream: p.stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("failed to publish outcome: %w", err)
	}
	return nil
}

// PublishToDLQ parks a message the worker could not record.
func (p *OutcomeProducer) PublishToDLQ(ctx context.Context, msg redis.XMessage, reason string) error {
	values := make(map[string]any, len(msg.Values)+2)
	for k, v := range msg.Values {
		values[k] = v
	}
	values["original_id"] = msg.ID
	values["reason"] = reason

	if err := p.client.XAdd(ctx, &redis.XAddArgs{Stream: DLQStream, Values: values}).Err(); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}
	return nil
}

type StreamConsumer struct {
	client        redis.Cmdable
	stream        string
	group         string
	consumer      string
	batchSize     int64
	blockDuration time.Duration
}

func NewStreamConsumer(
	client redis.Cmdable,
	stream string,
	group string,
	consumer string,
	batchSize int64,
	blockDuration time.Duration,
) *StreamConsumer {
	return &StreamConsumer{
		client:        client,
		stream:        stream,
		group:         group,
		consumer:      consumer,
		batchSize:     batchSize,
		blockDuration: blockDuration,
	}
}

func (c *StreamConsumer) Stream() string {
	return c.stream
}

func (c *StreamConsumer) CreateGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Read returns new messages for this consumer, or nil when the block times out.
func (c *StreamConsumer) Read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.batchSize,
		Block:    c.blockDuration,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var out []redis.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

// ClaimStale takes over messages another consumer left pending for longer than minIdle.
func (c *StreamConsumer) ClaimStale(ctx context.Context, minIdle time.Duration) ([]redis.XMessage, error) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    c.batchSize,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim messages: %w", err)
	}
	return msgs, nil
}

func (c *StreamConsumer) Ack(ctx context.Context, messageID string) error {
	if err := c.client.XAck(ctx, c.stream, c.group, messageID).Err(); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}
