package service

import (
	"context"

	"github.com/mobilbillet/payments/internal/domain/payment"
)

// Confirmer performs one confirm-order call. It must not retry.
type Confirmer interface {
	Confirm(ctx context.Context, endpoint string, req payment.ConfirmationRequest) (int, error)
}

// Locker serializes confirmations of the same order across processes.
type Locker interface {
	Lock(ctx context.Context, orderID string) (func(context.Context) error, error)
}

// OutcomePublisher announces terminal attempts to downstream consumers.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, s *payment.Snapshot) error
}
