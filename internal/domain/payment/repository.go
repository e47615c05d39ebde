package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for attempt persistence
type Repository interface {
	// Save inserts or updates an attempt snapshot
	Save(ctx context.Context, s *Snapshot) error

	// GetByID retrieves an attempt snapshot by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Snapshot, error)

	// ListByOrderID lists attempts made for one order, newest first
	ListByOrderID(ctx context.Context, orderID string) ([]*Snapshot, error)
}

// Snapshot is the persisted view of an attempt. Secrets are never part of it.
type Snapshot struct {
	ID             uuid.UUID   `json:"id"`
	Kind           Kind        `json:"kind"`
	Provider       Provider    `json:"provider"`
	OrderID        string      `json:"order_id,omitempty"`
	Price          int64       `json:"price,omitempty"`
	AddToFavorites bool        `json:"add_to_favorites"`
	CustomerID     string      `json:"customer_id,omitempty"`
	State          State       `json:"state"`
	Outcome        OutcomeKind `json:"outcome,omitempty"`
	TicketID       int         `json:"ticket_id"`
	TransactionID  string      `json:"transaction_id,omitempty"`
	SubscriptionID int64       `json:"subscription_id,omitempty"`
	CardNumber     string      `json:"card_number,omitempty"`
	Error          string      `json:"error,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the snapshot was taken after completion.
func (s *Snapshot) IsTerminal() bool {
	return s.State.IsTerminal()
}
