package service

import (
	"github.com/mobilbillet/payments/internal/domain/payment"
	"github.com/mobilbillet/payments/internal/ui"
)

// Controllers convert their HTTP DTOs to this type.
type PurchaseRequest struct {
	Provider     payment.Provider
	Intent       payment.PurchaseIntent
	Customer     payment.Customer
	OriginScreen string
}

// Controllers convert their HTTP DTOs to this type.
type EditRequest struct {
	Provider     payment.Provider
	Customer     payment.Customer
	OriginScreen string
}

// AttemptView is what callers see of an attempt. Commands are only known
// while the attempt is still held in memory.
type AttemptView struct {
	Snapshot payment.Snapshot
	Commands []ui.Command
	Live     bool
}
