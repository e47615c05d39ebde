// Package providers defines the contract every payment provider adapter
// implements and the per-attempt session that carries its inputs and events.
package providers

import (
	"context"
	"errors"

	domainErrors "github.com/mobilbillet/payments/internal/domain/errors"
	"github.com/mobilbillet/payments/internal/domain/payment"
)

// Adapter drives one provider's purchase flow to a Result. MakePayment blocks
// until the provider answers or ctx ends; the orchestrator runs it on its own
// goroutine.
type Adapter interface {
	Provider() payment.Provider
	MakePayment(ctx context.Context, s *Session) Result
}

// Editor is implemented by adapters that can change the stored payment method.
type Editor interface {
	EditPaymentData(ctx context.Context, s *Session) Result
}

type ResultKind string

const (
	ResultAccepted   ResultKind = "accepted"
	ResultCancelled  ResultKind = "cancelled"
	ResultFailed     ResultKind = "failed"
	ResultNotStarted ResultKind = "not_started"
	ResultEdited     ResultKind = "edited"
)

// Result is the uniform answer of every adapter.
type Result struct {
	Kind          ResultKind
	TransactionID string
	// OrderID overrides the intent's order id for confirmation when the
	// provider reports its own.
	OrderID string
	Edit    *payment.EditResult
	Err     error
}

func Accepted(transactionID string) Result {
	return Result{Kind: ResultAccepted, TransactionID: transactionID}
}

func AcceptedForOrder(orderID, transactionID string) Result {
	return Result{Kind: ResultAccepted, OrderID: orderID, TransactionID: transactionID}
}

func Cancelled(err error) Result {
	if err == nil {
		err = domainErrors.ErrUserCancelled
	}
	return Result{Kind: ResultCancelled, Err: err}
}

func Failed(err error) Result {
	return Result{Kind: ResultFailed, Err: err}
}

func NotStarted(err error) Result {
	if err == nil {
		err = domainErrors.ErrNotStarted
	}
	return Result{Kind: ResultNotStarted, Err: err}
}

func Edited(res payment.EditResult) Result {
	return Result{Kind: ResultEdited, Edit: &res}
}

// FromCallError turns a failed backend call made before the provider UI was
// shown into a Result: refused calls are NotStarted, everything else fails.
func FromCallError(err error) Result {
	if errors.Is(err, domainErrors.ErrNotStarted) {
		return NotStarted(err)
	}
	return Failed(err)
}

// Interrupted converts an error from Session.Next into a Result.
func Interrupted(err error) Result {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Failed(domainErrors.ErrAttemptExpired)
	default:
		return Failed(err)
	}
}
