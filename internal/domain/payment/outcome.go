package payment

import (
	"fmt"

	"github.com/mobilbillet/payments/internal/domain/errors"
)

// OutcomeKind tags the terminal result of an attempt.
type OutcomeKind string

const (
	OutcomeConfirmed  OutcomeKind = "confirmed"
	OutcomeFailed     OutcomeKind = "failed"
	OutcomeCancelled  OutcomeKind = "cancelled"
	OutcomeNotStarted OutcomeKind = "not_started"
	OutcomeEdited     OutcomeKind = "edited"
)

// UnknownTicketID is reported when the confirm endpoint answered without a usable ticket id.
const UnknownTicketID = 0

// Outcome is the single terminal result produced per attempt.
type Outcome struct {
	Kind     OutcomeKind
	TicketID int
	Err      error
	Edit     *EditResult
}

// Confirmed creates a confirmed outcome.
func Confirmed(ticketID int) Outcome {
	return Outcome{Kind: OutcomeConfirmed, TicketID: ticketID}
}

// Failed creates a failed outcome.
func Failed(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err}
}

// Cancelled creates a cancelled outcome. err carries the user-facing message.
func Cancelled(err error) Outcome {
	if err == nil {
		err = errors.ErrUserCancelled
	}
	return Outcome{Kind: OutcomeCancelled, Err: err}
}

// NotStarted creates an outcome for a call that never began.
func NotStarted() Outcome {
	return Outcome{Kind: OutcomeNotStarted, Err: errors.ErrNotStarted}
}

// Edited creates a successful edit outcome.
func Edited(res EditResult) Outcome {
	return Outcome{Kind: OutcomeEdited, Edit: &res}
}

// Succeeded reports whether the outcome is a confirmation or a completed edit.
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeConfirmed || o.Kind == OutcomeEdited
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeConfirmed:
		return fmt.Sprintf("confirmed(ticket=%d)", o.TicketID)
	case OutcomeEdited:
		return fmt.Sprintf("edited(subscription=%d)", o.Edit.SubscriptionID)
	case OutcomeFailed, OutcomeCancelled:
		return fmt.Sprintf("%s(%v)", o.Kind, o.Err)
	}
	return string(o.Kind)
}
