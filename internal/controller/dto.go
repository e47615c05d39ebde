package controller

import (
	"time"

	"github.com/mobilbillet/payments/internal/domain/payment"
	"github.com/mobilbillet/payments/internal/providers"
	"github.com/mobilbillet/payments/internal/service"
	"github.com/mobilbillet/payments/internal/ui"
)

// --- Request DTOs ---
// These DTOs handle HTTP/JSON concerns. Controllers convert them to service
// layer DTOs before calling the orchestrator.

// CreatePurchaseRequest holds the input for starting a purchase.
type CreatePurchaseRequest struct {
	Provider       string `json:"provider" validate:"required,oneof=dibs epay mobilepay"`
	OrderID        string `json:"order_id" validate:"required,max=64"`
	Price          int64  `json:"price" validate:"required,gt=0"`
	AddToFavorites bool   `json:"add_to_favorites"`
	PaymentToken   string `json:"payment_token,omitempty"`
	SubscriptionID *int64 `json:"subscription_id,omitempty" validate:"omitempty,gt=0"`
	OriginScreen   string `json:"origin_screen,omitempty" validate:"omitempty,max=64"`
}

// EditPaymentMethodRequest holds the input for editing stored payment data.
type EditPaymentMethodRequest struct {
	Provider       string `json:"provider" validate:"required,oneof=dibs epay mobilepay"`
	PaymentToken   string `json:"payment_token,omitempty"`
	SubscriptionID *int64 `json:"subscription_id,omitempty" validate:"omitempty,gt=0"`
	OriginScreen   string `json:"origin_screen,omitempty" validate:"omitempty,max=64"`
}

// ParamDTO is one provider key/value pair.
type ParamDTO struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value"`
}

// DeliverEventRequest carries a provider notification forwarded by the client.
type DeliverEventRequest struct {
	Name    string     `json:"name" validate:"required,max=64"`
	Params  []ParamDTO `json:"params,omitempty" validate:"omitempty,max=32,dive"`
	Code    int        `json:"code,omitempty"`
	Message string     `json:"message,omitempty" validate:"max=512"`
}

// --- Response DTOs ---

// AttemptResponse represents an attempt in API responses.
type AttemptResponse struct {
	ID             string       `json:"id"`
	Kind           string       `json:"kind"`
	Provider       string       `json:"provider"`
	OrderID        string       `json:"order_id,omitempty"`
	Price          int64        `json:"price,omitempty"`
	AddToFavorites bool         `json:"add_to_favorites"`
	State          string       `json:"state"`
	Outcome        string       `json:"outcome,omitempty"`
	TicketID       *int         `json:"ticket_id,omitempty"`
	SubscriptionID int64        `json:"subscription_id,omitempty"`
	CardNumber     string       `json:"card_number,omitempty"`
	Error          string       `json:"error,omitempty"`
	Live           bool         `json:"live"`
	Commands       []ui.Command `json:"commands,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}

// ProvidersResponse lists the providers a client may offer.
type ProvidersResponse struct {
	Providers []string `json:"providers"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

// FromSnapshot converts an attempt snapshot to API response.
func FromSnapshot(s *payment.Snapshot) *AttemptResponse {
	resp := &AttemptResponse{
		ID:             s.ID.String(),
		Kind:           string(s.Kind),
		Provider:       string(s.Provider),
		OrderID:        s.OrderID,
		Price:          s.Price,
		AddToFavorites: s.AddToFavorites,
		State:          string(s.State),
		Outcome:        string(s.Outcome),
		SubscriptionID: s.SubscriptionID,
		CardNumber:     s.CardNumber,
		Error:          s.Error,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		CompletedAt:    s.CompletedAt,
	}
	if s.Outcome == payment.OutcomeConfirmed {
		id := s.TicketID
		resp.TicketID = &id
	}
	return resp
}

// FromView converts an orchestrator view, keeping only commands after since.
func FromView(v *service.AttemptView, since int) *AttemptResponse {
	resp := FromSnapshot(&v.Snapshot)
	resp.Live = v.Live
	for _, c := range v.Commands {
		if c.Seq > since {
			resp.Commands = append(resp.Commands, c)
		}
	}
	return resp
}

// ToEvent converts the request to a session event.
func (r DeliverEventRequest) ToEvent() providers.Event {
	ev := providers.Event{
		Name:       r.Name,
		Code:       r.Code,
		Message:    r.Message,
		ReceivedAt: time.Now(),
	}
	for _, p := range r.Params {
		ev.Params = append(ev.Params, providers.Param{Key: p.Key, Value: p.Value})
	}
	return ev
}
