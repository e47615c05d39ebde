package controller

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mobilbillet/payments/internal/domain/payment"
	"github.com/mobilbillet/payments/internal/providers"
	"github.com/mobilbillet/payments/internal/service"
	"github.com/mobilbillet/payments/internal/ui"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSnapshot_TicketOnlyWhenConfirmed(t *testing.T) {
	tests := []struct {
		name    string
		outcome payment.OutcomeKind
		ticket  int
		want    *int
	}{
		{"confirmed", payment.OutcomeConfirmed, 4711, intPtr(4711)},
		{"confirmed with unknown ticket", payment.OutcomeConfirmed, payment.UnknownTicketID, intPtr(0)},
		{"failed", payment.OutcomeFailed, 0, nil},
		{"still running", "", 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := FromSnapshot(&payment.Snapshot{
				ID:       uuid.New(),
				Kind:     payment.KindPurchase,
				Provider: payment.ProviderDIBS,
				Outcome:  tt.outcome,
				TicketID: tt.ticket,
			})
			assert.Equal(t, tt.want, resp.TicketID)
			assert.Equal(t, "dibs", resp.Provider)
		})
	}
}

func TestFromView_FiltersCommandsBySeq(t *testing.T) {
	view := &service.AttemptView{
		Snapshot: payment.Snapshot{ID: uuid.New(), State: payment.StateAwaitingProviderResult},
		Commands: []ui.Command{
			{Seq: 1, Kind: ui.CommandPush, Screen: ui.ScreenDIBSPayment},
			{Seq: 2, Kind: ui.CommandShowActivity},
			{Seq: 3, Kind: ui.CommandHideActivity},
		},
		Live: true,
	}

	all := FromView(view, 0)
	assert.Len(t, all.Commands, 3)
	assert.True(t, all.Live)

	later := FromView(view, 2)
	require.Len(t, later.Commands, 1)
	assert.Equal(t, ui.CommandHideActivity, later.Commands[0].Kind)

	assert.Empty(t, FromView(view, 3).Commands)
}

func TestDeliverEventRequest_ToEvent(t *testing.T) {
	req := DeliverEventRequest{
		Name:    providers.EventPaymentAccepted,
		Params:  []ParamDTO{{Key: "transact", Value: "tx-1"}, {Key: "orderid", Value: "order-1"}},
		Code:    7,
		Message: "ok",
	}

	before := time.Now()
	ev := req.ToEvent()

	assert.Equal(t, providers.EventPaymentAccepted, ev.Name)
	assert.Equal(t, "tx-1", ev.First())
	orderID, ok := ev.Param("orderid")
	assert.True(t, ok)
	assert.Equal(t, "order-1", orderID)
	assert.Equal(t, 7, ev.Code)
	assert.False(t, ev.ReceivedAt.Before(before))
}

func TestCreatePurchaseRequest_Validation(t *testing.T) {
	tests := []struct {
		name    string
		req     CreatePurchaseRequest
		wantErr bool
	}{
		{"valid", CreatePurchaseRequest{Provider: "epay", OrderID: "o-1", Price: 2400}, false},
		{"unknown provider", CreatePurchaseRequest{Provider: "paypal", OrderID: "o-1", Price: 2400}, true},
		{"missing order", CreatePurchaseRequest{Provider: "dibs", Price: 2400}, true},
		{"zero price", CreatePurchaseRequest{Provider: "dibs", OrderID: "o-1"}, true},
		{"negative subscription", CreatePurchaseRequest{Provider: "epay", OrderID: "o-1", Price: 1, SubscriptionID: int64Ptr(-1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate.Struct(tt.req)
			assert.Equal(t, tt.wantErr, err != nil, "err = %v", err)
		})
	}
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }
