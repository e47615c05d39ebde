package controller

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	domainErrors "github.com/mobilbillet/payments/internal/domain/errors"
	"github.com/mobilbillet/payments/internal/domain/payment"
	"github.com/mobilbillet/payments/internal/middleware"
	"github.com/mobilbillet/payments/internal/service"
)

// PurchaseController handles purchase and payment-method HTTP requests.
type PurchaseController struct {
	orchestrator *service.Orchestrator
}

// NewPurchaseController creates a new PurchaseController.
func NewPurchaseController(orchestrator *service.Orchestrator) *PurchaseController {
	return &PurchaseController{orchestrator: orchestrator}
}

// CreatePurchase handles POST /api/v1/purchases
func (h *PurchaseController) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req CreatePurchaseRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	provider, err := payment.ParseProvider(req.Provider)
	if err != nil {
		writeError(w, err)
		return
	}

	a := h.orchestrator.MakePayment(r.Context(), service.PurchaseRequest{
		Provider: provider,
		Intent: payment.PurchaseIntent{
			OrderID:        req.OrderID,
			Price:          req.Price,
			AddToFavorites: req.AddToFavorites,
		},
		Customer:     customerFrom(r, req.PaymentToken, req.SubscriptionID),
		OriginScreen: req.OriginScreen,
	}, payment.Handlers{})

	h.respondStarted(w, r, a)
}

// EditPaymentMethod handles POST /api/v1/payment-methods/edit
func (h *PurchaseController) EditPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req EditPaymentMethodRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	provider, err := payment.ParseProvider(req.Provider)
	if err != nil {
		writeError(w, err)
		return
	}

	a := h.orchestrator.EditPaymentData(r.Context(), service.EditRequest{
		Provider:     provider,
		Customer:     customerFrom(r, req.PaymentToken, req.SubscriptionID),
		OriginScreen: req.OriginScreen,
	}, payment.Handlers{})

	h.respondStarted(w, r, a)
}

// respondStarted answers 202 with the attempt as it stands. Attempts that
// were rejected before any provider was touched answer with the error.
func (h *PurchaseController) respondStarted(w http.ResponseWriter, r *http.Request, a *payment.Attempt) {
	if out, done := a.Outcome(); done && rejectedUpfront(out.Err) {
		writeError(w, out.Err)
		return
	}

	view, err := h.orchestrator.Get(r.Context(), a.ID)
	if err != nil {
		snap := a.Snapshot()
		writeJSON(w, http.StatusAccepted, FromSnapshot(&snap))
		return
	}
	w.Header().Set("Location", "/api/v1/purchases/"+a.ID.String())
	writeJSON(w, http.StatusAccepted, FromView(view, 0))
}

// GetPurchase handles GET /api/v1/purchases/{id}
func (h *PurchaseController) GetPurchase(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid attempt id", Code: "invalid_id"})
		return
	}
	since, _ := strconv.Atoi(r.URL.Query().Get("since"))

	view, err := h.orchestrator.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ownedBy(r, view.Snapshot.CustomerID) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "attempt not found", Code: "not_found"})
		return
	}

	writeJSON(w, http.StatusOK, FromView(view, since))
}

// DeliverEvent handles POST /api/v1/purchases/{id}/events
func (h *PurchaseController) DeliverEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid attempt id", Code: "invalid_id"})
		return
	}
	var req DeliverEventRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	view, err := h.orchestrator.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ownedBy(r, view.Snapshot.CustomerID) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "attempt not found", Code: "not_found"})
		return
	}

	if err := h.orchestrator.DeliverEvent(r.Context(), id, req.ToEvent()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ListOrderAttempts handles GET /api/v1/orders/{orderId}/attempts
func (h *PurchaseController) ListOrderAttempts(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.orchestrator.ListOrderAttempts(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*AttemptResponse, 0, len(snaps))
	for _, s := range snaps {
		if ownedBy(r, s.CustomerID) {
			resp = append(resp, FromSnapshot(s))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListProviders handles GET /api/v1/providers
func (h *PurchaseController) ListProviders(w http.ResponseWriter, r *http.Request) {
	resp := ProvidersResponse{Providers: []string{}}
	for _, p := range h.orchestrator.Providers() {
		resp.Providers = append(resp.Providers, p.String())
	}
	writeJSON(w, http.StatusOK, resp)
}

func rejectedUpfront(err error) bool {
	var ve *domainErrors.ValidationError
	return domainErrors.IsConfiguration(err) || errors.As(err, &ve)
}

func customerFrom(r *http.Request, paymentToken string, subscriptionID *int64) payment.Customer {
	userID, _ := middleware.GetUserID(r.Context())
	return payment.Customer{
		ID:             userID,
		PaymentToken:   paymentToken,
		SubscriptionID: subscriptionID,
		InstallationID: middleware.GetInstallationID(r.Context()),
		AccessToken:    middleware.GetAccessToken(r.Context()),
	}
}

func ownedBy(r *http.Request, customerID string) bool {
	userID, _ := middleware.GetUserID(r.Context())
	return customerID == "" || customerID == userID
}
