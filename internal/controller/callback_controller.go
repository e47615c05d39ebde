package controller

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	domainErrors "github.com/mobilbillet/payments/internal/domain/errors"
	"github.com/mobilbillet/payments/internal/providers/mobilepay"
	"github.com/mobilbillet/payments/internal/service"
	"github.com/rs/zerolog/log"
)

// CallbackController receives the wallet app's return URL. The wallet
// hands control back without the customer's bearer token, so the attempt
// id in the query is the only correlation.
type CallbackController struct {
	orchestrator *service.Orchestrator
}

func NewCallbackController(orchestrator *service.Orchestrator) *CallbackController {
	return &CallbackController{orchestrator: orchestrator}
}

// MobilePayReturn handles GET /callbacks/mobilepay
func (h *CallbackController) MobilePayReturn(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, err := uuid.Parse(q.Get("attempt"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing or invalid attempt", Code: "invalid_id"})
		return
	}

	err = h.orchestrator.DeliverEvent(r.Context(), id, mobilepay.ReentryEvent(q))
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "received"})
	case errors.Is(err, domainErrors.ErrSessionClosed):
		// the wallet may hand control back twice
		log.Info().Str("attempt_id", id.String()).Msg("wallet return after attempt completed")
		writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
	default:
		writeError(w, err)
	}
}
