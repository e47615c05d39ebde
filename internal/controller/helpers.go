package controller

import (
	"errors"
	"net/http"

	domainErrors "github.com/mobilbillet/payments/internal/domain/errors"
	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
)

var (
	json     = jsoniter.ConfigCompatibleWithStandardLibrary
	validate = validator.New()
)

const maxRequestBody = 64 << 10

type errorMapping struct {
	err    error
	status int
	code   string
}

// More specific errors come first; ErrConfiguration wraps several of them.
var errorMappings = []errorMapping{
	{domainErrors.ErrAttemptNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrSessionClosed, http.StatusConflict, "session_closed"},
	{domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
	{domainErrors.ErrDuplicateIdempotencyKey, http.StatusConflict, "duplicate_request"},
	{domainErrors.ErrUnknownProvider, http.StatusBadRequest, "unknown_provider"},
	{domainErrors.ErrProviderNotSupported, http.StatusUnprocessableEntity, "provider_not_supported"},
	{domainErrors.ErrMissingPaymentToken, http.StatusUnprocessableEntity, "missing_payment_token"},
	{domainErrors.ErrEditNotSupported, http.StatusUnprocessableEntity, "edit_not_supported"},
	{domainErrors.ErrMissingConfiguration, http.StatusServiceUnavailable, "provider_not_configured"},
	{domainErrors.ErrConfiguration, http.StatusUnprocessableEntity, "configuration_error"},
	{domainErrors.ErrLockAcquisitionFailed, http.StatusConflict, "order_locked"},
	{domainErrors.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}

	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		resp.Code = "validation_error"
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			resp.Code = m.code
			writeJSON(w, m.status, resp)
			return
		}
	}

	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		resp.Code = domainErr.Code
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	log.Error().Err(err).Msg("unhandled error in handler")
	resp.Code = "internal_error"
	resp.Error = "internal server error"
	writeJSON(w, http.StatusInternalServerError, resp)
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return domainErrors.NewValidationError(ve[0].Field(), ve[0].Tag()+" validation failed")
		}
		return domainErrors.NewValidationError("body", err.Error())
	}
	return nil
}
