package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"payledger/internal/logger"
	"payledger/internal/services"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondResult writes a ledger outcome in the services.Result shape used by
// the bot and admin clients.
func respondResult(w http.ResponseWriter, r *http.Request, successStatus int, m services.Mutation, err error) {
	if err != nil && services.IsInternal(err) {
		logger.FromContext(r.Context()).Error("ledger operation failed", zap.Error(err))
	}
	status := successStatus
	if err != nil {
		status = statusFor(err)
	} else if m.AlreadyProcessed {
		status = http.StatusOK
	}
	respondJSON(w, status, services.NewResult(m, err))
}

// respondServiceError maps a ledger error to an HTTP status with the stable
// error code as the message.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if services.IsInternal(err) {
		logger.FromContext(r.Context()).Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	respondError(w, statusFor(err), services.Code(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInsufficientBalance),
		errors.Is(err, services.ErrLimitExceeded),
		errors.Is(err, services.ErrWalletInactive):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrReferenceConflict),
		errors.Is(err, services.ErrExternalConflict),
		errors.Is(err, services.ErrNotPending):
		return http.StatusConflict
	case services.IsInternal(err):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
