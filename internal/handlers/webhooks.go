package handlers

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"payledger/internal/click"
	"payledger/internal/logger"
)

const maxWebhookBody = 1 << 20

// Gateways expect HTTP 200 with a protocol body for every outcome, so these
// handlers never use respondError.

func (h *Handler) ClickPrepare(w http.ResponseWriter, r *http.Request) {
	req, ok := parseClickForm(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, h.click.Prepare(r.Context(), req))
}

func (h *Handler) ClickComplete(w http.ResponseWriter, r *http.Request) {
	req, ok := parseClickForm(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, h.click.Complete(r.Context(), req))
}

func parseClickForm(w http.ResponseWriter, r *http.Request) (click.Request, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	if err := r.ParseForm(); err != nil {
		logger.FromContext(r.Context()).Warn("click webhook: unreadable form", zap.Error(err))
		respondJSON(w, http.StatusOK, click.Response{
			Error:     click.CodeErrorInRequest,
			ErrorNote: click.CodeErrorInRequest.Note(),
		})
		return click.Request{}, false
	}
	return click.ParseRequest(r.Form), true
}

func (h *Handler) Payme(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		logger.FromContext(r.Context()).Warn("payme webhook: unreadable body", zap.Error(err))
		body = nil
	}
	respondJSON(w, http.StatusOK, h.payme.Handle(r.Context(), r.Header.Get("Authorization"), body))
}
