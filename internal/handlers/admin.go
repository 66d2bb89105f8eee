package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"payledger/internal/middleware"
	"payledger/internal/models"
	"payledger/internal/services"
)

type adminCreditRequest struct {
	Amount      string `json:"amount" validate:"required"`
	Type        string `json:"type" validate:"omitempty,oneof=credit bonus"`
	Description string `json:"description" validate:"max=255"`
}

type adminDebitRequest struct {
	Amount           string `json:"amount" validate:"required"`
	Description      string `json:"description" validate:"max=255"`
	ReferenceID      string `json:"reference_id" validate:"omitempty,reference"`
	SkipBalanceCheck bool   `json:"skip_balance_check"`
}

type adminRefundRequest struct {
	Amount              string `json:"amount" validate:"required"`
	Description         string `json:"description" validate:"max=255"`
	OriginalReferenceID string `json:"original_reference_id" validate:"omitempty,reference"`
}

type adminLimitsRequest struct {
	DailyLimit   *string `json:"daily_limit"`
	MonthlyLimit *string `json:"monthly_limit"`
}

func (h *Handler) AdminGetWallet(w http.ResponseWriter, r *http.Request) {
	info, err := h.admin.GetBalanceInfo(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newWalletResponse(info))
}

func (h *Handler) AdminCredit(w http.ResponseWriter, r *http.Request) {
	var req adminCreditRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := parseAmountMinor(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	txType := models.TypeCredit
	if req.Type != "" {
		txType = models.TransactionType(req.Type)
	}
	description := req.Description
	if description == "" {
		description = "Manual credit by admin"
	}
	m, err := h.admin.AddBalance(r.Context(), services.AddBalanceRequest{
		UserID:        chi.URLParam(r, "userID"),
		Amount:        amount,
		Type:          txType,
		Description:   description,
		PaymentMethod: "admin",
		Gateway:       models.GatewayAdmin,
		Actor:         middleware.AdminActorFromContext(r.Context()),
	})
	respondResult(w, r, http.StatusCreated, m, err)
}

func (h *Handler) AdminDebit(w http.ResponseWriter, r *http.Request) {
	var req adminDebitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := parseAmountMinor(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	description := req.Description
	if description == "" {
		description = "Manual debit by admin"
	}
	m, err := h.admin.DeductBalance(r.Context(), services.DeductBalanceRequest{
		UserID:           chi.URLParam(r, "userID"),
		Amount:           amount,
		Description:      description,
		PaymentMethod:    "admin",
		Gateway:          models.GatewayAdmin,
		ReferenceID:      req.ReferenceID,
		SkipBalanceCheck: req.SkipBalanceCheck,
		Actor:            middleware.AdminActorFromContext(r.Context()),
	})
	respondResult(w, r, http.StatusCreated, m, err)
}

func (h *Handler) AdminRefund(w http.ResponseWriter, r *http.Request) {
	var req adminRefundRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := parseAmountMinor(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	m, err := h.admin.RefundBalance(r.Context(), services.RefundRequest{
		UserID:              chi.URLParam(r, "userID"),
		Amount:              amount,
		Description:         req.Description,
		OriginalReferenceID: req.OriginalReferenceID,
		Actor:               middleware.AdminActorFromContext(r.Context()),
	})
	respondResult(w, r, http.StatusCreated, m, err)
}

func (h *Handler) AdminSetLimits(w http.ResponseWriter, r *http.Request) {
	var req adminLimitsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	daily, err := parseOptionalLimit(req.DailyLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid daily_limit")
		return
	}
	monthly, err := parseOptionalLimit(req.MonthlyLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid monthly_limit")
		return
	}
	wallet, err := h.admin.SetLimits(r.Context(), middleware.AdminActorFromContext(r.Context()), chi.URLParam(r, "userID"), daily, monthly)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":       wallet.UserID,
		"daily_limit":   formatOptional(wallet.DailyLimit),
		"monthly_limit": formatOptional(wallet.MonthlyLimit),
	})
}

func (h *Handler) AdminActivate(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.admin.ActivateWallet(r.Context(), middleware.AdminActorFromContext(r.Context()), chi.URLParam(r, "userID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user_id": wallet.UserID, "is_active": wallet.IsActive})
}

func (h *Handler) AdminDeactivate(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.admin.DeactivateWallet(r.Context(), middleware.AdminActorFromContext(r.Context()), chi.URLParam(r, "userID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user_id": wallet.UserID, "is_active": wallet.IsActive})
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit > 200 {
		limit = 200
	}
	logs, err := h.audit.List(r.Context(), limit, queryInt(r, "offset", 0))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}
