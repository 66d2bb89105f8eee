package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"payledger/internal/logger"
	"payledger/internal/middleware"
	"payledger/internal/models"
	"payledger/internal/money"
	"payledger/internal/services"
	"payledger/internal/websocket"
)

type walletResponse struct {
	UserID            string     `json:"user_id"`
	Balance           string     `json:"balance"`
	TotalCredited     string     `json:"total_credited"`
	TotalDebited      string     `json:"total_debited"`
	SpentToday        string     `json:"spent_today"`
	SpentThisMonth    string     `json:"spent_this_month"`
	DailyLimit        *string    `json:"daily_limit"`
	MonthlyLimit      *string    `json:"monthly_limit"`
	IsActive          bool       `json:"is_active"`
	Currency          string     `json:"currency"`
	LastTransactionAt *time.Time `json:"last_transaction_at,omitempty"`
}

func newWalletResponse(info services.BalanceInfo) walletResponse {
	return walletResponse{
		UserID:            info.UserID,
		Balance:           money.FormatMinor(info.Balance),
		TotalCredited:     money.FormatMinor(info.TotalCredited),
		TotalDebited:      money.FormatMinor(info.TotalDebited),
		SpentToday:        money.FormatMinor(info.SpentToday),
		SpentThisMonth:    money.FormatMinor(info.SpentThisMonth),
		DailyLimit:        formatOptional(info.DailyLimit),
		MonthlyLimit:      formatOptional(info.MonthlyLimit),
		IsActive:          info.IsActive,
		Currency:          info.Currency,
		LastTransactionAt: info.LastTransactionAt,
	}
}

type transactionResponse struct {
	ID            int64           `json:"id"`
	ReferenceID   string          `json:"reference_id"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	Amount        string          `json:"amount"`
	BalanceAfter  *string         `json:"balance_after,omitempty"`
	PaymentMethod string          `json:"payment_method"`
	Gateway       *models.Gateway `json:"gateway,omitempty"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
}

func newTransactionResponse(tx models.Transaction) transactionResponse {
	return transactionResponse{
		ID:            tx.ID,
		ReferenceID:   tx.ReferenceID,
		Type:          string(tx.Type),
		Status:        string(tx.Status),
		Amount:        money.FormatMinor(tx.Amount),
		BalanceAfter:  formatOptional(tx.BalanceAfter),
		PaymentMethod: tx.PaymentMethod,
		Gateway:       tx.Gateway,
		Description:   tx.Description,
		CreatedAt:     tx.CreatedAt,
		ProcessedAt:   tx.ProcessedAt,
	}
}

func formatOptional(value *int64) *string {
	if value == nil {
		return nil
	}
	formatted := money.FormatMinor(*value)
	return &formatted
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	info, err := h.wallets.GetBalanceInfo(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newWalletResponse(info))
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	filter := services.HistoryFilter{
		Limit:  queryInt(r, "limit", 20),
		Offset: queryInt(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("type"); raw != "" {
		txType := models.TransactionType(raw)
		filter.Type = &txType
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.TransactionStatus(raw)
		filter.Status = &status
	}
	rows, err := h.wallets.GetTransactionHistory(r.Context(), userID, filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	out := make([]transactionResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, newTransactionResponse(row))
	}
	respondJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	summary, err := h.wallets.SpendingSummary(r.Context(), userID, queryInt(r, "days", 30))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"period_days":       summary.PeriodDays,
		"from":              summary.From,
		"total_spent":       money.FormatMinor(summary.TotalSpent),
		"transaction_count": summary.TransactionCount,
		"daily_average":     money.FormatMinor(summary.DailyAverage),
		"current_balance":   money.FormatMinor(summary.CurrentBalance),
	})
}

type topUpRequest struct {
	Amount    string `json:"amount" validate:"required"`
	Gateway   string `json:"gateway" validate:"required,oneof=click payme"`
	ReturnURL string `json:"return_url" validate:"omitempty,url"`
}

// CreateTopUp opens a pending top-up and returns the gateway page to pay it on.
func (h *Handler) CreateTopUp(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req topUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := parseAmountMinor(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	gateway := models.Gateway(req.Gateway)
	row, err := h.wallets.CreateTopUp(r.Context(), services.TopUpRequest{UserID: userID, Amount: amount, Gateway: gateway})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	var paymentURL string
	switch gateway {
	case models.GatewayClick:
		paymentURL = h.click.PaymentLink(row.ReferenceID, row.Amount, req.ReturnURL)
	case models.GatewayPayme:
		paymentURL = h.payme.CheckoutURL(row.ReferenceID, row.Amount)
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"reference_id":   row.ReferenceID,
		"transaction_id": row.ID,
		"amount":         money.FormatMinor(row.Amount),
		"gateway":        gateway,
		"status":         row.Status,
		"payment_url":    paymentURL,
	})
}

type chargeRequest struct {
	ReferenceID     string `json:"reference_id" validate:"omitempty,reference"`
	DurationSeconds int    `json:"duration_seconds" validate:"gte=0"`
	Media           string `json:"media" validate:"required,max=32"`
	Quality         string `json:"quality" validate:"omitempty,oneof=fast normal high"`
}

// Charge bills a transcription job. Clients retry with the same reference_id
// to avoid double charging.
func (h *Handler) Charge(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req chargeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.wallets.ChargeTranscription(r.Context(), services.ChargeRequest{
		UserID:          userID,
		ReferenceID:     req.ReferenceID,
		DurationSeconds: req.DurationSeconds,
		Media:           req.Media,
		Quality:         req.Quality,
	})
	respondResult(w, r, http.StatusCreated, m, err)
}

func (h *Handler) QuoteCharge(w http.ResponseWriter, r *http.Request) {
	seconds, err := strconv.Atoi(r.URL.Query().Get("duration_seconds"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "duration_seconds is required")
		return
	}
	quote, err := h.wallets.TranscriptionCost(seconds, r.URL.Query().Get("media"), r.URL.Query().Get("quality"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"minutes": quote.Minutes,
		"cost":    money.FormatMinor(quote.Cost),
	})
}

func (h *Handler) WSBalances(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var snapshot *websocket.BalanceUpdate
	if info, err := h.wallets.GetBalanceInfo(r.Context(), userID); err == nil {
		snapshot = &websocket.BalanceUpdate{
			Type:     "snapshot",
			Balance:  money.FormatMinor(info.Balance),
			Currency: info.Currency,
		}
	} else {
		logger.FromContext(r.Context()).Warn("balance snapshot failed", zap.String("user_id", userID), zap.Error(err))
	}
	websocket.ServeWS(w, r, h.hub, userID, snapshot)
}
