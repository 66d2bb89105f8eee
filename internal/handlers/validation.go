package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"payledger/internal/money"
	"payledger/internal/validator"
)

var errInvalidAmount = errors.New("invalid amount")

// parseAmountMinor accepts "1500", "1500.5" or "1500.50" sums.
func parseAmountMinor(raw string) (int64, error) {
	amount, err := money.ParseMinor(raw)
	if err != nil || amount <= 0 {
		return 0, errInvalidAmount
	}
	return amount, nil
}

// parseOptionalLimit treats "" as no change and "0" as clearing the limit.
func parseOptionalLimit(raw *string) (*int64, error) {
	if raw == nil {
		return nil, nil
	}
	value := strings.TrimSpace(*raw)
	if value == "" {
		return nil, nil
	}
	amount, err := money.ParseMinor(value)
	if err != nil || amount < 0 {
		return nil, errInvalidAmount
	}
	return &amount, nil
}

// decodeJSON decodes the body into dst and runs struct validation. On failure
// it writes the 400 response itself.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	if err := validator.Struct(dst); err != nil {
		var fieldErrs validator.Errors
		if errors.As(err, &fieldErrs) {
			respondJSON(w, http.StatusBadRequest, map[string]any{
				"error":   "validation failed",
				"details": fieldErrs,
			})
			return false
		}
		respondError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
