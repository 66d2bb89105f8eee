package services

import (
	"payledger/internal/money"
)

const internalErrorMessage = "Internal error, please try again later"

// Result is the flat outcome handed to bot and admin callers.
type Result struct {
	Success          bool   `json:"success"`
	Error            string `json:"error,omitempty"`
	ErrorCode        string `json:"error_code,omitempty"`
	ReferenceID      string `json:"reference_id,omitempty"`
	TransactionID    int64  `json:"transaction_id,omitempty"`
	Status           string `json:"status,omitempty"`
	Amount           string `json:"amount,omitempty"`
	Balance          string `json:"balance,omitempty"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
}

func NewResult(m Mutation, err error) Result {
	if err != nil {
		message := err.Error()
		if IsInternal(err) {
			message = internalErrorMessage
		}
		return Result{Error: message, ErrorCode: Code(err)}
	}
	return Result{
		Success:          true,
		ReferenceID:      m.Transaction.ReferenceID,
		TransactionID:    m.Transaction.ID,
		Status:           string(m.Transaction.Status),
		Amount:           money.FormatMinor(m.Transaction.Amount),
		Balance:          money.FormatMinor(m.Balance),
		AlreadyProcessed: m.AlreadyProcessed,
	}
}
