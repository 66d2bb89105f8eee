package services

import (
	"errors"
	"fmt"

	"payledger/internal/money"
)

var (
	ErrSignatureInvalid    = errors.New("signature invalid")
	ErrAuthUnauthorized    = errors.New("unauthorized")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAmountMismatch      = errors.New("amount mismatch")
	ErrAlreadyProcessed    = errors.New("already processed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrWalletInactive      = errors.New("wallet is inactive")
	ErrLimitExceeded       = errors.New("spending limit exceeded")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInternal            = errors.New("internal error")

	ErrNotPending        = errors.New("transaction is not pending")
	ErrExternalConflict  = errors.New("transaction is bound to another gateway id")
	ErrReferenceConflict = errors.New("reference id belongs to another operation")
	ErrInvalidGateway    = errors.New("invalid gateway")
	ErrInvalidRequest    = errors.New("invalid request")
)

type InsufficientBalanceError struct {
	Required  int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("Insufficient balance. Required: %s, Available: %s",
		money.FormatMinor(e.Required), money.FormatMinor(e.Available))
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

type LimitPeriod string

const (
	PeriodDaily   LimitPeriod = "daily"
	PeriodMonthly LimitPeriod = "monthly"
)

type LimitExceededError struct {
	Period    LimitPeriod
	Limit     int64
	Spent     int64
	Requested int64
}

func (e *LimitExceededError) Error() string {
	window := "today"
	label := "Daily"
	if e.Period == PeriodMonthly {
		window = "this month"
		label = "Monthly"
	}
	return fmt.Sprintf("%s limit exceeded. Limit: %s, Spent %s: %s",
		label, money.FormatMinor(e.Limit), window, money.FormatMinor(e.Spent))
}

func (e *LimitExceededError) Is(target error) bool {
	return target == ErrLimitExceeded
}

// Code maps err onto the ledger error taxonomy.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInternal):
		return "internal_error"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, ErrAuthUnauthorized):
		return "auth_unauthorized"
	case errors.Is(err, ErrTransactionNotFound):
		return "transaction_not_found"
	case errors.Is(err, ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, ErrAlreadyProcessed):
		return "already_processed"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrWalletInactive):
		return "wallet_inactive"
	case errors.Is(err, ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, money.ErrInvalidAmount), errors.Is(err, money.ErrTooManyDecimals):
		return "invalid_amount"
	case errors.Is(err, ErrNotPending):
		return "not_pending"
	case errors.Is(err, ErrExternalConflict), errors.Is(err, ErrReferenceConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidGateway):
		return "invalid_gateway"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return "internal_error"
	}
}

// IsInternal reports errors outside the taxonomy; their text must not reach callers.
func IsInternal(err error) bool {
	return err != nil && Code(err) == "internal_error"
}

// internal tags err with ErrInternal unless it already belongs to the taxonomy.
func internal(err error) error {
	if err == nil || errors.Is(err, ErrInternal) || !IsInternal(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInternal, err)
}
