package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

const Currency = "UZS"

type TransactionType string

const (
	TypeCredit     TransactionType = "credit"
	TypeDebit      TransactionType = "debit"
	TypeRefund     TransactionType = "refund"
	TypeBonus      TransactionType = "bonus"
	TypeCommission TransactionType = "commission"
)

// Sign is +1 for types that add to the balance and -1 for debits.
func (t TransactionType) Sign() int64 {
	switch t {
	case TypeDebit, TypeCommission:
		return -1
	default:
		return 1
	}
}

func (t TransactionType) Valid() bool {
	switch t {
	case TypeCredit, TypeDebit, TypeRefund, TypeBonus, TypeCommission:
		return true
	}
	return false
}

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusCancelled TransactionStatus = "cancelled"
	StatusRefunded  TransactionStatus = "refunded"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible. A completed
// transaction can still be refunded, so it is not terminal here.
func (s TransactionStatus) Terminal() bool {
	return s == StatusFailed || s == StatusCancelled || s == StatusRefunded
}

type Gateway string

const (
	GatewayClick  Gateway = "click"
	GatewayPayme  Gateway = "payme"
	GatewayWallet Gateway = "wallet"
	GatewayAdmin  Gateway = "admin"
)

func (g Gateway) Valid() bool {
	switch g {
	case GatewayClick, GatewayPayme, GatewayWallet, GatewayAdmin:
		return true
	}
	return false
}

type Wallet struct {
	ID                int64      `db:"id" json:"id"`
	UserID            string     `db:"user_id" json:"user_id"`
	Balance           int64      `db:"balance" json:"balance"`
	TotalCredited     int64      `db:"total_credited" json:"total_credited"`
	TotalDebited      int64      `db:"total_debited" json:"total_debited"`
	Currency          string     `db:"currency" json:"currency"`
	IsActive          bool       `db:"is_active" json:"is_active"`
	DailyLimit        *int64     `db:"daily_limit" json:"daily_limit,omitempty"`
	MonthlyLimit      *int64     `db:"monthly_limit" json:"monthly_limit,omitempty"`
	LastTransactionAt *time.Time `db:"last_transaction_at" json:"last_transaction_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

type Transaction struct {
	ID                 int64             `db:"id" json:"id"`
	UserID             string            `db:"user_id" json:"user_id"`
	WalletID           int64             `db:"wallet_id" json:"wallet_id"`
	Type               TransactionType   `db:"type" json:"type"`
	Status             TransactionStatus `db:"status" json:"status"`
	Amount             int64             `db:"amount" json:"amount"`
	BalanceBefore      *int64            `db:"balance_before" json:"balance_before,omitempty"`
	BalanceAfter       *int64            `db:"balance_after" json:"balance_after,omitempty"`
	PaymentMethod      string            `db:"payment_method" json:"payment_method"`
	Gateway            *Gateway          `db:"gateway" json:"gateway,omitempty"`
	ReferenceID        string            `db:"reference_id" json:"reference_id"`
	ExternalID         *string           `db:"external_id" json:"external_id,omitempty"`
	ExternalTime       *int64            `db:"external_time" json:"external_time,omitempty"`
	ExternalAttachedAt *time.Time        `db:"external_attached_at" json:"external_attached_at,omitempty"`
	Description        string            `db:"description" json:"description"`
	Metadata           Metadata          `db:"metadata" json:"metadata"`
	FailedReason       *string           `db:"failed_reason" json:"failed_reason,omitempty"`
	CancelReason       *int              `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt          time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time         `db:"updated_at" json:"updated_at"`
	ProcessedAt        *time.Time        `db:"processed_at" json:"processed_at,omitempty"`
	CancelledAt        *time.Time        `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

// GatewayIs reports whether the transaction was routed through g.
func (t Transaction) GatewayIs(g Gateway) bool {
	return t.Gateway != nil && *t.Gateway == g
}

// Metadata is stored as a JSONB object.
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("metadata: unsupported source type")
	}
	out := Metadata{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return err
		}
	}
	*m = out
	return nil
}

type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	Actor      string    `db:"actor" json:"actor"`
	Action     string    `db:"action" json:"action"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	EntityID   string    `db:"entity_id" json:"entity_id"`
	Data       string    `db:"data" json:"data"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
