package handlers

import (
	"context"
	"time"

	"payledger/internal/click"
	"payledger/internal/models"
	"payledger/internal/payme"
	"payledger/internal/services"
)

type WalletService interface {
	GetBalanceInfo(ctx context.Context, userID string) (services.BalanceInfo, error)
	GetTransactionHistory(ctx context.Context, userID string, filter services.HistoryFilter) ([]models.Transaction, error)
	SpendingSummary(ctx context.Context, userID string, days int) (services.SpendingSummary, error)
	CreateTopUp(ctx context.Context, req services.TopUpRequest) (models.Transaction, error)
	TranscriptionCost(durationSeconds int, media, quality string) (services.Quote, error)
	ChargeTranscription(ctx context.Context, req services.ChargeRequest) (services.Mutation, error)
}

type AdminService interface {
	AddBalance(ctx context.Context, req services.AddBalanceRequest) (services.Mutation, error)
	DeductBalance(ctx context.Context, req services.DeductBalanceRequest) (services.Mutation, error)
	RefundBalance(ctx context.Context, req services.RefundRequest) (services.Mutation, error)
	GetBalanceInfo(ctx context.Context, userID string) (services.BalanceInfo, error)
	SetLimits(ctx context.Context, actor, userID string, daily, monthly *int64) (models.Wallet, error)
	ActivateWallet(ctx context.Context, actor, userID string) (models.Wallet, error)
	DeactivateWallet(ctx context.Context, actor, userID string) (models.Wallet, error)
}

type AuditStore interface {
	List(ctx context.Context, limit, offset int) ([]models.AuditLog, error)
}

type ClickGateway interface {
	Prepare(ctx context.Context, req click.Request) click.Response
	Complete(ctx context.Context, req click.Request) click.Response
	PaymentLink(referenceID string, amount int64, returnURL string) string
}

type PaymeGateway interface {
	Handle(ctx context.Context, authorization string, body []byte) payme.Response
	CheckoutURL(referenceID string, amount int64) string
}

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

const healthTimeout = 2 * time.Second
