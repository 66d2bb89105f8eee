package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"payledger/internal/auth"
	"payledger/internal/click"
	"payledger/internal/config"
	"payledger/internal/middleware"
	"payledger/internal/models"
	"payledger/internal/payme"
	"payledger/internal/services"
	"payledger/internal/websocket"
)

const testAdminKey = "admin-key"

type stubWalletService struct {
	balanceFn func(ctx context.Context, userID string) (services.BalanceInfo, error)
	historyFn func(ctx context.Context, userID string, filter services.HistoryFilter) ([]models.Transaction, error)
	summaryFn func(ctx context.Context, userID string, days int) (services.SpendingSummary, error)
	topUpFn   func(ctx context.Context, req services.TopUpRequest) (models.Transaction, error)
	quoteFn   func(durationSeconds int, media, quality string) (services.Quote, error)
	chargeFn  func(ctx context.Context, req services.ChargeRequest) (services.Mutation, error)
	creditFn  func(ctx context.Context, req services.AddBalanceRequest) (services.Mutation, error)
	debitFn   func(ctx context.Context, req services.DeductBalanceRequest) (services.Mutation, error)
	refundFn  func(ctx context.Context, req services.RefundRequest) (services.Mutation, error)
	limitsFn  func(ctx context.Context, actor, userID string, daily, monthly *int64) (models.Wallet, error)
	activeFn  func(ctx context.Context, actor, userID string, active bool) (models.Wallet, error)
}

func (s stubWalletService) GetBalanceInfo(ctx context.Context, userID string) (services.BalanceInfo, error) {
	if s.balanceFn == nil {
		return services.BalanceInfo{UserID: userID, Currency: models.Currency, IsActive: true}, nil
	}
	return s.balanceFn(ctx, userID)
}

func (s stubWalletService) GetTransactionHistory(ctx context.Context, userID string, filter services.HistoryFilter) ([]models.Transaction, error) {
	if s.historyFn == nil {
		return nil, nil
	}
	return s.historyFn(ctx, userID, filter)
}

func (s stubWalletService) SpendingSummary(ctx context.Context, userID string, days int) (services.SpendingSummary, error) {
	if s.summaryFn == nil {
		return services.SpendingSummary{PeriodDays: days}, nil
	}
	return s.summaryFn(ctx, userID, days)
}

func (s stubWalletService) CreateTopUp(ctx context.Context, req services.TopUpRequest) (models.Transaction, error) {
	if s.topUpFn == nil {
		return models.Transaction{}, nil
	}
	return s.topUpFn(ctx, req)
}

func (s stubWalletService) TranscriptionCost(durationSeconds int, media, quality string) (services.Quote, error) {
	if s.quoteFn == nil {
		return services.Quote{}, nil
	}
	return s.quoteFn(durationSeconds, media, quality)
}

func (s stubWalletService) ChargeTranscription(ctx context.Context, req services.ChargeRequest) (services.Mutation, error) {
	if s.chargeFn == nil {
		return services.Mutation{}, nil
	}
	return s.chargeFn(ctx, req)
}

func (s stubWalletService) AddBalance(ctx context.Context, req services.AddBalanceRequest) (services.Mutation, error) {
	if s.creditFn == nil {
		return services.Mutation{}, nil
	}
	return s.creditFn(ctx, req)
}

func (s stubWalletService) DeductBalance(ctx context.Context, req services.DeductBalanceRequest) (services.Mutation, error) {
	if s.debitFn == nil {
		return services.Mutation{}, nil
	}
	return s.debitFn(ctx, req)
}

func (s stubWalletService) RefundBalance(ctx context.Context, req services.RefundRequest) (services.Mutation, error) {
	if s.refundFn == nil {
		return services.Mutation{}, nil
	}
	return s.refundFn(ctx, req)
}

func (s stubWalletService) SetLimits(ctx context.Context, actor, userID string, daily, monthly *int64) (models.Wallet, error) {
	if s.limitsFn == nil {
		return models.Wallet{UserID: userID}, nil
	}
	return s.limitsFn(ctx, actor, userID, daily, monthly)
}

func (s stubWalletService) ActivateWallet(ctx context.Context, actor, userID string) (models.Wallet, error) {
	if s.activeFn == nil {
		return models.Wallet{UserID: userID, IsActive: true}, nil
	}
	return s.activeFn(ctx, actor, userID, true)
}

func (s stubWalletService) DeactivateWallet(ctx context.Context, actor, userID string) (models.Wallet, error) {
	if s.activeFn == nil {
		return models.Wallet{UserID: userID}, nil
	}
	return s.activeFn(ctx, actor, userID, false)
}

type stubAuditStore struct {
	listFn func(ctx context.Context, limit, offset int) ([]models.AuditLog, error)
}

func (s stubAuditStore) List(ctx context.Context, limit, offset int) ([]models.AuditLog, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, limit, offset)
}

type stubClick struct {
	prepareFn  func(ctx context.Context, req click.Request) click.Response
	completeFn func(ctx context.Context, req click.Request) click.Response
}

func (s stubClick) Prepare(ctx context.Context, req click.Request) click.Response {
	if s.prepareFn == nil {
		return click.Response{}
	}
	return s.prepareFn(ctx, req)
}

func (s stubClick) Complete(ctx context.Context, req click.Request) click.Response {
	if s.completeFn == nil {
		return click.Response{}
	}
	return s.completeFn(ctx, req)
}

func (s stubClick) PaymentLink(referenceID string, amount int64, returnURL string) string {
	return "https://test.click.uz/services/pay?transaction_param=" + referenceID
}

type stubPayme struct {
	handleFn func(ctx context.Context, authorization string, body []byte) payme.Response
}

func (s stubPayme) Handle(ctx context.Context, authorization string, body []byte) payme.Response {
	if s.handleFn == nil {
		return payme.Response{JSONRPC: "2.0"}
	}
	return s.handleFn(ctx, authorization, body)
}

func (s stubPayme) CheckoutURL(referenceID string, amount int64) string {
	return "https://checkout.test.paycom.uz/" + referenceID
}

type stubPinger struct {
	err error
}

func (s stubPinger) PingContext(context.Context) error {
	return s.err
}

type testDeps struct {
	wallets stubWalletService
	audit   stubAuditStore
	click   stubClick
	payme   stubPayme
	db      HealthChecker
	cfg     func(*config.Config)
}

func newTestHandler(t *testing.T, deps testDeps) *Handler {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash admin key: %v", err)
	}
	cfg := config.Config{
		AppEnv:          "test",
		Port:            "0",
		JWTSecret:       "secret",
		TokenTTL:        time.Minute,
		AllowedOrigins:  "*",
		AdminAPIKeyHash: string(hash),
		WebhookRPS:      100,
		WebhookBurst:    100,
	}
	if deps.cfg != nil {
		deps.cfg(&cfg)
	}
	return New(cfg, Deps{
		Wallets: deps.wallets,
		Admin:   deps.wallets,
		Audit:   deps.audit,
		Click:   deps.click,
		Payme:   deps.payme,
		Hub:     websocket.NewHub(),
		DB:      deps.db,
	})
}

func userRequest(t *testing.T, method, target string, body io.Reader, userID string) *http.Request {
	t.Helper()
	token, err := auth.GenerateToken("secret", userID, time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func adminRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.Header.Set(middleware.AdminKeyHeader, testAdminKey)
	req.Header.Set(middleware.AdminActorHeader, "ops")
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	return rr
}
