package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"payledger/internal/config"
	"payledger/internal/middleware"
	"payledger/internal/websocket"
)

type Handler struct {
	cfg     config.Config
	wallets WalletService
	admin   AdminService
	audit   AuditStore
	click   ClickGateway
	payme   PaymeGateway
	hub     *websocket.Hub
	limiter *middleware.RateLimiter
	db      HealthChecker
}

type Deps struct {
	Wallets WalletService
	Admin   AdminService
	Audit   AuditStore
	Click   ClickGateway
	Payme   PaymeGateway
	Hub     *websocket.Hub
	DB      HealthChecker
}

func New(cfg config.Config, deps Deps) *Handler {
	return &Handler{
		cfg:     cfg,
		wallets: deps.Wallets,
		admin:   deps.Admin,
		audit:   deps.Audit,
		click:   deps.Click,
		payme:   deps.Payme,
		hub:     deps.Hub,
		db:      deps.DB,
		limiter: middleware.NewRateLimiter(cfg.WebhookRPS, cfg.WebhookBurst, 3*time.Minute),
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestLogger)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Metrics)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", middleware.AdminKeyHeader, middleware.AdminActorHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Route("/webhooks", func(r chi.Router) {
		r.Use(h.limiter.Middleware)
		r.Post("/click/prepare", h.ClickPrepare)
		r.Post("/click/complete", h.ClickComplete)
		r.Post("/payme", h.Payme)
	})

	router.Route("/wallet", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.Get("/", h.GetWallet)
		r.Get("/transactions", h.ListTransactions)
		r.Get("/summary", h.GetSummary)
		r.Post("/topups", h.CreateTopUp)
		r.Post("/charges", h.Charge)
		r.Get("/charges/quote", h.QuoteCharge)
	})
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/ws/balances", h.WSBalances)

	router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireAdminKey(h.cfg.AdminAPIKeyHash))
		r.Get("/wallets/{userID}", h.AdminGetWallet)
		r.Post("/wallets/{userID}/credit", h.AdminCredit)
		r.Post("/wallets/{userID}/debit", h.AdminDebit)
		r.Post("/wallets/{userID}/refund", h.AdminRefund)
		r.Put("/wallets/{userID}/limits", h.AdminSetLimits)
		r.Post("/wallets/{userID}/activate", h.AdminActivate)
		r.Post("/wallets/{userID}/deactivate", h.AdminDeactivate)
		r.Get("/audit", h.ListAuditLogs)
	})

	router.Get("/health", h.Health)
	router.Handle("/metrics", promhttp.Handler())
	return router
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
