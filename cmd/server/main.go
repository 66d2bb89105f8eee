package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"payledger/internal/cache"
	"payledger/internal/click"
	"payledger/internal/config"
	"payledger/internal/db"
	"payledger/internal/events"
	"payledger/internal/handlers"
	"payledger/internal/logger"
	"payledger/internal/notify"
	"payledger/internal/payme"
	"payledger/internal/services"
	"payledger/internal/store"
	"payledger/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	zlog, flush, err := logger.New(logger.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		Production: cfg.IsProduction(),
	})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer flush()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		zlog.Fatal("failed to connect database", zap.Error(err))
	}
	defer database.Close()

	var balanceCache services.BalanceCache
	if cfg.RedisURL != "" {
		client, err := connectRedis(cfg.RedisURL)
		if err != nil {
			zlog.Warn("redis unavailable, balance cache disabled", zap.Error(err))
		} else {
			defer client.Close()
			balanceCache = cache.NewBalanceCache(client, cfg.BalanceCacheTTL)
		}
	}

	var publisher notify.Publisher
	var eventPublisher *events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		eventPublisher = events.NewPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		publisher = eventPublisher
	}

	hub := websocket.NewHub()
	fanout := notify.NewFanout(hub, publisher)

	ledger := services.NewLedgerService(
		db.NewTxRunner(database),
		store.NewWalletStore(database),
		store.NewTransactionStore(database),
		store.NewAuditStore(database),
		balanceCache,
		fanout,
		cfg.Pricing,
	)

	handler := handlers.New(cfg, handlers.Deps{
		Wallets: ledger,
		Admin:   ledger,
		Audit:   store.NewAuditStore(database),
		Click:   click.NewService(cfg.Click, ledger),
		Payme:   payme.NewService(cfg.Payme, ledger),
		Hub:     hub,
		DB:      database,
	})
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zlog.Info("payledger API listening", zap.String("addr", server.Addr), zap.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		zlog.Error("shutdown error", zap.Error(err))
	}
	fanout.Wait()
	if eventPublisher != nil {
		if err := eventPublisher.Close(); err != nil {
			zlog.Warn("failed to close kafka writer", zap.Error(err))
		}
	}
	zlog.Info("server stopped")
}

func connectRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
