package main

import (
	"flag"
	"log"

	"go.uber.org/zap"

	"payledger/internal/config"
	"payledger/internal/db"
	"payledger/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	dir := flag.String("path", cfg.MigrationsPath, "directory holding the migration files")
	flag.Parse()

	zlog, flush, err := logger.New(logger.Options{Level: cfg.LogLevel, Production: cfg.IsProduction()})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer flush()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		zlog.Fatal("failed to connect database", zap.Error(err))
	}
	defer database.Close()

	if err := db.RunMigrations(database, *dir); err != nil {
		zlog.Fatal("migration failed", zap.Error(err))
	}
}
