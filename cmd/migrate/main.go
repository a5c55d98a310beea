// Package main applies the SQL migrations in db/migrations.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/archon-research/stl-trade/db/migrator"
	"github.com/archon-research/stl-trade/internal/adapters/outbound/postgres"
	"github.com/archon-research/stl-trade/internal/pkg/env"
)

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: env.ParseLogLevel(slog.LevelInfo)}))

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		logger.Error("required environment variable not set", "key", "DATABASE_URL")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(url))
	if err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	m := migrator.New(pool, env.Get("MIGRATIONS_DIR", "./db/migrations"), logger)
	if err := m.ApplyAll(ctx); err != nil {
		logger.Error("migration failed", "error", err)
		pool.Close()
		os.Exit(1)
	}
	logger.Info("all migrations up to date")
}
