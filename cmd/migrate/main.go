package main

import (
	"context"
	"fmt"
	"os"

	"vaultcore/internal/observability"
	"vaultcore/internal/persistence"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down>")
		fmt.Println("  up   - apply all pending migrations")
		fmt.Println("  down - roll back the last migration")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  VAULT_DATABASE_URL   - Postgres connection string (required)")
		fmt.Println("  VAULT_MIGRATIONS_DIR - migrations directory (default: migrations)")
		os.Exit(1)
	}

	logger := observability.NewLogger()

	url := os.Getenv("VAULT_DATABASE_URL")
	if url == "" {
		logger.Fatal().Msg("VAULT_DATABASE_URL is required")
	}
	dir := os.Getenv("VAULT_MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}

	ctx := context.Background()
	db, err := persistence.Open(ctx, url, 2)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	migrator := persistence.NewMigrator(db, dir, logger)
	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Msg("all migrations applied")
	case "down":
		if err := migrator.Down(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		logger.Info().Msg("last migration rolled back")
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up' or 'down')\n", os.Args[1])
		os.Exit(1)
	}
}
