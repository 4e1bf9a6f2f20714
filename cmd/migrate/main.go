// Command migrate manages the audit store schema with goose. The SQL files
// are embedded, so it runs from any directory.
//
// Usage:
//
//	migrate up              # Apply all pending migrations
//	migrate down            # Roll back the last migration
//	migrate status          # Show migration status
//	migrate version         # Show current schema version
//	migrate redo            # Roll back and re-apply the last migration
//	migrate up-to <version>
//	migrate down-to <version>
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/mbd888/guardian/internal/logging"
	"github.com/mbd888/guardian/migrations"
)

func main() {
	logger := logging.New("info", "text")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: migrate <command> [args]")
		fmt.Fprintln(os.Stderr, "Commands: up, down, status, version, redo, up-to <version>, down-to <version>")
		os.Exit(2)
	}

	_ = godotenv.Load()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		logger.Error("unsupported dialect", "error", err)
		os.Exit(1)
	}

	command := os.Args[1]
	if err := goose.RunContext(ctx, command, db, ".", os.Args[2:]...); err != nil {
		logger.Error("migration failed", "command", command, "error", err)
		os.Exit(1)
	}
}
