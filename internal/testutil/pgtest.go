// Package testutil provides shared infrastructure for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/mbd888/guardian/migrations"
)

// auditTables are emptied between tests. goose's own version table is kept.
var auditTables = []string{"risk_assessments"}

// PGTest connects to POSTGRES_URL, applies the embedded migrations and
// returns the database plus a cleanup function that empties the audit
// tables and closes the connection. Without POSTGRES_URL the test is
// skipped.
//
//	db, cleanup := testutil.PGTest(t)
//	defer cleanup()
func PGTest(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("pgtest: open database: %v", err)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: connect to database: %v", err)
	}
	if _, err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: %v", err)
	}
	truncate(ctx, t, db)

	return db, func() {
		truncate(ctx, t, db)
		_ = db.Close()
	}
}

func truncate(ctx context.Context, t *testing.T, db *sql.DB) {
	for _, table := range auditTables {
		// #nosec G202 -- table names are constants
		if _, err := db.ExecContext(ctx, "TRUNCATE "+table); err != nil {
			t.Logf("pgtest: truncate %s: %v", table, err)
		}
	}
}
