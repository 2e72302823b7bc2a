//go:build integration

// Package dbtest starts a throwaway PostgreSQL container for integration tests.
//
// Run with: go test -tags=integration ./...
package dbtest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/onnwee/promorank/internal/db"
)

// PostgresImage is the container image used for integration tests.
const PostgresImage = "postgres:16-alpine"

// Open starts a migrated PostgreSQL container and returns a pool connected to
// it. The container is terminated when the test finishes. Tests are skipped
// when no Docker provider is available.
func Open(t *testing.T) *sql.DB {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, PostgresImage,
		postgres.WithDatabase("promorank"),
		postgres.WithUsername("promorank"),
		postgres.WithPassword("promorank"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	pool, err := db.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	if err := db.RunMigrations(pool); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	return pool
}
