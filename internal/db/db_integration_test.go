//go:build integration

package db_test

import (
	"testing"

	"github.com/onnwee/promorank/internal/db"
	"github.com/onnwee/promorank/internal/db/dbtest"
)

func TestRunMigrations_CreatesSchema(t *testing.T) {
	pool := dbtest.Open(t)

	for _, table := range []string{"manual_placements", "placement_scopes", "product_engagement", "idempotency_keys", "audit_log"} {
		var exists bool
		err := pool.QueryRow(`SELECT EXISTS (
			SELECT 1 FROM information_schema.tables WHERE table_name = $1
		)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("query for %s failed: %v", table, err)
		}
		if !exists {
			t.Errorf("table %s was not created", table)
		}
	}

	// A second run is a no-op.
	if err := db.RunMigrations(pool); err != nil {
		t.Errorf("second RunMigrations() error = %v", err)
	}
}
