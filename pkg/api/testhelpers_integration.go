//go:build integration

package api

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SetupPostgresContainer starts a disposable PostgreSQL container for
// integration tests. Schema setup happens in the store constructors, so no
// migration step is needed here.
//
// Usage:
//
//	db, cleanup := SetupPostgresContainer(t)
//	defer cleanup()
func SetupPostgresContainer(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	ctx := context.Background()

	if _, err := testcontainers.ProviderDocker.GetProvider(); err != nil {
		t.Skip("Docker not available, skipping integration tests")
	}

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("warden_test"),
		tcpostgres.WithUsername("warden"),
		tcpostgres.WithPassword("warden_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: failed to close database: %v", err)
		}

		// Fresh context: the test's context may already be cancelled.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}
