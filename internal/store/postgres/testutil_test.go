//go:build integration

package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/emperorhan/wallet-history/internal/store/postgres"
)

const testImage = "postgres:16-alpine"

// testDSN returns TEST_DB_URL, or the address of a container that lives for
// the duration of t.
func testDSN(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("TEST_DB_URL"); dsn != "" {
		return dsn
	}

	ctx := context.Background()
	ready := wait.ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(30 * time.Second)
	ctr, err := tcpostgres.Run(ctx, testImage,
		tcpostgres.WithDatabase("history_test"),
		tcpostgres.WithUsername("history"),
		tcpostgres.WithPassword("history"),
		testcontainers.WithWaitStrategy(ready),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, ctr.Terminate(context.Background())) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

// setupTestDB opens a small pool against a migrated database.
func setupTestDB(t *testing.T) *postgres.DB {
	t.Helper()
	ctx := context.Background()

	db, err := postgres.New(ctx, postgres.Config{
		URL:             testDSN(t),
		MaxOpenConns:    4,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.RunMigrations(ctx, postgres.Migrations()))
	return db
}
