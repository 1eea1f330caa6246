package database

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMigrationURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@db:5432/catalog?sslmode=disable":   "pgx5://u:p@db:5432/catalog?sslmode=disable",
		"postgresql://u:p@db:5432/catalog?sslmode=disable": "pgx5://u:p@db:5432/catalog?sslmode=disable",
		"pgx5://u:p@db:5432/catalog":                       "pgx5://u:p@db:5432/catalog",
	}
	for in, want := range cases {
		require.Equal(t, want, MigrationURL(in), in)
	}
}

func TestMigrationsAreEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.Equal(t, []string{
		"0001_catalog.down.sql",
		"0001_catalog.up.sql",
		"0002_import_queue.down.sql",
		"0002_import_queue.up.sql",
	}, names)
}

func TestMigrateUpAndDown(t *testing.T) {
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}
	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("catalog_test"),
		postgres.WithUsername("catalog"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	require.NoError(t, Migrate(dsn, logger))
	// A second run is a no-op.
	require.NoError(t, Migrate(dsn, logger))

	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	var n int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_name IN ('import_queue','import_results','datasets','dataset_versions','users')`,
	).Scan(&n))
	require.Equal(t, 5, n)

	require.NoError(t, Rollback(dsn))
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 'import_queue'`,
	).Scan(&n))
	require.Zero(t, n)
}
