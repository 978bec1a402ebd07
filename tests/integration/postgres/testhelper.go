// Package integration holds opt-in database integration tests, skipped
// unless JOBQUEUE_DB_DSN points at a real PostgreSQL instance.
package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haldenlab/jobqueue/internal/config"
	"github.com/haldenlab/jobqueue/internal/infrastructure/persistence/postgres"
)

// SetupTestStore connects to and migrates a real PostgreSQL database,
// truncating the jobs table on cleanup. Skips the test if JOBQUEUE_DB_DSN
// is unset.
func SetupTestStore(t *testing.T) (*postgres.Store, context.Context) {
	t.Helper()

	cfg, err := config.LoadTestConfig()
	if err != nil {
		t.Skipf("skipping postgres integration test: %v (set JOBQUEUE_DB_DSN to run)", err)
	}

	ctx := context.Background()
	store, err := postgres.NewPostgresStore(ctx, cfg.Database.DSN)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = store.Pool().Exec(ctx, "TRUNCATE TABLE jobs")
		_ = store.Close()
	})

	return store, ctx
}
