package integration_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haldenlab/jobqueue/internal/infrastructure/persistence/sqlite"
	"github.com/haldenlab/jobqueue/internal/statestore"
	"github.com/haldenlab/jobqueue/internal/testutil/storetest"
)

func TestSQLiteStore_Compliance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) (statestore.Store, func()) {
		path := filepath.Join(t.TempDir(), "jobs.db")
		store, err := sqlite.Open(context.Background(), path)
		require.NoError(t, err)
		return store, func() { _ = store.Close() }
	})
}
