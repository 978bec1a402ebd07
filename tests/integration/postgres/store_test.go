package integration_test

import (
	"testing"

	integration "github.com/haldenlab/jobqueue/tests/integration/postgres"

	"github.com/haldenlab/jobqueue/internal/statestore"
	"github.com/haldenlab/jobqueue/internal/testutil/storetest"
)

func TestPostgresStore_Compliance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) (statestore.Store, func()) {
		store, _ := integration.SetupTestStore(t)
		return store, func() {}
	})
}
