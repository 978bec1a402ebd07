package memory_test

import (
	"testing"

	"github.com/haldenlab/jobqueue/internal/infrastructure/persistence/memory"
	"github.com/haldenlab/jobqueue/internal/statestore"
	"github.com/haldenlab/jobqueue/internal/testutil/storetest"
)

func TestStore_Compliance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) (statestore.Store, func()) {
		return memory.New(), func() {}
	})
}
