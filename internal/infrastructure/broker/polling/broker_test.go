package polling_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haldenlab/jobqueue/internal/infrastructure/broker/polling"
	"github.com/haldenlab/jobqueue/internal/infrastructure/persistence/memory"
	"github.com/haldenlab/jobqueue/internal/statestore"
)

func TestBroker_DequeueFindsPendingJobFromStore(t *testing.T) {
	store := memory.New()
	b := polling.New(store, 0)
	ctx := context.Background()

	id, err := store.CreateJob(ctx, statestore.CreateParams{Type: "noop", Queue: "default"})
	require.NoError(t, err)

	// Enqueue is a no-op for this substrate; the job is already pending.
	require.NoError(t, b.Enqueue(ctx, "default", id))

	got, ok, err := b.Dequeue(ctx, "default", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, got)
}

func TestBroker_DequeueTimesOutOnEmptyQueue(t *testing.T) {
	store := memory.New()
	b := polling.New(store, 0)

	id, ok, err := b.Dequeue(context.Background(), "default", 100*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, id)
}

func TestBroker_DequeueIgnoresJobsNotYetAvailable(t *testing.T) {
	store := memory.New()
	b := polling.New(store, 0)
	ctx := context.Background()

	id, err := store.CreateJob(ctx, statestore.CreateParams{Type: "noop", Queue: "default"})
	require.NoError(t, err)
	// Push it into the future by scheduling a retry with a long delay.
	_, err = store.ScheduleRetry(ctx, id, 1, time.Hour, "deliberately delayed")
	require.NoError(t, err)

	_, ok, err := b.Dequeue(ctx, "default", 100*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBroker_AckAndNackAreNoOps(t *testing.T) {
	store := memory.New()
	b := polling.New(store, 0)
	ctx := context.Background()

	require.NoError(t, b.Ack(ctx, "default", 1))
	require.NoError(t, b.Nack(ctx, "default", 1, time.Minute))
}

func TestBroker_IsAvailableReflectsStoreHealth(t *testing.T) {
	store := memory.New()
	b := polling.New(store, 0)

	require.True(t, b.IsAvailable(context.Background()))
}

func TestBroker_ImplementsNeitherOptionalCapability(t *testing.T) {
	store := memory.New()
	var b interface{} = polling.New(store, 0)

	_, isDelayedPromoter := b.(interface {
		PromoteDelayedJobs(ctx context.Context, queue string) (int, error)
	})
	require.False(t, isDelayedPromoter)

	_, isStaleRecoverer := b.(interface {
		RecoverStaleProcessing(ctx context.Context, queue string, ttl time.Duration) (int, error)
	})
	require.False(t, isStaleRecoverer)
}
