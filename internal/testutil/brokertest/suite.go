// Package brokertest exercises the Dispatch Layer contract
// (internal/broker.Broker) against any concrete substrate, following the
// same shared-suite pattern as internal/testutil/storetest.
package brokertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haldenlab/jobqueue/internal/broker"
)

// Run exercises the common Broker contract. setup returns a fresh broker
// and the queue name it is scoped to; cleanup (if any) is the caller's
// responsibility via t.Cleanup inside setup.
func Run(t *testing.T, setup func(t *testing.T) (broker.Broker, string)) {
	t.Run("DequeueOnEmptyQueueTimesOut", func(t *testing.T) {
		b, queue := setup(t)
		ctx := context.Background()

		id, ok, err := b.Dequeue(ctx, queue, 100*time.Millisecond)
		require.NoError(t, err)
		require.False(t, ok)
		require.Zero(t, id)
	})

	t.Run("EnqueueThenDequeueRoundTrips", func(t *testing.T) {
		b, queue := setup(t)
		ctx := context.Background()

		require.NoError(t, b.Enqueue(ctx, queue, 42))

		id, ok, err := b.Dequeue(ctx, queue, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, int64(42), id)
	})

	t.Run("AckIsIdempotent", func(t *testing.T) {
		b, queue := setup(t)
		ctx := context.Background()

		require.NoError(t, b.Enqueue(ctx, queue, 7))
		id, ok, err := b.Dequeue(ctx, queue, time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, b.Ack(ctx, queue, id))
		require.NoError(t, b.Ack(ctx, queue, id))
	})

	t.Run("NackWithoutDelayReturnsToReady", func(t *testing.T) {
		b, queue := setup(t)
		ctx := context.Background()

		require.NoError(t, b.Enqueue(ctx, queue, 9))
		id, ok, err := b.Dequeue(ctx, queue, time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, b.Nack(ctx, queue, id, 0))

		again, ok, err := b.Dequeue(ctx, queue, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, id, again)
	})

	t.Run("NackWithDelayDoesNotImmediatelyReappear", func(t *testing.T) {
		b, queue := setup(t)
		ctx := context.Background()

		require.NoError(t, b.Enqueue(ctx, queue, 11))
		id, ok, err := b.Dequeue(ctx, queue, time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, b.Nack(ctx, queue, id, time.Hour))

		_, ok, err = b.Dequeue(ctx, queue, 100*time.Millisecond)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("IsAvailableReportsHealth", func(t *testing.T) {
		b, _ := setup(t)
		require.True(t, b.IsAvailable(context.Background()))
	})

	t.Run("DelayedPromoterMovesDueEntries", func(t *testing.T) {
		b, queue := setup(t)
		promoter, ok := b.(broker.DelayedPromoter)
		if !ok {
			t.Skip("substrate does not implement DelayedPromoter")
		}
		ctx := context.Background()

		require.NoError(t, b.Enqueue(ctx, queue, 21))
		id, ok2, err := b.Dequeue(ctx, queue, time.Second)
		require.NoError(t, err)
		require.True(t, ok2)
		require.NoError(t, b.Nack(ctx, queue, id, time.Millisecond)) // due almost at once
		time.Sleep(10 * time.Millisecond)

		n, err := promoter.PromoteDelayedJobs(ctx, queue)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		again, ok2, err := b.Dequeue(ctx, queue, time.Second)
		require.NoError(t, err)
		require.True(t, ok2)
		require.Equal(t, id, again)
	})

	t.Run("StaleRecovererReturnsOldClaims", func(t *testing.T) {
		b, queue := setup(t)
		recoverer, ok := b.(broker.StaleRecoverer)
		if !ok {
			t.Skip("substrate does not implement StaleRecoverer")
		}
		ctx := context.Background()

		require.NoError(t, b.Enqueue(ctx, queue, 33))
		id, ok2, err := b.Dequeue(ctx, queue, time.Second)
		require.NoError(t, err)
		require.True(t, ok2)

		n, err := recoverer.RecoverStaleProcessing(ctx, queue, -time.Second) // everything is "stale"
		require.NoError(t, err)
		require.Equal(t, 1, n)

		again, ok2, err := b.Dequeue(ctx, queue, time.Second)
		require.NoError(t, err)
		require.True(t, ok2)
		require.Equal(t, id, again)
	})
}
