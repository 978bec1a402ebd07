// Package storetest runs a standard compliance suite against any
// statestore.Store implementation: one shared body of assertions,
// exercised against every concrete backing (memory, postgres, sqlite).
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haldenlab/jobqueue/internal/domain"
	"github.com/haldenlab/jobqueue/internal/statestore"
)

// Run exercises the full statestore.Store contract. setup returns a
// fresh, empty Store for each subtest; teardown releases any resources
// it allocated.
func Run(t *testing.T, setup func(t *testing.T) (statestore.Store, func())) {
	t.Run("CreateAndFind", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		id, err := store.CreateJob(ctx, statestore.CreateParams{
			Type:        "send_email",
			Payload:     map[string]any{"to": "a@example.com"},
			Queue:       "default",
			MaxAttempts: 3,
		})
		require.NoError(t, err)
		require.NotZero(t, id)

		job, err := store.Find(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, domain.StatusPending, job.Status)
		assert.Equal(t, "send_email", job.Type)
		assert.Equal(t, "a@example.com", job.Payload["to"])
		assert.Equal(t, 0, job.Attempts)
		assert.Equal(t, 3, job.MaxAttempts)
	})

	t.Run("FindMissingReturnsNil", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		job, err := store.Find(ctx, 999999)
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("DefaultsAppliedOnCreate", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		id, err := store.CreateJob(ctx, statestore.CreateParams{Type: "noop"})
		require.NoError(t, err)

		job, err := store.Find(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.DefaultQueue, job.Queue)
		assert.Equal(t, domain.DefaultMaxAttempts, job.MaxAttempts)
	})

	t.Run("ClaimTransitionsToRunning", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		id, err := store.CreateJob(ctx, statestore.CreateParams{Type: "t", Queue: "default", MaxAttempts: 1})
		require.NoError(t, err)

		ok, err := store.ClaimJob(ctx, id, "worker-a")
		require.NoError(t, err)
		assert.True(t, ok)

		job, err := store.Find(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRunning, job.Status)
		require.NotNil(t, job.LockedBy)
		assert.Equal(t, "worker-a", *job.LockedBy)
		assert.NotNil(t, job.StartedAt)
	})

	t.Run("ClaimIsExclusive", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		id, err := store.CreateJob(ctx, statestore.CreateParams{Type: "t", Queue: "default", MaxAttempts: 1})
		require.NoError(t, err)

		ok, err := store.ClaimJob(ctx, id, "worker-a")
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = store.ClaimJob(ctx, id, "worker-b")
		require.NoError(t, err)
		assert.False(t, ok, "a second claim of an already-running job must fail")
	})

	t.Run("MarkCompletedStoresResult", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		id, err := store.CreateJob(ctx, statestore.CreateParams{Type: "t", Queue: "default", MaxAttempts: 1})
		require.NoError(t, err)
		_, err = store.ClaimJob(ctx, id, "worker-a")
		require.NoError(t, err)

		ok, err := store.MarkCompleted(ctx, id, map[string]any{"ok": true})
		require.NoError(t, err)
		assert.True(t, ok)

		job, err := store.Find(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, job.Status)
		assert.Equal(t, true, job.Result["ok"])
		assert.NotNil(t, job.CompletedAt)
	})

	t.Run("MarkFailedStoresErrorDetails", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		id, err := store.CreateJob(ctx, statestore.CreateParams{Type: "t", Queue: "default", MaxAttempts: 1})
		require.NoError(t, err)
		_, err = store.ClaimJob(ctx, id, "worker-a")
		require.NoError(t, err)

		trace := "stack trace here"
		ok, err := store.MarkFailed(ctx, id, "boom", &trace)
		require.NoError(t, err)
		assert.True(t, ok)

		job, err := store.Find(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, job.Status)
		require.NotNil(t, job.ErrorMessage)
		assert.Equal(t, "boom", *job.ErrorMessage)
		require.NotNil(t, job.ErrorTrace)
		assert.Equal(t, trace, *job.ErrorTrace)
	})

	t.Run("ScheduleRetryReturnsToPendingWithDelay", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		id, err := store.CreateJob(ctx, statestore.CreateParams{Type: "t", Queue: "default", MaxAttempts: 3})
		require.NoError(t, err)
		_, err = store.ClaimJob(ctx, id, "worker-a")
		require.NoError(t, err)

		ok, err := store.ScheduleRetry(ctx, id, 1, time.Hour, "transient failure")
		require.NoError(t, err)
		assert.True(t, ok)

		job, err := store.Find(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, job.Status)
		assert.Equal(t, 1, job.Attempts)
		require.NotNil(t, job.AvailableAt)
		assert.True(t, job.AvailableAt.After(time.Now()))
		assert.Nil(t, job.LockedBy)

		claimed, err := store.ClaimJob(ctx, id, "worker-b")
		require.NoError(t, err)
		assert.False(t, claimed, "a retry delayed an hour out must not be immediately claimable")
	})

	t.Run("UpdateProgressIsPartial", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		id, err := store.CreateJob(ctx, statestore.CreateParams{Type: "t", Queue: "default", MaxAttempts: 1})
		require.NoError(t, err)

		pct := 10
		ok, err := store.UpdateProgress(ctx, id, &pct, nil)
		require.NoError(t, err)
		assert.True(t, ok)

		msg := "working"
		pct2 := 20
		ok, err = store.UpdateProgress(ctx, id, &pct2, &msg)
		require.NoError(t, err)
		assert.True(t, ok)

		job, err := store.Find(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, job.Progress)
		assert.Equal(t, 20, *job.Progress)
		require.NotNil(t, job.ProgressMessage)
		assert.Equal(t, "working", *job.ProgressMessage)
	})

	t.Run("GetNextPendingJobIDSkipsFutureAvailability", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		delayedID, err := store.CreateJob(ctx, statestore.CreateParams{Type: "t", Queue: "q1", MaxAttempts: 1})
		require.NoError(t, err)
		_, err = store.ClaimJob(ctx, delayedID, "w")
		require.NoError(t, err)
		_, err = store.ScheduleRetry(ctx, delayedID, 1, time.Hour, "later")
		require.NoError(t, err)

		readyID, err := store.CreateJob(ctx, statestore.CreateParams{Type: "t", Queue: "q1", MaxAttempts: 1})
		require.NoError(t, err)

		next, err := store.GetNextPendingJobID(ctx, "q1")
		require.NoError(t, err)
		assert.Equal(t, readyID, next)
	})

	t.Run("FindActiveByRequestIDIgnoresTerminalJobs", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		rid := "req-123"
		id, err := store.CreateJob(ctx, statestore.CreateParams{Type: "t", Queue: "default", MaxAttempts: 1, RequestID: &rid})
		require.NoError(t, err)

		active, err := store.FindActiveByRequestID(ctx, rid)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, id, active.ID)

		_, err = store.ClaimJob(ctx, id, "w")
		require.NoError(t, err)
		_, err = store.MarkCompleted(ctx, id, nil)
		require.NoError(t, err)

		active, err = store.FindActiveByRequestID(ctx, rid)
		require.NoError(t, err)
		assert.Nil(t, active, "a completed job must not be returned as active")
	})

	t.Run("RecoverStaleJobsReclaimsExpiredClaims", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		id, err := store.CreateJob(ctx, statestore.CreateParams{Type: "t", Queue: "default", MaxAttempts: 1})
		require.NoError(t, err)
		_, err = store.ClaimJob(ctx, id, "dead-worker")
		require.NoError(t, err)

		n, err := store.RecoverStaleJobs(ctx, 0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1)

		job, err := store.Find(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, job.Status)
		assert.Nil(t, job.LockedBy)
	})

	t.Run("ListFiltersByStatusAndQueue", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		_, err := store.CreateJob(ctx, statestore.CreateParams{Type: "t", Queue: "alpha", MaxAttempts: 1})
		require.NoError(t, err)
		_, err = store.CreateJob(ctx, statestore.CreateParams{Type: "t", Queue: "beta", MaxAttempts: 1})
		require.NoError(t, err)

		queue := "alpha"
		status := domain.StatusPending
		jobs, err := store.List(ctx, statestore.ListParams{Status: &status, Queue: &queue})
		require.NoError(t, err)
		for _, j := range jobs {
			assert.Equal(t, "alpha", j.Queue)
			assert.Equal(t, domain.StatusPending, j.Status)
		}
	})

	t.Run("CountFiltersByQueue", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		queue := "count-me"
		for range 3 {
			_, err := store.CreateJob(ctx, statestore.CreateParams{Type: "t", Queue: queue, MaxAttempts: 1})
			require.NoError(t, err)
		}

		count, err := store.Count(ctx, nil, &queue)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("PruneCompletedRemovesOldTerminalJobs", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		ctx := context.Background()

		id, err := store.CreateJob(ctx, statestore.CreateParams{Type: "t", Queue: "default", MaxAttempts: 1})
		require.NoError(t, err)
		_, err = store.ClaimJob(ctx, id, "w")
		require.NoError(t, err)
		_, err = store.MarkCompleted(ctx, id, nil)
		require.NoError(t, err)

		n, err := store.PruneCompleted(ctx, 0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1)

		job, err := store.Find(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, job)
	})
}
