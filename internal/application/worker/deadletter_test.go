package worker_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haldenlab/jobqueue/internal/application/worker"
	"github.com/haldenlab/jobqueue/internal/infrastructure/persistence/memory"
	"github.com/haldenlab/jobqueue/internal/statestore"
)

func TestDeadLetterView_ListAndCountOnlyReturnFailedJobs(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	failingID, err := store.CreateJob(ctx, statestore.CreateParams{Type: "t", Queue: "default"})
	require.NoError(t, err)
	_, err = store.MarkFailed(ctx, failingID, "boom", nil)
	require.NoError(t, err)

	okID, err := store.CreateJob(ctx, statestore.CreateParams{Type: "t", Queue: "default"})
	require.NoError(t, err)
	_, err = store.MarkCompleted(ctx, okID, nil)
	require.NoError(t, err)

	view := worker.NewDeadLetterView(store)

	n, err := view.Count(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	jobs, err := view.List(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, failingID, jobs[0].ID)
}

func TestDeadLetterView_ScopesToQueue(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	idA, err := store.CreateJob(ctx, statestore.CreateParams{Type: "t", Queue: "a"})
	require.NoError(t, err)
	_, err = store.MarkFailed(ctx, idA, "boom", nil)
	require.NoError(t, err)

	idB, err := store.CreateJob(ctx, statestore.CreateParams{Type: "t", Queue: "b"})
	require.NoError(t, err)
	_, err = store.MarkFailed(ctx, idB, "boom", nil)
	require.NoError(t, err)

	view := worker.NewDeadLetterView(store)
	queueA := "a"

	jobs, err := view.List(ctx, &queueA, 0, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, idA, jobs[0].ID)

	n, err := view.Count(ctx, &queueA)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
