package dispatcher_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haldenlab/jobqueue/internal/application/dispatcher"
	"github.com/haldenlab/jobqueue/internal/domain"
	"github.com/haldenlab/jobqueue/internal/infrastructure/persistence/memory"
)

type fakeBroker struct {
	mu       sync.Mutex
	enqueued []int64
	failNext bool
}

func (b *fakeBroker) IsAvailable(ctx context.Context) bool { return true }
func (b *fakeBroker) Enqueue(ctx context.Context, queue string, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext {
		b.failNext = false
		return errors.New("enqueue failed")
	}
	b.enqueued = append(b.enqueued, id)
	return nil
}
func (b *fakeBroker) Dequeue(ctx context.Context, queue string, timeout time.Duration) (int64, bool, error) {
	return 0, false, nil
}
func (b *fakeBroker) Ack(ctx context.Context, queue string, id int64) error  { return nil }
func (b *fakeBroker) Nack(ctx context.Context, queue string, id int64, delay time.Duration) error {
	return nil
}

func TestDispatch_CreatesJobAndEnqueues(t *testing.T) {
	store := memory.New()
	b := &fakeBroker{}
	d := dispatcher.New(store, b)

	id, err := d.Dispatch(context.Background(), "send_email", map[string]any{"to": "a@b.com"})
	require.NoError(t, err)
	require.NotZero(t, id)

	b.mu.Lock()
	require.Equal(t, []int64{id}, b.enqueued)
	b.mu.Unlock()

	job, err := store.Find(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, job.Status)
	require.Equal(t, domain.DefaultQueue, job.Queue)
}

func TestDispatch_SurvivesEnqueueFailureLeavingJobPending(t *testing.T) {
	store := memory.New()
	b := &fakeBroker{failNext: true}
	d := dispatcher.New(store, b)

	id, err := d.Dispatch(context.Background(), "send_email", nil)
	require.NoError(t, err)

	job, err := store.Find(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, job.Status)
}

func TestDispatch_WithQueueAndMaxAttempts(t *testing.T) {
	store := memory.New()
	d := dispatcher.New(store, &fakeBroker{})

	id, err := d.Dispatch(context.Background(), "t", nil, dispatcher.WithQueue("priority"), dispatcher.WithMaxAttempts(7))
	require.NoError(t, err)

	job, err := store.Find(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "priority", job.Queue)
	require.Equal(t, 7, job.MaxAttempts)
}

func TestDispatchBatch_DispatchesEachPayloadIndependently(t *testing.T) {
	store := memory.New()
	b := &fakeBroker{}
	d := dispatcher.New(store, b)

	ids, err := d.DispatchBatch(context.Background(), "t", []map[string]any{{"n": 1}, {"n": 2}, {"n": 3}})
	require.NoError(t, err)
	require.Len(t, ids, 3)
}

func TestDispatchIdempotent_FirstCallCreatesSecondCallReusesActiveJob(t *testing.T) {
	store := memory.New()
	b := &fakeBroker{}
	d := dispatcher.New(store, b)

	first, err := d.DispatchIdempotent(context.Background(), "t", nil, "req-1")
	require.NoError(t, err)
	require.True(t, first.Created)

	second, err := d.DispatchIdempotent(context.Background(), "t", nil, "req-1")
	require.NoError(t, err)
	require.False(t, second.Created)
	require.Equal(t, first.ID, second.ID)

	b.mu.Lock()
	require.Len(t, b.enqueued, 1)
	b.mu.Unlock()
}

func TestDispatchIdempotent_SameRequestIDAfterTerminalDispatchesAgain(t *testing.T) {
	store := memory.New()
	b := &fakeBroker{}
	d := dispatcher.New(store, b)

	first, err := d.DispatchIdempotent(context.Background(), "t", nil, "req-2")
	require.NoError(t, err)
	_, err = store.MarkCompleted(context.Background(), first.ID, nil)
	require.NoError(t, err)

	second, err := d.DispatchIdempotent(context.Background(), "t", nil, "req-2")
	require.NoError(t, err)
	require.True(t, second.Created)
	require.NotEqual(t, first.ID, second.ID)
}

func TestGetStatus_ReturnsSnapshotOrNil(t *testing.T) {
	store := memory.New()
	d := dispatcher.New(store, &fakeBroker{})

	id, err := d.Dispatch(context.Background(), "t", nil)
	require.NoError(t, err)

	job, err := d.GetStatus(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, id, job.ID)

	missing, err := d.GetStatus(context.Background(), 99999)
	require.NoError(t, err)
	require.Nil(t, missing)
}
