package worker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/haldenlab/jobqueue/internal/application/registry"
	"github.com/haldenlab/jobqueue/internal/application/worker"
	"github.com/haldenlab/jobqueue/internal/domain"
	"github.com/haldenlab/jobqueue/internal/infrastructure/persistence/memory"
	"github.com/haldenlab/jobqueue/internal/statestore"
	"github.com/stretchr/testify/require"
)

func newHarness(t *testing.T) (*memory.Store, *fakeBroker, *registry.Registry) {
	t.Helper()
	return memory.New(), newFakeBroker(), registry.New(nil)
}

func enqueue(t *testing.T, ctx context.Context, store *memory.Store, b *fakeBroker, jobType string, payload map[string]any, maxAttempts int) int64 {
	t.Helper()
	id, err := store.CreateJob(ctx, statestore.CreateParams{
		Type:        jobType,
		Payload:     payload,
		Queue:       domain.DefaultQueue,
		MaxAttempts: maxAttempts,
	})
	require.NoError(t, err)
	require.NoError(t, b.Enqueue(ctx, domain.DefaultQueue, id))
	return id
}

func TestProcessOne_HappyPath(t *testing.T) {
	ctx := context.Background()
	store, b, reg := newHarness(t)

	require.NoError(t, reg.RegisterHandler("greet", registry.HandlerFunc(
		func(ctx context.Context, id int64, payload map[string]any, report registry.ProgressReporter) (map[string]any, error) {
			return map[string]any{"greeting": "hello " + payload["name"].(string)}, nil
		})))

	id := enqueue(t, ctx, store, b, "greet", map[string]any{"name": "ada"}, 3)

	w := worker.New("w1", store, b, reg, worker.DefaultConfig(domain.DefaultQueue))
	ran, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	job, err := store.Find(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, job.Status)
	require.Equal(t, "hello ada", job.Result["greeting"])
	require.Contains(t, b.acked, id)
}

func TestProcessOne_RetryThenSuccess(t *testing.T) {
	ctx := context.Background()
	store, b, reg := newHarness(t)

	attempt := 0
	require.NoError(t, reg.RegisterHandler("flaky", registry.HandlerFunc(
		func(ctx context.Context, id int64, payload map[string]any, report registry.ProgressReporter) (map[string]any, error) {
			attempt++
			if attempt < 2 {
				return nil, errors.New("transient failure")
			}
			return map[string]any{"ok": true}, nil
		})))

	id := enqueue(t, ctx, store, b, "flaky", nil, 3)

	cfg := worker.DefaultConfig(domain.DefaultQueue)
	cfg.RetryBaseDelay = 0
	w := worker.New("w1", store, b, reg, cfg)

	ran, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	job, err := store.Find(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, job.Status)
	require.Equal(t, 1, job.Attempts)

	ran, err = w.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	job, err = store.Find(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, job.Status)
}

func TestProcessOne_ExhaustsRetriesAndFails(t *testing.T) {
	ctx := context.Background()
	store, b, reg := newHarness(t)

	require.NoError(t, reg.RegisterHandler("always_fails", registry.HandlerFunc(
		func(ctx context.Context, id int64, payload map[string]any, report registry.ProgressReporter) (map[string]any, error) {
			return nil, errors.New("boom")
		})))

	id := enqueue(t, ctx, store, b, "always_fails", nil, 2)

	cfg := worker.DefaultConfig(domain.DefaultQueue)
	cfg.RetryBaseDelay = 0
	w := worker.New("w1", store, b, reg, cfg)

	_, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	job, err := store.Find(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, job.Status)

	_, err = w.ProcessOne(ctx)
	require.NoError(t, err)
	job, err = store.Find(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	require.Equal(t, "boom", *job.ErrorMessage)
}

func TestProcessOne_UnregisteredHandlerType(t *testing.T) {
	ctx := context.Background()
	store, b, reg := newHarness(t)

	id := enqueue(t, ctx, store, b, "nobody_home", nil, 1)

	w := worker.New("w1", store, b, reg, worker.DefaultConfig(domain.DefaultQueue))
	_, err := w.ProcessOne(ctx)
	require.NoError(t, err)

	job, err := store.Find(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	require.Equal(t, "No handler registered for job type: nobody_home", *job.ErrorMessage)
}

func TestProcessOne_HandlerPanicIsRecoveredAsFailure(t *testing.T) {
	ctx := context.Background()
	store, b, reg := newHarness(t)

	require.NoError(t, reg.RegisterHandler("panics", registry.HandlerFunc(
		func(ctx context.Context, id int64, payload map[string]any, report registry.ProgressReporter) (map[string]any, error) {
			panic("unexpected nil pointer")
		})))

	id := enqueue(t, ctx, store, b, "panics", nil, 1)

	w := worker.New("w1", store, b, reg, worker.DefaultConfig(domain.DefaultQueue))
	ran, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	job, err := store.Find(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, job.Status)
	require.Contains(t, b.acked, id)
}

func TestProcessOne_ProgressIsRelayedToStore(t *testing.T) {
	ctx := context.Background()
	store, b, reg := newHarness(t)

	require.NoError(t, reg.RegisterHandler("reports_progress", registry.HandlerFunc(
		func(ctx context.Context, id int64, payload map[string]any, report registry.ProgressReporter) (map[string]any, error) {
			pct := 50
			msg := "halfway"
			report(&pct, &msg)
			return map[string]any{}, nil
		})))

	id := enqueue(t, ctx, store, b, "reports_progress", nil, 1)

	w := worker.New("w1", store, b, reg, worker.DefaultConfig(domain.DefaultQueue))
	_, err := w.ProcessOne(ctx)
	require.NoError(t, err)

	job, err := store.Find(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, job.Progress)
	require.Equal(t, 50, *job.Progress)
	require.NotNil(t, job.ProgressMessage)
	require.Equal(t, "halfway", *job.ProgressMessage)
}

func TestProcessOne_EmptyQueueReturnsFalseWithoutError(t *testing.T) {
	ctx := context.Background()
	store, b, reg := newHarness(t)

	w := worker.New("w1", store, b, reg, worker.DefaultConfig(domain.DefaultQueue))
	ran, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	require.False(t, ran)
}

func TestProcessOne_LostClaimAcksWithoutExecuting(t *testing.T) {
	ctx := context.Background()
	store, b, reg := newHarness(t)

	executed := false
	require.NoError(t, reg.RegisterHandler("contested", registry.HandlerFunc(
		func(ctx context.Context, id int64, payload map[string]any, report registry.ProgressReporter) (map[string]any, error) {
			executed = true
			return map[string]any{}, nil
		})))

	id := enqueue(t, ctx, store, b, "contested", nil, 1)

	// Simulate a rival worker claiming the job first.
	ok, err := store.ClaimJob(ctx, id, "rival")
	require.NoError(t, err)
	require.True(t, ok)

	w := worker.New("w1", store, b, reg, worker.DefaultConfig(domain.DefaultQueue))
	ran, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	require.False(t, ran)
	require.False(t, executed)
	require.Contains(t, b.acked, id)
}

func TestProcessOne_DelayedPromotionBeforeDequeue(t *testing.T) {
	ctx := context.Background()
	store, _, reg := newHarness(t)
	pb := newPromotingBroker()

	require.NoError(t, reg.RegisterHandler("delayed", registry.HandlerFunc(
		func(ctx context.Context, id int64, payload map[string]any, report registry.ProgressReporter) (map[string]any, error) {
			return map[string]any{}, nil
		})))

	id, err := store.CreateJob(ctx, statestore.CreateParams{Type: "delayed", Queue: domain.DefaultQueue, MaxAttempts: 1})
	require.NoError(t, err)
	pb.delayed[domain.DefaultQueue] = append(pb.delayed[domain.DefaultQueue], id)

	w := worker.New("w1", store, pb, reg, worker.DefaultConfig(domain.DefaultQueue))
	ran, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, ran, "delayed job should have been promoted to ready before the dequeue in the same iteration")

	job, err := store.Find(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, job.Status)
}

// promotingBroker augments fakeBroker with a delayed set and implements
// broker.DelayedPromoter, to exercise the promote-before-dequeue ordering
// of ProcessOne.
type promotingBroker struct {
	*fakeBroker
	delayed map[string][]int64
}

func newPromotingBroker() *promotingBroker {
	return &promotingBroker{fakeBroker: newFakeBroker(), delayed: make(map[string][]int64)}
}

func (p *promotingBroker) PromoteDelayedJobs(ctx context.Context, queue string) (int, error) {
	ids := p.delayed[queue]
	p.delayed[queue] = nil
	for _, id := range ids {
		if err := p.Enqueue(ctx, queue, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}
