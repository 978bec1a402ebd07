// Package polling implements the simplest Dispatch Layer substrate: it
// does no bookkeeping of its own and defers entirely to the State
// Store's availableAt/status columns, which is why it implements
// neither DelayedPromoter nor StaleRecoverer; the state store's own
// RecoverStaleJobs sweep already covers both.
package polling

import (
	"context"
	"time"

	"github.com/haldenlab/jobqueue/internal/broker"
	"github.com/haldenlab/jobqueue/internal/statestore"
)

// minPollInterval floors the internal retry interval used while blocking
// in Dequeue, so a caller-supplied tiny timeout cannot busy-loop the
// state store.
const minPollInterval = 50 * time.Millisecond

// Broker adapts a statestore.Store into a broker.Broker by repeatedly
// polling GetNextPendingJobID.
type Broker struct {
	store        statestore.Store
	pollInterval time.Duration
}

var _ broker.Broker = (*Broker)(nil)

// New creates a polling Broker over store. pollInterval is clamped to a
// 50ms floor; zero selects the floor.
func New(store statestore.Store, pollInterval time.Duration) *Broker {
	if pollInterval < minPollInterval {
		pollInterval = minPollInterval
	}
	return &Broker{store: store, pollInterval: pollInterval}
}

func (b *Broker) IsAvailable(ctx context.Context) bool {
	_, err := b.store.Count(ctx, nil, nil)
	return err == nil
}

// Enqueue is a no-op: CreateJob already made the job visible to
// GetNextPendingJobID as pending.
func (b *Broker) Enqueue(ctx context.Context, queue string, id int64) error {
	return nil
}

func (b *Broker) Dequeue(ctx context.Context, queue string, timeout time.Duration) (int64, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		id, err := b.store.GetNextPendingJobID(ctx, queue)
		if err != nil {
			return 0, false, err
		}
		if id != 0 {
			return id, true, nil
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return 0, false, nil
		}

		select {
		case <-ctx.Done():
			return 0, false, ctx.Err()
		case <-time.After(b.pollInterval):
		}
	}
}

// Ack is a no-op: settlement already happened against the state store
// (MarkCompleted/MarkFailed/ScheduleRetry).
func (b *Broker) Ack(ctx context.Context, queue string, id int64) error {
	return nil
}

// Nack is a no-op for the same reason: ScheduleRetry already moved the
// job back to pending with its availableAt delay.
func (b *Broker) Nack(ctx context.Context, queue string, id int64, delay time.Duration) error {
	return nil
}
