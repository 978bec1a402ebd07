package worker

import (
	"context"
	"fmt"

	"github.com/haldenlab/jobqueue/internal/domain"
	"github.com/haldenlab/jobqueue/internal/ptr"
	"github.com/haldenlab/jobqueue/internal/statestore"
)

// DeadLetterView is a read-only projection over terminally failed jobs.
// The state store never deletes a failed record on its own (only
// PruneCompleted, on an explicit age threshold, does); this just names
// the filtered list/count an operator reaches for.
type DeadLetterView struct {
	store statestore.Store
}

// NewDeadLetterView wraps a Store for dead-letter inspection.
func NewDeadLetterView(store statestore.Store) *DeadLetterView {
	return &DeadLetterView{store: store}
}

// List returns failed jobs, optionally scoped to one queue, oldest id
// first.
func (v *DeadLetterView) List(ctx context.Context, queue *string, limit, offset int) ([]*domain.Job, error) {
	jobs, err := v.store.List(ctx, statestore.ListParams{
		Status: ptr.To(domain.StatusFailed),
		Queue:  queue,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list dead-letter jobs: %w", err)
	}
	return jobs, nil
}

// Count returns the number of failed jobs, optionally scoped to one
// queue.
func (v *DeadLetterView) Count(ctx context.Context, queue *string) (int, error) {
	n, err := v.store.Count(ctx, ptr.To(domain.StatusFailed), queue)
	if err != nil {
		return 0, fmt.Errorf("count dead-letter jobs: %w", err)
	}
	return n, nil
}
