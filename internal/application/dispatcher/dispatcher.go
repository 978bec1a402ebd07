// Package dispatcher implements job submission: it writes the state
// record, then hands the identifier to the dispatch layer.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/haldenlab/jobqueue/internal/broker"
	"github.com/haldenlab/jobqueue/internal/domain"
	"github.com/haldenlab/jobqueue/internal/statestore"
)

// Dispatcher submits jobs to a State Store and a Dispatch Layer.
type Dispatcher struct {
	store  statestore.Store
	broker broker.Broker
}

// New creates a Dispatcher over the given substrates.
func New(store statestore.Store, b broker.Broker) *Dispatcher {
	return &Dispatcher{store: store, broker: b}
}

// Dispatch creates the job record then enqueues its id. On enqueue
// failure the error is only logged and the record is left pending. The
// polling substrate still finds it through GetNextPendingJobID; a
// substrate with its own ready list (redis) does not, since neither
// stale-recovery sweep touches a pending record that was never enqueued.
func (d *Dispatcher) Dispatch(ctx context.Context, jobType string, payload map[string]any, opts ...Option) (int64, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	id, err := d.store.CreateJob(ctx, statestore.CreateParams{
		Type:        jobType,
		Payload:     payload,
		Queue:       o.queue,
		MaxAttempts: o.maxAttempts,
		RequestID:   o.requestID,
	})
	if err != nil {
		return 0, fmt.Errorf("create job: %w", err)
	}

	if err := d.broker.Enqueue(ctx, o.queue, id); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue dispatched job, record left pending",
			"job_id", id, "queue", o.queue, "type", jobType, "error", err)
	}

	return id, nil
}

// DispatchBatch dispatches each payload as an independent job. No
// transactional batching is provided.
func (d *Dispatcher) DispatchBatch(ctx context.Context, jobType string, payloads []map[string]any, opts ...Option) ([]int64, error) {
	ids := make([]int64, 0, len(payloads))
	for _, p := range payloads {
		id, err := d.Dispatch(ctx, jobType, p, opts...)
		if err != nil {
			return ids, fmt.Errorf("dispatch batch item %d: %w", len(ids), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// IdempotentResult is the outcome of DispatchIdempotent.
type IdempotentResult struct {
	ID      int64
	Created bool
}

// DispatchIdempotent first looks for an active job with requestID; if
// found, returns it with Created=false and performs no enqueue.
// Otherwise it dispatches a new job. The check-then-insert is not
// atomic: under a race both callers reach CreateJob. The postgres and
// sqlite stores carry a unique index on active request ids, so the
// second insert fails and its error is returned here; the memory store
// has no such check and keeps both jobs.
func (d *Dispatcher) DispatchIdempotent(ctx context.Context, jobType string, payload map[string]any, requestID string, opts ...Option) (IdempotentResult, error) {
	existing, err := d.store.FindActiveByRequestID(ctx, requestID)
	if err != nil {
		return IdempotentResult{}, fmt.Errorf("find active by request id: %w", err)
	}
	if existing != nil {
		return IdempotentResult{ID: existing.ID, Created: false}, nil
	}

	opts = append(opts, WithRequestID(requestID))
	id, err := d.Dispatch(ctx, jobType, payload, opts...)
	if err != nil {
		return IdempotentResult{}, err
	}
	return IdempotentResult{ID: id, Created: true}, nil
}

// GetStatus returns a snapshot of the job record, or nil if absent.
func (d *Dispatcher) GetStatus(ctx context.Context, id int64) (*domain.Job, error) {
	return d.store.Find(ctx, id)
}

type options struct {
	queue       string
	maxAttempts int
	requestID   *string
}

func defaultOptions() options {
	return options{
		queue:       domain.DefaultQueue,
		maxAttempts: domain.DefaultMaxAttempts,
	}
}

// Option configures a single Dispatch/DispatchBatch/DispatchIdempotent
// call.
type Option func(*options)

// WithQueue names the logical queue; default is domain.DefaultQueue.
func WithQueue(queue string) Option {
	return func(o *options) { o.queue = queue }
}

// WithMaxAttempts bounds attempts before terminal failure; default is
// domain.DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(o *options) { o.maxAttempts = n }
}

// WithRequestID sets the idempotency correlation key.
func WithRequestID(requestID string) Option {
	return func(o *options) { o.requestID = &requestID }
}
