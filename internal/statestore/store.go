// Package statestore defines the State Store contract: the durable
// per-job record plane consulted by the dispatcher and the worker. It
// is owned by the consumers (application layer), not by any storage
// provider.
package statestore

import (
	"context"
	"time"

	"github.com/haldenlab/jobqueue/internal/domain"
)

// CreateParams groups the inputs to Store.CreateJob.
type CreateParams struct {
	Type        string
	Payload     map[string]any
	Queue       string
	MaxAttempts int
	RequestID   *string
}

// ListParams filters Store.List / Store.Count.
type ListParams struct {
	Status *domain.Status
	Queue  *string
	Limit  int
	Offset int
}

// Store is the State Store contract. Any linearizable implementation
// (conditional update, row lock, compare-and-swap) may back it, as long
// as ClaimJob is serializable against itself, ScheduleRetry, and
// MarkCompleted/MarkFailed for the same id.
type Store interface {
	// CreateJob writes a new pending record and assigns the next id.
	// Performs no coordination with the Dispatch Layer.
	CreateJob(ctx context.Context, p CreateParams) (int64, error)

	// Find returns a snapshot of the record, or (nil, nil) if absent.
	Find(ctx context.Context, id int64) (*domain.Job, error)

	// FindActiveByRequestID returns the at-most-one record with the given
	// requestId whose status is pending or running.
	FindActiveByRequestID(ctx context.Context, requestID string) (*domain.Job, error)

	// GetNextPendingJobID returns the lowest-id pending job in queue whose
	// availableAt is past or unset. Used only by the polling dispatch
	// substrate; returns (0, nil) when none are eligible.
	GetNextPendingJobID(ctx context.Context, queue string) (int64, error)

	// ClaimJob atomically transitions a pending, available job to
	// running, bound to workerID. Returns whether the transition
	// occurred; at most one concurrent caller may succeed for a given id.
	ClaimJob(ctx context.Context, id int64, workerID string) (bool, error)

	// MarkCompleted unconditionally transitions a record to completed.
	MarkCompleted(ctx context.Context, id int64, result map[string]any) (bool, error)

	// MarkFailed unconditionally transitions a record to failed.
	MarkFailed(ctx context.Context, id int64, errorMessage string, errorTrace *string) (bool, error)

	// UpdateProgress partially updates progress fields without touching
	// status.
	UpdateProgress(ctx context.Context, id int64, progress *int, message *string) (bool, error)

	// ScheduleRetry transitions a record back to pending, recording the
	// attempt count, the next availableAt, and the failing error message.
	ScheduleRetry(ctx context.Context, id int64, attempts int, delay time.Duration, errorMessage string) (bool, error)

	// RecoverStaleJobs returns every running record whose lockedAt is
	// older than ttl back to pending, clearing availableAt. Returns the
	// count of recovered records.
	RecoverStaleJobs(ctx context.Context, ttl time.Duration) (int, error)

	// List returns records matching the (optional) filters, oldest id
	// first.
	List(ctx context.Context, p ListParams) ([]*domain.Job, error)

	// Count returns the number of records matching the (optional)
	// filters.
	Count(ctx context.Context, status *domain.Status, queue *string) (int, error)

	// PruneCompleted deletes terminal (completed/failed/cancelled)
	// records older than the given age, returning the count removed.
	PruneCompleted(ctx context.Context, olderThan time.Duration) (int, error)
}
