// Package memory is an in-memory State Store implementation, intended for
// tests and single-process development. A single mutex guards the job
// map and every read returns a copy of the record with fresh Payload and
// Result maps. The copy is shallow below that: its pointer fields
// (timestamps, LockedBy, ErrorMessage, Progress, ...) and any values
// nested inside the maps are shared with the stored record.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/haldenlab/jobqueue/internal/domain"
	"github.com/haldenlab/jobqueue/internal/statestore"
)

// Store is a mutex-protected in-memory implementation of statestore.Store.
// ids are monotonic within a Store instance, matching the contract.
type Store struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*domain.Job
	clock  func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		jobs:  make(map[int64]*domain.Job),
		clock: time.Now,
	}
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}

func copyJob(j *domain.Job) *domain.Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Payload != nil {
		cp.Payload = make(map[string]any, len(j.Payload))
		for k, v := range j.Payload {
			cp.Payload[k] = v
		}
	}
	if j.Result != nil {
		cp.Result = make(map[string]any, len(j.Result))
		for k, v := range j.Result {
			cp.Result[k] = v
		}
	}
	return &cp
}

func (s *Store) CreateJob(ctx context.Context, p statestore.CreateParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := p.Queue
	if queue == "" {
		queue = domain.DefaultQueue
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}

	s.nextID++
	id := s.nextID
	now := s.now()

	s.jobs[id] = &domain.Job{
		ID:          id,
		Queue:       queue,
		Type:        p.Type,
		Status:      domain.StatusPending,
		Payload:     p.Payload,
		MaxAttempts: maxAttempts,
		RequestID:   p.RequestID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	return id, nil
}

func (s *Store) Find(ctx context.Context, id int64) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return copyJob(s.jobs[id]), nil
}

func (s *Store) FindActiveByRequestID(ctx context.Context, requestID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.RequestID == nil || *j.RequestID != requestID {
			continue
		}
		if j.Status == domain.StatusPending || j.Status == domain.StatusRunning {
			return copyJob(j), nil
		}
	}
	return nil, nil
}

func (s *Store) GetNextPendingJobID(ctx context.Context, queue string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var ids []int64
	for id, j := range s.jobs {
		if j.Queue != queue || j.Status != domain.StatusPending {
			continue
		}
		if j.AvailableAt != nil && j.AvailableAt.After(now) {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	sort.Slice(ids, func(i, k int) bool { return ids[i] < ids[k] })
	return ids[0], nil
}

func (s *Store) ClaimJob(ctx context.Context, id int64, workerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.Status != domain.StatusPending {
		return false, nil
	}
	now := s.now()
	if j.AvailableAt != nil && j.AvailableAt.After(now) {
		return false, nil
	}

	workerCopy := workerID
	j.Status = domain.StatusRunning
	j.LockedBy = &workerCopy
	j.LockedAt = &now
	j.StartedAt = &now
	j.UpdatedAt = now
	return true, nil
}

func (s *Store) MarkCompleted(ctx context.Context, id int64, result map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false, nil
	}
	now := s.now()
	j.Status = domain.StatusCompleted
	j.Result = result
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.LockedBy = nil
	j.LockedAt = nil
	return true, nil
}

func (s *Store) MarkFailed(ctx context.Context, id int64, errorMessage string, errorTrace *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false, nil
	}
	now := s.now()
	j.Status = domain.StatusFailed
	j.ErrorMessage = &errorMessage
	j.ErrorTrace = errorTrace
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.LockedBy = nil
	j.LockedAt = nil
	return true, nil
}

func (s *Store) UpdateProgress(ctx context.Context, id int64, progress *int, message *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false, nil
	}
	if progress != nil {
		j.Progress = progress
	}
	if message != nil {
		j.ProgressMessage = message
	}
	j.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) ScheduleRetry(ctx context.Context, id int64, attempts int, delay time.Duration, errorMessage string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false, nil
	}
	now := s.now()
	availableAt := now.Add(delay)
	j.Status = domain.StatusPending
	j.Attempts = attempts
	j.AvailableAt = &availableAt
	j.LockedBy = nil
	j.LockedAt = nil
	j.ErrorMessage = &errorMessage
	j.UpdatedAt = now
	return true, nil
}

func (s *Store) RecoverStaleJobs(ctx context.Context, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-ttl)
	count := 0
	for _, j := range s.jobs {
		if j.Status != domain.StatusRunning {
			continue
		}
		if j.LockedAt == nil || j.LockedAt.After(cutoff) {
			continue
		}
		j.Status = domain.StatusPending
		j.LockedBy = nil
		j.LockedAt = nil
		j.AvailableAt = nil
		j.UpdatedAt = now
		count++
	}
	return count, nil
}

func (s *Store) List(ctx context.Context, p statestore.ListParams) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for id, j := range s.jobs {
		if p.Status != nil && j.Status != *p.Status {
			continue
		}
		if p.Queue != nil && j.Queue != *p.Queue {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, k int) bool { return ids[i] < ids[k] })

	offset := p.Offset
	if offset > len(ids) {
		offset = len(ids)
	}
	ids = ids[offset:]
	if p.Limit > 0 && p.Limit < len(ids) {
		ids = ids[:p.Limit]
	}

	out := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyJob(s.jobs[id]))
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, status *domain.Status, queue *string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, j := range s.jobs {
		if status != nil && j.Status != *status {
			continue
		}
		if queue != nil && j.Queue != *queue {
			continue
		}
		count++
	}
	return count, nil
}

func (s *Store) PruneCompleted(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-olderThan)
	count := 0
	for id, j := range s.jobs {
		if j.Status != domain.StatusCompleted && j.Status != domain.StatusFailed && j.Status != domain.StatusCancelled {
			continue
		}
		if j.CompletedAt == nil || j.CompletedAt.After(cutoff) {
			continue
		}
		delete(s.jobs, id)
		count++
	}
	return count, nil
}
