// Package postgres is a PostgreSQL State Store backed by pgx/v5 and
// goose-embedded migrations. GetNextPendingJobID probes with SELECT ...
// FOR UPDATE SKIP LOCKED; ClaimJob is a conditional UPDATE on a pending,
// available row, so at most one concurrent claim of a job succeeds.
// MarkCompleted and MarkFailed update by id without an ownership check.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haldenlab/jobqueue/internal/domain"
	"github.com/haldenlab/jobqueue/internal/statestore"
)

// Store is a PostgreSQL implementation of statestore.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ statestore.Store = (*Store)(nil)

// NewStore wraps an already-connected pool. Prefer NewStoreWithConfig/
// NewPostgresStore for the full connect-and-migrate path.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Pool returns the underlying connection pool, for callers that need raw
// access (migrations, test cleanup).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalMap(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) CreateJob(ctx context.Context, p statestore.CreateParams) (int64, error) {
	queue := p.Queue
	if queue == "" {
		queue = domain.DefaultQueue
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}

	payload, err := marshalMap(p.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO jobs (queue, type, status, payload, max_attempts, request_id)
		VALUES ($1, $2, 'pending', $3, $4, $5)
		RETURNING id
	`, queue, p.Type, payload, maxAttempts, p.RequestID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

const jobColumns = `
	id, queue, type, status, payload, attempts, max_attempts, available_at,
	started_at, completed_at, locked_by, locked_at, error_message, error_trace,
	progress, progress_message, result, request_id, created_at, updated_at
`

func scanJob(row pgx.Row) (*domain.Job, error) {
	var j domain.Job
	var payload, result []byte
	if err := row.Scan(
		&j.ID, &j.Queue, &j.Type, &j.Status, &payload, &j.Attempts, &j.MaxAttempts, &j.AvailableAt,
		&j.StartedAt, &j.CompletedAt, &j.LockedBy, &j.LockedAt, &j.ErrorMessage, &j.ErrorTrace,
		&j.Progress, &j.ProgressMessage, &result, &j.RequestID, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if j.Payload, err = unmarshalMap(payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if j.Result, err = unmarshalMap(result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &j, nil
}

func (s *Store) Find(ctx context.Context, id int64) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find job: %w", err)
	}
	return j, nil
}

func (s *Store) FindActiveByRequestID(ctx context.Context, requestID string) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE request_id = $1 AND status IN ('pending', 'running')
		LIMIT 1
	`, requestID)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active job by request id: %w", err)
	}
	return j, nil
}

func (s *Store) GetNextPendingJobID(ctx context.Context, queue string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM jobs
		WHERE queue = $1 AND status = 'pending' AND (available_at IS NULL OR available_at <= now())
		ORDER BY id
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, queue).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select next pending job: %w", err)
	}
	return id, nil
}

func (s *Store) ClaimJob(ctx context.Context, id int64, workerID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'running', locked_by = $2, locked_at = now(), started_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'pending' AND (available_at IS NULL OR available_at <= now())
	`, id, workerID)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) MarkCompleted(ctx context.Context, id int64, result map[string]any) (bool, error) {
	resultJSON, err := marshalMap(result)
	if err != nil {
		return false, fmt.Errorf("marshal result: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'completed', result = $2, completed_at = now(), updated_at = now(),
		    locked_by = NULL, locked_at = NULL
		WHERE id = $1
	`, id, resultJSON)
	if err != nil {
		return false, fmt.Errorf("mark job completed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) MarkFailed(ctx context.Context, id int64, errorMessage string, errorTrace *string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed', error_message = $2, error_trace = $3, completed_at = now(), updated_at = now(),
		    locked_by = NULL, locked_at = NULL
		WHERE id = $1
	`, id, errorMessage, errorTrace)
	if err != nil {
		return false, fmt.Errorf("mark job failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) UpdateProgress(ctx context.Context, id int64, progress *int, message *string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET progress = COALESCE($2, progress), progress_message = COALESCE($3, progress_message), updated_at = now()
		WHERE id = $1
	`, id, progress, message)
	if err != nil {
		return false, fmt.Errorf("update progress: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ScheduleRetry(ctx context.Context, id int64, attempts int, delay time.Duration, errorMessage string) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'pending', attempts = $2, available_at = $3,
		    error_message = $4, locked_by = NULL, locked_at = NULL, updated_at = $5
		WHERE id = $1
	`, id, attempts, now.Add(delay), errorMessage, now)
	if err != nil {
		return false, fmt.Errorf("schedule retry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) RecoverStaleJobs(ctx context.Context, ttl time.Duration) (int, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'pending', locked_by = NULL, locked_at = NULL, available_at = NULL, updated_at = $2
		WHERE status = 'running' AND locked_at < $1
	`, now.Add(-ttl), now)
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) List(ctx context.Context, p statestore.ListParams) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}
	if p.Status != nil {
		args = append(args, *p.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if p.Queue != nil {
		args = append(args, *p.Queue)
		query += fmt.Sprintf(" AND queue = $%d", len(args))
	}
	query += " ORDER BY id"
	if p.Limit > 0 {
		args = append(args, p.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if p.Offset > 0 {
		args = append(args, p.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listed job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) Count(ctx context.Context, status *domain.Status, queue *string) (int, error) {
	query := `SELECT count(*) FROM jobs WHERE 1=1`
	args := []any{}
	if status != nil {
		args = append(args, *status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if queue != nil {
		args = append(args, *queue)
		query += fmt.Sprintf(" AND queue = $%d", len(args))
	}
	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return count, nil
}

func (s *Store) PruneCompleted(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < $1
	`, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune completed jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
