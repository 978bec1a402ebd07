// Package sqlite is a single-file State Store backed by modernc.org/sqlite
// through database/sql, with goose-embedded migrations. Claims use
// SQLite's serialized writer instead of row locks: a single
// UPDATE ... WHERE id = ? AND status = 'pending' is already atomic.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/haldenlab/jobqueue/internal/domain"
	"github.com/haldenlab/jobqueue/internal/statestore"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const timeLayout = time.RFC3339Nano

// Store is a database/sql + modernc.org/sqlite implementation of
// statestore.Store.
type Store struct {
	db *sql.DB
}

var _ statestore.Store = (*Store)(nil)

// Open opens (creating if absent) the sqlite database at path and runs
// migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// thrashing under concurrent workers sharing one file.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func marshalMap(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalMap(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
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

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (queue, type, status, payload, max_attempts, request_id, created_at, updated_at)
		VALUES (?, ?, 'pending', ?, ?, ?, ?, ?)
	`, queue, p.Type, payload, maxAttempts, p.RequestID, formatTime(time.Now()), formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	return res.LastInsertId()
}

const jobColumns = `
	id, queue, type, status, payload, attempts, max_attempts, available_at,
	started_at, completed_at, locked_by, locked_at, error_message, error_trace,
	progress, progress_message, result, request_id, created_at, updated_at
`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var j domain.Job
	var payload, result sql.NullString
	var availableAt, startedAt, completedAt, lockedAt, createdAt, updatedAt sql.NullString

	if err := row.Scan(
		&j.ID, &j.Queue, &j.Type, &j.Status, &payload, &j.Attempts, &j.MaxAttempts, &availableAt,
		&startedAt, &completedAt, &j.LockedBy, &lockedAt, &j.ErrorMessage, &j.ErrorTrace,
		&j.Progress, &j.ProgressMessage, &result, &j.RequestID, &createdAt, &updatedAt,
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
	if j.AvailableAt, err = parseTimePtr(availableAt); err != nil {
		return nil, fmt.Errorf("parse available_at: %w", err)
	}
	if j.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if j.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}
	if j.LockedAt, err = parseTimePtr(lockedAt); err != nil {
		return nil, fmt.Errorf("parse locked_at: %w", err)
	}
	created, err := parseTimePtr(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if created != nil {
		j.CreatedAt = *created
	}
	updated, err := parseTimePtr(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if updated != nil {
		j.UpdatedAt = *updated
	}

	return &j, nil
}

func (s *Store) Find(ctx context.Context, id int64) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find job: %w", err)
	}
	return j, nil
}

func (s *Store) FindActiveByRequestID(ctx context.Context, requestID string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE request_id = ? AND status IN ('pending', 'running')
		LIMIT 1
	`, requestID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active job by request id: %w", err)
	}
	return j, nil
}

func (s *Store) GetNextPendingJobID(ctx context.Context, queue string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM jobs
		WHERE queue = ? AND status = 'pending' AND (available_at IS NULL OR available_at <= ?)
		ORDER BY id
		LIMIT 1
	`, queue, formatTime(time.Now())).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select next pending job: %w", err)
	}
	return id, nil
}

func (s *Store) ClaimJob(ctx context.Context, id int64, workerID string) (bool, error) {
	now := formatTime(time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'running', locked_by = ?, locked_at = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending' AND (available_at IS NULL OR available_at <= ?)
	`, workerID, now, now, now, id, now)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) MarkCompleted(ctx context.Context, id int64, result map[string]any) (bool, error) {
	resultJSON, err := marshalMap(result)
	if err != nil {
		return false, fmt.Errorf("marshal result: %w", err)
	}
	now := formatTime(time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed', result = ?, completed_at = ?, updated_at = ?, locked_by = NULL, locked_at = NULL
		WHERE id = ?
	`, resultJSON, now, now, id)
	if err != nil {
		return false, fmt.Errorf("mark job completed: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) MarkFailed(ctx context.Context, id int64, errorMessage string, errorTrace *string) (bool, error) {
	now := formatTime(time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed', error_message = ?, error_trace = ?, completed_at = ?, updated_at = ?,
		    locked_by = NULL, locked_at = NULL
		WHERE id = ?
	`, errorMessage, errorTrace, now, now, id)
	if err != nil {
		return false, fmt.Errorf("mark job failed: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) UpdateProgress(ctx context.Context, id int64, progress *int, message *string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET progress = COALESCE(?, progress), progress_message = COALESCE(?, progress_message), updated_at = ?
		WHERE id = ?
	`, progress, message, formatTime(time.Now()), id)
	if err != nil {
		return false, fmt.Errorf("update progress: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) ScheduleRetry(ctx context.Context, id int64, attempts int, delay time.Duration, errorMessage string) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', attempts = ?, available_at = ?, error_message = ?,
		    locked_by = NULL, locked_at = NULL, updated_at = ?
		WHERE id = ?
	`, attempts, formatTime(now.Add(delay)), errorMessage, formatTime(now), id)
	if err != nil {
		return false, fmt.Errorf("schedule retry: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) RecoverStaleJobs(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := formatTime(time.Now().Add(-ttl))
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', locked_by = NULL, locked_at = NULL, available_at = NULL, updated_at = ?
		WHERE status = 'running' AND locked_at < ?
	`, formatTime(time.Now()), cutoff)
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) List(ctx context.Context, p statestore.ListParams) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any
	if p.Status != nil {
		query += " AND status = ?"
		args = append(args, *p.Status)
	}
	if p.Queue != nil {
		query += " AND queue = ?"
		args = append(args, *p.Queue)
	}
	query += " ORDER BY id"
	if p.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, p.Limit)
	}
	if p.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, p.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	var args []any
	if status != nil {
		query += " AND status = ?"
		args = append(args, *status)
	}
	if queue != nil {
		query += " AND queue = ?"
		args = append(args, *queue)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return count, nil
}

func (s *Store) PruneCompleted(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune completed jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
