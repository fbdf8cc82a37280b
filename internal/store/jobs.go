package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const jobColumns = `id, kind, status, total, processed, success_count, failed_count,
	started_at, ended_at, last_heartbeat`

// CreateJob persists a new job record.
func (s *Store) CreateJob(ctx context.Context, j *Job) error {
	query := `
		INSERT INTO jobs (id, kind, status, total, processed, success_count, failed_count, started_at, last_heartbeat)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := s.db.ExecContext(ctx, query,
		j.ID, j.Kind, j.Status, j.Total, j.Processed, j.SuccessCount, j.FailedCount,
		j.StartedAt, j.LastHeartbeat); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = $1", id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return j, err
}

// ActiveJob returns the single non-terminal (running or paused) job of the
// given kind, or nil if there is none. The per-kind uniqueness of active
// jobs is the system's only mutual-exclusion lock.
func (s *Store) ActiveJob(ctx context.Context, kind JobKind) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE kind = $1 AND status IN ($2, $3) ORDER BY started_at DESC LIMIT 1",
		kind, JobStatusRunning, JobStatusPaused)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

// LatestJob returns the most recently started job of the given kind,
// terminal or not, or nil if none exists.
func (s *Store) LatestJob(ctx context.Context, kind JobKind) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE kind = $1 ORDER BY started_at DESC, id DESC LIMIT 1", kind)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

// UpdateJobProgress persists counters and refreshes the heartbeat. Called
// after every processed item so restarts lose at most the in-flight one.
func (s *Store) UpdateJobProgress(ctx context.Context, j *Job) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET total = $1, processed = $2, success_count = $3, failed_count = $4, last_heartbeat = $5
		WHERE id = $6
	`, j.Total, j.Processed, j.SuccessCount, j.FailedCount, j.LastHeartbeat, j.ID)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return requireRow(res, "job", j.ID)
}

// SetJobStatus transitions a job's status, stamping ended_at for terminal
// states.
func (s *Store) SetJobStatus(ctx context.Context, id string, status JobStatus, endedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET status = $1, ended_at = $2 WHERE id = $3", status, endedAt, id)
	if err != nil {
		return fmt.Errorf("set job status: %w", err)
	}
	return requireRow(res, "job", id)
}

// TouchJobHeartbeat sets the job heartbeat to the given time.
func (s *Store) TouchJobHeartbeat(ctx context.Context, id string, t time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET last_heartbeat = $1 WHERE id = $2", t, id)
	if err != nil {
		return fmt.Errorf("touch job heartbeat: %w", err)
	}
	return requireRow(res, "job", id)
}

// ResetJobCounters clears counters and errors and returns the job to idle.
// Already-computed embeddings are untouched; this only resets bookkeeping.
func (s *Store) ResetJobCounters(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM job_errors WHERE job_id = $1", id); err != nil {
		return fmt.Errorf("clear job errors: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, total = 0, processed = 0, success_count = 0, failed_count = 0, ended_at = NULL
		WHERE id = $2
	`, JobStatusIdle, id)
	if err != nil {
		return fmt.Errorf("reset job: %w", err)
	}
	return requireRow(res, "job", id)
}

// AddJobError appends a per-item failure record to a job.
func (s *Store) AddJobError(ctx context.Context, jobID string, faceID int64, message string) error {
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO job_errors (job_id, face_id, message) VALUES ($1, $2, $3)",
		jobID, faceID, message); err != nil {
		return fmt.Errorf("insert job error: %w", err)
	}
	return nil
}

// ListJobErrors returns all per-item failures for a job in insertion order.
func (s *Store) ListJobErrors(ctx context.Context, jobID string) ([]JobError, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT job_id, face_id, message, created_at FROM job_errors WHERE job_id = $1 ORDER BY created_at, face_id",
		jobID)
	if err != nil {
		return nil, fmt.Errorf("query job errors: %w", err)
	}
	defer rows.Close()

	var errsList []JobError
	for rows.Next() {
		var e JobError
		if err := rows.Scan(&e.JobID, &e.FaceID, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job error: %w", err)
		}
		errsList = append(errsList, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job errors: %w", err)
	}
	return errsList, nil
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var endedAt sql.NullTime
	err := row.Scan(&j.ID, &j.Kind, &j.Status, &j.Total, &j.Processed,
		&j.SuccessCount, &j.FailedCount, &j.StartedAt, &endedAt, &j.LastHeartbeat)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	if endedAt.Valid {
		j.EndedAt = &endedAt.Time
	}
	return &j, nil
}
