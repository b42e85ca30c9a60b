// Package job persists job records and their ordered diagnostic logs.
package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/docdex/docdex/internal/domain"
	domjob "github.com/docdex/docdex/internal/domain/job"
)

// Repo implements the job storage contract over SQLite.
type Repo struct {
	db  *sql.DB
	now func() int64
}

// New creates a job repository.
func New(db *sql.DB) *Repo {
	return &Repo{db: db, now: func() int64 { return time.Now().UnixMilli() }}
}

// WithClock overrides the timestamp source (tests).
func (r *Repo) WithClock(now func() int64) *Repo {
	r.now = now
	return r
}

// Create persists a job in the Created state.
func (r *Repo) Create(ctx context.Context, jobType domjob.Type, payload json.RawMessage) (domjob.Job, error) {
	now := r.now()
	j := domjob.New(jobType, payload, now)
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO jobs (job_type, payload, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		string(j.JobType()), string(j.Payload()), string(j.JobStatus()), now, now,
	)
	if err != nil {
		return domjob.Job{}, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domjob.Job{}, fmt.Errorf("last insert id: %w", err)
	}
	return j.WithID(id), nil
}

// Get retrieves a job by id.
func (r *Repo) Get(ctx context.Context, id int64) (domjob.Job, error) {
	var (
		jobType, payload, status string
		createdAt, updatedAt     int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT job_type, payload, status, created_at, updated_at FROM jobs WHERE id = ?`, id).
		Scan(&jobType, &payload, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domjob.Job{}, fmt.Errorf("job %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domjob.Job{}, fmt.Errorf("get job: %w", err)
	}
	return domjob.Reconstruct(id, domjob.Type(jobType), []byte(payload),
		domjob.Status(status), createdAt, updatedAt), nil
}

// UpdateStatus moves a job to a new lifecycle state. Updating a missing job
// is not an error: status bookkeeping is best-effort.
func (r *Repo) UpdateStatus(ctx context.Context, id int64, status domjob.Status) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), r.now(), id,
	); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// AddLog appends a diagnostic entry for a job.
func (r *Repo) AddLog(ctx context.Context, jobID int64, level domjob.LogLevel, message string) error {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO job_logs (job_id, level, message, created_at) VALUES (?, ?, ?, ?)`,
		jobID, string(level), message, r.now(),
	); err != nil {
		return fmt.Errorf("insert job log: %w", err)
	}
	return nil
}

// Logs returns a job's diagnostic entries in insertion order.
func (r *Repo) Logs(ctx context.Context, jobID int64) ([]domjob.LogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, job_id, level, message, created_at FROM job_logs WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job logs: %w", err)
	}
	defer rows.Close()

	var entries []domjob.LogEntry
	for rows.Next() {
		var (
			entry domjob.LogEntry
			level string
		)
		if err := rows.Scan(&entry.ID, &entry.JobID, &level, &entry.Message, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job log: %w", err)
		}
		entry.Level = domjob.LogLevel(level)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
