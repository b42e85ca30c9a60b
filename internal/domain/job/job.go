package job

import (
	"encoding/json"
)

// Type identifies the kind of asynchronous work.
type Type string

const (
	// TypeIndexMigrate is a (re)population run of a physical search index
	// from the document log.
	TypeIndexMigrate Type = "index_migrate"
)

// Status is the lifecycle state of a job record.
type Status string

const (
	// StatusCreated means the job row exists but no worker picked it up yet.
	StatusCreated Status = "created"
	// StatusRunning means a worker is executing the job.
	StatusRunning Status = "running"
	// StatusSucceed means the job body completed without error.
	StatusSucceed Status = "succeed"
	// StatusFailed means the job body raised. The index's own status is
	// still restored by the run's cleanup path.
	StatusFailed Status = "failed"
)

// MigrateMode selects the synchronization flavor of an index-migrate job.
type MigrateMode string

const (
	// ModeReinsert replays the entire log into a fresh physical index.
	ModeReinsert MigrateMode = "reinsert"
	// ModeAppend replays only log rows newer than the stored cursor.
	ModeAppend MigrateMode = "append"
)

// MigratePayload is the job-specific payload of an index-migrate job.
type MigratePayload struct {
	IndexID int64       `json:"index_id"`
	Mode    MigrateMode `json:"mode"`
}

// Job is a unit of asynchronous work (immutable value object).
type Job struct {
	id        int64
	jobType   Type
	payload   json.RawMessage
	status    Status
	createdAt int64
	updatedAt int64
}

// New creates a Job in the Created state.
func New(jobType Type, payload json.RawMessage, now int64) Job {
	return Job{jobType: jobType, payload: payload, status: StatusCreated, createdAt: now, updatedAt: now}
}

// Reconstruct creates a Job without validation (storage hydration).
func Reconstruct(id int64, jobType Type, payload json.RawMessage, status Status, createdAt, updatedAt int64) Job {
	return Job{id: id, jobType: jobType, payload: payload, status: status, createdAt: createdAt, updatedAt: updatedAt}
}

// ID returns the storage identifier.
func (j Job) ID() int64 { return j.id }

// JobType returns the kind of work.
func (j Job) JobType() Type { return j.jobType }

// Payload returns the opaque job-specific payload.
func (j Job) Payload() json.RawMessage { return j.payload }

// JobStatus returns the lifecycle state.
func (j Job) JobStatus() Status { return j.status }

// CreatedAt returns the creation timestamp (unix millis).
func (j Job) CreatedAt() int64 { return j.createdAt }

// UpdatedAt returns the last status change timestamp (unix millis).
func (j Job) UpdatedAt() int64 { return j.updatedAt }

// WithID returns a copy with the storage id set (after insert).
func (j Job) WithID(id int64) Job {
	j.id = id
	return j
}

// LogLevel classifies a job log entry.
type LogLevel string

const (
	// LevelInfo is a progress entry.
	LevelInfo LogLevel = "info"
	// LevelError records a failure, including per-document coercion skips.
	LevelError LogLevel = "error"
)

// LogEntry is one ordered diagnostic entry keyed by job id.
type LogEntry struct {
	ID        int64
	JobID     int64
	Level     LogLevel
	Message   string
	CreatedAt int64
}
