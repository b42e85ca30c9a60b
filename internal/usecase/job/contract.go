package job

import (
	"context"
	"encoding/json"

	domjob "github.com/docdex/docdex/internal/domain/job"
)

// Repository defines the storage contract for jobs and their logs.
type Repository interface {
	Create(ctx context.Context, jobType domjob.Type, payload json.RawMessage) (domjob.Job, error)
	Get(ctx context.Context, id int64) (domjob.Job, error)
	UpdateStatus(ctx context.Context, id int64, status domjob.Status) error
	AddLog(ctx context.Context, jobID int64, level domjob.LogLevel, message string) error
	Logs(ctx context.Context, jobID int64) ([]domjob.LogEntry, error)
}
