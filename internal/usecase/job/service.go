// Package job persists job rows and hands them to the dispatcher.
package job

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/docdex/docdex/internal/dispatch"
	domjob "github.com/docdex/docdex/internal/domain/job"
)

// Service creates jobs and records their progress. Status and log updates
// are best effort so a bookkeeping failure never masks the job outcome.
type Service struct {
	repo       Repository
	dispatcher dispatch.Dispatcher
	logger     *zap.Logger
}

func New(repo Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// WithDispatcher connects the transport jobs are published on. The service
// is constructed first because the dispatch handler (the sync runner) needs
// it for bookkeeping; the dispatcher closes the loop afterwards.
func (s *Service) WithDispatcher(d dispatch.Dispatcher) *Service {
	s.dispatcher = d
	return s
}

// CreateMigrateJob persists an index_migrate job and dispatches it for
// asynchronous execution. The returned job is in the Created state; workers
// move it forward.
func (s *Service) CreateMigrateJob(ctx context.Context, indexID int64, mode domjob.MigrateMode) (domjob.Job, error) {
	payload, err := json.Marshal(domjob.MigratePayload{IndexID: indexID, Mode: mode})
	if err != nil {
		return domjob.Job{}, fmt.Errorf("marshal migrate payload: %w", err)
	}

	if s.dispatcher == nil {
		return domjob.Job{}, fmt.Errorf("no dispatcher configured")
	}
	j, err := s.repo.Create(ctx, domjob.TypeIndexMigrate, payload)
	if err != nil {
		return domjob.Job{}, fmt.Errorf("create job: %w", err)
	}

	desc := dispatch.Descriptor{JobID: j.ID(), Type: j.JobType(), Payload: payload}
	if err := s.dispatcher.Dispatch(ctx, desc); err != nil {
		s.SetStatus(ctx, j.ID(), domjob.StatusFailed)
		s.AddLog(ctx, j.ID(), domjob.LevelError, fmt.Sprintf("dispatch: %v", err))
		return domjob.Job{}, fmt.Errorf("dispatch job %d: %w", j.ID(), err)
	}
	return j, nil
}

// Get returns a job together with its log entries.
func (s *Service) Get(ctx context.Context, id int64) (domjob.Job, []domjob.LogEntry, error) {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return domjob.Job{}, nil, fmt.Errorf("get job %d: %w", id, err)
	}
	logs, err := s.repo.Logs(ctx, id)
	if err != nil {
		return domjob.Job{}, nil, fmt.Errorf("job %d logs: %w", id, err)
	}
	return j, logs, nil
}

// SetStatus records a status transition. Failures are logged, not returned.
func (s *Service) SetStatus(ctx context.Context, id int64, status domjob.Status) {
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		s.logger.Warn("job status update failed",
			zap.Int64("job_id", id),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

// AddLog appends a log entry to the job. Failures are logged, not returned.
func (s *Service) AddLog(ctx context.Context, id int64, level domjob.LogLevel, message string) {
	if err := s.repo.AddLog(ctx, id, level, message); err != nil {
		s.logger.Warn("job log write failed", zap.Int64("job_id", id), zap.Error(err))
	}
}
