// Package sync executes index-migrate jobs: it replays the document log
// into a physical search index, page by page, and keeps the index's status
// and log cursor consistent no matter how the run ends.
package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/docdex/docdex/internal/dispatch"
	domidx "github.com/docdex/docdex/internal/domain/index"
	domjob "github.com/docdex/docdex/internal/domain/job"
	"github.com/docdex/docdex/internal/domain/mapping"
	"github.com/docdex/docdex/internal/metrics"
	"github.com/docdex/docdex/internal/search"
)

const defaultPageSize = 10

// Runner is the worker-side executor of index-migrate jobs. It is safe
// under duplicate delivery: documents are keyed by derived id and the
// cursor only ever moves forward.
type Runner struct {
	indexes  IndexStore
	log      LogStore
	jobs     JobTracker
	engine   search.Engine
	pageSize int
	logger   *zap.Logger
}

func NewRunner(indexes IndexStore, log LogStore, jobs JobTracker, engine search.Engine, logger *zap.Logger) *Runner {
	return &Runner{
		indexes:  indexes,
		log:      log,
		jobs:     jobs,
		engine:   engine,
		pageSize: defaultPageSize,
		logger:   logger,
	}
}

// WithPageSize overrides the log page size. Values below 1 keep the default.
func (r *Runner) WithPageSize(n int) *Runner {
	if n > 0 {
		r.pageSize = n
	}
	return r
}

// Handle executes one dispatched index-migrate job. It implements
// dispatch.Handler.
func (r *Runner) Handle(ctx context.Context, d dispatch.Descriptor) error {
	if d.Type != domjob.TypeIndexMigrate {
		return fmt.Errorf("unknown job type %q", d.Type)
	}
	r.jobs.SetStatus(ctx, d.JobID, domjob.StatusRunning)

	var payload domjob.MigratePayload
	if err := json.Unmarshal(d.Payload, &payload); err != nil {
		return r.fail(ctx, d.JobID, fmt.Errorf("decode payload: %w", err))
	}

	idx, err := r.indexes.GetByID(ctx, payload.IndexID)
	if err != nil {
		return r.fail(ctx, d.JobID, fmt.Errorf("resolve index %d: %w", payload.IndexID, err))
	}

	start, err := r.startCursor(ctx, idx.ID(), payload.Mode)
	if err != nil {
		return r.fail(ctx, d.JobID, err)
	}

	timer := prometheus.NewTimer(metrics.SyncJobDuration.WithLabelValues(string(payload.Mode)))
	runErr := r.run(ctx, d.JobID, idx, start)
	timer.ObserveDuration()

	if runErr != nil {
		return r.fail(ctx, d.JobID, runErr)
	}
	r.jobs.SetStatus(ctx, d.JobID, domjob.StatusSucceed)
	r.logger.Info("sync job finished",
		zap.Int64("job_id", d.JobID),
		zap.Int64("index_id", idx.ID()),
		zap.String("mode", string(payload.Mode)))
	return nil
}

func (r *Runner) fail(ctx context.Context, jobID int64, err error) error {
	r.jobs.AddLog(ctx, jobID, domjob.LevelError, err.Error())
	r.jobs.SetStatus(ctx, jobID, domjob.StatusFailed)
	return err
}

// startCursor picks the log position the run resumes from. Append runs
// continue from the stored cursor; a missing cursor and reinsert runs both
// start at the beginning of the log.
func (r *Runner) startCursor(ctx context.Context, indexID int64, mode domjob.MigrateMode) (int64, error) {
	if mode != domjob.ModeAppend {
		return 0, nil
	}
	cursor, found, err := r.indexes.Cursor(ctx, indexID)
	if err != nil {
		return 0, fmt.Errorf("load cursor for index %d: %w", indexID, err)
	}
	if !found {
		return 0, nil
	}
	return cursor, nil
}

// run pages the log into the engine. Whatever happens, the deferred cleanup
// restores the index to Activated and persists the highest log id seen, so
// a failed run never wedges the index in Migrating and never replays rows
// it already walked past.
func (r *Runner) run(ctx context.Context, jobID int64, idx domidx.Index, start int64) error {
	maxSeen := start

	defer func() {
		// Cleanup runs on a fresh context so a canceled job still
		// restores the index.
		cctx := context.WithoutCancel(ctx)
		if err := r.indexes.Update(cctx, idx.CompleteSync()); err != nil {
			r.logger.Error("restore index status failed",
				zap.Int64("index_id", idx.ID()), zap.Error(err))
		}
		if err := r.indexes.SaveCursor(cctx, idx.ID(), maxSeen); err != nil {
			r.logger.Error("save cursor failed",
				zap.Int64("index_id", idx.ID()), zap.Error(err))
		}
	}()

	props, err := r.indexes.Properties(ctx, idx.ID())
	if err != nil {
		return fmt.Errorf("load mapping for index %d: %w", idx.ID(), err)
	}
	m := mapping.Reconstruct(props)
	if !hasIDPart(m) {
		return fmt.Errorf("index %q has no active id-part property", idx.Name())
	}

	for {
		page, err := r.log.PageAfter(ctx, idx.CollectionID(), idx.ID(), maxSeen, r.pageSize)
		if err != nil {
			return fmt.Errorf("page log after %d: %w", maxSeen, err)
		}
		if len(page) == 0 {
			return nil
		}
		maxSeen = page[len(page)-1].ID

		batch := make([]search.Document, 0, len(page))
		for _, row := range page {
			coerced, err := m.Coerce(row.Source)
			if err != nil {
				r.jobs.AddLog(ctx, jobID, domjob.LevelError,
					fmt.Sprintf("log row %d: %v", row.ID, err))
				metrics.SyncDocumentsTotal.WithLabelValues("skipped").Inc()
				continue
			}
			src, err := json.Marshal(coerced)
			if err != nil {
				return fmt.Errorf("encode log row %d: %w", row.ID, err)
			}
			batch = append(batch, search.Document{
				Index:       idx.PhysicalName(),
				ID:          m.DeriveID(coerced),
				Source:      src,
				SourceLogID: row.ID,
			})
		}
		if len(batch) > 0 {
			if err := r.engine.BulkUpsert(ctx, batch); err != nil {
				return fmt.Errorf("bulk upsert %d docs: %w", len(batch), err)
			}
			metrics.SyncDocumentsTotal.WithLabelValues("indexed").Add(float64(len(batch)))
		}
		if len(page) < r.pageSize {
			return nil
		}
	}
}

func hasIDPart(m mapping.Mapping) bool {
	for _, p := range m.Active() {
		if p.IDPart() {
			return true
		}
	}
	return false
}
