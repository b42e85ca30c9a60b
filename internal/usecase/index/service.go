// Package index implements the index lifecycle: creation against a
// collection, schema evolution, activation and rebuilds, and the document
// read/write surface that goes through a physical search index.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/docdex/docdex/internal/domain"
	domidx "github.com/docdex/docdex/internal/domain/index"
	domjob "github.com/docdex/docdex/internal/domain/job"
	"github.com/docdex/docdex/internal/domain/mapping"
	"github.com/docdex/docdex/internal/repository/doc"
	"github.com/docdex/docdex/internal/search"
)

// View bundles an index with its full property list.
type View struct {
	Index      domidx.Index
	Properties []mapping.Property
}

// CreateParams carries everything needed to register a new index.
type CreateParams struct {
	Name           string
	Description    string
	CollectionName string
	AutoAppend     bool
	Properties     []mapping.Property
}

type Service struct {
	repo        Repository
	logs        LogStore
	collections CollectionStore
	jobs        JobScheduler
	engine      search.Engine
	logger      *zap.Logger
}

func New(repo Repository, logs LogStore, collections CollectionStore, jobs JobScheduler, engine search.Engine, logger *zap.Logger) *Service {
	return &Service{
		repo:        repo,
		logs:        logs,
		collections: collections,
		jobs:        jobs,
		engine:      engine,
		logger:      logger,
	}
}

// Create registers a new index in the Inactivated state. The schema is
// validated up front; no physical index exists until activation.
func (s *Service) Create(ctx context.Context, p CreateParams) (View, error) {
	if _, err := s.repo.GetByName(ctx, p.Name); err == nil {
		return View{}, fmt.Errorf("index %q: %w", p.Name, domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return View{}, err
	}

	col, err := s.collections.GetByName(ctx, p.CollectionName)
	if err != nil {
		return View{}, fmt.Errorf("collection %q: %w", p.CollectionName, err)
	}

	m, err := mapping.New(p.Properties)
	if err != nil {
		return View{}, err
	}

	idx, err := domidx.New(p.Name, p.Description, col.ID, p.AutoAppend)
	if err != nil {
		return View{}, err
	}
	idx, err = s.repo.Create(ctx, idx, m.Properties())
	if err != nil {
		return View{}, err
	}
	s.logger.Info("index created",
		zap.String("index", idx.Name()),
		zap.String("collection", p.CollectionName),
		zap.Int("properties", len(m.Properties())))
	return View{Index: idx, Properties: m.Properties()}, nil
}

// Get returns an index with its properties.
func (s *Service) Get(ctx context.Context, name string) (View, error) {
	idx, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return View{}, err
	}
	props, err := s.repo.Properties(ctx, idx.ID())
	if err != nil {
		return View{}, err
	}
	return View{Index: idx, Properties: props}, nil
}

// List returns all indices bound to a collection.
func (s *Service) List(ctx context.Context, collectionID int64) ([]View, error) {
	indices, err := s.repo.ListByCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(indices))
	for _, idx := range indices {
		props, err := s.repo.Properties(ctx, idx.ID())
		if err != nil {
			return nil, err
		}
		views = append(views, View{Index: idx, Properties: props})
	}
	return views, nil
}

// UpdateSchema evolves an index's schema. Additions to an inactive index and
// compatible changes to an active one are applied in place; incompatible
// changes replace the schema and trigger a full rebuild. Returns the rebuild
// job if one was started.
func (s *Service) UpdateSchema(ctx context.Context, name string, description *string, props []mapping.Property) (*domjob.Job, error) {
	idx, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if idx.Status() == domidx.StatusMigrating {
		return nil, domain.NewInvalidState("update schema", string(idx.Status()))
	}

	if description != nil && *description != idx.Description() {
		idx = idx.WithDescription(*description)
		if err := s.repo.Update(ctx, idx); err != nil {
			return nil, err
		}
	}
	if props == nil {
		return nil, nil
	}
	if _, err := mapping.New(props); err != nil {
		return nil, err
	}

	old, err := s.repo.Properties(ctx, idx.ID())
	if err != nil {
		return nil, err
	}
	plan := mapping.PlanUpdate(old, props)

	if plan.NeedRecreate && idx.Status() != domidx.StatusInactivated {
		if err := s.repo.ReplaceProperties(ctx, idx.ID(), props); err != nil {
			return nil, err
		}
		job, err := s.Recreate(ctx, name)
		if err != nil {
			return nil, err
		}
		return &job, nil
	}

	if plan.NeedRecreate {
		// Inactivated: no physical index to rebuild, a plain replace is
		// enough.
		if err := s.repo.ReplaceProperties(ctx, idx.ID(), props); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err := s.repo.ApplyPlan(ctx, idx.ID(), plan); err != nil {
		return nil, err
	}
	return nil, nil
}

// Activate allocates the first physical index, materializes the mapping,
// and starts a reinsert job: Inactivated -> Migrating.
func (s *Service) Activate(ctx context.Context, name string) (domjob.Job, error) {
	idx, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return domjob.Job{}, err
	}
	next, err := idx.Activate()
	if err != nil {
		return domjob.Job{}, err
	}
	return s.provision(ctx, next, "")
}

// Recreate rebuilds the physical index under a new name and starts a
// reinsert job. The previous physical index, if any, is dropped.
func (s *Service) Recreate(ctx context.Context, name string) (domjob.Job, error) {
	idx, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return domjob.Job{}, err
	}
	next, old, err := idx.Recreate()
	if err != nil {
		return domjob.Job{}, err
	}
	return s.provision(ctx, next, old)
}

// provision creates the new physical index, applies the active mapping,
// drops the superseded physical index, persists the transition, and
// schedules the reinsert run.
func (s *Service) provision(ctx context.Context, next domidx.Index, oldPhysical string) (domjob.Job, error) {
	props, err := s.repo.Properties(ctx, next.ID())
	if err != nil {
		return domjob.Job{}, err
	}
	active := mapping.Reconstruct(props).Active()

	if err := s.engine.CreateIndex(ctx, next.PhysicalName()); err != nil {
		return domjob.Job{}, fmt.Errorf("create physical index %q: %w", next.PhysicalName(), err)
	}
	if err := s.engine.PutMapping(ctx, next.PhysicalName(), active); err != nil {
		return domjob.Job{}, fmt.Errorf("put mapping on %q: %w", next.PhysicalName(), err)
	}
	if oldPhysical != "" {
		if err := s.engine.DeleteIndex(ctx, oldPhysical); err != nil {
			return domjob.Job{}, fmt.Errorf("delete physical index %q: %w", oldPhysical, err)
		}
	}
	if err := s.repo.Update(ctx, next); err != nil {
		return domjob.Job{}, err
	}
	job, err := s.jobs.CreateMigrateJob(ctx, next.ID(), domjob.ModeReinsert)
	if err != nil {
		return domjob.Job{}, err
	}
	s.logger.Info("index migrating",
		zap.String("index", next.Name()),
		zap.String("physical", next.PhysicalName()),
		zap.Int64("job_id", job.ID()))
	return job, nil
}

// Append starts an incremental synchronization run: Activated -> Migrating,
// same physical index, resuming from the stored log cursor.
func (s *Service) Append(ctx context.Context, name string) (domjob.Job, error) {
	idx, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return domjob.Job{}, err
	}
	next, err := idx.BeginAppend()
	if err != nil {
		return domjob.Job{}, err
	}
	if err := s.repo.Update(ctx, next); err != nil {
		return domjob.Job{}, err
	}
	return s.jobs.CreateMigrateJob(ctx, next.ID(), domjob.ModeAppend)
}

// ForceActivate is the operator escape hatch for an index stuck Migrating.
func (s *Service) ForceActivate(ctx context.Context, name string) error {
	idx, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return err
	}
	next, err := idx.ForceActivate()
	if err != nil {
		return err
	}
	return s.repo.Update(ctx, next)
}

// Delete removes an index, its physical counterpart, and (unless retainData
// is set) the log rows its own update path produced.
func (s *Service) Delete(ctx context.Context, name string, retainData bool) error {
	idx, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return err
	}
	if err := idx.CheckDeletable(); err != nil {
		return err
	}
	if idx.PhysicalName() != "" {
		if err := s.engine.DeleteIndex(ctx, idx.PhysicalName()); err != nil {
			return fmt.Errorf("delete physical index %q: %w", idx.PhysicalName(), err)
		}
	}
	if err := s.repo.Delete(ctx, idx.ID()); err != nil {
		return err
	}
	if !retainData {
		if err := s.logs.DeleteByIndex(ctx, idx.ID()); err != nil {
			return err
		}
	}
	s.logger.Info("index deleted", zap.String("index", name), zap.Bool("retain_data", retainData))
	return nil
}

// GetDocument fetches one document by id from the index's physical store.
func (s *Service) GetDocument(ctx context.Context, name, docID string) (search.Document, error) {
	idx, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return search.Document{}, err
	}
	if idx.PhysicalName() == "" {
		return search.Document{}, fmt.Errorf("index %q has no physical index: %w", name, domain.ErrNotFound)
	}
	d, err := s.engine.Get(ctx, idx.PhysicalName(), docID)
	if err != nil {
		return search.Document{}, err
	}
	d.Index = idx.Name()
	return d, nil
}

// UpdateDocument merges a partial document into the original log row behind
// the indexed document, appends the merged form to the log attributed to
// this index, and upserts the re-coerced projection.
func (s *Service) UpdateDocument(ctx context.Context, name, docID string, patch []byte) error {
	idx, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return err
	}
	if err := idx.CheckWritable(); err != nil {
		return err
	}

	current, err := s.engine.Get(ctx, idx.PhysicalName(), docID)
	if err != nil {
		return err
	}
	orig, err := s.logs.Get(ctx, current.SourceLogID)
	if err != nil {
		return fmt.Errorf("log row %d: %w", current.SourceLogID, err)
	}
	merged, err := mergeJSON(orig.Source, patch)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSchema, err)
	}

	props, err := s.repo.Properties(ctx, idx.ID())
	if err != nil {
		return err
	}
	m := mapping.Reconstruct(props)
	coerced, err := m.Coerce(merged)
	if err != nil {
		return err
	}

	indexID := idx.ID()
	logID, err := s.logs.AppendOne(ctx, doc.Row{
		Source:          merged,
		BatchID:         orig.BatchID,
		CollectionID:    idx.CollectionID(),
		ModifiedByIndex: &indexID,
	})
	if err != nil {
		return err
	}

	src, err := json.Marshal(coerced)
	if err != nil {
		return err
	}
	return s.engine.BulkUpsert(ctx, []search.Document{{
		Index:       idx.PhysicalName(),
		ID:          m.DeriveID(coerced),
		Source:      src,
		SourceLogID: logID,
	}})
}

// SearchDocuments runs an engine-native query against the index.
func (s *Service) SearchDocuments(ctx context.Context, name string, query []byte, limit int) ([]search.Document, error) {
	idx, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if idx.PhysicalName() == "" {
		return nil, domain.NewInvalidState("search", string(idx.Status()))
	}
	docs, err := s.engine.Search(ctx, idx.PhysicalName(), query, limit)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].Index = idx.Name()
	}
	return docs, nil
}

// mergeJSON overlays patch's top-level members onto base.
func mergeJSON(base, patch []byte) ([]byte, error) {
	var dst map[string]json.RawMessage
	if err := json.Unmarshal(base, &dst); err != nil {
		return nil, fmt.Errorf("original document: %w", err)
	}
	var src map[string]json.RawMessage
	if err := json.Unmarshal(patch, &src); err != nil {
		return nil, fmt.Errorf("patch document: %w", err)
	}
	for k, v := range src {
		dst[k] = v
	}
	return json.Marshal(dst)
}
