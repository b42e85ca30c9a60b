// Package collection manages document collections and batch ingestion into
// the append-only document log.
package collection

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domidx "github.com/docdex/docdex/internal/domain/index"
	"github.com/docdex/docdex/internal/repository/collection"
	"github.com/docdex/docdex/internal/repository/doc"
	indexuc "github.com/docdex/docdex/internal/usecase/index"
)

// Detail is a collection together with its indices.
type Detail struct {
	Record  collection.Record
	Indices []indexuc.View
}

type Service struct {
	repo    Repository
	logs    LogStore
	indexes IndexService
	logger  *zap.Logger
}

func New(repo Repository, logs LogStore, indexes IndexService, logger *zap.Logger) *Service {
	return &Service{repo: repo, logs: logs, indexes: indexes, logger: logger}
}

// Create registers a new collection.
func (s *Service) Create(ctx context.Context, name, description string) (collection.Record, error) {
	rec, err := s.repo.Create(ctx, name, description)
	if err != nil {
		return collection.Record{}, err
	}
	s.logger.Info("collection created", zap.String("collection", name))
	return rec, nil
}

// Get returns a collection with its indices.
func (s *Service) Get(ctx context.Context, name string) (Detail, error) {
	rec, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return Detail{}, err
	}
	views, err := s.indexes.List(ctx, rec.ID)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Record: rec, Indices: views}, nil
}

// List returns all collections.
func (s *Service) List(ctx context.Context) ([]collection.Record, error) {
	return s.repo.List(ctx)
}

// Delete tears a collection down: every index first, then the collection
// row, then the collection's slice of the document log.
func (s *Service) Delete(ctx context.Context, name string) error {
	rec, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return err
	}
	views, err := s.indexes.List(ctx, rec.ID)
	if err != nil {
		return err
	}
	for _, v := range views {
		if err := s.indexes.Delete(ctx, v.Index.Name(), true); err != nil {
			return fmt.Errorf("delete index %q: %w", v.Index.Name(), err)
		}
	}
	if err := s.repo.Delete(ctx, rec.ID); err != nil {
		return err
	}
	if err := s.logs.DeleteByCollection(ctx, rec.ID); err != nil {
		return err
	}
	s.logger.Info("collection deleted", zap.String("collection", name))
	return nil
}

// BatchUpload appends raw documents to the collection's log under one batch
// id (generated when the caller supplies none) and nudges every auto-append
// index to pick them up. Returns the batch id and accepted count.
func (s *Service) BatchUpload(ctx context.Context, name, batchID string, docs [][]byte) (string, int, error) {
	rec, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return "", 0, err
	}
	if len(docs) == 0 {
		return batchID, 0, nil
	}
	if batchID == "" {
		batchID = uuid.NewString()
	}

	rows := make([]doc.Row, 0, len(docs))
	for _, source := range docs {
		rows = append(rows, doc.Row{Source: source, BatchID: batchID, CollectionID: rec.ID})
	}
	if err := s.logs.Append(ctx, rows); err != nil {
		return "", 0, err
	}
	s.logger.Info("batch uploaded",
		zap.String("collection", name),
		zap.String("batch_id", batchID),
		zap.Int("documents", len(rows)))

	s.notifyAutoAppend(ctx, rec.ID)
	return batchID, len(rows), nil
}

// notifyAutoAppend starts an append run on every activated auto-append
// index. Failures are logged and swallowed: an index mid-migration simply
// picks the rows up on its next run.
func (s *Service) notifyAutoAppend(ctx context.Context, collectionID int64) {
	views, err := s.indexes.List(ctx, collectionID)
	if err != nil {
		s.logger.Warn("auto-append listing failed",
			zap.Int64("collection_id", collectionID), zap.Error(err))
		return
	}
	for _, v := range views {
		if !v.Index.AutoAppend() || v.Index.Status() != domidx.StatusActivated {
			continue
		}
		if _, err := s.indexes.Append(ctx, v.Index.Name()); err != nil {
			s.logger.Warn("auto-append failed",
				zap.String("index", v.Index.Name()), zap.Error(err))
		}
	}
}
