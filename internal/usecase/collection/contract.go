package collection

import (
	"context"

	domjob "github.com/docdex/docdex/internal/domain/job"
	"github.com/docdex/docdex/internal/repository/collection"
	"github.com/docdex/docdex/internal/repository/doc"
	indexuc "github.com/docdex/docdex/internal/usecase/index"
)

// Repository is the collection storage contract.
type Repository interface {
	Create(ctx context.Context, name, description string) (collection.Record, error)
	GetByName(ctx context.Context, name string) (collection.Record, error)
	GetByID(ctx context.Context, id int64) (collection.Record, error)
	List(ctx context.Context) ([]collection.Record, error)
	Delete(ctx context.Context, id int64) error
}

// LogStore appends uploaded documents and clears them on teardown.
type LogStore interface {
	Append(ctx context.Context, rows []doc.Row) error
	DeleteByCollection(ctx context.Context, collectionID int64) error
}

// IndexService is the slice of index operations a collection drives: listing
// its indices, kicking auto-append runs after an upload, and tearing indices
// down with the collection.
type IndexService interface {
	List(ctx context.Context, collectionID int64) ([]indexuc.View, error)
	Append(ctx context.Context, name string) (domjob.Job, error)
	Delete(ctx context.Context, name string, retainData bool) error
}
