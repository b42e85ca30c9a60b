package index

import (
	"context"

	domidx "github.com/docdex/docdex/internal/domain/index"
	domjob "github.com/docdex/docdex/internal/domain/job"
	"github.com/docdex/docdex/internal/domain/mapping"
	"github.com/docdex/docdex/internal/repository/collection"
	"github.com/docdex/docdex/internal/repository/doc"
)

// Repository is the index storage contract.
type Repository interface {
	Create(ctx context.Context, idx domidx.Index, props []mapping.Property) (domidx.Index, error)
	GetByName(ctx context.Context, name string) (domidx.Index, error)
	GetByID(ctx context.Context, id int64) (domidx.Index, error)
	ListByCollection(ctx context.Context, collectionID int64) ([]domidx.Index, error)
	Update(ctx context.Context, idx domidx.Index) error
	Delete(ctx context.Context, indexID int64) error
	Properties(ctx context.Context, indexID int64) ([]mapping.Property, error)
	ReplaceProperties(ctx context.Context, indexID int64, props []mapping.Property) error
	ApplyPlan(ctx context.Context, indexID int64, plan mapping.Plan) error
}

// LogStore is the slice of the document log the index service touches.
type LogStore interface {
	AppendOne(ctx context.Context, row doc.Row) (int64, error)
	Get(ctx context.Context, id int64) (doc.Row, error)
	DeleteByIndex(ctx context.Context, indexID int64) error
}

// CollectionStore resolves collections an index binds to.
type CollectionStore interface {
	GetByName(ctx context.Context, name string) (collection.Record, error)
	GetByID(ctx context.Context, id int64) (collection.Record, error)
}

// JobScheduler creates and dispatches synchronization jobs.
type JobScheduler interface {
	CreateMigrateJob(ctx context.Context, indexID int64, mode domjob.MigrateMode) (domjob.Job, error)
}
