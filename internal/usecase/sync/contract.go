package sync

import (
	"context"

	domidx "github.com/docdex/docdex/internal/domain/index"
	domjob "github.com/docdex/docdex/internal/domain/job"
	"github.com/docdex/docdex/internal/domain/mapping"
	"github.com/docdex/docdex/internal/repository/doc"
)

// IndexStore is the slice of index storage a synchronization run needs.
type IndexStore interface {
	GetByID(ctx context.Context, id int64) (domidx.Index, error)
	Update(ctx context.Context, idx domidx.Index) error
	Properties(ctx context.Context, indexID int64) ([]mapping.Property, error)
	Cursor(ctx context.Context, indexID int64) (int64, bool, error)
	SaveCursor(ctx context.Context, indexID, latest int64) error
}

// LogStore pages the append-only document log.
type LogStore interface {
	PageAfter(ctx context.Context, collectionID, indexID, after int64, limit int) ([]doc.Row, error)
}

// JobTracker records progress of the job being executed.
type JobTracker interface {
	SetStatus(ctx context.Context, id int64, status domjob.Status)
	AddLog(ctx context.Context, id int64, level domjob.LogLevel, message string)
}
