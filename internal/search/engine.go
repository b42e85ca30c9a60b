// Package search defines the contract to the physical search engine. The
// engine is a schemaless document store: docdex only needs create/delete of
// physical indexes, a field-mapping hint, idempotent bulk upsert keyed by a
// caller-derived id, get-by-id, and engine-native query search.
package search

import (
	"context"
	"encoding/json"

	"github.com/docdex/docdex/internal/domain/mapping"
)

// Document is the in-flight record exchanged with the engine. SourceLogID is
// the log row the document was projected from, carried alongside the source
// so updates can find their way back to the relational log.
type Document struct {
	Index       string
	ID          string
	Source      json.RawMessage
	SourceLogID int64
}

// Engine is the physical search-engine contract.
type Engine interface {
	// CreateIndex allocates a fresh physical index. A pre-existing index of
	// the same name is discarded first.
	CreateIndex(ctx context.Context, name string) error
	// DeleteIndex removes a physical index and its documents. Deleting an
	// absent index is not an error.
	DeleteIndex(ctx context.Context, name string) error
	// PutMapping materializes the schema's active properties into the
	// engine's native field mapping for the named physical index.
	PutMapping(ctx context.Context, name string, props []mapping.Property) error
	// BulkUpsert writes documents keyed by their derived ids. Re-running the
	// same batch converges to the same engine state.
	BulkUpsert(ctx context.Context, docs []Document) error
	// Get retrieves one document by id. Returns domain.ErrNotFound when the
	// document or index is absent.
	Get(ctx context.Context, index, id string) (Document, error)
	// Search runs an engine-native query against a physical index.
	Search(ctx context.Context, index string, query []byte, limit int) ([]Document, error)
}
