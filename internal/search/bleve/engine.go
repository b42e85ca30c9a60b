// Package bleve implements search.Engine on an embedded Bleve index per
// physical index name. With a data directory configured, indexes live on
// disk under <dir>/<name>.bleve; without one they are held in memory, which
// is what the tests use.
package bleve

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	bmapping "github.com/blevesearch/bleve/v2/mapping"
	bquery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/docdex/docdex/internal/domain"
	"github.com/docdex/docdex/internal/domain/mapping"
	"github.com/docdex/docdex/internal/search"
)

// IndexSuffix is the suffix for on-disk index directories.
const IndexSuffix = ".bleve"

// logIDField carries the originating log row id inside each engine document.
const logIDField = "_log_id"

// Engine implements search.Engine.
type Engine struct {
	dir string

	mu   sync.Mutex
	open map[string]bleve.Index
}

var _ search.Engine = (*Engine)(nil)

// New creates a Bleve-backed engine. dir is the data directory; empty means
// memory-only indexes.
func New(dir string) *Engine {
	return &Engine{dir: dir, open: make(map[string]bleve.Index)}
}

// Close closes all open index handles.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for name, idx := range e.open {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close index %s: %w", name, err)
		}
		delete(e.open, name)
	}
	return firstErr
}

func (e *Engine) indexPath(name string) string {
	return filepath.Join(e.dir, name+IndexSuffix)
}

// CreateIndex allocates a fresh physical index with a default mapping,
// discarding any stale index of the same name. The typed mapping is applied
// by PutMapping: Bleve mappings are fixed at creation time, so the index is
// rebuilt there while still empty.
func (e *Engine) CreateIndex(ctx context.Context, name string) error {
	if err := e.DeleteIndex(ctx, name); err != nil {
		return err
	}
	_, err := e.create(name, bleve.NewIndexMapping())
	return err
}

// PutMapping replaces the named index with one built from the schema's
// active properties. By lifecycle contract the index is fresh when the
// mapping is materialized, so no documents are lost.
func (e *Engine) PutMapping(ctx context.Context, name string, props []mapping.Property) error {
	if err := e.DeleteIndex(ctx, name); err != nil {
		return err
	}
	_, err := e.create(name, buildIndexMapping(props))
	return err
}

func (e *Engine) create(name string, im bmapping.IndexMapping) (bleve.Index, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		idx bleve.Index
		err error
	)
	if e.dir == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		idx, err = bleve.New(e.indexPath(name), im)
	}
	if err != nil {
		return nil, fmt.Errorf("create index %s: %w", name, err)
	}
	e.open[name] = idx
	return idx, nil
}

// DeleteIndex closes and removes a physical index. Absent indexes are
// ignored.
func (e *Engine) DeleteIndex(_ context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if idx, ok := e.open[name]; ok {
		if err := idx.Close(); err != nil {
			return fmt.Errorf("close index %s: %w", name, err)
		}
		delete(e.open, name)
	}
	if e.dir != "" {
		if err := os.RemoveAll(e.indexPath(name)); err != nil {
			return fmt.Errorf("remove index %s: %w", name, err)
		}
	}
	return nil
}

func (e *Engine) get(name string) (bleve.Index, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if idx, ok := e.open[name]; ok {
		return idx, nil
	}
	if e.dir == "" {
		return nil, fmt.Errorf("index %s: %w", name, domain.ErrNotFound)
	}
	idx, err := bleve.Open(e.indexPath(name))
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", name, domain.ErrNotFound)
	}
	e.open[name] = idx
	return idx, nil
}

// BulkUpsert indexes documents in one batch, keyed by their derived ids.
// Indexing an existing id replaces the previous document, so replaying a
// page converges to the same state.
func (e *Engine) BulkUpsert(_ context.Context, docs []search.Document) error {
	if len(docs) == 0 {
		return nil
	}
	// All documents in one batch target the same physical index.
	idx, err := e.get(docs[0].Index)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, doc := range docs {
		fields, err := docFields(doc)
		if err != nil {
			return fmt.Errorf("document %s: %w", doc.ID, err)
		}
		if err := batch.Index(doc.ID, fields); err != nil {
			return fmt.Errorf("batch document %s: %w", doc.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("index batch: %w", err)
	}
	return nil
}

// Get retrieves one document by id.
func (e *Engine) Get(ctx context.Context, index, id string) (search.Document, error) {
	idx, err := e.get(index)
	if err != nil {
		return search.Document{}, err
	}

	req := bleve.NewSearchRequest(bquery.NewDocIDQuery([]string{id}))
	req.Fields = []string{"*"}
	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return search.Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	if len(res.Hits) == 0 {
		return search.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return hitToDocument(index, res.Hits[0].ID, res.Hits[0].Fields)
}

// Search runs a Bleve query (engine-native JSON) against a physical index.
func (e *Engine) Search(ctx context.Context, index string, query []byte, limit int) ([]search.Document, error) {
	idx, err := e.get(index)
	if err != nil {
		return nil, err
	}

	q, err := bquery.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"*"}
	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	docs := make([]search.Document, 0, len(res.Hits))
	for _, hit := range res.Hits {
		doc, err := hitToDocument(index, hit.ID, hit.Fields)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// buildIndexMapping maps schema property types onto Bleve field mappings:
// text and date become stored keyword fields, number becomes numeric, bool
// becomes boolean. The log-id carrier field is stored but not indexed.
func buildIndexMapping(props []mapping.Property) bmapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()
	for _, p := range props {
		switch p.PropType() {
		case mapping.TypeNumber:
			fm := bleve.NewNumericFieldMapping()
			fm.Store = true
			docMapping.AddFieldMappingsAt(p.Name(), fm)
		case mapping.TypeBool:
			fm := bleve.NewBooleanFieldMapping()
			fm.Store = true
			docMapping.AddFieldMappingsAt(p.Name(), fm)
		default:
			fm := bleve.NewTextFieldMapping()
			fm.Analyzer = keyword.Name
			fm.Store = true
			docMapping.AddFieldMappingsAt(p.Name(), fm)
		}
	}

	logIDMapping := bleve.NewNumericFieldMapping()
	logIDMapping.Store = true
	logIDMapping.Index = false
	docMapping.AddFieldMappingsAt(logIDField, logIDMapping)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = docMapping
	im.DefaultAnalyzer = keyword.Name
	return im
}

func docFields(doc search.Document) (map[string]any, error) {
	fields := make(map[string]any)
	if err := json.Unmarshal(doc.Source, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal source: %w", err)
	}
	fields[logIDField] = doc.SourceLogID
	return fields, nil
}

func hitToDocument(index, id string, fields map[string]any) (search.Document, error) {
	var sourceLogID int64
	source := make(map[string]any, len(fields))
	for name, val := range fields {
		if name == logIDField {
			if f, ok := val.(float64); ok {
				sourceLogID = int64(f)
			}
			continue
		}
		source[name] = val
	}
	raw, err := json.Marshal(source)
	if err != nil {
		return search.Document{}, fmt.Errorf("marshal source: %w", err)
	}
	return search.Document{Index: index, ID: id, Source: raw, SourceLogID: sourceLogID}, nil
}
