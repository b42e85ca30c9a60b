// Package redis implements search.Engine on RediSearch (Redis 8+) via
// rueidis: physical indexes are FT indexes over JSON documents keyed by
// doc:<index>:<id>.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/rueidis"

	"github.com/docdex/docdex/internal/domain"
	"github.com/docdex/docdex/internal/domain/mapping"
	"github.com/docdex/docdex/internal/search"
)

// Config holds connection parameters.
type Config struct {
	Addrs    []string
	Username string
	Password string
	DB       int
}

// Engine implements search.Engine via rueidis.
type Engine struct {
	client rueidis.Client
}

var _ search.Engine = (*Engine)(nil)

// New creates a RediSearch engine.
func New(cfg Config) (*Engine, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
		AlwaysRESP2:  true, // FT.SEARCH result parsing expects RESP2 array format
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return &Engine{client: client}, nil
}

// NewFromClient wraps an existing rueidis client (shared with the stream
// dispatcher).
func NewFromClient(client rueidis.Client) *Engine {
	return &Engine{client: client}
}

// Close shuts down the client.
func (e *Engine) Close() { e.client.Close() }

// WaitForReady polls PING until the server responds or the timeout expires.
func (e *Engine) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for redis: %w", ctx.Err())
		case <-ticker.C:
			cmd := e.client.B().Ping().Build()
			if err := e.client.Do(ctx, cmd).Error(); err == nil {
				return nil
			}
		}
	}
}

func docKey(index, id string) string {
	return "doc:" + index + ":" + id
}

// envelope is the stored JSON shape: the coerced document plus the log row
// it came from.
type envelope struct {
	LogID int64           `json:"log_id"`
	Doc   json.RawMessage `json:"doc"`
}

// CreateIndex discards any stale FT index and documents under the physical
// name. The FT index itself is created by PutMapping, which knows the
// schema.
func (e *Engine) CreateIndex(ctx context.Context, name string) error {
	return e.DeleteIndex(ctx, name)
}

// PutMapping creates the FT index over the document key prefix with one
// schema field per active property: numbers become NUMERIC, everything
// else a TAG (text and dates are exact-match keywords, bools index their
// literal form).
func (e *Engine) PutMapping(ctx context.Context, name string, props []mapping.Property) error {
	args := []string{name, "ON", "JSON", "PREFIX", "1", docKey(name, "")}
	args = append(args, "SCHEMA")
	for _, p := range props {
		args = append(args, "$.doc."+p.Name(), "AS", p.Name())
		if p.PropType() == mapping.TypeNumber {
			args = append(args, "NUMERIC")
		} else {
			args = append(args, "TAG")
		}
	}

	cmd := e.client.B().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := e.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("FT.CREATE %s: %w", name, err)
	}
	return nil
}

// DeleteIndex drops the FT index with its documents and sweeps any keys
// left under the prefix (an index being recreated has documents but no FT
// index yet).
func (e *Engine) DeleteIndex(ctx context.Context, name string) error {
	cmd := e.client.B().Arbitrary("FT.DROPINDEX").Args(name, "DD").Build()
	if err := e.client.Do(ctx, cmd).Error(); err != nil && !isRedisErr(err, "unknown index") {
		return fmt.Errorf("FT.DROPINDEX %s: %w", name, err)
	}
	return e.deleteKeys(ctx, docKey(name, "")+"*")
}

func (e *Engine) deleteKeys(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		cmd := e.client.B().Scan().Cursor(cursor).Match(pattern).Count(256).Build()
		entry, err := e.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return fmt.Errorf("SCAN %s: %w", pattern, err)
		}
		if len(entry.Elements) > 0 {
			del := e.client.B().Del().Key(entry.Elements...).Build()
			if err := e.client.Do(ctx, del).Error(); err != nil {
				return fmt.Errorf("DEL: %w", err)
			}
		}
		cursor = entry.Cursor
		if cursor == 0 {
			return nil
		}
	}
}

// BulkUpsert writes documents as pipelined JSON.SET commands. JSON.SET on
// an existing key replaces it, so replaying a page is idempotent.
func (e *Engine) BulkUpsert(ctx context.Context, docs []search.Document) error {
	if len(docs) == 0 {
		return nil
	}
	cmds := make(rueidis.Commands, 0, len(docs))
	for _, doc := range docs {
		data, err := json.Marshal(envelope{LogID: doc.SourceLogID, Doc: doc.Source})
		if err != nil {
			return fmt.Errorf("marshal document %s: %w", doc.ID, err)
		}
		cmds = append(cmds,
			e.client.B().Arbitrary("JSON.SET").Keys(docKey(doc.Index, doc.ID)).Args("$", string(data)).Build())
	}
	for _, res := range e.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("JSON.SET: %w", err)
		}
	}
	return nil
}

// Get retrieves one document by id.
func (e *Engine) Get(ctx context.Context, index, id string) (search.Document, error) {
	cmd := e.client.B().Arbitrary("JSON.GET").Keys(docKey(index, id)).Build()
	raw, err := e.client.Do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return search.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
		}
		return search.Document{}, fmt.Errorf("JSON.GET: %w", err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return search.Document{}, fmt.Errorf("unmarshal document %s: %w", id, err)
	}
	return search.Document{Index: index, ID: id, Source: env.Doc, SourceLogID: env.LogID}, nil
}

// Search runs an FT.SEARCH query (engine-native query string) against a
// physical index.
func (e *Engine) Search(ctx context.Context, index string, query []byte, limit int) ([]search.Document, error) {
	cmd := e.client.B().Arbitrary("FT.SEARCH").
		Args(index, string(query), "LIMIT", "0", strconv.Itoa(limit), "DIALECT", "2").Build()
	raw, err := e.client.Do(ctx, cmd).ToArray()
	if err != nil {
		if isRedisErr(err, "unknown index") {
			return nil, fmt.Errorf("index %s: %w", index, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("FT.SEARCH: %w", err)
	}
	return parseSearchResult(index, raw)
}

// parseSearchResult decodes the RESP2 array [total, key1, fields1, ...]
// where each fields entry holds the JSON document under "$".
func parseSearchResult(index string, raw []rueidis.RedisMessage) ([]search.Document, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	docs := make([]search.Document, 0, total)
	keyPrefix := "doc:" + index + ":"
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		fields, err := raw[i+1].AsStrMap()
		if err != nil {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(fields["$"]), &env); err != nil {
			return nil, fmt.Errorf("unmarshal hit %s: %w", key, err)
		}
		docs = append(docs, search.Document{
			Index:       index,
			ID:          strings.TrimPrefix(key, keyPrefix),
			Source:      env.Doc,
			SourceLogID: env.LogID,
		})
	}
	return docs, nil
}

// isRedisErr checks if err is a Redis server error containing substr.
func isRedisErr(err error, substr string) bool {
	re, ok := rueidis.IsRedisErr(err)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(re.Error()), strings.ToLower(substr))
}
