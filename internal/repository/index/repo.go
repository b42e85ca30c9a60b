// Package index persists Index aggregates, their schema properties and
// their synchronization cursors.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/docdex/docdex/internal/domain"
	domidx "github.com/docdex/docdex/internal/domain/index"
	"github.com/docdex/docdex/internal/domain/mapping"
)

// Repo implements the index storage contract over SQLite.
type Repo struct {
	db *sql.DB
}

// New creates an index repository.
func New(db *sql.DB) *Repo {
	return &Repo{db: db}
}

const indexColumns = "id, name, descr, physical_name, status, collection_id, auto_append, generation"

// Create inserts an index with its properties in one transaction.
func (r *Repo) Create(ctx context.Context, idx domidx.Index, props []mapping.Property) (domidx.Index, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domidx.Index{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO indices (name, descr, physical_name, status, collection_id, auto_append, generation)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		idx.Name(), idx.Description(), idx.PhysicalName(), string(idx.Status()),
		idx.CollectionID(), boolToInt(idx.AutoAppend()), idx.Generation(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domidx.Index{}, fmt.Errorf("index %s: %w", idx.Name(), domain.ErrConflict)
		}
		return domidx.Index{}, fmt.Errorf("insert index: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domidx.Index{}, fmt.Errorf("last insert id: %w", err)
	}

	if err := insertProperties(ctx, tx, id, props); err != nil {
		return domidx.Index{}, err
	}
	if err := tx.Commit(); err != nil {
		return domidx.Index{}, fmt.Errorf("commit: %w", err)
	}
	return idx.WithID(id), nil
}

// GetByName retrieves an index by its logical name.
func (r *Repo) GetByName(ctx context.Context, name string) (domidx.Index, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+indexColumns+` FROM indices WHERE name = ?`, name)
	return scanIndex(row)
}

// GetByID retrieves an index by storage id.
func (r *Repo) GetByID(ctx context.Context, id int64) (domidx.Index, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+indexColumns+` FROM indices WHERE id = ?`, id)
	return scanIndex(row)
}

// ListByCollection returns all indices of a collection, creation order.
func (r *Repo) ListByCollection(ctx context.Context, collectionID int64) ([]domidx.Index, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+indexColumns+` FROM indices WHERE collection_id = ? ORDER BY id`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list indices: %w", err)
	}
	defer rows.Close()

	var indices []domidx.Index
	for rows.Next() {
		idx, err := scanIndex(rows)
		if err != nil {
			return nil, err
		}
		indices = append(indices, idx)
	}
	return indices, rows.Err()
}

// Update persists the mutable attributes of an index.
func (r *Repo) Update(ctx context.Context, idx domidx.Index) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE indices SET descr = ?, physical_name = ?, status = ?, auto_append = ?, generation = ?
		 WHERE id = ?`,
		idx.Description(), idx.PhysicalName(), string(idx.Status()),
		boolToInt(idx.AutoAppend()), idx.Generation(), idx.ID(),
	)
	if err != nil {
		return fmt.Errorf("update index: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("index %d: %w", idx.ID(), domain.ErrNotFound)
	}
	return nil
}

// Delete removes the index row; properties and the cursor record cascade.
func (r *Repo) Delete(ctx context.Context, indexID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM indices WHERE id = ?`, indexID); err != nil {
		return fmt.Errorf("delete index: %w", err)
	}
	return nil
}

// Properties returns the schema properties in declaration order, retired
// included.
func (r *Repo) Properties(ctx context.Context, indexID int64) ([]mapping.Property, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, type, required, id_part, alias, restriction, state
		 FROM index_properties WHERE index_id = ? ORDER BY id`, indexID)
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	defer rows.Close()

	var props []mapping.Property
	for rows.Next() {
		var (
			name, ptype, alias, restriction, state string
			required, idPart                       int
		)
		if err := rows.Scan(&name, &ptype, &required, &idPart, &alias, &restriction, &state); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		props = append(props, mapping.ReconstructProperty(
			name, mapping.Type(ptype), required != 0, idPart != 0,
			alias, []byte(restriction), mapping.State(state),
		))
	}
	return props, rows.Err()
}

// ReplaceProperties deletes all property rows and inserts the given set.
// Used on the recreate path, where in-place patching is pointless.
func (r *Repo) ReplaceProperties(ctx context.Context, indexID int64, props []mapping.Property) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM index_properties WHERE index_id = ?`, indexID); err != nil {
		return fmt.Errorf("delete properties: %w", err)
	}
	if err := insertProperties(ctx, tx, indexID, props); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ApplyPlan applies an in-place schema update transactionally: inserts,
// updates and retirements, as computed by mapping.PlanUpdate.
func (r *Repo) ApplyPlan(ctx context.Context, indexID int64, plan mapping.Plan) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertProperties(ctx, tx, indexID, plan.Insert); err != nil {
		return err
	}
	for _, p := range append(plan.Update, plan.Retire...) {
		if _, err := tx.ExecContext(ctx,
			`UPDATE index_properties
			 SET type = ?, required = ?, id_part = ?, alias = ?, restriction = ?, state = ?
			 WHERE index_id = ? AND name = ?`,
			string(p.PropType()), boolToInt(p.Required()), boolToInt(p.IDPart()),
			p.Alias(), string(p.Restrict()), string(p.PropState()),
			indexID, p.Name(),
		); err != nil {
			return fmt.Errorf("update property %s: %w", p.Name(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Cursor returns the highest log id already projected for an index. The
// second return is false when no cursor record exists yet (first run).
func (r *Repo) Cursor(ctx context.Context, indexID int64) (int64, bool, error) {
	var latest int64
	err := r.db.QueryRowContext(ctx,
		`SELECT latest_doc_id FROM index_doc_records WHERE index_id = ?`, indexID).Scan(&latest)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get cursor: %w", err)
	}
	return latest, true, nil
}

// SaveCursor upserts the cursor record, advancing it forward only. The row
// is created on the first run and updated in place thereafter.
func (r *Repo) SaveCursor(ctx context.Context, indexID, latest int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO index_doc_records (index_id, latest_doc_id) VALUES (?, ?)
		 ON CONFLICT(index_id) DO UPDATE SET latest_doc_id = excluded.latest_doc_id
		 WHERE excluded.latest_doc_id > index_doc_records.latest_doc_id`,
		indexID, latest,
	)
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertProperties(ctx context.Context, tx execer, indexID int64, props []mapping.Property) error {
	for _, p := range props {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO index_properties (index_id, name, type, required, id_part, alias, restriction, state)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			indexID, p.Name(), string(p.PropType()), boolToInt(p.Required()),
			boolToInt(p.IDPart()), p.Alias(), string(p.Restrict()), string(p.PropState()),
		); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("property %s: %w", p.Name(), domain.ErrConflict)
			}
			return fmt.Errorf("insert property %s: %w", p.Name(), err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIndex(row rowScanner) (domidx.Index, error) {
	var (
		id, collectionID, generation  int64
		name, descr, physical, status string
		autoAppend                    int
	)
	err := row.Scan(&id, &name, &descr, &physical, &status, &collectionID, &autoAppend, &generation)
	if errors.Is(err, sql.ErrNoRows) {
		return domidx.Index{}, fmt.Errorf("index: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domidx.Index{}, fmt.Errorf("scan index: %w", err)
	}
	return domidx.Reconstruct(
		id, name, descr, physical, domidx.Status(status),
		collectionID, autoAppend != 0, generation,
	), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
