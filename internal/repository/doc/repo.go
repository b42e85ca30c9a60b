// Package doc persists the append-only document log. Rows are insert-only:
// corrections are new rows carrying the merged content, and the
// auto-incrementing id doubles as the synchronization cursor.
package doc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/docdex/docdex/internal/domain"
)

// Row is one log record.
type Row struct {
	ID           int64
	Source       []byte
	BatchID      string
	CollectionID int64
	// ModifiedByIndex is set when the row originated from a specific index's
	// document-update path; nil for ordinary ingestion.
	ModifiedByIndex *int64
}

// Repo implements the log storage contract over SQLite.
type Repo struct {
	db *sql.DB
}

// New creates a document log repository.
func New(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// Append inserts log rows. The log never updates in place.
func (r *Repo) Append(ctx context.Context, rows []Row) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, row := range rows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO docs (source, batch_id, collection_id, modified_by_index) VALUES (?, ?, ?, ?)`,
			string(row.Source), row.BatchID, row.CollectionID, row.ModifiedByIndex,
		); err != nil {
			return fmt.Errorf("insert doc: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// AppendOne inserts a single log row and returns its id.
func (r *Repo) AppendOne(ctx context.Context, row Row) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO docs (source, batch_id, collection_id, modified_by_index) VALUES (?, ?, ?, ?)`,
		string(row.Source), row.BatchID, row.CollectionID, row.ModifiedByIndex,
	)
	if err != nil {
		return 0, fmt.Errorf("insert doc: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// Get retrieves one log row by id.
func (r *Repo) Get(ctx context.Context, id int64) (Row, error) {
	var (
		row      Row
		source   string
		modified sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, source, batch_id, collection_id, modified_by_index FROM docs WHERE id = ?`, id).
		Scan(&row.ID, &source, &row.BatchID, &row.CollectionID, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, fmt.Errorf("doc %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return Row{}, fmt.Errorf("get doc: %w", err)
	}
	row.Source = []byte(source)
	if modified.Valid {
		v := modified.Int64
		row.ModifiedByIndex = &v
	}
	return row, nil
}

// PageAfter returns the next page of log rows for an index's
// synchronization run: rows with id > after, belonging to the collection,
// and either never claimed by an index's update path or claimed by this
// one. Ascending id order; at most limit rows.
func (r *Repo) PageAfter(ctx context.Context, collectionID, indexID, after int64, limit int) ([]Row, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, source, batch_id, collection_id, modified_by_index FROM docs
		 WHERE id > ? AND collection_id = ?
		   AND (modified_by_index = ? OR modified_by_index IS NULL)
		 ORDER BY id ASC LIMIT ?`,
		after, collectionID, indexID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("page docs: %w", err)
	}
	defer rows.Close()

	var page []Row
	for rows.Next() {
		var (
			row      Row
			source   string
			modified sql.NullInt64
		)
		if err := rows.Scan(&row.ID, &source, &row.BatchID, &row.CollectionID, &modified); err != nil {
			return nil, fmt.Errorf("scan doc: %w", err)
		}
		row.Source = []byte(source)
		if modified.Valid {
			v := modified.Int64
			row.ModifiedByIndex = &v
		}
		page = append(page, row)
	}
	return page, rows.Err()
}

// DeleteByIndex removes the log rows produced by an index's update path.
// Called on index deletion when retain-data is off.
func (r *Repo) DeleteByIndex(ctx context.Context, indexID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM docs WHERE modified_by_index = ?`, indexID); err != nil {
		return fmt.Errorf("delete docs by index: %w", err)
	}
	return nil
}

// DeleteByCollection removes all log rows of a collection.
func (r *Repo) DeleteByCollection(ctx context.Context, collectionID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM docs WHERE collection_id = ?`, collectionID); err != nil {
		return fmt.Errorf("delete docs by collection: %w", err)
	}
	return nil
}
