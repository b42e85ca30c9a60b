// Package collection persists collection records, the owners of log
// documents and indices.
package collection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/docdex/docdex/internal/domain"
)

// Record is a stored collection.
type Record struct {
	ID          int64
	Name        string
	Description string
}

// Repo implements the collection storage contract over SQLite.
type Repo struct {
	db *sql.DB
}

// New creates a collection repository.
func New(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// Create inserts a collection.
func (r *Repo) Create(ctx context.Context, name, description string) (Record, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO collections (name, descr) VALUES (?, ?)`, name, description)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return Record{}, fmt.Errorf("collection %s: %w", name, domain.ErrConflict)
		}
		return Record{}, fmt.Errorf("insert collection: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Record{}, fmt.Errorf("last insert id: %w", err)
	}
	return Record{ID: id, Name: name, Description: description}, nil
}

// GetByName retrieves a collection by name.
func (r *Repo) GetByName(ctx context.Context, name string) (Record, error) {
	var rec Record
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, descr FROM collections WHERE name = ?`, name).
		Scan(&rec.ID, &rec.Name, &rec.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("collection %s: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get collection: %w", err)
	}
	return rec, nil
}

// GetByID retrieves a collection by storage id.
func (r *Repo) GetByID(ctx context.Context, id int64) (Record, error) {
	var rec Record
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, descr FROM collections WHERE id = ?`, id).
		Scan(&rec.ID, &rec.Name, &rec.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("collection %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get collection: %w", err)
	}
	return rec, nil
}

// List returns all collections in creation order.
func (r *Repo) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, descr FROM collections ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Description); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Delete removes a collection row.
func (r *Repo) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM collections WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return nil
}
