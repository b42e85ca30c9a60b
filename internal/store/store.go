// Package store opens the relational store backing the document log and all
// engine metadata. SQLite via the pure-Go modernc driver: no cgo, single
// writer.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver to use.
const DriverName = "sqlite"

// Open opens the database and applies migrations.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL for concurrent readers; SQLite still wants a single writer.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return db, nil
}

// Migrate creates the schema. All statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS collections (
			id     INTEGER PRIMARY KEY AUTOINCREMENT,
			name   TEXT NOT NULL UNIQUE,
			descr  TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS indices (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			name           TEXT NOT NULL UNIQUE,
			descr          TEXT NOT NULL DEFAULT '',
			physical_name  TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL,
			collection_id  INTEGER NOT NULL REFERENCES collections(id),
			auto_append    INTEGER NOT NULL DEFAULT 0,
			generation     INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS index_properties (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			index_id    INTEGER NOT NULL REFERENCES indices(id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			type        TEXT NOT NULL,
			required    INTEGER NOT NULL DEFAULT 0,
			id_part     INTEGER NOT NULL DEFAULT 0,
			alias       TEXT NOT NULL DEFAULT '',
			restriction TEXT NOT NULL DEFAULT '',
			state       TEXT NOT NULL DEFAULT 'active',
			UNIQUE(index_id, name)
		)`,
		// Append-only document log. Rows are never updated or deleted in
		// place; corrections arrive as new rows carrying the merged content.
		`CREATE TABLE IF NOT EXISTS docs (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			source             TEXT NOT NULL,
			batch_id           TEXT NOT NULL DEFAULT '',
			collection_id      INTEGER NOT NULL REFERENCES collections(id),
			modified_by_index  INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_docs_collection ON docs(collection_id)`,
		`CREATE TABLE IF NOT EXISTS index_doc_records (
			index_id       INTEGER PRIMARY KEY REFERENCES indices(id) ON DELETE CASCADE,
			latest_doc_id  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			job_type    TEXT NOT NULL,
			payload     TEXT NOT NULL DEFAULT '{}',
			status      TEXT NOT NULL,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS job_logs (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id      INTEGER NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			level       TEXT NOT NULL,
			message     TEXT NOT NULL,
			created_at  INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
