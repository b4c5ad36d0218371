package store

import (
	"database/sql"
	"fmt"
)

const schemaVersion = "1"

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	root         TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	app_count    INTEGER NOT NULL,
	failed_apps  INTEGER NOT NULL
)`

const createFieldIndexesTable = `
CREATE TABLE IF NOT EXISTS field_indexes (
	run_id       TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	app          TEXT NOT NULL,
	model        TEXT NOT NULL,
	field        TEXT NOT NULL,
	index_added  TEXT NOT NULL,
	PRIMARY KEY (run_id, app, model, field)
)`

const createMetadataTable = `
CREATE TABLE IF NOT EXISTS store_metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_runs_root_created ON runs(root, created_at)`,
}

// createSchema creates all tables and indexes in a single transaction.
// Must be called with SQLite PRAGMA foreign_keys = ON.
func createSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback() // Safe to call even after commit

	tables := []struct {
		name string
		ddl  string
	}{
		{"runs", createRunsTable},
		{"field_indexes", createFieldIndexesTable},
		{"store_metadata", createMetadataTable},
	}

	for _, table := range tables {
		if _, err := tx.Exec(table.ddl); err != nil {
			return fmt.Errorf("failed to create %s table: %w", table.name, err)
		}
	}

	for i, idx := range indexes {
		if _, err := tx.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index %d: %w", i+1, err)
		}
	}

	if _, err := tx.Exec(
		`INSERT OR IGNORE INTO store_metadata (key, value) VALUES ('schema_version', ?)`,
		schemaVersion,
	); err != nil {
		return fmt.Errorf("failed to bootstrap store_metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema transaction: %w", err)
	}
	return nil
}

// getSchemaVersion retrieves the schema version from store_metadata.
func getSchemaVersion(db *sql.DB) (string, error) {
	var version string
	err := db.QueryRow(`SELECT value FROM store_metadata WHERE key = 'schema_version'`).Scan(&version)
	if err != nil {
		return "", fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
