// Package store persists check results in SQLite so later runs can report
// indexes introduced since a previous snapshot.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mvp-joe/dbindex-check/internal/checker"
)

// ErrNoRuns indicates no snapshot has been stored for a root yet.
var ErrNoRuns = errors.New("no stored runs")

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Run is one stored snapshot of a check.
type Run struct {
	ID         string
	Root       string
	CreatedAt  time.Time
	AppCount   int
	FailedApps int
	// FieldCount is the number of indexed fields stored with the run.
	FieldCount int
	// Fields is only populated by LatestRun.
	Fields []checker.IndexedField
}

// Store is a SQLite-backed snapshot store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the store at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared and writes serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SchemaVersion returns the stored schema version.
func (s *Store) SchemaVersion() (string, error) {
	return getSchemaVersion(s.db)
}

// SaveRun stores the indexed fields of report as a new run.
func (s *Store) SaveRun(ctx context.Context, report *checker.Report) (*Run, error) {
	fields := report.Indexed()
	run := &Run{
		ID:         uuid.New().String(),
		Root:       report.Root,
		CreatedAt:  s.now().UTC(),
		AppCount:   len(report.Apps),
		FailedApps: len(report.Failed()),
		FieldCount: len(fields),
		Fields:     fields,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin run transaction: %w", err)
	}
	defer tx.Rollback()

	query, args, err := sq.Insert("runs").
		Columns("run_id", "root", "created_at", "app_count", "failed_apps").
		Values(run.ID, run.Root, run.CreatedAt.Format(timeFormat), run.AppCount, run.FailedApps).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build run insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	if len(fields) > 0 {
		// One row per exec keeps large runs under SQLite's bound parameter limit.
		query, _, err := sq.Insert("field_indexes").
			Columns("run_id", "app", "model", "field", "index_added").
			Values("", "", "", "", "").
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("failed to build field insert: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare field insert: %w", err)
		}
		defer stmt.Close()

		for _, f := range fields {
			if _, err := stmt.ExecContext(ctx, run.ID, f.App, f.Model, f.Field, f.AddedIn); err != nil {
				return nil, fmt.Errorf("failed to insert indexed field %s: %w", f.Key(), err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit run: %w", err)
	}
	return run, nil
}

// LatestRun returns the most recent run for root with its fields loaded.
// It returns ErrNoRuns when root has no stored runs.
func (s *Store) LatestRun(ctx context.Context, root string) (*Run, error) {
	runs, err := s.ListRuns(ctx, root, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoRuns, root)
	}

	run := runs[0]
	run.Fields, err = s.runFields(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns up to limit runs for root, newest first. limit <= 0 means all.
func (s *Store) ListRuns(ctx context.Context, root string, limit int) ([]Run, error) {
	builder := sq.Select(
		"r.run_id", "r.root", "r.created_at", "r.app_count", "r.failed_apps",
		"(SELECT COUNT(*) FROM field_indexes f WHERE f.run_id = r.run_id)",
	).
		From("runs r").
		Where(sq.Eq{"r.root": root}).
		OrderBy("r.created_at DESC", "r.rowid DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build run query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var created string
		if err := rows.Scan(&run.ID, &run.Root, &created, &run.AppCount, &run.FailedApps, &run.FieldCount); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.CreatedAt, err = time.Parse(timeFormat, created)
		if err != nil {
			return nil, fmt.Errorf("failed to parse run timestamp %q: %w", created, err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

func (s *Store) runFields(ctx context.Context, runID string) ([]checker.IndexedField, error) {
	query, args, err := sq.Select("app", "model", "field", "index_added").
		From("field_indexes").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("app", "model", "field").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build field query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fields: %w", err)
	}
	defer rows.Close()

	fields := []checker.IndexedField{}
	for rows.Next() {
		var f checker.IndexedField
		if err := rows.Scan(&f.App, &f.Model, &f.Field, &f.AddedIn); err != nil {
			return nil, fmt.Errorf("failed to scan field: %w", err)
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fields: %w", err)
	}
	return fields, nil
}
