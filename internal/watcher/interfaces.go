// Package watcher reports debounced changes to migration files under a
// project root.
package watcher

import (
	"context"
	"time"
)

// MigrationWatcher monitors migrations directories with debouncing and pause/resume support.
type MigrationWatcher interface {
	// Start begins watching, calling callback with the debounced, sorted set
	// of changed migration file paths. The callback runs on the watch
	// goroutine; changes seen while it runs are delivered in the next batch.
	Start(ctx context.Context, callback func(files []string)) error

	// Stop stops the watcher and cleans up resources.
	Stop() error

	// Pause stops firing callbacks but continues accumulating events.
	Pause()

	// Resume resumes firing callbacks. If events accumulated during pause, fires immediately.
	Resume()
}

// Options configures a MigrationWatcher.
type Options struct {
	// MigrationsDir is the directory name whose direct children are watched.
	// Defaults to "migrations".
	MigrationsDir string

	// Extensions limits events to these file extensions (e.g. ".py").
	// Empty accepts every file.
	Extensions []string

	// Debounce is the quiet period before the callback fires. Defaults to 500ms.
	Debounce time.Duration

	// SkipDirs lists directory base names that are never registered.
	SkipDirs []string
}

const (
	defaultMigrationsDir = "migrations"
	defaultDebounce      = 500 * time.Millisecond
)
