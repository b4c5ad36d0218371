// Package checker runs discovery and index reconstruction over every Django
// app under a root directory.
package checker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/mvp-joe/dbindex-check/internal/migrations"
	"golang.org/x/sync/errgroup"
)

// Options configures a Checker.
type Options struct {
	// Workers bounds how many apps are reconstructed concurrently.
	// Zero means runtime.NumCPU().
	Workers int

	// Discover is passed through to migrations.Discover.
	Discover []migrations.DiscoverOption

	// Source extracts operations per file. Nil selects a tree-sitter Extractor.
	Source migrations.OperationSource

	// Progress receives progress callbacks. Nil disables reporting.
	Progress ProgressReporter
}

// Checker composes discovery and reconstruction.
type Checker struct {
	workers  int
	discover []migrations.DiscoverOption
	source   migrations.OperationSource
	progress ProgressReporter
}

// New creates a Checker.
func New(opts Options) *Checker {
	c := &Checker{
		workers:  opts.Workers,
		discover: opts.Discover,
		source:   opts.Source,
		progress: opts.Progress,
	}
	if c.workers <= 0 {
		c.workers = runtime.NumCPU()
	}
	if c.source == nil {
		c.source = migrations.NewExtractor(nil)
	}
	if c.progress == nil {
		c.progress = NoOpProgressReporter{}
	}
	return c
}

// Run discovers every app under root and reconstructs each independently.
// A failing app is recorded on its AppResult and does not affect siblings;
// Run itself only fails when discovery fails or ctx is cancelled. Apps
// without migration files succeed with an empty registry and NoMigrations set.
func (c *Checker) Run(ctx context.Context, root string) (*Report, error) {
	start := time.Now()

	apps, err := migrations.Discover(root, c.discover...)
	if err != nil {
		return nil, fmt.Errorf("failed to discover migrations under %s: %w", root, err)
	}

	totalFiles := 0
	for _, app := range apps {
		totalFiles += len(app.Files)
	}
	c.progress.OnDiscoveryComplete(len(apps), totalFiles)

	report := &Report{
		Root: root,
		Apps: make(map[string]*AppResult, len(apps)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for _, name := range migrations.AppNames(apps) {
		app := apps[name]
		g.Go(func() error {
			result := c.runApp(gctx, app)
			if err := gctx.Err(); err != nil {
				return err
			}

			mu.Lock()
			report.Apps[app.Name] = result
			mu.Unlock()

			c.progress.OnAppComplete(app.Name, result.Err)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report.Order = dependencyOrder(report.Apps)
	report.Duration = time.Since(start)
	c.progress.OnComplete(report)

	return report, nil
}

// runApp reconstructs a single app, collecting the apps its migrations
// depend on along the way.
func (c *Checker) runApp(ctx context.Context, app *migrations.Application) *AppResult {
	result := &AppResult{
		Name:  app.Name,
		Files: app.Files,
	}

	deps := make(map[string]bool)
	r := migrations.NewReconstructor(c.source, migrations.WithFileCallback(
		func(file migrations.MigrationFile, ops *migrations.FileOperations) {
			for _, dep := range ops.Dependencies {
				if dep.App != app.Name {
					deps[dep.App] = true
				}
			}
			c.progress.OnFileProcessed(app.Name, file.Name)
		},
	))

	registry, err := r.Reconstruct(ctx, app)
	switch {
	case errors.Is(err, migrations.ErrDiscoveryEmpty):
		// A fresh startapp layout: migrations/__init__.py and nothing else.
		result.NoMigrations = true
		result.Registry = migrations.ModelRegistry{}
	case err != nil:
		result.Err = err
	default:
		result.Registry = registry
	}

	for dep := range deps {
		result.DependsOn = append(result.DependsOn, dep)
	}
	sort.Strings(result.DependsOn)
	return result
}
