package migrations

import (
	"context"
	"fmt"
)

// FileCallback observes each migration file after its operations were folded.
type FileCallback func(file MigrationFile, ops *FileOperations)

// Reconstructor replays an application's migrations to rebuild per-field
// index history.
type Reconstructor struct {
	source OperationSource
	onFile FileCallback
}

// ReconstructorOption customizes a Reconstructor.
type ReconstructorOption func(*Reconstructor)

// WithFileCallback registers a callback invoked after each file is folded.
func WithFileCallback(cb FileCallback) ReconstructorOption {
	return func(r *Reconstructor) {
		r.onFile = cb
	}
}

// NewReconstructor creates a reconstructor reading operations from source.
// A nil source selects a tree-sitter backed Extractor.
func NewReconstructor(source OperationSource, opts ...ReconstructorOption) *Reconstructor {
	if source == nil {
		source = NewExtractor(nil)
	}
	r := &Reconstructor{source: source}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconstruct folds app's migration files in order and returns the final
// registry. An app without files fails with ErrDiscoveryEmpty. The first
// extraction or parse failure aborts the app; no partial registry is returned.
func (r *Reconstructor) Reconstruct(ctx context.Context, app *Application) (ModelRegistry, error) {
	if app == nil || len(app.Files) == 0 {
		name := ""
		if app != nil {
			name = app.Name
		}
		return nil, fmt.Errorf("%w: %q", ErrDiscoveryEmpty, name)
	}

	reg := ModelRegistry{}
	for _, file := range app.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ops, err := r.source.Extract(ctx, file.Path)
		if err != nil {
			return nil, fmt.Errorf("app %s: %w", app.Name, err)
		}

		reg = Fold(reg, file.Sequence(), ops.Operations)

		if r.onFile != nil {
			r.onFile(file, ops)
		}
	}

	return reg, nil
}
