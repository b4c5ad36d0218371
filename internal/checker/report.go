package checker

import (
	"encoding/json"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/dominikbraun/graph"
	"github.com/mvp-joe/dbindex-check/internal/migrations"
)

// AppResult is the outcome of reconstructing one app.
type AppResult struct {
	Name      string
	Files     []migrations.MigrationFile
	Registry  migrations.ModelRegistry
	DependsOn []string
	// NoMigrations is set when the app's migrations directory holds no
	// migration files. Such an app is not a failure.
	NoMigrations bool
	Err          error
}

// MarshalJSON renders Err as a string.
func (r *AppResult) MarshalJSON() ([]byte, error) {
	var errMsg string
	if r.Err != nil {
		errMsg = r.Err.Error()
	}
	return json.Marshal(struct {
		Name         string                     `json:"name"`
		Files        []migrations.MigrationFile `json:"migration_files"`
		Registry     migrations.ModelRegistry   `json:"models,omitempty"`
		DependsOn    []string                   `json:"depends_on,omitempty"`
		NoMigrations bool                       `json:"no_migrations,omitempty"`
		Error        string                     `json:"error,omitempty"`
	}{r.Name, r.Files, r.Registry, r.DependsOn, r.NoMigrations, errMsg})
}

// Report is the result of a Checker run.
type Report struct {
	Root string                `json:"root"`
	Apps map[string]*AppResult `json:"apps"`
	// Order lists app names so that apps come after the apps their
	// migrations depend on. Ties are broken alphabetically.
	Order    []string      `json:"order"`
	Duration time.Duration `json:"-"`
}

// Results returns app results in Order.
func (r *Report) Results() []*AppResult {
	out := make([]*AppResult, 0, len(r.Order))
	for _, name := range r.Order {
		if res, ok := r.Apps[name]; ok {
			out = append(out, res)
		}
	}
	return out
}

// Failed returns the results that carry an error, in Order.
func (r *Report) Failed() []*AppResult {
	var out []*AppResult
	for _, res := range r.Results() {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// IndexedField is a field that currently carries db_index=True.
type IndexedField struct {
	App     string `json:"app"`
	Model   string `json:"model"`
	Field   string `json:"field"`
	AddedIn string `json:"added_in"`
}

// Key identifies the field independently of when its index was added.
func (f IndexedField) Key() string {
	return f.App + "." + f.Model + "." + f.Field
}

// Indexed flattens every successful app's registry to its indexed fields,
// sorted by app, model and field.
func (r *Report) Indexed() []IndexedField {
	var out []IndexedField
	for _, res := range r.Apps {
		if res.Err != nil {
			continue
		}
		for model, fields := range res.Registry {
			for field, state := range fields {
				if !state.IsIndex {
					continue
				}
				out = append(out, IndexedField{App: res.Name, Model: model, Field: field, AddedIn: state.IndexAdded})
			}
		}
	}
	SortIndexed(out)
	return out
}

// SortIndexed sorts fields by app, model and field name.
func SortIndexed(fields []IndexedField) {
	sort.Slice(fields, func(i, j int) bool {
		a, b := fields[i], fields[j]
		if a.App != b.App {
			return a.App < b.App
		}
		if a.Model != b.Model {
			return a.Model < b.Model
		}
		return a.Field < b.Field
	})
}

// Diff returns the fields indexed in cur that were not indexed in prev, or
// whose index was introduced by a different migration since prev.
func Diff(prev, cur []IndexedField) []IndexedField {
	before := make(map[string]IndexedField, len(prev))
	for _, f := range prev {
		before[f.Key()] = f
	}

	var added []IndexedField
	for _, f := range cur {
		old, ok := before[f.Key()]
		if ok && old.AddedIn == f.AddedIn {
			continue
		}
		added = append(added, f)
	}
	SortIndexed(added)
	return added
}

// dependencyOrder topologically sorts apps by their cross-app migration
// dependencies. Edges that would close a cycle and dependencies on apps
// outside the report are dropped.
func dependencyOrder(apps map[string]*AppResult) []string {
	names := make([]string, 0, len(apps))
	for name := range apps {
		names = append(names, name)
	}
	sort.Strings(names)

	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	for _, name := range names {
		_ = g.AddVertex(name)
	}

	for _, name := range names {
		for _, dep := range apps[name].DependsOn {
			if _, ok := apps[dep]; !ok {
				continue
			}
			err := g.AddEdge(dep, name)
			if err == nil || errors.Is(err, graph.ErrEdgeAlreadyExists) {
				continue
			}
			if errors.Is(err, graph.ErrEdgeCreatesCycle) {
				log.Printf("Warning: ignoring circular dependency %s -> %s", dep, name)
				continue
			}
			log.Printf("Warning: failed to record dependency %s -> %s: %v", dep, name, err)
		}
	}

	order, err := graph.StableTopologicalSort(g, func(a, b string) bool { return a < b })
	if err != nil {
		log.Printf("Warning: falling back to alphabetical app order: %v", err)
		return names
	}
	return order
}
