package migrations

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
)

const (
	// MigrationsDirName is the directory name Django uses for migration modules.
	MigrationsDirName = "migrations"

	// sequenceWidth is the width of the zero-padded numeric file name prefix.
	sequenceWidth = 4
)

// MigrationFile is a single discovered migration module.
type MigrationFile struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Sequence returns the migration's four-character sequence prefix, e.g. "0002".
func (f MigrationFile) Sequence() string {
	if len(f.Name) < sequenceWidth {
		return f.Name
	}
	return f.Name[:sequenceWidth]
}

// Application groups the migration files of one Django app, sorted by name.
type Application struct {
	Name  string          `json:"name"`
	Dir   string          `json:"dir"`
	Files []MigrationFile `json:"migration_files"`
}

// hasFile reports whether a file with the given name was already collected.
func (a *Application) hasFile(name string) bool {
	for _, f := range a.Files {
		if f.Name == name {
			return true
		}
	}
	return false
}

// compiledPattern holds a compiled ignore glob. rootGlob is set for "**/"
// patterns so they also match paths directly under the root.
type compiledPattern struct {
	pattern  string
	glob     glob.Glob
	rootGlob glob.Glob
}

type discoverOptions struct {
	dirName string
	ignore  []string
}

// DiscoverOption customizes Discover.
type DiscoverOption func(*discoverOptions)

// WithMigrationsDirName overrides the migrations directory name.
func WithMigrationsDirName(name string) DiscoverOption {
	return func(o *discoverOptions) {
		if name != "" {
			o.dirName = name
		}
	}
}

// WithIgnore skips directories whose root-relative path matches any of the
// glob patterns (e.g. ".venv/**", "**/node_modules/**").
func WithIgnore(patterns ...string) DiscoverOption {
	return func(o *discoverOptions) {
		o.ignore = append(o.ignore, patterns...)
	}
}

// Discover walks root and returns every app that owns a migrations directory,
// keyed by app name. The app name is the migrations directory's parent,
// which also holds when root is itself a migrations directory.
//
// A file qualifies when its first four characters parse as an integer.
// Duplicate file names within an app keep the first occurrence. Every
// migrations directory produces an entry, even when it holds no migrations.
func Discover(root string, opts ...DiscoverOption) (map[string]*Application, error) {
	o := discoverOptions{dirName: MigrationsDirName}
	for _, opt := range opts {
		opt(&o)
	}

	ignore := make([]compiledPattern, 0, len(o.ignore))
	for _, pattern := range o.ignore {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, err
		}
		cp := compiledPattern{pattern: pattern, glob: g}
		if strings.HasPrefix(pattern, "**/") {
			if cp.rootGlob, err = glob.Compile(strings.TrimPrefix(pattern, "**/"), '/'); err != nil {
				return nil, err
			}
		}
		ignore = append(ignore, cp)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	apps := make(map[string]*Application)

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// If it's the root path, fail immediately
			if path == root {
				return err
			}
			log.Printf("Warning: error accessing %s: %v", path, err)
			return nil
		}

		if !d.IsDir() {
			return nil
		}

		// The root itself may be a migrations directory; its app is the parent.
		dirName, appName := filepath.Base(absRoot), filepath.Base(filepath.Dir(absRoot))
		if path != root {
			relPath, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if shouldIgnore(filepath.ToSlash(relPath), ignore) {
				return filepath.SkipDir
			}
			dirName, appName = d.Name(), filepath.Base(filepath.Dir(path))
		}

		if dirName != o.dirName {
			return nil
		}

		app, ok := apps[appName]
		if !ok {
			app = &Application{Name: appName, Dir: path, Files: []MigrationFile{}}
			apps[appName] = app
		}

		return collectMigrationFiles(app, path)
	})
	if err != nil {
		return nil, err
	}

	for _, app := range apps {
		sort.Slice(app.Files, func(i, j int) bool {
			return app.Files[i].Name < app.Files[j].Name
		})
	}

	return apps, nil
}

// collectMigrationFiles appends the qualifying files directly inside dir.
func collectMigrationFiles(app *Application, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !isMigrationFileName(entry.Name()) {
			continue
		}
		if app.hasFile(entry.Name()) {
			continue
		}
		app.Files = append(app.Files, MigrationFile{
			Name: entry.Name(),
			Path: filepath.Join(dir, entry.Name()),
		})
	}
	return nil
}

// isMigrationFileName reports whether name starts with a four digit integer.
func isMigrationFileName(name string) bool {
	if len(name) < sequenceWidth {
		return false
	}
	_, err := strconv.Atoi(name[:sequenceWidth])
	return err == nil
}

// shouldIgnore checks if a root-relative directory path matches any ignore pattern.
// "vendor/**" matches the directory "vendor" itself as well as its contents.
func shouldIgnore(relPath string, patterns []compiledPattern) bool {
	candidates := []string{relPath, relPath + "/**"}
	for _, cp := range patterns {
		for _, candidate := range candidates {
			if cp.glob.Match(candidate) {
				return true
			}
			if cp.rootGlob != nil && cp.rootGlob.Match(candidate) {
				return true
			}
		}
	}
	return false
}

// AppNames returns the app names of a discovery result in sorted order.
func AppNames(apps map[string]*Application) []string {
	names := make([]string, 0, len(apps))
	for name := range apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
