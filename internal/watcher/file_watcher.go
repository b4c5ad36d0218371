package watcher

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// migrationWatcher implements MigrationWatcher on top of fsnotify.
type migrationWatcher struct {
	watcher       *fsnotify.Watcher
	root          string
	migrationsDir string
	extensions    map[string]bool
	skipDirs      map[string]bool
	debounceTime  time.Duration
	callback      func(files []string)
	ctx           context.Context
	cancel        context.CancelFunc
	paused        bool
	pausedMu      sync.RWMutex
	accumulated   map[string]bool
	accumulatedMu sync.Mutex
	debounceTimer *time.Timer
	timerMu       sync.Mutex
	stopOnce      sync.Once
	doneCh        chan struct{}
}

// New creates a watcher for every directory under root. fsnotify is not
// recursive, so each directory is registered individually and directories
// created later are registered as they appear.
func New(root string, opts Options) (MigrationWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	mw := &migrationWatcher{
		watcher:       watcher,
		root:          root,
		migrationsDir: opts.MigrationsDir,
		extensions:    make(map[string]bool, len(opts.Extensions)),
		skipDirs:      make(map[string]bool, len(opts.SkipDirs)),
		debounceTime:  opts.Debounce,
		accumulated:   make(map[string]bool),
		doneCh:        make(chan struct{}),
	}
	if mw.migrationsDir == "" {
		mw.migrationsDir = defaultMigrationsDir
	}
	if mw.debounceTime <= 0 {
		mw.debounceTime = defaultDebounce
	}
	for _, ext := range opts.Extensions {
		mw.extensions[ext] = true
	}
	for _, dir := range opts.SkipDirs {
		mw.skipDirs[dir] = true
	}

	if err := mw.addDirectoriesRecursively(root); err != nil {
		watcher.Close()
		return nil, err
	}

	return mw, nil
}

// Start begins watching for migration changes.
func (mw *migrationWatcher) Start(ctx context.Context, callback func(files []string)) error {
	if callback == nil {
		return nil
	}

	mw.callback = callback
	mw.ctx, mw.cancel = context.WithCancel(ctx)

	go mw.watch()
	return nil
}

// Stop stops the watcher. It is safe to call more than once.
func (mw *migrationWatcher) Stop() error {
	var err error
	mw.stopOnce.Do(func() {
		if mw.cancel != nil {
			mw.cancel()
			<-mw.doneCh
		} else {
			// Never started, close doneCh manually
			close(mw.doneCh)
		}
		err = mw.watcher.Close()
	})
	return err
}

// Pause stops firing callbacks but continues accumulating events.
func (mw *migrationWatcher) Pause() {
	mw.pausedMu.Lock()
	defer mw.pausedMu.Unlock()
	mw.paused = true
}

// Resume resumes firing callbacks, flushing anything accumulated while paused.
func (mw *migrationWatcher) Resume() {
	mw.pausedMu.Lock()
	wasPaused := mw.paused
	mw.paused = false
	mw.pausedMu.Unlock()

	if wasPaused {
		mw.flush()
	}
}

func (mw *migrationWatcher) watch() {
	defer close(mw.doneCh)

	fireCh := make(chan struct{}, 1)

	for {
		select {
		case <-mw.ctx.Done():
			mw.stopDebounceTimer()
			return

		case event, ok := <-mw.watcher.Events:
			if !ok {
				return
			}

			// New app or migrations directories must be registered before
			// their files can produce events.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if mw.skipDirs[info.Name()] {
						continue
					}
					if err := mw.addDirectoriesRecursively(event.Name); err != nil {
						log.Printf("Warning: failed to watch new directory %s: %v", event.Name, err)
					}
					if filepath.Base(event.Name) == mw.migrationsDir {
						mw.accumulateExisting(event.Name)
						mw.resetDebounceTimer(fireCh)
					}
					continue
				}
			}

			if !mw.isMigrationEvent(event) {
				continue
			}

			mw.accumulatedMu.Lock()
			mw.accumulated[event.Name] = true
			mw.accumulatedMu.Unlock()

			mw.resetDebounceTimer(fireCh)

		case <-fireCh:
			mw.pausedMu.RLock()
			paused := mw.paused
			mw.pausedMu.RUnlock()
			if !paused {
				mw.flush()
			}

		case err, ok := <-mw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Warning: migration watcher error: %v", err)
		}
	}
}

// flush hands accumulated paths to the callback in sorted order.
func (mw *migrationWatcher) flush() {
	mw.accumulatedMu.Lock()
	if len(mw.accumulated) == 0 {
		mw.accumulatedMu.Unlock()
		return
	}
	files := make([]string, 0, len(mw.accumulated))
	for file := range mw.accumulated {
		files = append(files, file)
	}
	mw.accumulated = make(map[string]bool)
	mw.accumulatedMu.Unlock()

	sort.Strings(files)
	if mw.callback != nil {
		mw.callback(files)
	}
}

// accumulateExisting records files already present in a migrations
// directory that appeared after startup (e.g. a copied-in app).
func (mw *migrationWatcher) accumulateExisting(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	mw.accumulatedMu.Lock()
	defer mw.accumulatedMu.Unlock()
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if !entry.IsDir() && mw.matchesExtension(path) {
			mw.accumulated[path] = true
		}
	}
}

// resetDebounceTimer restarts the quiet period.
func (mw *migrationWatcher) resetDebounceTimer(fireCh chan struct{}) {
	mw.timerMu.Lock()
	defer mw.timerMu.Unlock()

	if mw.debounceTimer != nil {
		mw.debounceTimer.Stop()
	}

	mw.debounceTimer = time.AfterFunc(mw.debounceTime, func() {
		select {
		case fireCh <- struct{}{}:
		default:
		}
	})
}

func (mw *migrationWatcher) stopDebounceTimer() {
	mw.timerMu.Lock()
	defer mw.timerMu.Unlock()

	if mw.debounceTimer != nil {
		mw.debounceTimer.Stop()
		mw.debounceTimer = nil
	}
}

// isMigrationEvent reports whether event touches a file directly inside a
// migrations directory.
func (mw *migrationWatcher) isMigrationEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if filepath.Base(filepath.Dir(event.Name)) != mw.migrationsDir {
		return false
	}
	return mw.matchesExtension(event.Name)
}

func (mw *migrationWatcher) matchesExtension(path string) bool {
	if len(mw.extensions) == 0 {
		return true
	}
	return mw.extensions[filepath.Ext(path)]
}

// addDirectoriesRecursively registers every directory under rootPath,
// skipping configured directory names below it.
func (mw *migrationWatcher) addDirectoriesRecursively(rootPath string) error {
	return filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == rootPath {
				return err
			}
			log.Printf("Warning: error accessing %s: %v", path, err)
			return nil
		}

		if !d.IsDir() {
			return nil
		}
		if path != rootPath && mw.skipDirs[d.Name()] {
			return filepath.SkipDir
		}

		if err := mw.watcher.Add(path); err != nil {
			log.Printf("Warning: failed to watch directory %s: %v", path, err)
		}
		return nil
	})
}
