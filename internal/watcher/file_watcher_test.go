package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for MigrationWatcher:
// - New succeeds for a valid root and fails for a missing one
// - A new migration file fires the callback after debounce
// - Rapid changes to several files are batched, sorted and deduplicated
// - Files outside migrations directories never fire the callback
// - Extension filtering drops non-matching files
// - Pause accumulates events and Resume flushes them
// - Changes made while the callback runs arrive as the next batch
// - An app created after startup is picked up with its existing files
// - Skipped directories are not registered
// - Deleting a migration fires the callback
// - Stop is idempotent, safe concurrently, and context cancellation stops the loop

const testDebounce = 100 * time.Millisecond

type collector struct {
	mu      sync.Mutex
	batches [][]string
	called  chan struct{}
}

func newCollector() *collector {
	return &collector{called: make(chan struct{}, 10)}
}

func (c *collector) callback(files []string) {
	c.mu.Lock()
	c.batches = append(c.batches, files)
	c.mu.Unlock()
	c.called <- struct{}{}
}

func (c *collector) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, batch := range c.batches {
		out = append(out, batch...)
	}
	return out
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.called:
	case <-time.After(2 * time.Second):
		t.Fatal("Callback not called after timeout")
	}
}

func (c *collector) assertQuiet(t *testing.T) {
	t.Helper()
	select {
	case <-c.called:
		t.Fatalf("unexpected callback with %v", c.all())
	case <-time.After(4 * testDebounce):
	}
}

// newAppTree creates root/<app>/migrations and returns root and the migrations dir.
func newAppTree(t *testing.T, app string) (string, string) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, app, "migrations")
	require.NoError(t, os.MkdirAll(dir, 0755))
	return root, dir
}

func startWatcher(t *testing.T, root string, opts Options) (MigrationWatcher, *collector) {
	t.Helper()
	if opts.Debounce == 0 {
		opts.Debounce = testDebounce
	}
	w, err := New(root, opts)
	require.NoError(t, err)
	t.Cleanup(func() { w.Stop() })

	c := newCollector()
	require.NoError(t, w.Start(context.Background(), c.callback))
	// Wait for watcher to initialize
	time.Sleep(50 * time.Millisecond)
	return w, c
}

func TestNew_Success(t *testing.T) {
	t.Parallel()

	root, _ := newAppTree(t, "shop")
	w, err := New(root, Options{Extensions: []string{".py"}})
	require.NoError(t, err)
	require.NotNil(t, w)
	require.NoError(t, w.Stop())
}

func TestNew_InvalidRoot(t *testing.T) {
	t.Parallel()

	w, err := New(filepath.Join(t.TempDir(), "nonexistent"), Options{})
	assert.Error(t, err)
	assert.Nil(t, w)
}

func TestMigrationWatcher_NewMigration(t *testing.T) {
	t.Parallel()

	root, dir := newAppTree(t, "shop")
	_, c := startWatcher(t, root, Options{Extensions: []string{".py"}})

	file := filepath.Join(dir, "0002_add_index.py")
	require.NoError(t, os.WriteFile(file, []byte("class Migration: pass\n"), 0644))

	c.wait(t)
	assert.Equal(t, []string{file}, c.all())
}

func TestMigrationWatcher_BatchesSortedAndDeduplicated(t *testing.T) {
	t.Parallel()

	root, dir := newAppTree(t, "shop")
	_, c := startWatcher(t, root, Options{Extensions: []string{".py"}})

	second := filepath.Join(dir, "0002_b.py")
	first := filepath.Join(dir, "0001_a.py")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(second, []byte("# rev\n"), 0644))
		require.NoError(t, os.WriteFile(first, []byte("# rev\n"), 0644))
	}

	c.wait(t)
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.batches, 1)
	assert.Equal(t, []string{first, second}, c.batches[0])
}

func TestMigrationWatcher_IgnoresFilesOutsideMigrations(t *testing.T) {
	t.Parallel()

	root, _ := newAppTree(t, "shop")
	_, c := startWatcher(t, root, Options{Extensions: []string{".py"}})

	require.NoError(t, os.WriteFile(filepath.Join(root, "shop", "models.py"), []byte("x = 1\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "settings.py"), []byte("x = 1\n"), 0644))

	c.assertQuiet(t)
}

func TestMigrationWatcher_ExtensionFiltering(t *testing.T) {
	t.Parallel()

	root, dir := newAppTree(t, "shop")
	_, c := startWatcher(t, root, Options{Extensions: []string{".py"}})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_initial.pyc"), []byte{0}, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("notes"), 0644))
	kept := filepath.Join(dir, "0001_initial.py")
	require.NoError(t, os.WriteFile(kept, []byte("# m\n"), 0644))

	c.wait(t)
	assert.Equal(t, []string{kept}, c.all())
}

func TestMigrationWatcher_PauseResume(t *testing.T) {
	t.Parallel()

	root, dir := newAppTree(t, "shop")
	w, c := startWatcher(t, root, Options{})

	w.Pause()

	paused := filepath.Join(dir, "0003_paused.py")
	require.NoError(t, os.WriteFile(paused, []byte("# m\n"), 0644))

	// Wait beyond debounce period - callback should NOT fire
	c.assertQuiet(t)

	w.Resume()
	c.wait(t)
	assert.Contains(t, c.all(), paused)
}

func TestMigrationWatcher_NewAppDirectory(t *testing.T) {
	t.Parallel()

	root, _ := newAppTree(t, "shop")
	_, c := startWatcher(t, root, Options{Extensions: []string{".py"}})

	// Build the app elsewhere and move it in, as a copy or checkout would.
	staging := t.TempDir()
	stagedDir := filepath.Join(staging, "billing", "migrations")
	require.NoError(t, os.MkdirAll(stagedDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(stagedDir, "0001_initial.py"), []byte("# m\n"), 0644))

	appDir := filepath.Join(root, "billing")
	require.NoError(t, os.Mkdir(appDir, 0755))
	// Wait for the app directory to be registered
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.Rename(stagedDir, filepath.Join(appDir, "migrations")))

	c.wait(t)
	assert.Contains(t, c.all(), filepath.Join(appDir, "migrations", "0001_initial.py"))
}

func TestMigrationWatcher_SkipDirs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	vendored := filepath.Join(root, ".venv", "pkg", "migrations")
	require.NoError(t, os.MkdirAll(vendored, 0755))

	_, c := startWatcher(t, root, Options{SkipDirs: []string{".venv"}})

	require.NoError(t, os.WriteFile(filepath.Join(vendored, "0001_initial.py"), []byte("# m\n"), 0644))
	c.assertQuiet(t)
}

func TestMigrationWatcher_Deletion(t *testing.T) {
	t.Parallel()

	root, dir := newAppTree(t, "shop")
	file := filepath.Join(dir, "0001_initial.py")
	require.NoError(t, os.WriteFile(file, []byte("# m\n"), 0644))

	_, c := startWatcher(t, root, Options{Extensions: []string{".py"}})
	require.NoError(t, os.Remove(file))

	c.wait(t)
	assert.Contains(t, c.all(), file)
}

func TestMigrationWatcher_StopCleanup(t *testing.T) {
	t.Parallel()

	root, _ := newAppTree(t, "shop")
	w, err := New(root, Options{})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background(), func([]string) {}))
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	require.NoError(t, w.Stop())
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	// Calling Stop() again should be safe
	require.NoError(t, w.Stop())
}

func TestMigrationWatcher_StopWithoutStart(t *testing.T) {
	t.Parallel()

	root, _ := newAppTree(t, "shop")
	w, err := New(root, Options{})
	require.NoError(t, err)
	assert.NoError(t, w.Stop())
}

func TestMigrationWatcher_ContextCancellation(t *testing.T) {
	t.Parallel()

	root, _ := newAppTree(t, "shop")
	w, err := New(root, Options{})
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx, func([]string) {}))
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	cancel()

	mw := w.(*migrationWatcher)
	<-mw.doneCh
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestMigrationWatcher_ConcurrentStop(t *testing.T) {
	t.Parallel()

	root, _ := newAppTree(t, "shop")
	w, err := New(root, Options{})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background(), func([]string) {}))
	time.Sleep(50 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Stop()
		}()
	}

	// Should not panic or deadlock
	wg.Wait()
}

func TestMigrationWatcher_ChangesDuringCallback(t *testing.T) {
	t.Parallel()

	root, dir := newAppTree(t, "shop")
	w, err := New(root, Options{Extensions: []string{".py"}, Debounce: testDebounce})
	require.NoError(t, err)
	t.Cleanup(func() { w.Stop() })

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	batches := make(chan []string, 4)
	first := true
	require.NoError(t, w.Start(context.Background(), func(files []string) {
		batches <- files
		if first {
			first = false
			entered <- struct{}{}
			<-release
		}
	}))
	time.Sleep(50 * time.Millisecond)

	initial := filepath.Join(dir, "0001_initial.py")
	require.NoError(t, os.WriteFile(initial, []byte("x"), 0644))

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("Callback not called after timeout")
	}

	second := filepath.Join(dir, "0002_index.py")
	require.NoError(t, os.WriteFile(second, []byte("x"), 0644))
	time.Sleep(2 * testDebounce)
	close(release)

	assert.Equal(t, []string{initial}, <-batches)
	select {
	case batch := <-batches:
		assert.Equal(t, []string{second}, batch)
	case <-time.After(2 * time.Second):
		t.Fatal("change made during callback was not delivered")
	}
}
