package migrations

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mvp-joe/dbindex-check/internal/pysyntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for Reconstructor:
// - Single CreateModel migration yields the expected registry
// - Index added by a later AlterField records that migration's sequence
// - Re-applying db_index=True keeps the first sequence
// - Removing then re-adding an index records the later sequence
// - Example tree apps reconstruct to the expected registries
// - Empty or nil application fails with ErrDiscoveryEmpty
// - Extraction faults abort the app with no partial registry
// - File callback sees every file in order
// - Cancelled context stops reconstruction

func TestReconstruct_SingleCreateModel(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeMigration(t, root, "shop", "0001_initial.py", createWidget("models.IntegerField(db_index=True)"))

	reg, err := NewReconstructor(nil).Reconstruct(context.Background(), appFromDir(t, root, "shop"))
	require.NoError(t, err)

	assert.Equal(t, ModelRegistry{
		"Widget": {
			"id":    {IsIndex: false, IndexAdded: ""},
			"count": {IsIndex: true, IndexAdded: "0001"},
		},
	}, reg)
}

func TestReconstruct_IndexHistory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeMigration(t, root, "shop", "0001_initial.py", createWidget("models.IntegerField()"))
	writeMigration(t, root, "shop", "0002_index_count.py", alterCount("models.IntegerField(db_index=True)"))

	r := NewReconstructor(nil)
	reg, err := r.Reconstruct(context.Background(), appFromDir(t, root, "shop"))
	require.NoError(t, err)
	assert.Equal(t, FieldIndexState{IsIndex: true, IndexAdded: "0002"}, reg["Widget"]["count"])

	writeMigration(t, root, "shop", "0003_touch_count.py", alterCount("models.IntegerField(db_index=True, default=1)"))
	reg, err = r.Reconstruct(context.Background(), appFromDir(t, root, "shop"))
	require.NoError(t, err)
	assert.Equal(t, FieldIndexState{IsIndex: true, IndexAdded: "0002"}, reg["Widget"]["count"])

	writeMigration(t, root, "shop", "0004_drop_index.py", alterCount("models.IntegerField(default=1)"))
	reg, err = r.Reconstruct(context.Background(), appFromDir(t, root, "shop"))
	require.NoError(t, err)
	assert.Equal(t, FieldIndexState{IsIndex: false, IndexAdded: ""}, reg["Widget"]["count"])

	writeMigration(t, root, "shop", "0005_readd_index.py", alterCount("models.IntegerField(db_index=True)"))
	reg, err = r.Reconstruct(context.Background(), appFromDir(t, root, "shop"))
	require.NoError(t, err)
	assert.Equal(t, FieldIndexState{IsIndex: true, IndexAdded: "0005"}, reg["Widget"]["count"])
}

func TestReconstruct_ExampleTree(t *testing.T) {
	t.Parallel()

	apps, err := Discover(exampleRoot, WithIgnore(".venv/**"))
	require.NoError(t, err)

	r := NewReconstructor(nil)

	important, err := r.Reconstruct(context.Background(), apps["important_functionality"])
	require.NoError(t, err)
	assert.Equal(t, ModelRegistry{
		"ImportantModel": {
			"id":        {},
			"name":      {},
			"reference": {IsIndex: true, IndexAdded: "0001"},
			"status":    {IsIndex: true, IndexAdded: "0003"},
		},
	}, important)

	other, err := r.Reconstruct(context.Background(), apps["other_service"])
	require.NoError(t, err)
	assert.Equal(t, FieldIndexState{IsIndex: true, IndexAdded: "0001"}, other["ServiceRecord"]["created"])

	theApp, err := r.Reconstruct(context.Background(), apps["the_app"])
	require.NoError(t, err)
	assert.Equal(t, ModelRegistry{
		"Widget": {
			"id":    {},
			"count": {IsIndex: true, IndexAdded: "0002"},
			"slug":  {},
		},
	}, theApp)
}

func TestReconstruct_EmptyApplication(t *testing.T) {
	t.Parallel()

	r := NewReconstructor(nil)

	reg, err := r.Reconstruct(context.Background(), &Application{Name: "empty"})
	assert.ErrorIs(t, err, ErrDiscoveryEmpty)
	assert.EqualError(t, err, `application has no migration files: "empty"`)
	assert.Nil(t, reg)

	_, err = r.Reconstruct(context.Background(), nil)
	assert.ErrorIs(t, err, ErrDiscoveryEmpty)
}

func TestReconstruct_ExtractionFaultAborts(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeMigration(t, root, "shop", "0001_initial.py", createWidget("models.IntegerField()"))
	writeMigration(t, root, "shop", "0002_broken.py", migrationModule(`        migrations.AlterField(model_name="widget"),`))
	writeMigration(t, root, "shop", "0003_after.py", alterCount("models.IntegerField(db_index=True)"))

	var seen []string
	r := NewReconstructor(nil, WithFileCallback(func(file MigrationFile, _ *FileOperations) {
		seen = append(seen, file.Name)
	}))

	reg, err := r.Reconstruct(context.Background(), appFromDir(t, root, "shop"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtraction)
	assert.Contains(t, err.Error(), "app shop")
	assert.Nil(t, reg)
	assert.Equal(t, []string{"0001_initial.py"}, seen)
}

func TestReconstruct_ParseFaultPropagates(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeMigration(t, root, "shop", "0001_initial.py", "class Migration(:\n")

	_, err := NewReconstructor(nil).Reconstruct(context.Background(), appFromDir(t, root, "shop"))
	assert.ErrorIs(t, err, pysyntax.ErrParse)
}

func TestReconstruct_FileCallbackOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var seen []string
	r := NewReconstructor(nil, WithFileCallback(func(file MigrationFile, ops *FileOperations) {
		mu.Lock()
		defer mu.Unlock()
		require.NotNil(t, ops)
		seen = append(seen, file.Sequence())
	}))

	apps, err := Discover(exampleRoot)
	require.NoError(t, err)

	_, err = r.Reconstruct(context.Background(), apps["important_functionality"])
	require.NoError(t, err)
	assert.Equal(t, []string{"0001", "0002", "0003"}, seen)
}

// stubSource serves canned operations and counts calls.
type stubSource struct {
	mu    sync.Mutex
	ops   map[string]*FileOperations
	calls int
}

func (s *stubSource) Extract(ctx context.Context, path string) (*FileOperations, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	ops, ok := s.ops[path]
	if !ok {
		return nil, errors.New("unexpected path " + path)
	}
	return ops, nil
}

func TestReconstruct_UsesOperationSource(t *testing.T) {
	t.Parallel()

	source := &stubSource{ops: map[string]*FileOperations{
		"a": {Operations: []Operation{createOp("Widget", field("count", false))}},
		"b": {Operations: []Operation{alterOp("Widget", "count", true)}},
	}}
	app := &Application{Name: "shop", Files: []MigrationFile{
		{Name: "0001_a.py", Path: "a"},
		{Name: "0007_b.py", Path: "b"},
	}}

	reg, err := NewReconstructor(source).Reconstruct(context.Background(), app)
	require.NoError(t, err)
	assert.Equal(t, FieldIndexState{IsIndex: true, IndexAdded: "0007"}, reg["Widget"]["count"])
	assert.Equal(t, 2, source.calls)
}

func TestReconstruct_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	app := &Application{Name: "shop", Files: []MigrationFile{{Name: "0001_a.py", Path: "a"}}}
	_, err := NewReconstructor(&stubSource{}).Reconstruct(ctx, app)
	assert.ErrorIs(t, err, context.Canceled)
}
