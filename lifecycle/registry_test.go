package lifecycle

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/tessera/catalog"
	"github.com/teranos/tessera/errors"
	"github.com/teranos/tessera/frame"
	tesseratest "github.com/teranos/tessera/internal/testing"
	"github.com/teranos/tessera/logger"
	"github.com/teranos/tessera/stage"
	"github.com/teranos/tessera/storage"
	"github.com/teranos/tessera/transform"
)

func newRegistry(t *testing.T, opts ...RegistryOption) *Registry {
	t.Helper()
	store, err := storage.NewVersionStore(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	return NewRegistry(store, opts...)
}

func createPeople(t *testing.T, r *Registry) string {
	t.Helper()
	id, err := r.CreateDataset("people", tesseratest.PeopleCSV(t, t.TempDir()))
	require.NoError(t, err)
	return id
}

func parquetFiles(t *testing.T, r *Registry, datasetID string) int {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(r.Store().BasePath(), datasetID))
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".parquet") {
			n++
		}
	}
	return n
}

func trimPipeline() transform.Pipeline {
	return transform.NewPipeline(transform.TrimWhitespace())
}

func TestCreateDataset_RawRoot(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)

	ds, err := r.GetDataset(id)
	require.NoError(t, err)
	assert.Equal(t, ds.RawVersionID, ds.ActiveVersionID)

	raw, err := r.GetVersion(id, ds.RawVersionID)
	require.NoError(t, err)
	assert.Nil(t, raw.ParentID)
	assert.Equal(t, stage.Raw, raw.Stage)
	assert.Equal(t, storage.OriginalFile, raw.DataLocation.Kind)
	require.NotNil(t, raw.Metadata.ColumnCount)
	assert.Equal(t, 6, *raw.Metadata.ColumnCount)
	assert.Equal(t, "system", raw.Metadata.CreatedBy)

	assert.Zero(t, parquetFiles(t, r, id), "raw data is referenced, not copied")

	_, err = r.CreateDataset("missing", filepath.Join(t.TempDir(), "nope.csv"))
	assert.True(t, errors.Is(err, errors.ErrIO))
}

func TestScenario_CleanThenPublishView(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)
	before, err := r.GetDataset(id)
	require.NoError(t, err)
	rawBefore, err := before.Version(before.RawVersionID)
	require.NoError(t, err)

	cleanedID, err := r.ApplyTransforms(id, trimPipeline(), stage.Cleaned)
	require.NoError(t, err)

	ds, err := r.GetDataset(id)
	require.NoError(t, err)
	assert.Equal(t, cleanedID, ds.ActiveVersionID, "active pointer advances")

	rawAfter, err := r.GetVersion(id, ds.RawVersionID)
	require.NoError(t, err)
	assert.Equal(t, rawBefore, rawAfter, "the raw version never changes")
	assert.Nil(t, rawAfter.ParentID)

	versions, err := r.ListVersions(id)
	require.NoError(t, err)
	assert.Len(t, versions, 2)

	cleaned, err := r.GetVersion(id, cleanedID)
	require.NoError(t, err)
	assert.Equal(t, storage.ColumnarSnapshot, cleaned.DataLocation.Kind)
	require.NotNil(t, cleaned.Metadata.RowCount)
	assert.Equal(t, int64(10), *cleaned.Metadata.RowCount)
	assert.Equal(t, 1, parquetFiles(t, r, id))

	lf, err := r.GetActiveData(id)
	require.NoError(t, err)
	b, err := lf.Collect()
	require.NoError(t, err)
	names, ok := b.Column("name")
	require.True(t, ok)
	assert.Equal(t, "Alice", names[0])
	assert.Equal(t, "Dan", names[3])

	publishedID, err := r.PublishVersion(id, cleanedID, stage.View)
	require.NoError(t, err)
	published, err := r.GetVersion(id, publishedID)
	require.NoError(t, err)
	assert.Equal(t, stage.Published, published.Stage)
	assert.Equal(t, cleanedID, published.Parent())
	assert.Equal(t, cleaned.DataLocation, published.DataLocation)
	assert.Equal(t, 1, parquetFiles(t, r, id), "a view publishes without writing data")

	versions, err = r.ListVersions(id)
	require.NoError(t, err)
	assert.Len(t, versions, 3)
}

func TestApplyTransforms_EmptyPipelineAliasesParent(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)
	ds, err := r.GetDataset(id)
	require.NoError(t, err)

	vid, err := r.ApplyTransforms(id, transform.Empty(), stage.Profiled)
	require.NoError(t, err)

	v, err := r.GetVersion(id, vid)
	require.NoError(t, err)
	raw, err := r.GetVersion(id, ds.RawVersionID)
	require.NoError(t, err)
	assert.Equal(t, raw.DataLocation, v.DataLocation)
	assert.Zero(t, parquetFiles(t, r, id))
}

func TestApplyTransforms_SelectOnCleanedWritesNoFile(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)
	cleanedID, err := r.ApplyTransforms(id, trimPipeline(), stage.Cleaned)
	require.NoError(t, err)
	filesBefore := parquetFiles(t, r, id)

	selectedID, err := r.ApplyTransforms(id, transform.NewPipeline(transform.SelectColumns("name", "age")), stage.Advanced)
	require.NoError(t, err)
	assert.Equal(t, filesBefore, parquetFiles(t, r, id))

	cleaned, err := r.GetVersion(id, cleanedID)
	require.NoError(t, err)
	selected, err := r.GetVersion(id, selectedID)
	require.NoError(t, err)
	assert.Equal(t, cleaned.DataLocation, selected.DataLocation)

	lf, err := r.LoadVersionData(id, selectedID)
	require.NoError(t, err)
	schema, err := lf.Schema()
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "age"}, schema.Names(), "the projection is replayed on read")

	// The parent still reads in full.
	lf, err = r.LoadVersionData(id, cleanedID)
	require.NoError(t, err)
	schema, err = lf.Schema()
	require.NoError(t, err)
	assert.Len(t, schema, 6)

	_, err = r.ApplyTransforms(id, transform.NewPipeline(transform.SelectColumns("nope")), stage.Validated)
	assert.True(t, errors.IsInvalidRequestError(err))
	versions, err := r.ListVersions(id)
	require.NoError(t, err)
	assert.Len(t, versions, 3, "a failed apply registers nothing")
}

func TestApplyTransforms_RestrictedCleanOnCleanedIsNoOp(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)
	cleanedID, err := r.ApplyTransforms(id, trimPipeline(), stage.Cleaned)
	require.NoError(t, err)

	p := transform.NewPipeline(transform.Clean(map[string]transform.ColumnConfig{"city": {TextCase: "upper"}}, true))
	advancedID, err := r.ApplyTransforms(id, p, stage.Advanced)
	require.NoError(t, err)

	cleaned, _ := r.GetVersion(id, cleanedID)
	advanced, _ := r.GetVersion(id, advancedID)
	assert.Equal(t, cleaned.DataLocation, advanced.DataLocation)
	assert.Equal(t, 1, parquetFiles(t, r, id))
}

func TestApplyTransforms_ChainedMaterialization(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)
	_, err := r.ApplyTransforms(id, trimPipeline(), stage.Cleaned)
	require.NoError(t, err)

	p := transform.NewPipeline(transform.FilterRows("age >= 40"), transform.SortBy([]string{"age"}, []bool{true}))
	vid, err := r.ApplyTransforms(id, p, stage.Advanced)
	require.NoError(t, err)
	assert.Equal(t, 2, parquetFiles(t, r, id))

	lf, err := r.LoadVersionData(id, vid)
	require.NoError(t, err)
	b, err := lf.Collect()
	require.NoError(t, err)
	ages, _ := b.Column("age")
	assert.Equal(t, []any{int64(52), int64(45), int64(41)}, ages)
}

func TestApplyTransforms_TraceLogsPipelineSteps(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	savedLogger, savedVerbosity := logger.Logger, logger.Verbosity
	logger.Logger, logger.Verbosity = zap.New(core).Sugar(), logger.VerbosityTrace
	t.Cleanup(func() { logger.Logger, logger.Verbosity = savedLogger, savedVerbosity })

	r := newRegistry(t)
	id := createPeople(t, r)
	_, err := r.ApplyTransforms(id, transform.NewPipeline(
		transform.TrimWhitespace(),
		transform.SelectColumns("name"),
	), stage.Cleaned)
	require.NoError(t, err)

	steps := logs.FilterMessage("Pipeline step").All()
	require.Len(t, steps, 2)
	assert.EqualValues(t, 0, steps[0].ContextMap()["index"])
	assert.Equal(t, id, steps[0].ContextMap()[logger.FieldDatasetID])
}

func TestSetActiveVersion(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)
	ds, _ := r.GetDataset(id)
	cleanedID, err := r.ApplyTransforms(id, trimPipeline(), stage.Cleaned)
	require.NoError(t, err)

	err = r.SetActiveVersion(id, "does-not-exist")
	assert.True(t, errors.IsNotFoundError(err))
	after, _ := r.GetDataset(id)
	assert.Equal(t, cleanedID, after.ActiveVersionID, "a failed set_active leaves the pointer alone")

	require.NoError(t, r.SetActiveVersion(id, ds.RawVersionID))
	after, _ = r.GetDataset(id)
	assert.Equal(t, ds.RawVersionID, after.ActiveVersionID)
	versions, _ := r.ListVersions(id)
	assert.Len(t, versions, 2, "rollback creates no version")
}

func TestPublishSnapshotOfOlderVersion(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)
	ds, _ := r.GetDataset(id)
	_, err := r.ApplyTransforms(id, trimPipeline(), stage.Cleaned)
	require.NoError(t, err)

	pubID, err := r.PublishVersion(id, ds.RawVersionID, stage.Snapshot)
	require.NoError(t, err)
	pub, err := r.GetVersion(id, pubID)
	require.NoError(t, err)
	assert.Equal(t, ds.RawVersionID, pub.Parent())
	assert.Equal(t, storage.ColumnarSnapshot, pub.DataLocation.Kind)
	assert.Equal(t, "snapshot", pub.Metadata.CustomFields["publish_mode"])
	assert.Equal(t, 2, parquetFiles(t, r, id))

	lf, err := r.GetActiveData(id)
	require.NoError(t, err)
	n, err := lf.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	_, err = r.PublishVersion(id, "missing", stage.View)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestUnknownDataset(t *testing.T) {
	r := newRegistry(t)
	_, err := r.GetDataset("nope")
	assert.True(t, errors.IsNotFoundError(err))
	_, err = r.ApplyTransforms("nope", trimPipeline(), stage.Cleaned)
	assert.True(t, errors.IsNotFoundError(err))
	_, err = r.ComputeDiff("nope", "a", "b")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestGetDataset_ReturnsCopy(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)
	ds, err := r.GetDataset(id)
	require.NoError(t, err)

	ds.ActiveVersionID = "tampered"
	ds.Versions.remove(ds.RawVersionID)

	again, err := r.GetDataset(id)
	require.NoError(t, err)
	assert.Equal(t, again.RawVersionID, again.ActiveVersionID)
	assert.Equal(t, 1, again.Versions.Len())
}

func TestGetDataset_CopyRefusesMutation(t *testing.T) {
	store, err := storage.NewVersionStore(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	cat := catalog.NewStore(tesseratest.CreateTestDB(t))
	r := NewRegistry(store, WithCatalog(cat))
	id := createPeople(t, r)

	cp, err := r.GetDataset(id)
	require.NoError(t, err)
	root := cp.RawVersionID

	_, err = cp.ApplyPipeline(trimPipeline(), stage.Cleaned)
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.NotEmpty(t, errors.GetAllHints(err))
	_, err = cp.PublishVersion(root, stage.Snapshot)
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.True(t, errors.IsInvalidRequestError(cp.SetActiveVersion(root)))
	_, err = cp.Cleanup(nil)
	assert.True(t, errors.IsInvalidRequestError(err))

	assert.Equal(t, 0, parquetFiles(t, r, id))
	onDisk, err := store.ListVersionIDs(id)
	require.NoError(t, err)
	assert.Equal(t, []string{root}, onDisk)
	rec, err := cat.GetDataset(id)
	require.NoError(t, err)
	assert.Equal(t, root, rec.ActiveVersionID)

	// Reads on the copy still work.
	lf, err := cp.ActiveData()
	require.NoError(t, err)
	n, err := lf.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
}

func TestComputeDiff(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)
	ds, _ := r.GetDataset(id)
	_, err := r.ApplyTransforms(id, trimPipeline(), stage.Cleaned)
	require.NoError(t, err)
	filteredID, err := r.ApplyTransforms(id, transform.NewPipeline(
		transform.FilterRows("age is not null"),
		transform.SelectColumns("id", "name", "age"),
	), stage.Advanced)
	require.NoError(t, err)

	summary, err := r.ComputeDiff(id, ds.RawVersionID, filteredID)
	require.NoError(t, err)
	assert.Equal(t, []string{"city", "joined", "score"}, summary.SchemaChanges.ColumnsRemoved)
	require.NotNil(t, summary.RowChanges.RowsRemoved)
	assert.Equal(t, int64(1), *summary.RowChanges.RowsRemoved)
	assert.True(t, summary.HasChanges())

	same, err := r.ComputeDiff(id, filteredID, filteredID)
	require.NoError(t, err)
	assert.False(t, same.HasChanges())
}

func TestLineageAndChildren(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)
	ds, _ := r.GetDataset(id)
	a, err := r.ApplyTransforms(id, transform.Empty(), stage.Profiled)
	require.NoError(t, err)
	b, err := r.ApplyTransforms(id, trimPipeline(), stage.Cleaned)
	require.NoError(t, err)

	lineage, err := r.Lineage(id, b)
	require.NoError(t, err)
	assert.Equal(t, []string{ds.RawVersionID, a, b}, ids(lineage))

	children, err := r.Children(id, ds.RawVersionID)
	require.NoError(t, err)
	assert.Equal(t, []string{a}, ids(children))

	_, err = r.Lineage(id, "missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestCleanupVersions(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)
	ds, _ := r.GetDataset(id)
	root := ds.RawVersionID

	// Three siblings under the raw root, then roll back to the root.
	var siblings []string
	for i := 0; i < 3; i++ {
		vid, err := r.ApplyTransforms(id, trimPipeline(), stage.Cleaned)
		require.NoError(t, err)
		siblings = append(siblings, vid)
		require.NoError(t, r.SetActiveVersion(id, root))
	}
	require.Equal(t, 3, parquetFiles(t, r, id))

	removed, err := r.CleanupVersions(id, []string{siblings[0]})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	versions, err := r.ListVersions(id)
	require.NoError(t, err)
	assert.Equal(t, []string{root, siblings[0]}, ids(versions))
	assert.Equal(t, 1, parquetFiles(t, r, id))

	lf, err := r.LoadVersionData(id, siblings[0])
	require.NoError(t, err)
	n, err := lf.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	onDisk, err := r.Store().ListVersionIDs(id)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{root, siblings[0]}, onDisk)

	_, err = r.CleanupVersions(id, []string{"missing"})
	assert.True(t, errors.IsNotFoundError(err))
}

func TestCleanup_PrunesVersionsAlreadyDeleted(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)
	ds := r.datasets[id]
	root := ds.RawVersionID

	var siblings []string
	for i := 0; i < 2; i++ {
		vid, err := r.ApplyTransforms(id, trimPipeline(), stage.Cleaned)
		require.NoError(t, err)
		siblings = append(siblings, vid)
		require.NoError(t, r.SetActiveVersion(id, root))
	}

	// A cleanup that stopped after deleting the first sibling's files.
	dir := filepath.Join(r.Store().BasePath(), id)
	require.NoError(t, os.Remove(filepath.Join(dir, siblings[0]+".meta.json")))
	require.NoError(t, os.Remove(filepath.Join(dir, siblings[0]+".parquet")))

	retained, err := ds.retained(nil)
	require.NoError(t, err)
	ds.pruneDeleted(retained)

	_, ok := ds.Versions.Get(siblings[0])
	assert.False(t, ok, "files are gone")
	_, ok = ds.Versions.Get(siblings[1])
	assert.True(t, ok, "still on disk")
	_, ok = ds.Versions.Get(root)
	assert.True(t, ok)
}

func TestCleanupVersions_KeepsAncestorsAndActive(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)
	cleaned, err := r.ApplyTransforms(id, trimPipeline(), stage.Cleaned)
	require.NoError(t, err)
	selected, err := r.ApplyTransforms(id, transform.NewPipeline(transform.SelectColumns("name")), stage.Advanced)
	require.NoError(t, err)
	active, err := r.ApplyTransforms(id, transform.NewPipeline(transform.DropNulls()), stage.Validated)
	require.NoError(t, err)

	removed, err := r.CleanupVersions(id, []string{selected})
	require.NoError(t, err)
	assert.Zero(t, removed, "everything is an ancestor of a kept or active version")

	for _, vid := range []string{cleaned, selected, active} {
		lf, err := r.LoadVersionData(id, vid)
		require.NoError(t, err)
		_, err = lf.Count()
		require.NoError(t, err)
	}
}

func TestStorageStats(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)
	stats, err := r.StorageStats(id)
	require.NoError(t, err)
	assert.Zero(t, stats.VersionCount)

	_, err = r.ApplyTransforms(id, trimPipeline(), stage.Cleaned)
	require.NoError(t, err)
	stats, err = r.StorageStats(id)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.VersionCount)
	assert.Positive(t, stats.TotalBytes)
}

type panickingExecutor struct{}

func (panickingExecutor) Execute(frame.LazyFrame) (transform.Pipeline, error) {
	panic("executor exploded")
}
func (panickingExecutor) Stage() stage.Stage  { return stage.Profiled }
func (panickingExecutor) Description() string { return "panics" }

func TestRegistry_PoisonedAfterPanic(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)

	assert.PanicsWithValue(t, "executor exploded", func() {
		_, _ = r.ApplyStage(id, panickingExecutor{})
	})

	_, err := r.ListVersions(id)
	assert.True(t, errors.Is(err, errors.ErrLockPoisoned))
	_, err = r.ApplyTransforms(id, trimPipeline(), stage.Cleaned)
	assert.True(t, errors.Is(err, errors.ErrLockPoisoned))
	_, err = r.ListDatasets()
	assert.True(t, errors.Is(err, errors.ErrLockPoisoned))
}

func TestRegistry_ConcurrentReadsAndWrites(t *testing.T) {
	r := newRegistry(t)
	ids := []string{createPeople(t, r), createPeople(t, r)}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := r.ApplyTransforms(ids[i%2], transform.Empty(), stage.Profiled)
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := r.ListVersions(ids[i%2])
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		versions, err := r.ListVersions(id)
		require.NoError(t, err)
		assert.Len(t, versions, 3)
	}

	list, err := r.ListDatasets()
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, "Profiled", list[0].ActiveStage)
}

func TestRestoreFromCatalog(t *testing.T) {
	store, err := storage.NewVersionStore(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	cat := catalog.NewStore(tesseratest.CreateTestDB(t))

	first := NewRegistry(store, WithCatalog(cat))
	id := createPeople(t, first)
	ds, _ := first.GetDataset(id)
	cleaned, err := first.ApplyTransforms(id, trimPipeline(), stage.Cleaned)
	require.NoError(t, err)
	_, err = first.ApplyTransforms(id, transform.NewPipeline(transform.SelectColumns("name")), stage.Advanced)
	require.NoError(t, err)
	require.NoError(t, first.SetActiveVersion(id, cleaned))

	second := NewRegistry(store, WithCatalog(cat))
	n, err := second.Restore()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	restored, err := second.GetDataset(id)
	require.NoError(t, err)
	assert.Equal(t, "people", restored.Name)
	assert.Equal(t, ds.RawVersionID, restored.RawVersionID)
	assert.Equal(t, cleaned, restored.ActiveVersionID)

	want, _ := first.ListVersions(id)
	got, err := second.ListVersions(id)
	require.NoError(t, err)
	assert.Equal(t, ids(want), ids(got))

	lf, err := second.GetActiveData(id)
	require.NoError(t, err)
	count, err := lf.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)
}

func TestRestore_CorruptMetadataFails(t *testing.T) {
	store, err := storage.NewVersionStore(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	cat := catalog.NewStore(tesseratest.CreateTestDB(t))

	first := NewRegistry(store, WithCatalog(cat))
	id := createPeople(t, first)
	vid, err := first.ApplyTransforms(id, trimPipeline(), stage.Cleaned)
	require.NoError(t, err)

	meta := filepath.Join(store.BasePath(), id, vid+".meta.json")
	require.NoError(t, os.WriteFile(meta, []byte("{not json"), 0o644))

	_, err = NewRegistry(store, WithCatalog(cat)).Restore()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSerialization))

	_, err = newRegistry(t).Restore()
	assert.True(t, errors.IsInvalidRequestError(err))
}
