package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tessera/errors"
	"github.com/teranos/tessera/stage"
	"github.com/teranos/tessera/storage"
	"github.com/teranos/tessera/transform"
)

func rawVersion() DatasetVersion {
	return newRawVersion("ds", storage.DataLocation{Kind: storage.OriginalFile, Path: "/data/raw.csv"})
}

func child(id string, parent DatasetVersion, st stage.Stage, at time.Time) DatasetVersion {
	v := newDerivedVersion(id, parent.DatasetID, parent.ID, st, transform.Empty(), parent.DataLocation)
	v.CreatedAt = at
	return v
}

func TestVersionTree_InsertRejectsUnknownParent(t *testing.T) {
	root := rawVersion()
	tree := NewVersionTree(root)
	orphan := newDerivedVersion("orphan", "ds", "no-such-parent", stage.Cleaned, transform.Empty(), root.DataLocation)

	err := tree.Insert(orphan)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
	assert.Equal(t, 1, tree.Len(), "a rejected insert must leave the tree unchanged")
	_, ok := tree.Get("orphan")
	assert.False(t, ok)
}

func TestVersionTree_InsertRejectsSecondRootAndDuplicates(t *testing.T) {
	root := rawVersion()
	tree := NewVersionTree(root)

	other := rawVersion()
	assert.True(t, errors.Is(tree.Insert(other), errors.ErrInvalidTransition))
	assert.True(t, errors.Is(tree.Insert(root), errors.ErrInvalidTransition))

	a := child("a", root, stage.Profiled, root.CreatedAt.Add(time.Second))
	require.NoError(t, tree.Insert(a))
	assert.True(t, errors.Is(tree.Insert(a), errors.ErrInvalidTransition))
	assert.Equal(t, 2, tree.Len())
}

func TestVersionTree_LineageAndChildren(t *testing.T) {
	root := rawVersion()
	tree := NewVersionTree(root)
	t0 := root.CreatedAt

	a := child("a", root, stage.Profiled, t0.Add(1*time.Second))
	b := child("b", a, stage.Cleaned, t0.Add(2*time.Second))
	c := child("c", a, stage.Cleaned, t0.Add(3*time.Second))
	for _, v := range []DatasetVersion{a, b, c} {
		require.NoError(t, tree.Insert(v))
	}

	lineage := tree.Lineage("c")
	require.Len(t, lineage, 3)
	assert.Equal(t, []string{root.ID, "a", "c"}, ids(lineage))
	assert.True(t, lineage[0].IsRoot())

	assert.Equal(t, []string{"b", "c"}, ids(tree.Children("a")))
	assert.Empty(t, tree.Children("c"))
	assert.Empty(t, tree.Lineage("missing"))

	assert.Equal(t, []string{root.ID, "a", "b", "c"}, ids(tree.List()))
	assert.Equal(t, root.ID, tree.Root().ID)
}

func TestVersionTree_RemoveKeepsRoot(t *testing.T) {
	root := rawVersion()
	tree := NewVersionTree(root)
	a := child("a", root, stage.Profiled, root.CreatedAt.Add(time.Second))
	require.NoError(t, tree.Insert(a))

	tree.remove(root.ID, "a")
	assert.Equal(t, 1, tree.Len())
	assert.Equal(t, root.ID, tree.Root().ID)
}

func TestVersionTree_CloneIsIndependent(t *testing.T) {
	root := rawVersion()
	tree := NewVersionTree(root)
	cp := tree.clone()
	require.NoError(t, cp.Insert(child("a", root, stage.Profiled, root.CreatedAt)))
	assert.Equal(t, 1, tree.Len())
	assert.Equal(t, 2, cp.Len())
}

func TestDatasetVersion_JSONRoundTrip(t *testing.T) {
	root := rawVersion()
	p := transform.NewPipeline(
		transform.SortBy([]string{"age", "name"}, []bool{true, false}),
		transform.SelectColumns("name", "age"),
		transform.Clean(map[string]transform.ColumnConfig{"name": {TrimWhitespace: true, TextCase: "lower"}}, true),
	)
	v := newDerivedVersion("v1", root.DatasetID, root.ID, stage.Cleaned, p,
		storage.DataLocation{Kind: storage.ColumnarSnapshot, Path: "/store/ds/v1.parquet"})
	rows := int64(10)
	v.Metadata.RowCount = &rows
	v.Metadata.Tags = []string{"nightly"}

	data, err := v.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"stage": "Cleaned"`)
	assert.Contains(t, string(data), `"kind": "columnar_snapshot"`)
	assert.Contains(t, string(data), `"transform_type": "sort"`)

	back, err := VersionFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, v, back)

	rootData, err := root.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(rootData), `"parent_id": null`)
	rootBack, err := VersionFromJSON(rootData)
	require.NoError(t, err)
	assert.Equal(t, root, rootBack)
}

func TestVersionFromJSON_Malformed(t *testing.T) {
	_, err := VersionFromJSON([]byte(`{"id": 12`))
	assert.True(t, errors.Is(err, errors.ErrSerialization))

	_, err = VersionFromJSON([]byte(`{"id": "x", "stage": "Sideways"}`))
	assert.True(t, errors.Is(err, errors.ErrSerialization))
}

func ids(vs []DatasetVersion) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.ID
	}
	return out
}
