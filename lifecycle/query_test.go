package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tessera/errors"
	"github.com/teranos/tessera/stage"
	"github.com/teranos/tessera/transform"
)

func TestVersionQuery_Resolve(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)
	first, err := r.ApplyTransforms(id, trimPipeline(), stage.Cleaned)
	require.NoError(t, err)
	second, err := r.ApplyTransforms(id, transform.NewPipeline(transform.DropNulls("age")), stage.Cleaned)
	require.NoError(t, err)
	require.NoError(t, r.SetActiveVersion(id, first))

	ds, err := r.GetDataset(id)
	require.NoError(t, err)

	cases := []struct {
		name  string
		query VersionQuery
		want  string
	}{
		{"by id", ByID(second), second},
		{"raw", RawVersion(), ds.RawVersionID},
		{"active", ActiveVersion(), first},
		{"latest in stage", LatestIn(stage.Cleaned), second},
		{"latest", Latest(), second},
		{"zero value", VersionQuery{}, first},
		{"id wins over raw", VersionQuery{VersionID: second, Raw: true}, second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := tc.query.Resolve(ds)
			require.NoError(t, err)
			assert.Equal(t, tc.want, v.ID)
		})
	}

	_, err = LatestIn(stage.Published).Resolve(ds)
	assert.True(t, errors.IsNotFoundError(err))
	_, err = ByID("missing").Resolve(ds)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestDatasetQueryBuilder(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)
	_, err := r.ApplyTransforms(id, trimPipeline(), stage.Cleaned)
	require.NoError(t, err)
	ds, err := r.GetDataset(id)
	require.NoError(t, err)

	lf, err := NewQuery(ds).
		Version(LatestIn(stage.Cleaned)).
		Filter("age >= 40").
		Select("name").
		Limit(2).
		Build()
	require.NoError(t, err)

	b, err := lf.Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, b.Schema.Names())
	names, _ := b.Column("name")
	assert.Equal(t, []any{"Bob", "Dan"}, names)

	_, err = NewQuery(ds).Version(ByID("missing")).Build()
	assert.True(t, errors.IsNotFoundError(err))

	_, err = NewQuery(ds).Filter("age ~ 3").Build()
	assert.Error(t, err)
}
