package lifecycle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tessera/errors"
	"github.com/teranos/tessera/frame"
	tesseratest "github.com/teranos/tessera/internal/testing"
	"github.com/teranos/tessera/stage"
	"github.com/teranos/tessera/storage"
	"github.com/teranos/tessera/transform"
)

func TestApplyStage_Profile(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)
	ds, _ := r.GetDataset(id)

	exec := NewProfileExecutor()
	vid, err := r.ApplyStage(id, exec)
	require.NoError(t, err)

	v, err := r.GetVersion(id, vid)
	require.NoError(t, err)
	assert.Equal(t, stage.Profiled, v.Stage)
	assert.True(t, v.Pipeline.IsEmpty())
	assert.Equal(t, exec.Description(), v.Metadata.Description)
	assert.Equal(t, int64(10), v.Metadata.CustomFields["profiled_rows"])
	assert.Len(t, exec.Profiles(), 6)

	raw, _ := r.GetVersion(id, ds.RawVersionID)
	assert.Equal(t, raw.DataLocation, v.DataLocation, "profiling never copies data")
}

func TestApplyStage_RejectsBackwardAndRepeatedStages(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)
	_, err := r.ApplyStage(id, NewCleanExecutor(map[string]transform.ColumnConfig{"name": {TrimWhitespace: true}}, false))
	require.NoError(t, err)

	_, err = r.ApplyStage(id, NewProfileExecutor())
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

	_, err = r.ApplyStage(id, NewCleanExecutor(nil, true))
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

	versions, _ := r.ListVersions(id)
	assert.Len(t, versions, 2)
}

func TestApplyStage_CleanTrimsConfiguredColumns(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)
	vid, err := r.ApplyStage(id, NewCleanExecutor(map[string]transform.ColumnConfig{
		"name": {TrimWhitespace: true, TextCase: "upper"},
	}, false))
	require.NoError(t, err)

	v, _ := r.GetVersion(id, vid)
	assert.Equal(t, storage.ColumnarSnapshot, v.DataLocation.Kind)
	assert.Equal(t, transform.TypeClean, v.Pipeline.Transforms[0].TransformType)

	lf, err := r.LoadVersionData(id, vid)
	require.NoError(t, err)
	b, err := lf.Collect()
	require.NoError(t, err)
	names, _ := b.Column("name")
	cities, _ := b.Column("city")
	assert.Equal(t, "ALICE", names[0])
	assert.Equal(t, " Paris", cities[1], "unconfigured columns are left alone")
}

func TestApplyStage_AdvancedImputesMean(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)
	vid, err := r.ApplyStage(id, NewAdvancedExecutor(map[string]transform.ColumnConfig{"score": {}}, true))
	require.NoError(t, err)

	lf, err := r.LoadVersionData(id, vid)
	require.NoError(t, err)
	b, err := lf.Collect()
	require.NoError(t, err)
	scores, _ := b.Column("score")
	require.NotNil(t, scores[3])
	assert.InDelta(t, 705.5/9, scores[3], 1e-9)
}

func TestApplyStage_ValidateFailureCreatesNothing(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)

	exec := NewValidateExecutor(
		ColumnExists("name"),
		MaxNullPercent("score", 0),
		ValueRange("age", 30, 60),
	)
	_, err := r.ApplyStage(id, exec)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.Contains(t, err.Error(), "2 of 3 validation rules failed")
	details := errors.FlattenDetails(err)
	assert.Contains(t, details, "Column 'score' has 10.00% nulls")
	assert.Contains(t, details, "range [27, 52] not within")

	versions, _ := r.ListVersions(id)
	assert.Len(t, versions, 1)
}

func TestApplyStage_ValidatePasses(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)

	exec := NewValidateExecutor(
		ColumnExists("name"),
		RowCountRange(1, 100),
		NoDuplicates("id"),
		ValueRange("age", 18, 99),
		MatchesPattern("id", `^\d+$`),
		MaxNullPercent("age", 10),
	)
	vid, err := r.ApplyStage(id, exec)
	require.NoError(t, err)

	v, _ := r.GetVersion(id, vid)
	assert.Equal(t, stage.Validated, v.Stage)
	results, ok := v.Metadata.CustomFields["validation"].([]ValidationResult)
	require.True(t, ok)
	assert.Len(t, results, 6)
	for _, res := range results {
		assert.True(t, res.Passed, res.Message)
	}
}

func TestApplyStage_PublishRoutesThroughPublishVersion(t *testing.T) {
	r := newRegistry(t)
	id := createPeople(t, r)
	cleanedID, err := r.ApplyTransforms(id, trimPipeline(), stage.Cleaned)
	require.NoError(t, err)

	vid, err := r.ApplyStage(id, NewPublishExecutor(stage.View))
	require.NoError(t, err)
	v, _ := r.GetVersion(id, vid)
	cleaned, _ := r.GetVersion(id, cleanedID)
	assert.Equal(t, stage.Published, v.Stage)
	assert.Equal(t, cleaned.DataLocation, v.DataLocation)
	assert.Equal(t, "view", v.Metadata.CustomFields["publish_mode"])

	_, err = r.ApplyStage(id, NewPublishExecutor(stage.Snapshot))
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition), "published is terminal")
}

func TestValidate(t *testing.T) {
	lf := frame.ScanCSV(tesseratest.PeopleCSV(t, t.TempDir()), ',')

	results, err := Validate(lf, []ValidationRule{
		ColumnExists("missing"),
		NoDuplicates("missing"),
		NoDuplicates("age"),
		RowCountRange(11, 20),
	})
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.False(t, results[0].Passed)
	assert.Equal(t, "Column 'missing' does not exist", results[1].Message)
	assert.True(t, results[2].Passed)
	assert.False(t, results[3].Passed)
	assert.True(t, strings.HasPrefix(results[3].Message, "Row count 10 is not in range"))

	_, err = Validate(lf, []ValidationRule{{Kind: "sparkles", Column: "age"}})
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = Validate(lf, []ValidationRule{MatchesPattern("name", "([")})
	assert.True(t, errors.IsInvalidRequestError(err))
}
