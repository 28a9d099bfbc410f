package frame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tessera/errors"
)

func sampleFrame(t *testing.T) LazyFrame {
	t.Helper()
	schema := Schema{{"id", Int64}, {"name", String}, {"score", Float64}}
	lf, err := FromRows(schema, [][]any{
		{int64(3), "carol", 91.0},
		{int64(1), "alice", nil},
		{int64(2), "bob", 72.5},
		{int64(4), nil, 60.0},
	})
	require.NoError(t, err)
	return lf
}

func TestLazyFrame_IsLazyAndImmutable(t *testing.T) {
	base := sampleFrame(t)
	selected := base.Select("name")

	assert.Empty(t, base.Ops(), "deriving a frame must not change its parent")
	assert.Equal(t, []string{"select"}, selected.Ops())

	schema, err := base.Schema()
	require.NoError(t, err)
	assert.Len(t, schema, 3)
}

func TestSelectAndRename(t *testing.T) {
	lf := sampleFrame(t).Select("score", "id").Rename(map[string]string{"score": "points"})

	schema, err := lf.Schema()
	require.NoError(t, err)
	assert.Equal(t, Schema{{"points", Float64}, {"id", Int64}}, schema)

	b, err := lf.Collect()
	require.NoError(t, err)
	assert.Equal(t, []any{91.0, nil, 72.5, 60.0}, b.Columns[0])

	_, err = sampleFrame(t).Select("missing").Schema()
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = sampleFrame(t).Rename(map[string]string{"id": "name"}).Schema()
	assert.Error(t, err, "rename onto an existing column must fail")
}

func TestFilterLimitCount(t *testing.T) {
	notNull := func(col string) Predicate {
		return func(s Schema) (func([]any) bool, error) {
			i := s.Index(col)
			if i < 0 {
				return nil, errors.NewInvalidRequestError("column %q not found", col)
			}
			return func(row []any) bool { return row[i] != nil }, nil
		}
	}

	lf := sampleFrame(t).Filter(notNull("score"))
	n, err := lf.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	head, err := sampleFrame(t).Head(2)
	require.NoError(t, err)
	assert.Equal(t, 2, head.Len())

	n, err = sampleFrame(t).Limit(10).Count()
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
}

func TestSort(t *testing.T) {
	b, err := sampleFrame(t).Sort(SortKey{Column: "score", Descending: true}).Collect()
	require.NoError(t, err)
	assert.Equal(t, []any{91.0, 72.5, 60.0, nil}, b.Columns[2], "nulls sort last")

	// Sort followed by limit still flushes the sorted rows
	b, err = sampleFrame(t).Sort(SortKey{Column: "id"}).Limit(2).Collect()
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2)}, b.Columns[0])

	// Limit before sort only sees the first rows
	b, err = sampleFrame(t).Limit(2).Sort(SortKey{Column: "id"}).Collect()
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(3)}, b.Columns[0])
}

func TestSort_SmallBatches(t *testing.T) {
	var got []any
	err := sampleFrame(t).Sort(SortKey{Column: "id"}).Stream(1, func(b Batch) error {
		assert.Equal(t, 1, b.Len())
		got = append(got, b.Columns[0]...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3), int64(4)}, got)
}

func TestCastAndMap(t *testing.T) {
	lf := sampleFrame(t).Cast("id", String).MapColumnKeepType("name", func(v any) (any, error) {
		if s, ok := v.(string); ok {
			return s + "!", nil
		}
		return v, nil
	})
	b, err := lf.Collect()
	require.NoError(t, err)
	assert.Equal(t, "3", b.Columns[0][0])
	assert.Equal(t, "carol!", b.Columns[1][0])
	assert.Nil(t, b.Columns[1][3])

	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), CastValue("2024-03-01", Datetime))
	assert.Nil(t, CastValue("nope", Int64))
	assert.Equal(t, int64(7), CastValue("7", Int64))
	assert.Equal(t, true, CastValue("TRUE", Boolean))
}

func TestFillNull(t *testing.T) {
	lf := sampleFrame(t).FillNull("score", func(input LazyFrame) (any, error) {
		mean, _, err := input.Mean("score")
		return mean, err
	})
	b, err := lf.Collect()
	require.NoError(t, err)
	assert.InDelta(t, (91.0+72.5+60.0)/3, b.Columns[2][1], 1e-9)
}

func TestStatistics(t *testing.T) {
	lf := sampleFrame(t)

	mean, ok, err := lf.Mean("score")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 74.5, mean, 1e-9)

	mn, _, err := lf.Min("id")
	require.NoError(t, err)
	assert.Equal(t, 1.0, mn)

	mx, _, err := lf.Max("id")
	require.NoError(t, err)
	assert.Equal(t, 4.0, mx)

	med, _, err := lf.Median("id")
	require.NoError(t, err)
	assert.Equal(t, 2.5, med)

	sd, ok, err := lf.StdDev("id")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1.2909944, sd, 1e-6)

	_, _, err = lf.Mean("name")
	assert.True(t, errors.IsInvalidRequestError(err), "mean of a text column is a caller error")
}

func TestProfile(t *testing.T) {
	profiles, rows, err := sampleFrame(t).Profile()
	require.NoError(t, err)
	assert.EqualValues(t, 4, rows)
	require.Len(t, profiles, 3)
	assert.EqualValues(t, 1, profiles[1].NullCount)
	assert.Nil(t, profiles[1].Mean)
	require.NotNil(t, profiles[2].Max)
	assert.Equal(t, 91.0, *profiles[2].Max)
}

func TestParseDType(t *testing.T) {
	for in, want := range map[string]DType{
		"int": Int64, "Float64": Float64, "bool": Boolean, "utf8": String, "timestamp": Datetime,
	} {
		got, err := ParseDType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDType("decimal(10,2)")
	assert.Error(t, err)
}
