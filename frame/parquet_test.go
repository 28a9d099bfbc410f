package frame

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParquet_RoundTrip(t *testing.T) {
	when := time.Date(2023, 5, 6, 7, 8, 9, 0, time.UTC)
	schema := Schema{
		{"order id", Int64},
		{"Customer", String},
		{"amount", Float64},
		{"paid", Boolean},
		{"placed_at", Datetime},
	}
	lf, err := FromRows(schema, [][]any{
		{int64(1), "ada", 10.5, true, when},
		{int64(2), nil, nil, false, nil},
		{int64(3), "grace", 99.0, nil, when.Add(time.Hour)},
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "orders.parquet")
	rows, err := WriteParquet(lf, path, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, rows)

	back := ScanParquet(path)
	gotSchema, err := back.Schema()
	require.NoError(t, err)
	assert.Equal(t, schema, gotSchema, "logical names and types survive physical renaming")

	n, err := back.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	b, err := back.Collect()
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, b.Columns[0])
	assert.Equal(t, []any{"ada", nil, "grace"}, b.Columns[1])
	assert.Equal(t, []any{10.5, nil, 99.0}, b.Columns[2])
	assert.Equal(t, []any{true, false, nil}, b.Columns[3])
	assert.Equal(t, when, b.Columns[4][0])
	assert.Nil(t, b.Columns[4][1])
}

func TestParquet_ProjectionAndBatches(t *testing.T) {
	schema := Schema{{"a", Int64}, {"b", String}}
	rows := make([][]any, 0, 25)
	for i := 0; i < 25; i++ {
		rows = append(rows, []any{int64(i), "x"})
	}
	lf, err := FromRows(schema, rows)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "wide.parquet")
	_, err = WriteParquet(lf, path, 10)
	require.NoError(t, err)

	var sizes []int
	err = ScanParquet(path).Select("a").Stream(7, func(b Batch) error {
		assert.Equal(t, Schema{{"a", Int64}}, b.Schema)
		sizes = append(sizes, b.Len())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{7, 7, 7, 4}, sizes)

	mean, ok, err := ScanParquet(path).Mean("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 12.0, mean)
}

func TestWriteParquet_RejectsBadRowGroupSize(t *testing.T) {
	lf, err := FromRows(Schema{{"a", Int64}}, [][]any{{int64(1)}})
	require.NoError(t, err)
	_, err = WriteParquet(lf, filepath.Join(t.TempDir(), "x.parquet"), 0)
	assert.Error(t, err)
}
