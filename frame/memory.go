package frame

import (
	"github.com/teranos/tessera/errors"
)

type memorySource struct {
	batch Batch
}

// FromBatch serves an already materialized batch.
func FromBatch(b Batch) LazyFrame {
	return New(&memorySource{batch: b})
}

// FromRows builds a frame from row-major values, checking row widths.
func FromRows(schema Schema, rows [][]any) (LazyFrame, error) {
	b := NewBatch(schema, len(rows))
	for i, row := range rows {
		if len(row) != len(schema) {
			return LazyFrame{}, errors.NewInvalidRequestError("row %d has %d values, schema has %d columns", i, len(row), len(schema))
		}
		b.AppendRow(row)
	}
	return FromBatch(b), nil
}

func (m *memorySource) Schema() (Schema, error) {
	return m.batch.Schema, nil
}

func (m *memorySource) CountRows() (int64, error) {
	return int64(m.batch.Len()), nil
}

func (m *memorySource) Scan(columns []string, batchSize int, fn func(Batch) error) error {
	b := m.batch
	if columns != nil {
		idx, err := b.Schema.Indices(columns)
		if err != nil {
			return err
		}
		schema, _ := b.Schema.Project(columns)
		cols := make([][]any, len(idx))
		for i, j := range idx {
			cols[i] = b.Columns[j]
		}
		b = Batch{Schema: schema, Columns: cols}
	}
	for from := 0; from < b.Len(); from += batchSize {
		to := from + batchSize
		if to > b.Len() {
			to = b.Len()
		}
		if err := fn(b.Slice(from, to)); err != nil {
			return err
		}
	}
	return nil
}
