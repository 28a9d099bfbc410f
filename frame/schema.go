package frame

import (
	"github.com/teranos/tessera/errors"
)

// Field is a named, typed column.
type Field struct {
	Name string `json:"name"`
	Type DType  `json:"type"`
}

// Schema is an ordered list of fields with unique names.
type Schema []Field

// Index returns the position of name, or -1.
func (s Schema) Index(name string) int {
	for i, f := range s {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Lookup returns the field called name.
func (s Schema) Lookup(name string) (Field, bool) {
	if i := s.Index(name); i >= 0 {
		return s[i], true
	}
	return Field{}, false
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// Indices resolves names to positions, failing on the first unknown column.
func (s Schema) Indices(names []string) ([]int, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		idx[i] = s.Index(n)
		if idx[i] < 0 {
			return nil, errors.NewInvalidRequestError("column %q not found", n)
		}
	}
	return idx, nil
}

// Project returns the sub-schema for names, in the order given.
func (s Schema) Project(names []string) (Schema, error) {
	idx, err := s.Indices(names)
	if err != nil {
		return nil, err
	}
	out := make(Schema, len(idx))
	for i, j := range idx {
		out[i] = s[j]
	}
	return out, nil
}

// Equal reports whether both schemas have the same fields in the same order.
func (s Schema) Equal(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Batch is a columnar chunk of rows. Columns[i] holds the values of Schema[i];
// each value is int64, float64, bool, string, time.Time or nil.
type Batch struct {
	Schema  Schema
	Columns [][]any
}

// NewBatch allocates an empty batch with capacity for n rows.
func NewBatch(schema Schema, n int) Batch {
	cols := make([][]any, len(schema))
	for i := range cols {
		cols[i] = make([]any, 0, n)
	}
	return Batch{Schema: schema, Columns: cols}
}

// Len returns the number of rows.
func (b Batch) Len() int {
	if len(b.Columns) == 0 {
		return 0
	}
	return len(b.Columns[0])
}

// Row copies row i out of the batch.
func (b Batch) Row(i int) []any {
	row := make([]any, len(b.Columns))
	for c := range b.Columns {
		row[c] = b.Columns[c][i]
	}
	return row
}

// AppendRow adds one row; len(row) must match the schema.
func (b *Batch) AppendRow(row []any) {
	for c := range b.Columns {
		b.Columns[c] = append(b.Columns[c], row[c])
	}
}

// Column returns the values of the named column.
func (b Batch) Column(name string) ([]any, bool) {
	i := b.Schema.Index(name)
	if i < 0 {
		return nil, false
	}
	return b.Columns[i], true
}

// Slice returns rows [from, to) sharing the underlying storage.
func (b Batch) Slice(from, to int) Batch {
	cols := make([][]any, len(b.Columns))
	for c := range b.Columns {
		cols[c] = b.Columns[c][from:to]
	}
	return Batch{Schema: b.Schema, Columns: cols}
}
