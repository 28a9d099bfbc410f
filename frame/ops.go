package frame

import (
	"sort"
	"strings"
	"time"

	"github.com/teranos/tessera/errors"
)

// streaming adapts a per-batch function into a processor with nothing to flush.
type streaming func(b Batch, emit emitFunc) error

func (s streaming) push(b Batch, emit emitFunc) error { return s(b, emit) }
func (s streaming) finish(emitFunc) error              { return nil }

// Select keeps the named columns in the given order.
func (lf LazyFrame) Select(columns ...string) LazyFrame {
	cols := append([]string(nil), columns...)
	return lf.then(op{
		name:       "select",
		projection: cols,
		schema: func(in Schema) (Schema, error) {
			seen := make(map[string]bool, len(cols))
			for _, c := range cols {
				if seen[c] {
					return nil, errors.NewInvalidRequestError("column %q selected twice", c)
				}
				seen[c] = true
			}
			return in.Project(cols)
		},
		build: func(_ LazyFrame, in Schema, _ int) (processor, error) {
			idx, err := in.Indices(cols)
			if err != nil {
				return nil, err
			}
			out, _ := in.Project(cols)
			return streaming(func(b Batch, emit emitFunc) error {
				picked := make([][]any, len(idx))
				for i, j := range idx {
					picked[i] = b.Columns[j]
				}
				return emit(Batch{Schema: out, Columns: picked})
			}), nil
		},
	})
}

// Rename renames columns; every key must exist and the result must stay unique.
func (lf LazyFrame) Rename(mapping map[string]string) LazyFrame {
	m := make(map[string]string, len(mapping))
	for k, v := range mapping {
		m[k] = v
	}
	schemaFn := func(in Schema) (Schema, error) {
		for old := range m {
			if in.Index(old) < 0 {
				return nil, errors.NewInvalidRequestError("cannot rename missing column %q", old)
			}
		}
		out := make(Schema, len(in))
		seen := make(map[string]bool, len(in))
		for i, f := range in {
			if n, ok := m[f.Name]; ok {
				f.Name = n
			}
			if seen[f.Name] {
				return nil, errors.NewInvalidRequestError("rename produces duplicate column %q", f.Name)
			}
			seen[f.Name] = true
			out[i] = f
		}
		return out, nil
	}
	return lf.then(op{
		name:   "rename",
		schema: schemaFn,
		build: func(_ LazyFrame, in Schema, _ int) (processor, error) {
			out, err := schemaFn(in)
			if err != nil {
				return nil, err
			}
			return streaming(func(b Batch, emit emitFunc) error {
				return emit(Batch{Schema: out, Columns: b.Columns})
			}), nil
		},
	})
}

// MapColumn replaces the values of column with fn(value), typed as to.
func (lf LazyFrame) MapColumn(column string, to DType, fn func(any) (any, error)) LazyFrame {
	return lf.mapColumn("map", column, func(DType) DType { return to }, fn)
}

// MapColumnKeepType is MapColumn for functions that preserve the column type.
func (lf LazyFrame) MapColumnKeepType(column string, fn func(any) (any, error)) LazyFrame {
	return lf.mapColumn("map", column, func(d DType) DType { return d }, fn)
}

// Cast converts column to dtype; values that do not convert become null.
func (lf LazyFrame) Cast(column string, to DType) LazyFrame {
	return lf.mapColumn("cast", column, func(DType) DType { return to }, func(v any) (any, error) {
		return CastValue(v, to), nil
	})
}

func (lf LazyFrame) mapColumn(name, column string, typeFn func(DType) DType, fn func(any) (any, error)) LazyFrame {
	schemaFn := func(in Schema) (Schema, error) {
		i := in.Index(column)
		if i < 0 {
			return nil, errors.NewInvalidRequestError("column %q not found", column)
		}
		out := append(Schema(nil), in...)
		out[i].Type = typeFn(in[i].Type)
		return out, nil
	}
	return lf.then(op{
		name:   name,
		schema: schemaFn,
		build: func(_ LazyFrame, in Schema, _ int) (processor, error) {
			out, err := schemaFn(in)
			if err != nil {
				return nil, err
			}
			i := in.Index(column)
			return streaming(func(b Batch, emit emitFunc) error {
				src := b.Columns[i]
				mapped := make([]any, len(src))
				for r, v := range src {
					m, err := fn(v)
					if err != nil {
						return errors.Wrapf(err, "column %q", column)
					}
					mapped[r] = m
				}
				cols := append([][]any(nil), b.Columns...)
				cols[i] = mapped
				return emit(Batch{Schema: out, Columns: cols})
			}), nil
		},
	})
}

// Predicate binds to a schema once and is then evaluated per row.
type Predicate func(schema Schema) (func(row []any) bool, error)

// Filter keeps the rows for which the predicate holds.
func (lf LazyFrame) Filter(pred Predicate) LazyFrame {
	return lf.then(op{
		name:   "filter",
		schema: func(in Schema) (Schema, error) { _, err := pred(in); return in, err },
		build: func(_ LazyFrame, in Schema, _ int) (processor, error) {
			keep, err := pred(in)
			if err != nil {
				return nil, err
			}
			row := make([]any, len(in))
			return streaming(func(b Batch, emit emitFunc) error {
				out := NewBatch(in, b.Len())
				for r := 0; r < b.Len(); r++ {
					for c := range b.Columns {
						row[c] = b.Columns[c][r]
					}
					if keep(row) {
						out.AppendRow(row)
					}
				}
				return emit(out)
			}), nil
		},
	})
}

// Limit keeps the first n rows and stops reading once it has them.
func (lf LazyFrame) Limit(n int) LazyFrame {
	return lf.then(op{
		name:   "limit",
		schema: func(in Schema) (Schema, error) { return in, nil },
		build: func(LazyFrame, Schema, int) (processor, error) {
			remaining := n
			return streaming(func(b Batch, emit emitFunc) error {
				if remaining <= 0 {
					return errStop
				}
				if b.Len() > remaining {
					b = b.Slice(0, remaining)
				}
				remaining -= b.Len()
				if err := emit(b); err != nil {
					return err
				}
				if remaining <= 0 {
					return errStop
				}
				return nil
			}), nil
		},
	})
}

// SortKey orders by one column. Nulls always sort last.
type SortKey struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending,omitempty"`
}

// Sort orders rows by the keys, stably. It buffers its whole input.
func (lf LazyFrame) Sort(keys ...SortKey) LazyFrame {
	keys = append([]SortKey(nil), keys...)
	return lf.then(op{
		name: "sort",
		schema: func(in Schema) (Schema, error) {
			if len(keys) == 0 {
				return nil, errors.NewInvalidRequestError("sort needs at least one column")
			}
			for _, k := range keys {
				if in.Index(k.Column) < 0 {
					return nil, errors.NewInvalidRequestError("column %q not found", k.Column)
				}
			}
			return in, nil
		},
		build: func(_ LazyFrame, in Schema, batchSize int) (processor, error) {
			idx := make([]int, len(keys))
			for i, k := range keys {
				idx[i] = in.Index(k.Column)
			}
			return &sorter{keys: keys, idx: idx, buf: NewBatch(in, 0), batchSize: batchSize}, nil
		},
	})
}

type sorter struct {
	keys      []SortKey
	idx       []int
	buf       Batch
	batchSize int
}

func (s *sorter) push(b Batch, _ emitFunc) error {
	for c := range s.buf.Columns {
		s.buf.Columns[c] = append(s.buf.Columns[c], b.Columns[c]...)
	}
	return nil
}

func (s *sorter) finish(emit emitFunc) error {
	n := s.buf.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		for k, key := range s.keys {
			col := s.buf.Columns[s.idx[k]]
			va, vb := col[order[a]], col[order[b]]
			if va == nil || vb == nil {
				if (va == nil) == (vb == nil) {
					continue
				}
				return vb == nil
			}
			c := Compare(va, vb)
			if c == 0 {
				continue
			}
			if key.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	for from := 0; from < n; from += s.batchSize {
		to := from + s.batchSize
		if to > n {
			to = n
		}
		out := NewBatch(s.buf.Schema, to-from)
		for _, r := range order[from:to] {
			for c := range out.Columns {
				out.Columns[c] = append(out.Columns[c], s.buf.Columns[c][r])
			}
		}
		if err := emit(out); err != nil {
			return err
		}
	}
	s.buf = NewBatch(s.buf.Schema, 0)
	return nil
}

// Compare orders two non-null cells of the same column type.
func Compare(a, b any) int {
	if fa, ok := ToFloat(a); ok {
		if fb, ok := ToFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(FormatValue(a), FormatValue(b))
}

// FillNull replaces nulls in column with the value computed by fill, which is
// evaluated once against the input of this operation when the frame is run.
func (lf LazyFrame) FillNull(column string, fill func(input LazyFrame) (any, error)) LazyFrame {
	return lf.then(op{
		name: "fill_null",
		schema: func(in Schema) (Schema, error) {
			if in.Index(column) < 0 {
				return nil, errors.NewInvalidRequestError("column %q not found", column)
			}
			return in, nil
		},
		build: func(upstream LazyFrame, in Schema, _ int) (processor, error) {
			i := in.Index(column)
			value, err := fill(upstream)
			if err != nil {
				return nil, errors.Wrapf(err, "compute fill value for %q", column)
			}
			value = CastValue(value, in[i].Type)
			return streaming(func(b Batch, emit emitFunc) error {
				if value == nil {
					return emit(b)
				}
				filled := make([]any, b.Len())
				for r, v := range b.Columns[i] {
					if v == nil {
						v = value
					}
					filled[r] = v
				}
				cols := append([][]any(nil), b.Columns...)
				cols[i] = filled
				return emit(Batch{Schema: b.Schema, Columns: cols})
			}), nil
		},
	})
}
