// Package frame is a small lazy columnar engine.
//
// A LazyFrame is an immutable description of a computation: a Source plus an
// ordered list of operations. Nothing is read until Stream, Collect or Count is
// called, and then data flows through the operations batch by batch, so results
// larger than memory can be written out without being buffered (Sort is the one
// operation that has to see all of its input).
package frame

import (
	"github.com/teranos/tessera/errors"
)

// DefaultBatchSize is the number of rows per batch when the caller does not choose.
const DefaultBatchSize = 8192

// Source produces the rows a LazyFrame starts from.
type Source interface {
	Schema() (Schema, error)
	// Scan streams the named columns, in that order, or every column when
	// columns is nil, in batches of at most batchSize rows. An error returned
	// by fn stops the scan and is returned unchanged.
	Scan(columns []string, batchSize int, fn func(Batch) error) error
}

// RowCounter is implemented by sources that know their row count without a scan.
type RowCounter interface {
	CountRows() (int64, error)
}

type emitFunc func(Batch) error

// processor is one running operation. push may emit any number of batches;
// finish flushes whatever a blocking operation held back.
type processor interface {
	push(b Batch, emit emitFunc) error
	finish(emit emitFunc) error
}

type op struct {
	name   string
	schema func(in Schema) (Schema, error)
	build  func(upstream LazyFrame, in Schema, batchSize int) (processor, error)
	// projection is set by Select so a leading select prunes columns at the source
	projection []string
}

// errStop unwinds a scan once a downstream limit has all the rows it needs.
var errStop = errors.New("frame: stop scan")

// LazyFrame is a deferred computation over a Source. The zero value is not usable.
type LazyFrame struct {
	src Source
	ops []op
}

// New starts a computation from src.
func New(src Source) LazyFrame {
	return LazyFrame{src: src}
}

// IsZero reports whether the frame has no source.
func (lf LazyFrame) IsZero() bool {
	return lf.src == nil
}

// Ops returns the names of the pending operations, oldest first.
func (lf LazyFrame) Ops() []string {
	names := make([]string, len(lf.ops))
	for i, o := range lf.ops {
		names[i] = o.name
	}
	return names
}

func (lf LazyFrame) then(o op) LazyFrame {
	ops := make([]op, len(lf.ops), len(lf.ops)+1)
	copy(ops, lf.ops)
	return LazyFrame{src: lf.src, ops: append(ops, o)}
}

// Schema resolves the output schema without reading any rows.
func (lf LazyFrame) Schema() (Schema, error) {
	if lf.src == nil {
		return nil, errors.AssertionFailedf("frame: computation has no source")
	}
	s, err := lf.src.Schema()
	if err != nil {
		return nil, err
	}
	for _, o := range lf.ops {
		if s, err = o.schema(s); err != nil {
			return nil, errors.Wrapf(err, "%s", o.name)
		}
	}
	return s, nil
}

// Stream runs the computation and hands each non-empty output batch to fn.
func (lf LazyFrame) Stream(batchSize int, fn func(Batch) error) error {
	if lf.src == nil {
		return errors.AssertionFailedf("frame: computation has no source")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	in, err := lf.src.Schema()
	if err != nil {
		return err
	}
	var projection []string
	if len(lf.ops) > 0 && lf.ops[0].projection != nil {
		projection = lf.ops[0].projection
		if in, err = in.Project(projection); err != nil {
			return errors.Wrap(err, lf.ops[0].name)
		}
	}

	procs := make([]processor, len(lf.ops))
	for i, o := range lf.ops {
		p, err := o.build(LazyFrame{src: lf.src, ops: lf.ops[:i]}, in, batchSize)
		if err != nil {
			return errors.Wrapf(err, "%s", o.name)
		}
		procs[i] = p
		if in, err = o.schema(in); err != nil {
			return errors.Wrapf(err, "%s", o.name)
		}
	}

	emits := make([]emitFunc, len(procs)+1)
	emits[len(procs)] = func(b Batch) error {
		if b.Len() == 0 {
			return nil
		}
		return fn(b)
	}
	for i := len(procs) - 1; i >= 0; i-- {
		p, next := procs[i], emits[i+1]
		emits[i] = func(b Batch) error { return p.push(b, next) }
	}

	if err := lf.src.Scan(projection, batchSize, emits[0]); err != nil && !errors.Is(err, errStop) {
		return err
	}
	// Blocking operations flush front to back so each flush passes through everything after it.
	for i, p := range procs {
		if err := p.finish(emits[i+1]); err != nil && !errors.Is(err, errStop) {
			return err
		}
	}
	return nil
}

// Collect materializes the whole result as one batch.
func (lf LazyFrame) Collect() (Batch, error) {
	schema, err := lf.Schema()
	if err != nil {
		return Batch{}, err
	}
	out := NewBatch(schema, 0)
	err = lf.Stream(DefaultBatchSize, func(b Batch) error {
		for c := range out.Columns {
			out.Columns[c] = append(out.Columns[c], b.Columns[c]...)
		}
		return nil
	})
	if err != nil {
		return Batch{}, err
	}
	return out, nil
}

// Head collects at most n rows.
func (lf LazyFrame) Head(n int) (Batch, error) {
	return lf.Limit(n).Collect()
}

// Count returns the number of result rows, asking the source directly when no
// operation could change the count.
func (lf LazyFrame) Count() (int64, error) {
	if counter, ok := lf.src.(RowCounter); ok && lf.rowPreserving() {
		return counter.CountRows()
	}
	var n int64
	err := lf.Stream(DefaultBatchSize, func(b Batch) error {
		n += int64(b.Len())
		return nil
	})
	return n, err
}

func (lf LazyFrame) rowPreserving() bool {
	for _, o := range lf.ops {
		switch o.name {
		case "select", "rename", "map", "cast", "sort", "fill_null":
		default:
			return false
		}
	}
	return true
}
