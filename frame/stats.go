package frame

import (
	"math"
	"sort"

	"github.com/teranos/tessera/errors"
)

// EachFloat streams the non-null values of a numeric column.
func (lf LazyFrame) EachFloat(column string, fn func(float64)) error {
	schema, err := lf.Schema()
	if err != nil {
		return err
	}
	f, ok := schema.Lookup(column)
	if !ok {
		return errors.NewInvalidRequestError("column %q not found", column)
	}
	if !f.Type.IsNumeric() {
		return errors.NewInvalidRequestError("column %q is %s, not numeric", column, f.Type)
	}
	return lf.Select(column).Stream(DefaultBatchSize, func(b Batch) error {
		for _, v := range b.Columns[0] {
			if x, ok := ToFloat(v); ok {
				fn(x)
			}
		}
		return nil
	})
}

// Mean returns the mean of the non-null values; ok is false when there are none.
func (lf LazyFrame) Mean(column string) (mean float64, ok bool, err error) {
	var sum float64
	var n int
	if err := lf.EachFloat(column, func(x float64) { sum += x; n++ }); err != nil {
		return 0, false, err
	}
	if n == 0 {
		return 0, false, nil
	}
	return sum / float64(n), true, nil
}

// Min returns the smallest non-null value.
func (lf LazyFrame) Min(column string) (float64, bool, error) {
	return lf.fold(column, math.Min)
}

// Max returns the largest non-null value.
func (lf LazyFrame) Max(column string) (float64, bool, error) {
	return lf.fold(column, math.Max)
}

func (lf LazyFrame) fold(column string, pick func(a, b float64) float64) (float64, bool, error) {
	var acc float64
	seen := false
	err := lf.EachFloat(column, func(x float64) {
		if !seen {
			acc, seen = x, true
			return
		}
		acc = pick(acc, x)
	})
	return acc, seen, err
}

// StdDev returns the sample standard deviation (n-1), using Welford's update.
func (lf LazyFrame) StdDev(column string) (float64, bool, error) {
	var n int
	var mean, m2 float64
	err := lf.EachFloat(column, func(x float64) {
		n++
		delta := x - mean
		mean += delta / float64(n)
		m2 += delta * (x - mean)
	})
	if err != nil || n < 2 {
		return 0, false, err
	}
	return math.Sqrt(m2 / float64(n-1)), true, nil
}

// Median buffers the column's non-null values and returns their median.
func (lf LazyFrame) Median(column string) (float64, bool, error) {
	var values []float64
	if err := lf.EachFloat(column, func(x float64) { values = append(values, x) }); err != nil {
		return 0, false, err
	}
	if len(values) == 0 {
		return 0, false, nil
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid], true, nil
	}
	return (values[mid-1] + values[mid]) / 2, true, nil
}

// ColumnProfile summarizes one column.
type ColumnProfile struct {
	Name      string   `json:"name"`
	Type      DType    `json:"type"`
	NullCount int64    `json:"null_count"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Mean      *float64 `json:"mean,omitempty"`
}

// Profile scans every column once and returns per-column summaries plus the row count.
func (lf LazyFrame) Profile() ([]ColumnProfile, int64, error) {
	schema, err := lf.Schema()
	if err != nil {
		return nil, 0, err
	}
	type acc struct {
		nulls, n      int64
		sum, min, max float64
	}
	accs := make([]acc, len(schema))
	var rows int64
	err = lf.Stream(DefaultBatchSize, func(b Batch) error {
		rows += int64(b.Len())
		for c, col := range b.Columns {
			a := &accs[c]
			for _, v := range col {
				if v == nil {
					a.nulls++
					continue
				}
				x, ok := ToFloat(v)
				if !ok {
					continue
				}
				if a.n == 0 || x < a.min {
					a.min = x
				}
				if a.n == 0 || x > a.max {
					a.max = x
				}
				a.sum += x
				a.n++
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	profiles := make([]ColumnProfile, len(schema))
	for i, f := range schema {
		p := ColumnProfile{Name: f.Name, Type: f.Type, NullCount: accs[i].nulls}
		if a := accs[i]; a.n > 0 {
			mn, mx, mean := a.min, a.max, a.sum/float64(a.n)
			p.Min, p.Max, p.Mean = &mn, &mx, &mean
		}
		profiles[i] = p
	}
	return profiles, rows, nil
}
