package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/teranos/tessera/errors"
	"github.com/teranos/tessera/frame"
	"github.com/teranos/tessera/stage"
)

// Transform type tags.
const (
	TypeSelectColumns  = "select_columns"
	TypeRenameColumns  = "rename_columns"
	TypeDropNulls      = "drop_nulls"
	TypeSort           = "sort"
	TypeFilterRows     = "filter_rows"
	TypeTrimWhitespace = "trim_whitespace"
	TypeCastColumns    = "cast_columns"
	TypeClean          = "clean"
)

func init() {
	Register(Kind{
		Name: TypeSelectColumns,
		New:  newSelectColumns,
		Mode: func(map[string]any, stage.Stage) ApplyMode { return AtRead },
	})
	Register(Kind{Name: TypeRenameColumns, New: newRenameColumns})
	Register(Kind{Name: TypeDropNulls, New: newDropNulls})
	Register(Kind{Name: TypeSort, New: newSort})
	Register(Kind{Name: TypeFilterRows, New: newFilterRows})
	Register(Kind{Name: TypeTrimWhitespace, New: newTrimWhitespace})
	Register(Kind{Name: TypeCastColumns, New: newCastColumns})
	Register(Kind{Name: TypeClean, New: newClean, Mode: cleanMode})
}

// SelectColumns keeps only the named columns.
func SelectColumns(columns ...string) Spec {
	return NewSpec(TypeSelectColumns, map[string]any{"columns": columns})
}

// RenameColumns renames old to new for each mapping entry.
func RenameColumns(mapping map[string]string) Spec {
	return NewSpec(TypeRenameColumns, map[string]any{"mapping": mapping})
}

// DropNulls removes rows with a null in any of columns, or in any column when none are given.
func DropNulls(columns ...string) Spec {
	if len(columns) == 0 {
		return NewSpec(TypeDropNulls, nil)
	}
	return NewSpec(TypeDropNulls, map[string]any{"columns": columns})
}

// SortBy orders rows by the given columns; descending is aligned with columns.
func SortBy(columns []string, descending []bool) Spec {
	params := map[string]any{"by_columns": columns}
	if descending != nil {
		params["descending"] = descending
	}
	return NewSpec(TypeSort, params)
}

// FilterRows keeps rows matching a "column op literal" condition.
func FilterRows(condition string) Spec {
	return NewSpec(TypeFilterRows, map[string]any{"condition": condition})
}

// TrimWhitespace strips surrounding whitespace from text columns (all of them when none are named).
func TrimWhitespace(columns ...string) Spec {
	if len(columns) == 0 {
		return NewSpec(TypeTrimWhitespace, nil)
	}
	return NewSpec(TypeTrimWhitespace, map[string]any{"columns": columns})
}

// CastColumns converts columns to the named dtypes.
func CastColumns(types map[string]string) Spec {
	return NewSpec(TypeCastColumns, map[string]any{"columns": types})
}

type selectColumns struct {
	Columns []string `json:"columns"`
}

func newSelectColumns(params map[string]any) (Transform, error) {
	var t selectColumns
	if err := decodeParams(params, &t); err != nil {
		return nil, err
	}
	if len(t.Columns) == 0 {
		return nil, errors.New("missing 'columns' parameter")
	}
	return &t, nil
}

func (t *selectColumns) Name() string { return TypeSelectColumns }

func (t *selectColumns) Apply(lf frame.LazyFrame) (frame.LazyFrame, error) {
	return lf.Select(t.Columns...), nil
}

func (t *selectColumns) Parameters() map[string]any {
	return map[string]any{"columns": t.Columns}
}

func (t *selectColumns) Description() string {
	return fmt.Sprintf("Select %d columns", len(t.Columns))
}

type renameColumns struct {
	Mapping map[string]string `json:"mapping"`
}

func newRenameColumns(params map[string]any) (Transform, error) {
	var t renameColumns
	if err := decodeParams(params, &t); err != nil {
		return nil, err
	}
	if len(t.Mapping) == 0 {
		return nil, errors.New("missing 'mapping' parameter")
	}
	return &t, nil
}

func (t *renameColumns) Name() string { return TypeRenameColumns }

func (t *renameColumns) Apply(lf frame.LazyFrame) (frame.LazyFrame, error) {
	return lf.Rename(t.Mapping), nil
}

func (t *renameColumns) Parameters() map[string]any {
	return map[string]any{"mapping": t.Mapping}
}

func (t *renameColumns) Description() string {
	return fmt.Sprintf("Rename %d columns", len(t.Mapping))
}

type dropNulls struct {
	Columns []string `json:"columns,omitempty"`
}

func newDropNulls(params map[string]any) (Transform, error) {
	var t dropNulls
	if err := decodeParams(params, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *dropNulls) Name() string { return TypeDropNulls }

func (t *dropNulls) Apply(lf frame.LazyFrame) (frame.LazyFrame, error) {
	columns := t.Columns
	return lf.Filter(func(schema frame.Schema) (func([]any) bool, error) {
		var idx []int
		if len(columns) == 0 {
			idx = make([]int, len(schema))
			for i := range idx {
				idx[i] = i
			}
		} else {
			var err error
			if idx, err = schema.Indices(columns); err != nil {
				return nil, err
			}
		}
		return func(row []any) bool {
			for _, i := range idx {
				if row[i] == nil {
					return false
				}
			}
			return true
		}, nil
	}), nil
}

func (t *dropNulls) Parameters() map[string]any {
	if len(t.Columns) == 0 {
		return map[string]any{}
	}
	return map[string]any{"columns": t.Columns}
}

func (t *dropNulls) Description() string {
	if len(t.Columns) == 0 {
		return "Drop rows with any null"
	}
	return fmt.Sprintf("Drop nulls in %d columns", len(t.Columns))
}

type sortRows struct {
	ByColumns  []string `json:"by_columns"`
	Descending []bool   `json:"descending,omitempty"`
}

func newSort(params map[string]any) (Transform, error) {
	var t sortRows
	if err := decodeParams(params, &t); err != nil {
		return nil, err
	}
	if len(t.ByColumns) == 0 {
		return nil, errors.New("missing 'by_columns' parameter")
	}
	if len(t.Descending) > len(t.ByColumns) {
		return nil, errors.Newf("'descending' has %d entries for %d columns", len(t.Descending), len(t.ByColumns))
	}
	return &t, nil
}

func (t *sortRows) Name() string { return TypeSort }

func (t *sortRows) Apply(lf frame.LazyFrame) (frame.LazyFrame, error) {
	keys := make([]frame.SortKey, len(t.ByColumns))
	for i, c := range t.ByColumns {
		keys[i] = frame.SortKey{Column: c, Descending: i < len(t.Descending) && t.Descending[i]}
	}
	return lf.Sort(keys...), nil
}

func (t *sortRows) Parameters() map[string]any {
	return map[string]any{"by_columns": t.ByColumns, "descending": t.Descending}
}

func (t *sortRows) Description() string {
	return fmt.Sprintf("Sort by %d columns", len(t.ByColumns))
}

type trimWhitespace struct {
	Columns []string `json:"columns,omitempty"`
}

func newTrimWhitespace(params map[string]any) (Transform, error) {
	var t trimWhitespace
	if err := decodeParams(params, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *trimWhitespace) Name() string { return TypeTrimWhitespace }

func (t *trimWhitespace) Apply(lf frame.LazyFrame) (frame.LazyFrame, error) {
	schema, err := lf.Schema()
	if err != nil {
		return frame.LazyFrame{}, err
	}
	columns := t.Columns
	if len(columns) == 0 {
		for _, f := range schema {
			if f.Type == frame.String {
				columns = append(columns, f.Name)
			}
		}
	}
	for _, c := range columns {
		f, ok := schema.Lookup(c)
		if !ok {
			return frame.LazyFrame{}, errors.NewInvalidRequestError("column %q not found", c)
		}
		if f.Type != frame.String {
			continue
		}
		lf = lf.MapColumnKeepType(c, trimValue)
	}
	return lf, nil
}

func trimValue(v any) (any, error) {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s), nil
	}
	return v, nil
}

func (t *trimWhitespace) Parameters() map[string]any {
	if len(t.Columns) == 0 {
		return map[string]any{}
	}
	return map[string]any{"columns": t.Columns}
}

func (t *trimWhitespace) Description() string {
	if len(t.Columns) == 0 {
		return "Trim whitespace in all text columns"
	}
	return fmt.Sprintf("Trim whitespace in %d columns", len(t.Columns))
}

type castColumns struct {
	Columns map[string]string `json:"columns"`
	types   map[string]frame.DType
}

func newCastColumns(params map[string]any) (Transform, error) {
	var t castColumns
	if err := decodeParams(params, &t); err != nil {
		return nil, err
	}
	if len(t.Columns) == 0 {
		return nil, errors.New("missing 'columns' parameter")
	}
	t.types = make(map[string]frame.DType, len(t.Columns))
	for c, name := range t.Columns {
		d, err := frame.ParseDType(name)
		if err != nil {
			return nil, errors.Wrapf(err, "column %q", c)
		}
		t.types[c] = d
	}
	return &t, nil
}

func (t *castColumns) Name() string { return TypeCastColumns }

func (t *castColumns) Apply(lf frame.LazyFrame) (frame.LazyFrame, error) {
	names := make([]string, 0, len(t.types))
	for c := range t.types {
		names = append(names, c)
	}
	// map order is random; keep the op list deterministic
	sort.Strings(names)
	for _, c := range names {
		lf = lf.Cast(c, t.types[c])
	}
	return lf, nil
}

func (t *castColumns) Parameters() map[string]any {
	return map[string]any{"columns": t.Columns}
}

func (t *castColumns) Description() string {
	return fmt.Sprintf("Cast %d columns", len(t.Columns))
}
