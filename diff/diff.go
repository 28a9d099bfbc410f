// Package diff compares two dataset versions through their lazy frames.
//
// The comparison is schema-level, row-count-level and statistical. Row-level
// value diffing with key matching is not attempted, so SampleChanges is always
// empty.
package diff

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/tessera/errors"
	"github.com/teranos/tessera/frame"
	"github.com/teranos/tessera/logger"
)

// DefaultMaxStatColumns bounds how many common numeric columns get statistics.
const DefaultMaxStatColumns = 20

// Side is one version participating in a diff.
type Side struct {
	VersionID string
	Data      frame.LazyFrame
}

// Summary is the result of comparing two versions.
type Summary struct {
	Version1ID         string              `json:"version1_id"`
	Version2ID         string              `json:"version2_id"`
	SchemaChanges      SchemaChanges       `json:"schema_changes"`
	RowChanges         RowChanges          `json:"row_changes"`
	StatisticalChanges []StatisticalChange `json:"statistical_changes"`
	SampleChanges      []SampleChange      `json:"sample_changes"`
}

// SchemaChanges lists column-level differences. Renames are never detected;
// a renamed column shows up as one removal plus one addition.
type SchemaChanges struct {
	ColumnsAdded   []string     `json:"columns_added"`
	ColumnsRemoved []string     `json:"columns_removed"`
	ColumnsRenamed [][2]string  `json:"columns_renamed"`
	TypeChanges    []TypeChange `json:"type_changes"`
}

// TypeChange records a column whose type differs between versions.
type TypeChange struct {
	Column  string `json:"column"`
	OldType string `json:"old_type"`
	NewType string `json:"new_type"`
}

// RowChanges holds exact row counts. At most one of RowsAdded and RowsRemoved
// is set, and only when the counts differ.
type RowChanges struct {
	RowsV1       int64  `json:"rows_v1"`
	RowsV2       int64  `json:"rows_v2"`
	RowsAdded    *int64 `json:"rows_added"`
	RowsRemoved  *int64 `json:"rows_removed"`
	RowsModified *int64 `json:"rows_modified"`
}

// StatisticalChange is a metric that moved between versions.
type StatisticalChange struct {
	Column        string   `json:"column"`
	Metric        string   `json:"metric"`
	ValueV1       *float64 `json:"value_v1"`
	ValueV2       *float64 `json:"value_v2"`
	ChangePercent *float64 `json:"change_percent"`
}

// SampleChange is a single changed cell.
type SampleChange struct {
	RowIndex int64  `json:"row_index"`
	Column   string `json:"column"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// Statistic computes one metric for a numeric column. ok is false when the
// column has no value for it (e.g. all nulls).
type Statistic struct {
	Name    string
	Compute func(lf frame.LazyFrame, column string) (value float64, ok bool, err error)
}

var builtinStatistics = map[string]Statistic{
	"mean":   {Name: "mean", Compute: frame.LazyFrame.Mean},
	"min":    {Name: "min", Compute: frame.LazyFrame.Min},
	"max":    {Name: "max", Compute: frame.LazyFrame.Max},
	"stddev": {Name: "stddev", Compute: frame.LazyFrame.StdDev},
	"median": {Name: "median", Compute: frame.LazyFrame.Median},
}

// StatisticNames returns the names accepted by LookupStatistic, sorted.
func StatisticNames() []string {
	names := make([]string, 0, len(builtinStatistics))
	for name := range builtinStatistics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupStatistic returns a built-in statistic by name.
func LookupStatistic(name string) (Statistic, error) {
	s, ok := builtinStatistics[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Statistic{}, errors.WithHintf(
			errors.NewInvalidRequestError("unknown statistic %q", name),
			"available: %s", strings.Join(StatisticNames(), ", "))
	}
	return s, nil
}

// Statistics resolves a list of names, e.g. from configuration.
func Statistics(names ...string) ([]Statistic, error) {
	stats := make([]Statistic, 0, len(names))
	for _, n := range names {
		s, err := LookupStatistic(n)
		if err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, nil
}

type options struct {
	statistics []Statistic
	maxColumns int
	logger     *zap.SugaredLogger
}

// Option configures Compute.
type Option func(*options)

// WithStatistics replaces the default statistic set (mean only).
func WithStatistics(stats ...Statistic) Option {
	return func(o *options) {
		if len(stats) > 0 {
			o.statistics = stats
		}
	}
}

// WithMaxColumns overrides DefaultMaxStatColumns. Non-positive values are ignored.
func WithMaxColumns(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxColumns = n
		}
	}
}

// WithLogger sets the logger used for skipped per-column statistics.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = l }
}

type sideInfo struct {
	schema frame.Schema
	rows   int64
}

func inspect(s Side) (sideInfo, error) {
	schema, err := s.Data.Schema()
	if err != nil {
		return sideInfo{}, errors.Wrapf(err, "failed to read schema of version %s", s.VersionID)
	}
	rows, err := s.Data.Count()
	if err != nil {
		return sideInfo{}, errors.Wrapf(err, "failed to count rows of version %s", s.VersionID)
	}
	return sideInfo{schema: schema, rows: rows}, nil
}

// Compute compares a (v1) against b (v2).
func Compute(a, b Side, opts ...Option) (*Summary, error) {
	o := options{
		statistics: []Statistic{builtinStatistics["mean"]},
		maxColumns: DefaultMaxStatColumns,
		logger:     logger.ComponentLogger("diff"),
	}
	for _, opt := range opts {
		opt(&o)
	}

	var v1, v2 sideInfo
	var g errgroup.Group
	g.Go(func() (err error) {
		v1, err = inspect(a)
		return err
	})
	g.Go(func() (err error) {
		v2, err = inspect(b)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &Summary{
		Version1ID:    a.VersionID,
		Version2ID:    b.VersionID,
		SchemaChanges: schemaChanges(v1.schema, v2.schema),
		RowChanges:    rowChanges(v1.rows, v2.rows),
		SampleChanges: []SampleChange{},
	}
	summary.StatisticalChanges = statisticalChanges(a.Data, b.Data, v1.schema, v2.schema, o)

	o.logger.Debugw("diff computed",
		"version1_id", a.VersionID,
		"version2_id", b.VersionID,
		"columns_added", len(summary.SchemaChanges.ColumnsAdded),
		"columns_removed", len(summary.SchemaChanges.ColumnsRemoved),
		"stat_changes", len(summary.StatisticalChanges))
	return summary, nil
}

func schemaChanges(s1, s2 frame.Schema) SchemaChanges {
	changes := SchemaChanges{
		ColumnsAdded:   []string{},
		ColumnsRemoved: []string{},
		ColumnsRenamed: [][2]string{},
		TypeChanges:    []TypeChange{},
	}
	for _, f := range s2 {
		if s1.Index(f.Name) < 0 {
			changes.ColumnsAdded = append(changes.ColumnsAdded, f.Name)
		}
	}
	for _, f := range s1 {
		other, ok := s2.Lookup(f.Name)
		if !ok {
			changes.ColumnsRemoved = append(changes.ColumnsRemoved, f.Name)
			continue
		}
		if other.Type != f.Type {
			changes.TypeChanges = append(changes.TypeChanges, TypeChange{
				Column:  f.Name,
				OldType: f.Type.String(),
				NewType: other.Type.String(),
			})
		}
	}
	sort.Strings(changes.ColumnsAdded)
	sort.Strings(changes.ColumnsRemoved)
	sort.Slice(changes.TypeChanges, func(i, j int) bool {
		return changes.TypeChanges[i].Column < changes.TypeChanges[j].Column
	})
	return changes
}

func rowChanges(rows1, rows2 int64) RowChanges {
	rc := RowChanges{RowsV1: rows1, RowsV2: rows2}
	switch {
	case rows2 > rows1:
		n := rows2 - rows1
		rc.RowsAdded = &n
	case rows1 > rows2:
		n := rows1 - rows2
		rc.RowsRemoved = &n
	}
	return rc
}

// commonNumeric returns columns numeric on both sides, in v1 order, capped.
func commonNumeric(s1, s2 frame.Schema, limit int) []string {
	var cols []string
	for _, f := range s1 {
		other, ok := s2.Lookup(f.Name)
		if !ok || !f.Type.IsNumeric() || !other.Type.IsNumeric() {
			continue
		}
		cols = append(cols, f.Name)
		if len(cols) == limit {
			break
		}
	}
	return cols
}

func statisticalChanges(lf1, lf2 frame.LazyFrame, s1, s2 frame.Schema, o options) []StatisticalChange {
	changes := []StatisticalChange{}
	for _, col := range commonNumeric(s1, s2, o.maxColumns) {
		for _, stat := range o.statistics {
			x1, ok1, err := stat.Compute(lf1, col)
			if err != nil {
				o.logger.Debugw("skipping statistic", "column", col, "metric", stat.Name, logger.FieldError, err)
				continue
			}
			x2, ok2, err := stat.Compute(lf2, col)
			if err != nil {
				o.logger.Debugw("skipping statistic", "column", col, "metric", stat.Name, logger.FieldError, err)
				continue
			}
			// Unchanged values are not reported, so identical numeric data
			// yields no statistical changes and HasChanges stays false.
			if !ok1 || !ok2 || x1 == x2 {
				continue
			}
			change := StatisticalChange{
				Column:  col,
				Metric:  stat.Name,
				ValueV1: &x1,
				ValueV2: &x2,
			}
			if x1 != 0 {
				pct := (x2 - x1) / x1 * 100
				change.ChangePercent = &pct
			}
			changes = append(changes, change)
		}
	}
	return changes
}

// HasChanges reports whether anything at all differs.
func (s *Summary) HasChanges() bool {
	sc := s.SchemaChanges
	return len(sc.ColumnsAdded) > 0 ||
		len(sc.ColumnsRemoved) > 0 ||
		len(sc.TypeChanges) > 0 ||
		s.RowChanges.RowsAdded != nil ||
		s.RowChanges.RowsRemoved != nil ||
		len(s.StatisticalChanges) > 0
}

// SummaryText renders a short human-readable description.
func (s *Summary) SummaryText() string {
	if !s.HasChanges() {
		return "No significant changes"
	}

	var parts []string
	sc := s.SchemaChanges
	if len(sc.ColumnsAdded) > 0 {
		parts = append(parts, fmt.Sprintf("%d column(s) added: %s", len(sc.ColumnsAdded), strings.Join(sc.ColumnsAdded, ", ")))
	}
	if len(sc.ColumnsRemoved) > 0 {
		parts = append(parts, fmt.Sprintf("%d column(s) removed: %s", len(sc.ColumnsRemoved), strings.Join(sc.ColumnsRemoved, ", ")))
	}
	for _, tc := range sc.TypeChanges {
		parts = append(parts, fmt.Sprintf("column %s: %s -> %s", tc.Column, tc.OldType, tc.NewType))
	}
	if n := s.RowChanges.RowsAdded; n != nil {
		parts = append(parts, fmt.Sprintf("%d row(s) added", *n))
	}
	if n := s.RowChanges.RowsRemoved; n != nil {
		parts = append(parts, fmt.Sprintf("%d row(s) removed", *n))
	}
	for _, c := range s.StatisticalChanges {
		line := fmt.Sprintf("%s %s: %g -> %g", c.Column, c.Metric, *c.ValueV1, *c.ValueV2)
		if c.ChangePercent != nil {
			line += fmt.Sprintf(" (%+.1f%%)", *c.ChangePercent)
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, "\n")
}

// JSON returns the indented JSON encoding of the summary.
func (s *Summary) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, errors.WrapSerialization(err, "diff summary")
	}
	return data, nil
}
