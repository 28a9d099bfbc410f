package lifecycle

import (
	"github.com/teranos/tessera/errors"
	"github.com/teranos/tessera/frame"
	"github.com/teranos/tessera/stage"
	"github.com/teranos/tessera/transform"
)

// VersionQuery selects one version of a dataset. Precedence when several
// selectors are set: VersionID, Raw, Active, Stage, Latest. The zero query
// selects the active version.
type VersionQuery struct {
	VersionID string       `json:"version_id,omitempty"`
	Stage     *stage.Stage `json:"stage,omitempty"`
	Latest    bool         `json:"latest,omitempty"`
	Raw       bool         `json:"raw,omitempty"`
	Active    bool         `json:"active,omitempty"`
}

// ByID selects a specific version.
func ByID(id string) VersionQuery { return VersionQuery{VersionID: id} }

// RawVersion selects the root.
func RawVersion() VersionQuery { return VersionQuery{Raw: true} }

// ActiveVersion selects the active version.
func ActiveVersion() VersionQuery { return VersionQuery{Active: true} }

// LatestIn selects the most recent version in a stage.
func LatestIn(st stage.Stage) VersionQuery { return VersionQuery{Stage: &st} }

// Latest selects the most recently created version.
func Latest() VersionQuery { return VersionQuery{Latest: true} }

// Resolve runs the query against a dataset.
func (q VersionQuery) Resolve(ds *Dataset) (DatasetVersion, error) {
	switch {
	case q.VersionID != "":
		return ds.Version(q.VersionID)
	case q.Raw:
		return ds.Version(ds.RawVersionID)
	case q.Active:
		return ds.ActiveVersion()
	case q.Stage != nil:
		versions := ds.ListVersions()
		for i := len(versions) - 1; i >= 0; i-- {
			if versions[i].Stage == *q.Stage {
				return versions[i], nil
			}
		}
		return DatasetVersion{}, errors.NewNotFoundError("no version of dataset %s in stage %s", ds.ID, *q.Stage)
	case q.Latest:
		versions := ds.ListVersions()
		return versions[len(versions)-1], nil
	}
	return ds.ActiveVersion()
}

// Load resolves the query and returns the version's data.
func (q VersionQuery) Load(ds *Dataset) (frame.LazyFrame, error) {
	v, err := q.Resolve(ds)
	if err != nil {
		return frame.LazyFrame{}, err
	}
	return ds.LoadVersion(v)
}

// DatasetQueryBuilder reads a projection of one version.
//
//	lf, err := lifecycle.NewQuery(ds).
//		Version(lifecycle.LatestIn(stage.Cleaned)).
//		Filter("age >= 30").
//		Select("name", "age").
//		Limit(10).
//		Build()
type DatasetQueryBuilder struct {
	dataset *Dataset
	version VersionQuery
	filters []string
	columns []string
	limit   int
}

// NewQuery starts a query on ds.
func NewQuery(ds *Dataset) *DatasetQueryBuilder {
	return &DatasetQueryBuilder{dataset: ds}
}

// Version picks the version to read. The zero query reads the active version.
func (b *DatasetQueryBuilder) Version(q VersionQuery) *DatasetQueryBuilder {
	b.version = q
	return b
}

// Filter adds a condition in filter_rows syntax, e.g. "age > 30".
func (b *DatasetQueryBuilder) Filter(condition string) *DatasetQueryBuilder {
	b.filters = append(b.filters, condition)
	return b
}

// Select keeps only columns, in that order. Calling it again replaces the list.
func (b *DatasetQueryBuilder) Select(columns ...string) *DatasetQueryBuilder {
	b.columns = columns
	return b
}

// Limit caps the result at n rows; n <= 0 means no cap.
func (b *DatasetQueryBuilder) Limit(n int) *DatasetQueryBuilder {
	b.limit = n
	return b
}

// Build returns the lazy result. Filters run before the projection so they may
// reference columns that are not selected.
func (b *DatasetQueryBuilder) Build() (frame.LazyFrame, error) {
	lf, err := b.version.Load(b.dataset)
	if err != nil {
		return frame.LazyFrame{}, err
	}
	p := transform.Empty()
	for _, f := range b.filters {
		p.Add(transform.FilterRows(f))
	}
	if len(b.columns) > 0 {
		p.Add(transform.SelectColumns(b.columns...))
	}
	if lf, err = p.Apply(lf); err != nil {
		return frame.LazyFrame{}, err
	}
	if b.limit > 0 {
		lf = lf.Limit(b.limit)
	}
	return lf, nil
}
