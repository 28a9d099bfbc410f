package lifecycle

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/tessera/diff"
	"github.com/teranos/tessera/errors"
	"github.com/teranos/tessera/frame"
	"github.com/teranos/tessera/logger"
	"github.com/teranos/tessera/stage"
	"github.com/teranos/tessera/storage"
	"github.com/teranos/tessera/transform"
)

// Registry owns every dataset. One reader-writer lock guards the whole map:
// mutations of any dataset serialize against each other, including the disk
// I/O they perform. Reads copy what they need and release the lock before
// touching data.
//
// A panic inside a mutation poisons the registry. The panic propagates and
// every later call fails with ErrLockPoisoned.
type Registry struct {
	mu       sync.RWMutex
	poisoned bool
	datasets map[string]*Dataset

	store    *storage.VersionStore
	catalog  Catalog
	diffOpts []diff.Option
	logger   *zap.SugaredLogger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithCatalog persists datasets and active pointers in c.
func WithCatalog(c Catalog) RegistryOption {
	return func(r *Registry) { r.catalog = c }
}

// WithDiffOptions sets the options passed to every ComputeDiff.
func WithDiffOptions(opts ...diff.Option) RegistryOption {
	return func(r *Registry) { r.diffOpts = append(r.diffOpts, opts...) }
}

// WithRegistryLogger replaces the default component logger.
func WithRegistryLogger(l *zap.SugaredLogger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry over a shared store.
func NewRegistry(store *storage.VersionStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		datasets: make(map[string]*Dataset),
		store:    store,
		logger:   logger.ComponentLogger("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the shared version store.
func (r *Registry) Store() *storage.VersionStore { return r.store }

func poisonedError() error {
	return errors.WithHint(
		errors.Wrap(errors.ErrLockPoisoned, "registry is unusable after a panic in a mutation"),
		"restart the process; on-disk state is restored from the catalog")
}

// write runs fn under the exclusive lock.
func (r *Registry) write(op string, fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.poisoned {
		return poisonedError()
	}
	defer func() {
		if p := recover(); p != nil {
			r.poisoned = true
			r.logger.Errorw("Registry poisoned", logger.FieldOperation, op, "panic", fmt.Sprint(p))
			panic(p)
		}
	}()
	start := time.Now()
	err := fn()
	r.logger.Debugw("Mutation finished", logger.FieldOperation, op, logger.FieldDurationMS, time.Since(start).Milliseconds())
	return err
}

// read runs fn under the shared lock.
func (r *Registry) read(fn func() error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.poisoned {
		return poisonedError()
	}
	return fn()
}

func (r *Registry) dataset(id string) (*Dataset, error) {
	ds, ok := r.datasets[id]
	if !ok {
		return nil, errors.NewNotFoundError("dataset %s not found", id)
	}
	return ds, nil
}

// snapshot copies one dataset under the read lock.
func (r *Registry) snapshot(id string) (*Dataset, error) {
	var ds *Dataset
	err := r.read(func() error {
		found, err := r.dataset(id)
		if err != nil {
			return err
		}
		ds = found.snapshot()
		return nil
	})
	return ds, err
}

// mutate runs fn on the live dataset under the write lock.
func (r *Registry) mutate(op, id string, fn func(*Dataset) error) error {
	return r.write(op, func() error {
		ds, err := r.dataset(id)
		if err != nil {
			return err
		}
		return fn(ds)
	})
}

// CreateDataset registers rawPath as a new dataset and returns its id.
func (r *Registry) CreateDataset(name, rawPath string) (string, error) {
	var id string
	err := r.write("create_dataset", func() error {
		ds, err := NewDataset(name, rawPath, r.store, r.catalog)
		if err != nil {
			return err
		}
		r.datasets[ds.ID] = ds
		id = ds.ID
		return nil
	})
	return id, err
}

// GetDataset returns a read-only copy of the dataset. Its mutating methods
// fail with ErrInvalidRequest; use the Registry methods instead.
func (r *Registry) GetDataset(id string) (*Dataset, error) {
	return r.snapshot(id)
}

// DatasetSummary is the listing form of a dataset.
type DatasetSummary struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	RawVersionID    string    `json:"raw_version_id"`
	ActiveVersionID string    `json:"active_version_id"`
	ActiveStage     string    `json:"active_stage"`
	VersionCount    int       `json:"version_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// ListDatasets returns a summary of every dataset, oldest first.
func (r *Registry) ListDatasets() ([]DatasetSummary, error) {
	var out []DatasetSummary
	err := r.read(func() error {
		for _, ds := range r.datasets {
			s := DatasetSummary{
				ID:              ds.ID,
				Name:            ds.Name,
				RawVersionID:    ds.RawVersionID,
				ActiveVersionID: ds.ActiveVersionID,
				VersionCount:    ds.Versions.Len(),
				CreatedAt:       ds.CreatedAt,
			}
			if v, ok := ds.Versions.Get(ds.ActiveVersionID); ok {
				s.ActiveStage = v.Stage.String()
			}
			out = append(out, s)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

// ApplyTransforms applies p to the active version and records the result at
// the target stage.
func (r *Registry) ApplyTransforms(datasetID string, p transform.Pipeline, target stage.Stage) (string, error) {
	var id string
	err := r.mutate("apply_transforms", datasetID, func(ds *Dataset) error {
		var err error
		id, err = ds.ApplyPipeline(p, target)
		return err
	})
	return id, err
}

// ApplyStage runs executor on the active data and applies the pipeline it
// returns. The executor's stage must be strictly later than the active one.
func (r *Registry) ApplyStage(datasetID string, executor StageExecutor) (string, error) {
	var id string
	err := r.mutate("apply_stage", datasetID, func(ds *Dataset) error {
		active, err := ds.ActiveVersion()
		if err != nil {
			return err
		}
		target := executor.Stage()
		if !stage.CanTransition(active.Stage, target) {
			return errors.NewInvalidTransitionError("cannot move dataset %s from %s to %s", ds.ID, active.Stage, target)
		}

		if pub, ok := executor.(*PublishExecutor); ok {
			id, err = ds.PublishVersion(active.ID, pub.Mode)
			return err
		}

		lf, err := ds.LoadVersion(active)
		if err != nil {
			return err
		}
		p, err := executor.Execute(lf)
		if err != nil {
			return errors.Wrapf(err, "%s stage", target)
		}

		var annotate func(*VersionMetadata)
		if a, ok := executor.(Annotator); ok {
			annotate = func(m *VersionMetadata) {
				m.Description = executor.Description()
				for k, v := range a.Annotations() {
					m.CustomFields[k] = v
				}
			}
		}
		id, err = ds.applyPipeline(p, target, annotate)
		return err
	})
	return id, err
}

// SetActiveVersion repoints a dataset without creating a version.
func (r *Registry) SetActiveVersion(datasetID, versionID string) error {
	return r.mutate("set_active_version", datasetID, func(ds *Dataset) error {
		return ds.SetActiveVersion(versionID)
	})
}

// GetActiveData returns the lazy data of the active version.
func (r *Registry) GetActiveData(datasetID string) (frame.LazyFrame, error) {
	ds, err := r.snapshot(datasetID)
	if err != nil {
		return frame.LazyFrame{}, err
	}
	return ds.ActiveData()
}

// GetVersion returns one version.
func (r *Registry) GetVersion(datasetID, versionID string) (DatasetVersion, error) {
	var v DatasetVersion
	err := r.read(func() error {
		ds, err := r.dataset(datasetID)
		if err != nil {
			return err
		}
		v, err = ds.Version(versionID)
		return err
	})
	return v, err
}

// LoadVersionData returns the lazy data of any version.
func (r *Registry) LoadVersionData(datasetID, versionID string) (frame.LazyFrame, error) {
	ds, err := r.snapshot(datasetID)
	if err != nil {
		return frame.LazyFrame{}, err
	}
	v, err := ds.Version(versionID)
	if err != nil {
		return frame.LazyFrame{}, err
	}
	return ds.LoadVersion(v)
}

// PublishVersion publishes versionID (not necessarily the active one).
func (r *Registry) PublishVersion(datasetID, versionID string, mode stage.PublishMode) (string, error) {
	var id string
	err := r.mutate("publish_version", datasetID, func(ds *Dataset) error {
		var err error
		id, err = ds.PublishVersion(versionID, mode)
		return err
	})
	return id, err
}

// ComputeDiff compares two versions of a dataset. Only the lookup holds the lock.
func (r *Registry) ComputeDiff(datasetID, v1, v2 string) (*diff.Summary, error) {
	ds, err := r.snapshot(datasetID)
	if err != nil {
		return nil, err
	}
	sides := make([]diff.Side, 2)
	for i, id := range []string{v1, v2} {
		v, err := ds.Version(id)
		if err != nil {
			return nil, err
		}
		lf, err := ds.LoadVersion(v)
		if err != nil {
			return nil, err
		}
		sides[i] = diff.Side{VersionID: id, Data: lf}
	}
	return diff.Compute(sides[0], sides[1], r.diffOpts...)
}

// ListVersions returns every version of a dataset, oldest first.
func (r *Registry) ListVersions(datasetID string) ([]DatasetVersion, error) {
	var out []DatasetVersion
	err := r.read(func() error {
		ds, err := r.dataset(datasetID)
		if err != nil {
			return err
		}
		out = ds.ListVersions()
		return nil
	})
	return out, err
}

// Lineage returns the root-first chain ending at versionID.
func (r *Registry) Lineage(datasetID, versionID string) ([]DatasetVersion, error) {
	var out []DatasetVersion
	err := r.read(func() error {
		ds, err := r.dataset(datasetID)
		if err != nil {
			return err
		}
		if _, err := ds.Version(versionID); err != nil {
			return err
		}
		out = ds.Versions.Lineage(versionID)
		return nil
	})
	return out, err
}

// Children returns the direct descendants of versionID.
func (r *Registry) Children(datasetID, versionID string) ([]DatasetVersion, error) {
	var out []DatasetVersion
	err := r.read(func() error {
		ds, err := r.dataset(datasetID)
		if err != nil {
			return err
		}
		if _, err := ds.Version(versionID); err != nil {
			return err
		}
		out = ds.Versions.Children(versionID)
		return nil
	})
	return out, err
}

// CleanupVersions deletes versions outside keep (plus its ancestors, the root
// and the active version) and returns how many were removed.
func (r *Registry) CleanupVersions(datasetID string, keep []string) (int, error) {
	var removed int
	err := r.mutate("cleanup_versions", datasetID, func(ds *Dataset) error {
		var err error
		removed, err = ds.Cleanup(keep)
		return err
	})
	return removed, err
}

// StorageStats summarizes a dataset's materialized artifacts.
func (r *Registry) StorageStats(datasetID string) (storage.Stats, error) {
	ds, err := r.snapshot(datasetID)
	if err != nil {
		return storage.Stats{}, err
	}
	return ds.StorageStats()
}
