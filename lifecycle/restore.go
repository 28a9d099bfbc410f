package lifecycle

import (
	"github.com/teranos/tessera/catalog"
	"github.com/teranos/tessera/errors"
	"github.com/teranos/tessera/logger"
)

// Restore rebuilds every dataset recorded in the catalog from the metadata
// files on disk and returns how many datasets were loaded. A version whose
// metadata cannot be decoded, or whose parent is missing, fails the restore
// rather than being skipped.
func (r *Registry) Restore() (int, error) {
	if r.catalog == nil {
		return 0, errors.NewInvalidRequestError("registry has no catalog to restore from")
	}
	var n int
	err := r.write("restore", func() error {
		records, err := r.catalog.ListDatasets()
		if err != nil {
			return err
		}
		for _, rec := range records {
			ds, err := r.restoreDataset(rec)
			if err != nil {
				return errors.Wrapf(err, "restore dataset %s", rec.ID)
			}
			r.datasets[ds.ID] = ds
			n++
		}
		return nil
	})
	return n, err
}

func (r *Registry) restoreDataset(rec catalog.Record) (*Dataset, error) {
	ids, err := r.store.ListVersionIDs(rec.ID)
	if err != nil {
		return nil, err
	}

	var root *DatasetVersion
	pending := make([]DatasetVersion, 0, len(ids))
	for _, id := range ids {
		var v DatasetVersion
		if err := r.store.LoadVersionMetadata(rec.ID, id, &v); err != nil {
			return nil, err
		}
		if v.ID != id || v.DatasetID != rec.ID {
			return nil, errors.WrapSerialization(
				errors.Newf("metadata file %s describes version %s of dataset %s", id, v.ID, v.DatasetID),
				"version "+id)
		}
		if v.ParentID == nil {
			if v.ID != rec.RawVersionID {
				return nil, errors.NewInvalidTransitionError("version %s has no parent but the raw version is %s", v.ID, rec.RawVersionID)
			}
			root = &v
			continue
		}
		pending = append(pending, v)
	}
	if root == nil {
		return nil, errors.NewNotFoundError("raw version %s has no metadata", rec.RawVersionID)
	}

	tree := NewVersionTree(*root)
	sortVersions(pending)
	for len(pending) > 0 {
		var deferred []DatasetVersion
		for _, v := range pending {
			if _, ok := tree.Get(*v.ParentID); !ok {
				deferred = append(deferred, v)
				continue
			}
			if err := tree.Insert(v); err != nil {
				return nil, err
			}
		}
		if len(deferred) == len(pending) {
			return nil, errors.NewInvalidTransitionError("version %s references missing parent %s", deferred[0].ID, *deferred[0].ParentID)
		}
		pending = deferred
	}

	if _, ok := tree.Get(rec.ActiveVersionID); !ok {
		return nil, errors.NewNotFoundError("active version %s has no metadata", rec.ActiveVersionID)
	}

	ds := &Dataset{
		ID:              rec.ID,
		Name:            rec.Name,
		RawVersionID:    rec.RawVersionID,
		ActiveVersionID: rec.ActiveVersionID,
		CreatedAt:       rec.CreatedAt,
		Versions:        tree,
		store:           r.store,
		catalog:         r.catalog,
		logger:          logger.ChildLogger(logger.ComponentLogger("lifecycle"), logger.FieldDatasetID, rec.ID),
	}
	ds.logger.Debugw("Dataset restored", logger.FieldCount, tree.Len())
	return ds, nil
}
