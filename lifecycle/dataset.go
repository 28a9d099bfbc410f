package lifecycle

import (
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/tessera/catalog"
	"github.com/teranos/tessera/errors"
	"github.com/teranos/tessera/frame"
	"github.com/teranos/tessera/logger"
	"github.com/teranos/tessera/stage"
	"github.com/teranos/tessera/storage"
	"github.com/teranos/tessera/transform"
)

// Catalog durably records datasets and their active pointers.
// *catalog.Store implements it.
type Catalog interface {
	PutDataset(r catalog.Record) error
	SetActiveVersion(datasetID, versionID string) error
	ListDatasets() ([]catalog.Record, error)
}

// Dataset is one dataset and its version history. Identity fields never
// change; only the active pointer moves and the tree grows (or shrinks on
// explicit cleanup).
type Dataset struct {
	ID              string
	Name            string
	RawVersionID    string
	ActiveVersionID string
	CreatedAt       time.Time
	Versions        *VersionTree

	store   *storage.VersionStore
	catalog Catalog
	logger  *zap.SugaredLogger

	// set on copies handed out by the registry
	readOnly bool
}

// NewDataset registers rawPath as the raw root of a new dataset. The source
// file is referenced, not copied. cat may be nil.
func NewDataset(name, rawPath string, store *storage.VersionStore, cat Catalog) (*Dataset, error) {
	id := uuid.NewString()
	loc, err := store.StoreRawData(id, rawPath)
	if err != nil {
		return nil, err
	}

	raw := newRawVersion(id, loc)
	if lf, err := store.LoadVersionData(loc); err == nil {
		describe(&raw.Metadata, lf, "")
	}
	if err := store.SaveVersionMetadata(id, raw.ID, raw); err != nil {
		return nil, err
	}

	ds := &Dataset{
		ID:              id,
		Name:            name,
		RawVersionID:    raw.ID,
		ActiveVersionID: raw.ID,
		CreatedAt:       now(),
		Versions:        NewVersionTree(raw),
		store:           store,
		catalog:         cat,
	}
	ds.logger = logger.ChildLogger(logger.ComponentLogger("lifecycle"), logger.FieldDatasetID, id)

	if cat != nil {
		if err := cat.PutDataset(ds.record()); err != nil {
			return nil, err
		}
	}
	ds.logger.Infow("Dataset created", "name", name, logger.FieldVersionID, raw.ID, logger.FieldPath, loc.Path)
	return ds, nil
}

func (d *Dataset) record() catalog.Record {
	return catalog.Record{
		ID:              d.ID,
		Name:            d.Name,
		RawVersionID:    d.RawVersionID,
		ActiveVersionID: d.ActiveVersionID,
		CreatedAt:       d.CreatedAt,
	}
}

// describe fills the advisory counts from a frame. Counting is cheap for
// parquet artifacts; path, when set, contributes the artifact size.
func describe(meta *VersionMetadata, lf frame.LazyFrame, path string) {
	if schema, err := lf.Schema(); err == nil {
		n := len(schema)
		meta.ColumnCount = &n
	}
	if path != "" {
		if rows, err := lf.Count(); err == nil {
			meta.RowCount = &rows
		}
		if info, err := os.Stat(path); err == nil {
			size := info.Size()
			meta.FileSizeBytes = &size
		}
	}
}

// Version returns a version by id.
func (d *Dataset) Version(id string) (DatasetVersion, error) {
	v, ok := d.Versions.Get(id)
	if !ok {
		return DatasetVersion{}, errors.NewNotFoundError("version %s not found in dataset %s", id, d.ID)
	}
	return v, nil
}

// ActiveVersion returns the version the active pointer designates.
func (d *Dataset) ActiveVersion() (DatasetVersion, error) {
	return d.Version(d.ActiveVersionID)
}

// ListVersions returns every version, oldest first.
func (d *Dataset) ListVersions() []DatasetVersion {
	return d.Versions.List()
}

// aliasesParent reports whether v shares its parent's data.
func (d *Dataset) aliasesParent(v DatasetVersion) (DatasetVersion, bool) {
	if v.ParentID == nil {
		return DatasetVersion{}, false
	}
	parent, ok := d.Versions.Get(*v.ParentID)
	if !ok || parent.DataLocation != v.DataLocation {
		return DatasetVersion{}, false
	}
	return parent, true
}

// LoadVersion returns v's data lazily. A version with its own artifact is read
// as is. A version that aliases its parent loads the parent and replays its own
// read-time transforms on top.
func (d *Dataset) LoadVersion(v DatasetVersion) (frame.LazyFrame, error) {
	parent, aliased := d.aliasesParent(v)
	if !aliased {
		return d.store.LoadVersionData(v.DataLocation)
	}
	lf, err := d.LoadVersion(parent)
	if err != nil {
		return frame.LazyFrame{}, err
	}
	replay, err := v.Pipeline.ReadTime(parent.Stage)
	if err != nil {
		return frame.LazyFrame{}, err
	}
	return replay.Apply(lf)
}

// ActiveData returns the active version's data.
func (d *Dataset) ActiveData() (frame.LazyFrame, error) {
	v, err := d.ActiveVersion()
	if err != nil {
		return frame.LazyFrame{}, err
	}
	return d.LoadVersion(v)
}

// ApplyPipeline derives a new version from the active one and makes it active.
// Stage order is not checked here; see Registry.ApplyStage.
func (d *Dataset) ApplyPipeline(p transform.Pipeline, target stage.Stage) (string, error) {
	return d.applyPipeline(p, target, nil)
}

func (d *Dataset) applyPipeline(p transform.Pipeline, target stage.Stage, annotate func(*VersionMetadata)) (string, error) {
	if err := d.writable(); err != nil {
		return "", err
	}
	if !target.Valid() {
		return "", errors.NewInvalidRequestError("invalid stage %d", int(target))
	}
	parent, err := d.ActiveVersion()
	if err != nil {
		return "", err
	}
	reusable, err := p.Reusable(parent.Stage)
	if err != nil {
		return "", err
	}

	parentData, err := d.LoadVersion(parent)
	if err != nil {
		return "", errors.Wrapf(err, "load parent version %s", parent.ID)
	}
	run := p
	if reusable {
		if run, err = p.ReadTime(parent.Stage); err != nil {
			return "", err
		}
	}
	if logger.ShouldLogTrace(logger.Verbosity) {
		for i, step := range run.Describe() {
			d.logger.Debugw("Pipeline step", "index", i, logger.FieldTransform, step)
		}
	}
	data, err := run.Apply(parentData)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	loc := parent.DataLocation
	artifact := ""
	if reusable {
		// Read-time transforms must at least bind against the parent schema.
		if _, err := data.Schema(); err != nil {
			return "", err
		}
		d.logger.Infow("Pipeline does not modify data, reusing parent data location",
			logger.FieldStage, target.String(),
			logger.FieldParentID, parent.ID,
			logger.FieldReused, true,
		)
	} else {
		if loc, err = d.store.StoreVersionData(d.ID, id, data); err != nil {
			return "", err
		}
		artifact = loc.Path
	}

	v := newDerivedVersion(id, d.ID, parent.ID, target, p, loc)
	if reusable {
		describe(&v.Metadata, data, "")
	} else if lf, err := d.store.LoadVersionData(loc); err == nil {
		describe(&v.Metadata, lf, artifact)
	}
	if annotate != nil {
		annotate(&v.Metadata)
	}
	if err := d.register(v); err != nil {
		return "", err
	}

	d.logger.Infow("Version created",
		logger.FieldVersionID, id,
		logger.FieldParentID, parent.ID,
		logger.FieldStage, target.String(),
		logger.FieldCount, p.Len(),
	)
	return id, nil
}

// register persists v and makes it the active version. Nothing in memory
// changes unless every persistence step succeeded.
func (d *Dataset) register(v DatasetVersion) error {
	if v.ParentID == nil {
		return errors.NewInvalidTransitionError("derived version %s has no parent", v.ID)
	}
	if _, ok := d.Versions.Get(*v.ParentID); !ok {
		return errors.NewInvalidTransitionError("parent version %s of %s not found in tree", *v.ParentID, v.ID)
	}
	if err := d.store.SaveVersionMetadata(d.ID, v.ID, v); err != nil {
		return err
	}
	if d.catalog != nil {
		if err := d.catalog.SetActiveVersion(d.ID, v.ID); err != nil {
			return err
		}
	}
	if err := d.Versions.Insert(v); err != nil {
		return err
	}
	d.ActiveVersionID = v.ID
	return nil
}

// SetActiveVersion repoints the dataset at an existing version. Nothing is
// materialized.
func (d *Dataset) SetActiveVersion(id string) error {
	if err := d.writable(); err != nil {
		return err
	}
	if _, err := d.Version(id); err != nil {
		return err
	}
	if d.catalog != nil {
		if err := d.catalog.SetActiveVersion(d.ID, id); err != nil {
			return err
		}
	}
	previous := d.ActiveVersionID
	d.ActiveVersionID = id
	d.logger.Infow("Active version changed", logger.FieldVersionID, id, "previous", previous)
	return nil
}

// PublishVersion creates a Published child of id (which need not be active)
// and makes it active. View aliases id's data; Snapshot materializes it.
func (d *Dataset) PublishVersion(id string, mode stage.PublishMode) (string, error) {
	if err := d.writable(); err != nil {
		return "", err
	}
	source, err := d.Version(id)
	if err != nil {
		return "", err
	}

	publishedID := uuid.NewString()
	loc := source.DataLocation
	var meta func(*VersionMetadata)
	switch mode {
	case stage.View:
	case stage.Snapshot:
		lf, err := d.LoadVersion(source)
		if err != nil {
			return "", err
		}
		if loc, err = d.store.StoreVersionData(d.ID, publishedID, lf); err != nil {
			return "", err
		}
		path := loc.Path
		meta = func(m *VersionMetadata) {
			if lf, err := d.store.LoadVersionData(loc); err == nil {
				describe(m, lf, path)
			}
		}
	default:
		return "", errors.NewInvalidRequestError("unknown publish mode %d", int(mode))
	}

	v := newDerivedVersion(publishedID, d.ID, source.ID, stage.Published, transform.Empty(), loc)
	v.Metadata.Description = "Published (" + mode.String() + ")"
	v.Metadata.CustomFields["publish_mode"] = mode.String()
	if meta != nil {
		meta(&v.Metadata)
	} else {
		v.Metadata.RowCount = source.Metadata.RowCount
		v.Metadata.ColumnCount = source.Metadata.ColumnCount
	}
	if err := d.register(v); err != nil {
		return "", err
	}

	d.logger.Infow("Version published",
		logger.FieldVersionID, publishedID,
		logger.FieldParentID, source.ID,
		logger.FieldMode, mode.String(),
	)
	return publishedID, nil
}

// retained expands keep with the root, the active version and every ancestor
// of a kept version.
func (d *Dataset) retained(keep []string) (map[string]bool, error) {
	set := map[string]bool{
		d.Versions.RootID(): true,
	}
	for _, id := range append([]string{d.ActiveVersionID}, keep...) {
		if _, ok := d.Versions.Get(id); !ok {
			return nil, errors.NewNotFoundError("version %s not found in dataset %s", id, d.ID)
		}
		for _, v := range d.Versions.Lineage(id) {
			set[v.ID] = true
		}
	}
	return set, nil
}

// Cleanup deletes every version that is not retained and returns how many
// versions were removed from disk. Ancestors of kept versions, the active
// version and the root always survive.
func (d *Dataset) Cleanup(keep []string) (int, error) {
	if err := d.writable(); err != nil {
		return 0, err
	}
	set, err := d.retained(keep)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}

	removed, err := d.store.CleanupVersions(d.ID, ids)
	if err != nil {
		d.pruneDeleted(set)
		return removed, err
	}

	var pruned []string
	for _, v := range d.Versions.List() {
		if !set[v.ID] {
			pruned = append(pruned, v.ID)
		}
	}
	d.Versions.remove(pruned...)

	d.logger.Infow("Versions cleaned up",
		logger.FieldCount, removed,
		"retained", len(set),
	)
	return removed, nil
}

// pruneDeleted drops unretained versions whose metadata is already gone from
// disk, after a cleanup that stopped partway.
func (d *Dataset) pruneDeleted(retained map[string]bool) {
	onDisk, err := d.store.ListVersionIDs(d.ID)
	if err != nil {
		d.logger.Warnw("Cannot list versions after failed cleanup", "error", err)
		return
	}
	present := make(map[string]bool, len(onDisk))
	for _, id := range onDisk {
		present[id] = true
	}
	var pruned []string
	for _, v := range d.Versions.List() {
		if !retained[v.ID] && !present[v.ID] {
			pruned = append(pruned, v.ID)
		}
	}
	d.Versions.remove(pruned...)
	if len(pruned) > 0 {
		d.logger.Warnw("Cleanup failed partway", logger.FieldCount, len(pruned))
	}
}

// StorageStats summarizes the dataset's materialized artifacts.
func (d *Dataset) StorageStats() (storage.Stats, error) {
	return d.store.GetDatasetStats(d.ID)
}

// snapshot copies the dataset so readers can use it without the registry lock.
// The copy can load data but refuses every mutation.
func (d *Dataset) snapshot() *Dataset {
	cp := *d
	cp.Versions = d.Versions.clone()
	cp.readOnly = true
	return &cp
}

func (d *Dataset) writable() error {
	if d.readOnly {
		return errors.WithHint(
			errors.NewInvalidRequestError("dataset %s is a read-only copy", d.ID),
			"change datasets through the Registry")
	}
	return nil
}
