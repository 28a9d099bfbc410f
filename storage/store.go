// Package storage maps (dataset, version) pairs to artifacts on disk.
//
// Layout per dataset:
//
//	<base>/<dataset-id>/<version-id>.parquet    materialized data
//	<base>/<dataset-id>/<version-id>.meta.json  version metadata
//
// Membership is discovered by listing the directory; there is no manifest.
package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/tessera/errors"
	"github.com/teranos/tessera/frame"
	"github.com/teranos/tessera/logger"
)

const (
	dataExt = ".parquet"
	metaExt = ".meta.json"
	tmpExt  = ".tmp"

	// RowGroupSizeEnv overrides every other row group setting when set to a positive integer.
	RowGroupSizeEnv = "TESSERA_PARQUET_ROW_GROUP_SIZE"
)

// LocationKind tags a DataLocation.
type LocationKind string

const (
	// OriginalFile references a user-supplied file that is never copied or modified.
	OriginalFile LocationKind = "original_file"
	// ColumnarSnapshot is a store-owned materialized parquet artifact.
	ColumnarSnapshot LocationKind = "columnar_snapshot"
)

// DataLocation says where a version's data lives.
type DataLocation struct {
	Kind LocationKind `json:"kind"`
	Path string       `json:"path"`
}

// Stats aggregates the materialized artifacts of one dataset.
type Stats struct {
	TotalBytes   int64 `json:"total_bytes"`
	VersionCount int   `json:"version_count"`
}

// AvgVersionBytes is the mean artifact size, zero when there are none.
func (s Stats) AvgVersionBytes() int64 {
	if s.VersionCount == 0 {
		return 0
	}
	return s.TotalBytes / int64(s.VersionCount)
}

// VersionStore is the single storage service shared by every dataset.
type VersionStore struct {
	base         string
	rowGroupSize int
	logger       *zap.SugaredLogger
}

// Option configures a VersionStore.
type Option func(*VersionStore)

// WithRowGroupSize fixes the rows per row group instead of sizing by column count.
func WithRowGroupSize(rows int) Option {
	return func(s *VersionStore) {
		if rows > 0 {
			s.rowGroupSize = rows
		}
	}
}

// WithLogger replaces the default component logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *VersionStore) { s.logger = l }
}

// NewVersionStore opens (creating if needed) a store rooted at base.
func NewVersionStore(base string, opts ...Option) (*VersionStore, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, errors.WrapIO(err, "resolve store path", base)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.WrapIO(err, "create store directory", abs)
	}
	s := &VersionStore{base: abs, logger: logger.ComponentLogger("storage")}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// BasePath returns the absolute store root.
func (s *VersionStore) BasePath() string { return s.base }

func (s *VersionStore) datasetDir(datasetID string) string {
	return filepath.Join(s.base, datasetID)
}

func (s *VersionStore) dataPath(datasetID, versionID string) string {
	return filepath.Join(s.datasetDir(datasetID), versionID+dataExt)
}

func (s *VersionStore) metaPath(datasetID, versionID string) string {
	return filepath.Join(s.datasetDir(datasetID), versionID+metaExt)
}

func (s *VersionStore) ensureDatasetDir(datasetID string) error {
	dir := s.datasetDir(datasetID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapIO(err, "create dataset directory", dir)
	}
	return nil
}

// StoreRawData registers sourcePath as the data of a raw version. The file is
// checked for existence but never copied.
func (s *VersionStore) StoreRawData(datasetID, sourcePath string) (DataLocation, error) {
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return DataLocation{}, errors.WrapIO(err, "resolve source", sourcePath)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return DataLocation{}, errors.WrapIO(err, "stat source", abs)
	}
	if info.IsDir() {
		return DataLocation{}, errors.NewInvalidRequestError("source %s is a directory", abs)
	}
	if err := s.ensureDatasetDir(datasetID); err != nil {
		return DataLocation{}, err
	}
	s.logger.Infow("Registered raw data reference",
		logger.FieldDatasetID, datasetID,
		logger.FieldPath, abs,
		logger.FieldSize, info.Size(),
	)
	return DataLocation{Kind: OriginalFile, Path: abs}, nil
}

// RowGroupSize returns the rows per row group for a table of the given width.
// Wider tables get smaller groups so a group's memory stays bounded.
func (s *VersionStore) RowGroupSize(columns int) int {
	if v := os.Getenv(RowGroupSizeEnv); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
		s.logger.Warnw("Ignoring invalid row group override", "env", RowGroupSizeEnv, "value", v)
	}
	if s.rowGroupSize > 0 {
		return s.rowGroupSize
	}
	switch {
	case columns >= 1000:
		return 4096
	case columns >= 100:
		return 16384
	default:
		return 32768
	}
}

// StoreVersionData streams lf into the version's parquet artifact. The data is
// written under a temporary name and renamed into place, so a failed write
// never leaves a partial artifact at the final path.
func (s *VersionStore) StoreVersionData(datasetID, versionID string, lf frame.LazyFrame) (DataLocation, error) {
	if err := s.ensureDatasetDir(datasetID); err != nil {
		return DataLocation{}, err
	}
	schema, err := lf.Schema()
	if err != nil {
		return DataLocation{}, errors.Wrap(err, "resolve schema for materialization")
	}

	dest := s.dataPath(datasetID, versionID)
	tmp := dest + tmpExt
	groupSize := s.RowGroupSize(len(schema))
	start := time.Now()

	rows, err := frame.WriteParquet(lf, tmp, groupSize)
	if err != nil {
		os.Remove(tmp)
		return DataLocation{}, errors.Wrapf(err, "materialize version %s", versionID)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return DataLocation{}, errors.WrapIO(err, "rename artifact", dest)
	}

	s.logger.Debugw("Materialized version data",
		logger.FieldDatasetID, datasetID,
		logger.FieldVersionID, versionID,
		logger.FieldPath, dest,
		logger.FieldRows, rows,
		logger.FieldColumns, len(schema),
		logger.FieldBatchSize, groupSize,
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	)
	return DataLocation{Kind: ColumnarSnapshot, Path: dest}, nil
}

// LoadVersionData opens a location lazily. Original files get temporal
// promotion of text columns that mostly hold timestamps.
func (s *VersionStore) LoadVersionData(loc DataLocation) (frame.LazyFrame, error) {
	switch loc.Kind {
	case ColumnarSnapshot:
		if _, err := os.Stat(loc.Path); err != nil {
			return frame.LazyFrame{}, errors.WrapIO(err, "open artifact", loc.Path)
		}
		return frame.ScanParquet(loc.Path), nil
	case OriginalFile:
		lf, err := frame.ScanFile(loc.Path)
		if err != nil {
			return frame.LazyFrame{}, err
		}
		return frame.PromoteTemporal(lf)
	}
	return frame.LazyFrame{}, errors.NewInvalidRequestError("unknown data location kind %q", loc.Kind)
}

// SaveVersionMetadata writes doc as indented JSON next to the version's data.
func (s *VersionStore) SaveVersionMetadata(datasetID, versionID string, doc any) error {
	if err := s.ensureDatasetDir(datasetID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.WrapSerialization(err, "version metadata "+versionID)
	}
	path := s.metaPath(datasetID, versionID)
	tmp := path + tmpExt
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return errors.WrapIO(err, "write metadata", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.WrapIO(err, "rename metadata", path)
	}
	return nil
}

// LoadVersionMetadata decodes a version's metadata into out.
func (s *VersionStore) LoadVersionMetadata(datasetID, versionID string, out any) error {
	path := s.metaPath(datasetID, versionID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return errors.Mark(errors.WrapIO(err, "read metadata", path), errors.ErrNotFound)
	}
	if err != nil {
		return errors.WrapIO(err, "read metadata", path)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.WithDetailf(errors.WrapSerialization(err, "version metadata "+versionID), "path=%s", path)
	}
	return nil
}

// HasVersionData reports whether the version owns a materialized artifact.
func (s *VersionStore) HasVersionData(datasetID, versionID string) bool {
	_, err := os.Stat(s.dataPath(datasetID, versionID))
	return err == nil
}

// DeleteVersion removes a version's data and metadata. Missing files are fine.
func (s *VersionStore) DeleteVersion(datasetID, versionID string) error {
	for _, path := range []string{s.dataPath(datasetID, versionID), s.metaPath(datasetID, versionID)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.WrapIO(err, "delete", path)
		}
	}
	return nil
}

// GetDatasetStats sums the materialized artifacts. Original-file references
// are not store-owned and do not count.
func (s *VersionStore) GetDatasetStats(datasetID string) (Stats, error) {
	dir := s.datasetDir(datasetID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return Stats{}, nil
	}
	if err != nil {
		return Stats{}, errors.WrapIO(err, "list dataset directory", dir)
	}
	var stats Stats
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), dataExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		stats.VersionCount++
		stats.TotalBytes += info.Size()
	}
	return stats, nil
}

// versionFiles groups the dataset's files by the version id in their name.
func (s *VersionStore) versionFiles(datasetID string) (map[string][]string, error) {
	dir := s.datasetDir(datasetID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapIO(err, "list dataset directory", dir)
	}
	files := map[string][]string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		var id string
		switch {
		case strings.HasSuffix(name, dataExt):
			id = strings.TrimSuffix(name, dataExt)
		case strings.HasSuffix(name, metaExt):
			id = strings.TrimSuffix(name, metaExt)
		default:
			continue
		}
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		files[id] = append(files[id], filepath.Join(dir, name))
	}
	return files, nil
}

// CleanupVersions deletes every version not in keep and returns how many
// versions lost at least one file. It only touches disk; the caller prunes
// its in-memory tree.
func (s *VersionStore) CleanupVersions(datasetID string, keep []string) (int, error) {
	files, err := s.versionFiles(datasetID)
	if err != nil {
		return 0, err
	}
	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}

	removed := 0
	for id, paths := range files {
		if kept[id] {
			continue
		}
		deleted := false
		for _, path := range paths {
			if err := os.Remove(path); err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return removed, errors.WrapIO(err, "delete", path)
			}
			deleted = true
		}
		if deleted {
			removed++
			s.logger.Debugw("Removed version files",
				logger.FieldDatasetID, datasetID,
				logger.FieldVersionID, id,
				logger.FieldCount, len(paths),
			)
		}
	}
	return removed, nil
}

// ListVersionIDs returns the ids of versions with a metadata file.
func (s *VersionStore) ListVersionIDs(datasetID string) ([]string, error) {
	files, err := s.versionFiles(datasetID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for id, paths := range files {
		for _, p := range paths {
			if strings.HasSuffix(p, metaExt) {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}
