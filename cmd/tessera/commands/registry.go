package commands

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/pterm/pterm"

	"github.com/teranos/tessera/catalog"
	"github.com/teranos/tessera/config"
	"github.com/teranos/tessera/db"
	"github.com/teranos/tessera/errors"
	"github.com/teranos/tessera/lifecycle"
	"github.com/teranos/tessera/logger"
	"github.com/teranos/tessera/stage"
	"github.com/teranos/tessera/storage"
)

// openRegistry builds a registry over the configured store and catalog and
// restores every catalogued dataset. The returned func closes the catalog.
func openRegistry() (*lifecycle.Registry, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load configuration")
	}

	store, err := storage.NewVersionStore(cfg.GetStorePath(), cfg.StoreOptions(logger.ComponentLogger("storage"))...)
	if err != nil {
		return nil, nil, err
	}
	database, err := openCatalog(cfg.GetCatalogPath())
	if err != nil {
		return nil, nil, err
	}
	diffOpts, err := cfg.DiffOptions()
	if err != nil {
		database.Close()
		return nil, nil, err
	}

	reg := lifecycle.NewRegistry(store,
		lifecycle.WithCatalog(catalog.NewStore(database)),
		lifecycle.WithDiffOptions(diffOpts...),
		lifecycle.WithRegistryLogger(logger.ComponentLogger("lifecycle")),
	)
	n, err := reg.Restore()
	if err != nil {
		database.Close()
		return nil, nil, errors.Wrap(err, "failed to restore datasets")
	}
	logger.Debugw("Registry ready", logger.FieldCount, n, logger.FieldPath, store.BasePath())
	return reg, func() { database.Close() }, nil
}

func openCatalog(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), config.DefaultDirPermissions); err != nil {
		return nil, errors.WrapIO(err, "create catalog directory", filepath.Dir(path))
	}
	database, err := db.OpenWithMigrations(path, logger.ComponentLogger("db"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open catalog at %s", path)
	}
	return database, nil
}

// resolveDataset accepts a dataset id, a unique id prefix or a unique name.
func resolveDataset(reg *lifecycle.Registry, ref string) (*lifecycle.Dataset, error) {
	if ds, err := reg.GetDataset(ref); err == nil {
		return ds, nil
	} else if !errors.IsNotFoundError(err) {
		return nil, err
	}

	list, err := reg.ListDatasets()
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, s := range list {
		if s.Name == ref || strings.HasPrefix(s.ID, ref) {
			matches = append(matches, s.ID)
		}
	}
	switch len(matches) {
	case 0:
		return nil, errors.WithHint(
			errors.NewNotFoundError("dataset %q not found", ref),
			"run 'tessera ls' to list datasets")
	case 1:
		return reg.GetDataset(matches[0])
	}
	return nil, errors.WithHint(
		errors.NewInvalidRequestError("dataset %q is ambiguous (%d matches)", ref, len(matches)),
		"use the full dataset id")
}

// resolveVersion accepts "active", "raw", "latest", a stage name (latest
// version in that stage), a version id or a unique id prefix.
func resolveVersion(ds *lifecycle.Dataset, ref string) (lifecycle.DatasetVersion, error) {
	switch strings.ToLower(ref) {
	case "", "active":
		return lifecycle.ActiveVersion().Resolve(ds)
	case "raw":
		return lifecycle.RawVersion().Resolve(ds)
	case "latest":
		return lifecycle.Latest().Resolve(ds)
	}
	if st, err := stage.Parse(ref); err == nil {
		return lifecycle.LatestIn(st).Resolve(ds)
	}
	if v, err := ds.Version(ref); err == nil {
		return v, nil
	}

	var found []lifecycle.DatasetVersion
	for _, v := range ds.ListVersions() {
		if strings.HasPrefix(v.ID, ref) {
			found = append(found, v)
		}
	}
	switch len(found) {
	case 0:
		return lifecycle.DatasetVersion{}, errors.WithHintf(
			errors.NewNotFoundError("version %q not found in dataset %s", ref, ds.Name),
			"run 'tessera log %s' to list versions", ds.Name)
	case 1:
		return found[0], nil
	}
	return lifecycle.DatasetVersion{}, errors.NewInvalidRequestError("version %q is ambiguous (%d matches)", ref, len(found))
}

// FormatError renders err with its hints for the terminal.
func FormatError(err error) string {
	msg := pterm.Red("Error: ") + err.Error()
	for _, hint := range errors.GetAllHints(err) {
		msg += "\n" + pterm.Yellow("Hint: ") + hint
	}
	return msg
}
