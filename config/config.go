// Package config loads tessera settings from TOML files and TESSERA_* environment
// variables.
package config

import (
	"fmt"
	"path/filepath"
)

// Config is the full tessera configuration.
type Config struct {
	Store   StoreConfig   `mapstructure:"store" toml:"store"`
	Catalog CatalogConfig `mapstructure:"catalog" toml:"catalog"`
	Diff    DiffConfig    `mapstructure:"diff" toml:"diff"`
	Log     LogConfig     `mapstructure:"log" toml:"log"`
}

// StoreConfig configures the version store.
type StoreConfig struct {
	Path         string `mapstructure:"path" toml:"path"`
	RowGroupSize int    `mapstructure:"row_group_size" toml:"row_group_size"` // rows per parquet row group, 0 = sized from column count
}

// CatalogConfig configures the SQLite dataset catalog.
type CatalogConfig struct {
	Path string `mapstructure:"path" toml:"path"` // empty = <store.path>/catalog.db
}

// DiffConfig configures version comparison.
type DiffConfig struct {
	MaxStatColumns int      `mapstructure:"max_stat_columns" toml:"max_stat_columns"`
	Statistics     []string `mapstructure:"statistics" toml:"statistics"`
}

// LogConfig configures logging output.
type LogConfig struct {
	JSON bool `mapstructure:"json" toml:"json"`
}

// Defaults
const (
	DefaultStorePath      = ".tessera/store"
	DefaultMaxStatColumns = 20
	CatalogFileName       = "catalog.db"
	ProjectConfigFileName = "tessera.toml"
)

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

// GetCatalogPath returns the catalog database path, next to the store unless set.
func (c *Config) GetCatalogPath() string {
	if c.Catalog.Path != "" {
		return c.Catalog.Path
	}
	return filepath.Join(c.GetStorePath(), CatalogFileName)
}

// GetStorePath returns the store base directory.
func (c *Config) GetStorePath() string {
	if c.Store.Path == "" {
		return DefaultStorePath
	}
	return c.Store.Path
}

// GetStatistics returns the configured diff statistics, mean when unset.
func (c *Config) GetStatistics() []string {
	if len(c.Diff.Statistics) == 0 {
		return []string{"mean"}
	}
	return c.Diff.Statistics
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{Store: %s, Catalog: %s, Diff: {MaxStatColumns: %d, Statistics: %v}}",
		c.GetStorePath(), c.GetCatalogPath(), c.Diff.MaxStatColumns, c.GetStatistics())
}
