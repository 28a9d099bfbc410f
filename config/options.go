package config

import (
	"go.uber.org/zap"

	"github.com/teranos/tessera/diff"
	"github.com/teranos/tessera/storage"
)

// DiffOptions turns the diff section into options for diff.Compute.
func (c *Config) DiffOptions() ([]diff.Option, error) {
	stats, err := diff.Statistics(c.GetStatistics()...)
	if err != nil {
		return nil, err
	}
	return []diff.Option{
		diff.WithStatistics(stats...),
		diff.WithMaxColumns(c.Diff.MaxStatColumns),
	}, nil
}

// StoreOptions turns the store section into options for storage.NewVersionStore.
func (c *Config) StoreOptions(l *zap.SugaredLogger) []storage.Option {
	var opts []storage.Option
	if l != nil {
		opts = append(opts, storage.WithLogger(l))
	}
	if c.Store.RowGroupSize > 0 {
		opts = append(opts, storage.WithRowGroupSize(c.Store.RowGroupSize))
	}
	return opts
}
