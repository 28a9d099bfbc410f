package config

import (
	"strings"

	"github.com/teranos/tessera/diff"
	"github.com/teranos/tessera/errors"
)

// Validate checks that the configuration is usable. Zero values mean "use the
// default"; negatives are rejected.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Store.Path) == "" {
		return errors.NewInvalidRequestError("store.path cannot be empty")
	}
	if c.Store.RowGroupSize < 0 {
		return errors.NewInvalidRequestError("store.row_group_size must be >= 0, got %d", c.Store.RowGroupSize)
	}
	if c.Diff.MaxStatColumns < 0 {
		return errors.NewInvalidRequestError("diff.max_stat_columns must be >= 0, got %d", c.Diff.MaxStatColumns)
	}
	if _, err := diff.Statistics(c.Diff.Statistics...); err != nil {
		return errors.Wrap(err, "diff.statistics")
	}
	return nil
}
