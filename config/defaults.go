package config

import (
	"github.com/spf13/viper"
)

// SetDefaults registers a default for every key. Keys without a default are
// invisible to Unmarshal when they only come from the environment.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store.path", DefaultStorePath)
	v.SetDefault("store.row_group_size", 0)

	v.SetDefault("catalog.path", "")

	v.SetDefault("diff.max_stat_columns", DefaultMaxStatColumns)
	v.SetDefault("diff.statistics", []string{"mean"})

	v.SetDefault("log.json", false)
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		// Defaults always decode
		panic(err)
	}
	return cfg
}
