package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/tessera/errors"
	"github.com/teranos/tessera/logger"
)

// EnvPrefix prefixes every environment override, e.g. TESSERA_STORE_PATH.
const EnvPrefix = "TESSERA"

var (
	mu            sync.Mutex
	globalConfig  *Config
	viperInstance *viper.Viper
	configSources map[string]SourceInfo
)

// Load reads the configuration once per process and caches it.
func Load() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()
	if globalConfig != nil {
		return globalConfig, nil
	}

	cfg, err := LoadWithViper(initViper())
	if err != nil {
		return nil, err
	}
	globalConfig = cfg
	return globalConfig, nil
}

// GetViper returns the process-wide viper instance.
func GetViper() *viper.Viper {
	mu.Lock()
	defer mu.Unlock()
	return initViper()
}

// LoadWithViper decodes and validates a configuration from v.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromFile reads a single TOML file over the defaults, without the
// environment or the other config locations.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(err, "failed to read config file %s", configPath),
			"run 'tessera config init' to write a default file")
	}
	return LoadWithViper(v)
}

// Reset clears the cached configuration.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	viperInstance = nil
	configSources = nil
}

func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := newEnvViper()
	SetDefaults(v)
	configSources = mergeConfigFiles(v, configPaths())

	viperInstance = v
	return v
}

func newEnvViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// configFile is one candidate location and the source it represents.
type configFile struct {
	path   string
	source ConfigSource
}

// configPaths lists config locations from lowest to highest precedence.
func configPaths() []configFile {
	paths := []configFile{{path: "/etc/tessera/config.toml", source: SourceSystem}}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, configFile{path: filepath.Join(home, ".tessera", "config.toml"), source: SourceUser})
	}
	if project := findProjectConfig(); project != "" {
		paths = append(paths, configFile{path: project, source: SourceProject})
	}
	return paths
}

// findProjectConfig walks up from the working directory looking for tessera.toml.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ProjectConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// mergeConfigFiles merges each existing file into v in order and records which
// file last set each key. Unreadable files are logged and skipped.
func mergeConfigFiles(v *viper.Viper, files []configFile) map[string]SourceInfo {
	sources := map[string]SourceInfo{}
	for _, f := range files {
		if _, err := os.Stat(f.path); err != nil {
			continue
		}
		tmp := viper.New()
		tmp.SetConfigFile(f.path)
		tmp.SetConfigType("toml")
		if err := tmp.ReadInConfig(); err != nil {
			logger.Warnw("Skipping unreadable config file", logger.FieldPath, f.path, logger.FieldError, err.Error())
			continue
		}
		if err := v.MergeConfigMap(tmp.AllSettings()); err != nil {
			logger.Warnw("Skipping config file", logger.FieldPath, f.path, logger.FieldError, err.Error())
			continue
		}
		for _, key := range tmp.AllKeys() {
			sources[key] = SourceInfo{Source: f.source, Path: f.path}
		}
	}
	return sources
}
