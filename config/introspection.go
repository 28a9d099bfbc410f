package config

import (
	"os"
	"sort"
	"strings"
)

// ConfigSource names where a configuration value came from.
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"      // /etc/tessera/config.toml
	SourceUser        ConfigSource = "user"        // ~/.tessera/config.toml
	SourceProject     ConfigSource = "project"     // tessera.toml in a parent directory
	SourceEnvironment ConfigSource = "environment" // TESSERA_* env vars
)

// SourceInfo records the origin of one key.
type SourceInfo struct {
	Source ConfigSource
	Path   string // file path or environment variable name
}

// SettingInfo is one effective setting and its origin.
type SettingInfo struct {
	Key        string       `json:"key"`
	Value      interface{}  `json:"value"`
	Source     ConfigSource `json:"source"`
	SourcePath string       `json:"source_path,omitempty"`
}

// Introspect lists every effective setting, sorted by key, with the source that
// supplied it.
func Introspect() []SettingInfo {
	mu.Lock()
	v := initViper()
	sources := configSources
	mu.Unlock()
	return flattenSettings(v.AllSettings(), "", sources, nil)
}

func flattenSettings(settings map[string]interface{}, prefix string, sources map[string]SourceInfo, out []SettingInfo) []SettingInfo {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := settings[key]
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			out = flattenSettings(nested, fullKey, sources, out)
			continue
		}

		info := SourceInfo{Source: SourceDefault, Path: "built-in default"}
		if si, ok := sources[fullKey]; ok {
			info = si
		}
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(fullKey, ".", "_"))
		if _, ok := os.LookupEnv(envKey); ok {
			info = SourceInfo{Source: SourceEnvironment, Path: envKey}
		}

		out = append(out, SettingInfo{
			Key:        fullKey,
			Value:      value,
			Source:     info.Source,
			SourcePath: info.Path,
		})
	}
	return out
}
