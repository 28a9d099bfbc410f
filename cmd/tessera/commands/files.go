package commands

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/teranos/tessera/errors"
)

// decodeFile reads a .toml, .yaml/.yml or .json document into out. JSON goes
// through the YAML decoder, which accepts it.
func decodeFile(path string, out any) error {
	unmarshal := yaml.Unmarshal
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		unmarshal = toml.Unmarshal
	case ".yaml", ".yml", ".json":
	default:
		return errors.WithHint(
			errors.NewInvalidRequestError("unsupported file %s", path),
			"use a .json, .yaml or .toml file")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WrapIO(err, "read", path)
	}
	if err := unmarshal(data, out); err != nil {
		return errors.WrapSerialization(err, path)
	}
	return nil
}
