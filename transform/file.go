package transform

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/teranos/tessera/errors"
)

// Pipeline file formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// LoadPipelineFile reads a pipeline from a .json, .yaml/.yml or .toml file.
func LoadPipelineFile(path string) (Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, errors.WrapIO(err, "read pipeline", path)
	}
	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		format = FormatJSON
	case ".yaml", ".yml":
		format = FormatYAML
	case ".toml":
		format = FormatTOML
	default:
		return Pipeline{}, errors.WithHint(
			errors.NewInvalidRequestError("unsupported pipeline file %s", path),
			"use a .json, .yaml or .toml file")
	}
	p, err := DecodePipeline(data, format)
	if err != nil {
		return Pipeline{}, errors.Wrapf(err, "pipeline file %s", path)
	}
	return p, nil
}

// DecodePipeline parses a pipeline document. JSON and YAML documents may also
// be a bare list of transforms. Every transform is validated by instantiating it.
func DecodePipeline(data []byte, format string) (Pipeline, error) {
	var p Pipeline
	var err error
	switch format {
	case FormatJSON:
		if err = json.Unmarshal(data, &p); err != nil {
			var list []Spec
			if json.Unmarshal(data, &list) == nil {
				p, err = Pipeline{Transforms: list}, nil
			}
		}
	case FormatYAML:
		if err = yaml.Unmarshal(data, &p); err != nil || p.Transforms == nil {
			var list []Spec
			if yaml.Unmarshal(data, &list) == nil && list != nil {
				p, err = Pipeline{Transforms: list}, nil
			}
		}
	case FormatTOML:
		_, err = toml.Decode(string(data), &p)
	default:
		return Pipeline{}, errors.NewInvalidRequestError("unknown pipeline format %q", format)
	}
	if err != nil {
		return Pipeline{}, errors.WrapSerialization(err, "pipeline")
	}

	for i, spec := range p.Transforms {
		// YAML and TOML decode numbers and nested maps differently from JSON
		params, err := normalize(spec.Parameters)
		if err != nil {
			return Pipeline{}, errors.Wrapf(err, "transform %d", i)
		}
		p.Transforms[i].Parameters = params
		if _, err := Instantiate(p.Transforms[i]); err != nil {
			return Pipeline{}, errors.Wrapf(err, "transform %d", i)
		}
	}
	if p.Transforms == nil {
		p.Transforms = []Spec{}
	}
	return p, nil
}
