// Package transform describes data changes as serializable, replayable pipelines.
//
// A Spec is a transform type tag plus an open parameter map, so new kinds need
// no storage migration. Each kind registers how it instantiates and whether
// it forces a physical rewrite of the data (see ApplyMode).
package transform

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/teranos/tessera/errors"
	"github.com/teranos/tessera/frame"
	"github.com/teranos/tessera/stage"
)

// Spec is the serialized form of one transform.
type Spec struct {
	TransformType string         `json:"transform_type" yaml:"transform_type" toml:"transform_type"`
	Parameters    map[string]any `json:"parameters" yaml:"parameters" toml:"parameters"`
}

// Transform is a deterministic function from one lazy computation to another.
type Transform interface {
	Name() string
	Apply(lf frame.LazyFrame) (frame.LazyFrame, error)
	Parameters() map[string]any
	Description() string
}

// ApplyMode says what a transform needs from storage.
type ApplyMode int

const (
	// Rewrite transforms change data and need a new artifact.
	Rewrite ApplyMode = iota
	// AtRead transforms are cheap enough to replay on every load (column pruning).
	AtRead
	// None transforms change nothing in the data for the given parent stage.
	None
)

func (m ApplyMode) String() string {
	switch m {
	case AtRead:
		return "at_read"
	case None:
		return "none"
	}
	return "rewrite"
}

// Kind registers a transform type.
type Kind struct {
	Name string
	New  func(params map[string]any) (Transform, error)
	// Mode reports the apply mode for these parameters on a parent in the given
	// stage. Nil means the kind always rewrites.
	Mode func(params map[string]any, parent stage.Stage) ApplyMode
}

var (
	kindsMu sync.RWMutex
	kinds   = map[string]Kind{}
)

// Register adds or replaces a transform kind.
func Register(k Kind) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	kinds[k.Name] = k
}

// Kinds returns the registered type names, sorted.
func Kinds() []string {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	names := make([]string, 0, len(kinds))
	for n := range kinds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func lookup(name string) (Kind, error) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	k, ok := kinds[name]
	if !ok {
		return Kind{}, errors.NewInvalidRequestError("unknown transform type %q", name)
	}
	return k, nil
}

// Instantiate builds the concrete transform for a spec.
func Instantiate(spec Spec) (Transform, error) {
	k, err := lookup(spec.TransformType)
	if err != nil {
		return nil, err
	}
	t, err := k.New(spec.Parameters)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "transform %s", spec.TransformType), errors.ErrInvalidRequest)
	}
	return t, nil
}

// ModeOf reports the apply mode of spec on a parent in the given stage.
func ModeOf(spec Spec, parent stage.Stage) (ApplyMode, error) {
	k, err := lookup(spec.TransformType)
	if err != nil {
		return Rewrite, err
	}
	if k.Mode == nil {
		return Rewrite, nil
	}
	return k.Mode(spec.Parameters, parent), nil
}

// NewSpec builds a spec, normalizing parameters to their JSON shapes so a spec
// compares equal to itself after a round trip through metadata.
func NewSpec(transformType string, params map[string]any) Spec {
	normalized, err := normalize(params)
	if err != nil {
		// Parameters built in code are always encodable
		panic(fmt.Sprintf("transform %s: %v", transformType, err))
	}
	return Spec{TransformType: transformType, Parameters: normalized}
}

func normalize(params map[string]any) (map[string]any, error) {
	if params == nil {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, errors.WrapSerialization(err, "transform parameters")
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, errors.WrapSerialization(err, "transform parameters")
	}
	return out, nil
}

// decodeParams fills a typed parameter struct from the open map.
func decodeParams(params map[string]any, out any) error {
	b, err := json.Marshal(params)
	if err != nil {
		return errors.Wrap(err, "encode parameters")
	}
	if err := json.Unmarshal(b, out); err != nil {
		return errors.Wrap(err, "decode parameters")
	}
	return nil
}

// Pipeline is an ordered list of transforms.
type Pipeline struct {
	Transforms []Spec `json:"transforms" yaml:"transforms" toml:"transforms"`
}

// Empty returns a pipeline with no transforms.
func Empty() Pipeline {
	return Pipeline{Transforms: []Spec{}}
}

// NewPipeline builds a pipeline from specs.
func NewPipeline(specs ...Spec) Pipeline {
	return Pipeline{Transforms: append([]Spec{}, specs...)}
}

// Add appends a spec.
func (p *Pipeline) Add(spec Spec) {
	p.Transforms = append(p.Transforms, spec)
}

// Len returns the number of transforms.
func (p Pipeline) Len() int { return len(p.Transforms) }

// IsEmpty reports whether the pipeline does nothing.
func (p Pipeline) IsEmpty() bool { return len(p.Transforms) == 0 }

// Concat returns p followed by other; neither input is modified.
func (p Pipeline) Concat(other Pipeline) Pipeline {
	out := make([]Spec, 0, len(p.Transforms)+len(other.Transforms))
	out = append(out, p.Transforms...)
	return Pipeline{Transforms: append(out, other.Transforms...)}
}

// Apply instantiates and applies every transform in order.
func (p Pipeline) Apply(lf frame.LazyFrame) (frame.LazyFrame, error) {
	for i, spec := range p.Transforms {
		t, err := Instantiate(spec)
		if err != nil {
			return frame.LazyFrame{}, errors.Wrapf(err, "instantiate transform %d", i)
		}
		if lf, err = t.Apply(lf); err != nil {
			return frame.LazyFrame{}, errors.Wrapf(err, "apply transform %d (%s)", i, spec.TransformType)
		}
	}
	return lf, nil
}

// Reusable reports whether applying p to a parent in the given stage can alias
// the parent's data: true when p is empty or none of its transforms rewrites.
func (p Pipeline) Reusable(parent stage.Stage) (bool, error) {
	for _, spec := range p.Transforms {
		mode, err := ModeOf(spec, parent)
		if err != nil {
			return false, err
		}
		if mode == Rewrite {
			return false, nil
		}
	}
	return true, nil
}

// ReadTime keeps only the transforms that must be replayed when loading data
// that aliases a parent in the given stage.
func (p Pipeline) ReadTime(parent stage.Stage) (Pipeline, error) {
	out := Empty()
	for _, spec := range p.Transforms {
		mode, err := ModeOf(spec, parent)
		if err != nil {
			return Pipeline{}, err
		}
		if mode == AtRead {
			out.Add(spec)
		}
	}
	return out, nil
}

// Describe returns one line per transform.
func (p Pipeline) Describe() []string {
	lines := make([]string, 0, len(p.Transforms))
	for _, spec := range p.Transforms {
		t, err := Instantiate(spec)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%s (invalid: %v)", spec.TransformType, err))
			continue
		}
		lines = append(lines, t.Description())
	}
	return lines
}

// JSON returns the indented JSON encoding.
func (p Pipeline) JSON() (string, error) {
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", errors.WrapSerialization(err, "pipeline")
	}
	return string(b), nil
}

// PipelineFromJSON decodes a pipeline.
func PipelineFromJSON(s string) (Pipeline, error) {
	var p Pipeline
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return Pipeline{}, errors.WrapSerialization(err, "pipeline")
	}
	return p, nil
}
