package transform

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/teranos/tessera/errors"
	"github.com/teranos/tessera/frame"
	"github.com/teranos/tessera/stage"
)

// ColumnConfig is the per-column cleaning recipe of the clean transform.
type ColumnConfig struct {
	NewName            string `json:"new_name,omitempty" yaml:"new_name" toml:"new_name"`
	Active             *bool  `json:"active,omitempty" yaml:"active" toml:"active"`
	TargetDType        string `json:"target_dtype,omitempty" yaml:"target_dtype" toml:"target_dtype"`
	TrimWhitespace     bool   `json:"trim_whitespace,omitempty" yaml:"trim_whitespace" toml:"trim_whitespace"`
	TextCase           string `json:"text_case,omitempty" yaml:"text_case" toml:"text_case"`
	RemoveSpecialChars bool   `json:"remove_special_chars,omitempty" yaml:"remove_special_chars" toml:"remove_special_chars"`
	RemoveNonASCII     bool   `json:"remove_non_ascii,omitempty" yaml:"remove_non_ascii" toml:"remove_non_ascii"`
	RegexFind          string `json:"regex_find,omitempty" yaml:"regex_find" toml:"regex_find"`
	RegexReplace       string `json:"regex_replace,omitempty" yaml:"regex_replace" toml:"regex_replace"`
	StandardiseNulls   bool   `json:"standardise_nulls,omitempty" yaml:"standardise_nulls" toml:"standardise_nulls"`
	Rounding           *int   `json:"rounding,omitempty" yaml:"rounding" toml:"rounding"`
	ImputeMode         string `json:"impute_mode,omitempty" yaml:"impute_mode" toml:"impute_mode"`
}

// IsActive defaults to true when unset.
func (c ColumnConfig) IsActive() bool {
	return c.Active == nil || *c.Active
}

// Impute modes.
const (
	ImputeNone   = ""
	ImputeMean   = "mean"
	ImputeMedian = "median"
	ImputeZero   = "zero"
)

var (
	specialChars = regexp.MustCompile(`[^a-zA-Z0-9\s]`)
	nonASCII     = regexp.MustCompile(`[^\x00-\x7F]`)
	nullTokens   = map[string]bool{"null": true, "NULL": true, "": true, "N/A": true, "nan": true, "NaN": true}
)

// Clean builds a clean spec. restricted limits it to text normalisation,
// casting and renaming: no rounding and no imputation.
func Clean(configs map[string]ColumnConfig, restricted bool) Spec {
	return NewSpec(TypeClean, map[string]any{"configs": configs, "restricted": restricted})
}

type clean struct {
	Configs    map[string]ColumnConfig `json:"configs"`
	Restricted bool                    `json:"restricted"`

	regexes map[string]*regexp.Regexp
}

func newClean(params map[string]any) (Transform, error) {
	var t clean
	if err := decodeParams(params, &t); err != nil {
		return nil, err
	}
	if t.Configs == nil {
		return nil, errors.New("missing 'configs' parameter")
	}
	t.regexes = map[string]*regexp.Regexp{}
	for name, cfg := range t.Configs {
		switch strings.ToLower(cfg.ImputeMode) {
		case ImputeNone, ImputeMean, ImputeMedian, ImputeZero:
		default:
			return nil, errors.Newf("column %q: unknown impute_mode %q", name, cfg.ImputeMode)
		}
		switch strings.ToLower(cfg.TextCase) {
		case "", "none", "lower", "lowercase", "upper", "uppercase":
		default:
			return nil, errors.Newf("column %q: unknown text_case %q", name, cfg.TextCase)
		}
		if cfg.TargetDType != "" {
			if _, err := frame.ParseDType(cfg.TargetDType); err != nil {
				return nil, errors.Wrapf(err, "column %q", name)
			}
		}
		if cfg.RegexFind != "" {
			re, err := regexp.Compile(cfg.RegexFind)
			if err != nil {
				return nil, errors.Wrapf(err, "column %q: regex_find", name)
			}
			t.regexes[name] = re
		}
	}
	return &t, nil
}

// cleanMode: a restricted clean on an already Cleaned parent only advances the label.
func cleanMode(params map[string]any, parent stage.Stage) ApplyMode {
	restricted, _ := params["restricted"].(bool)
	if restricted && parent == stage.Cleaned {
		return None
	}
	return Rewrite
}

func (t *clean) Name() string { return TypeClean }

func (t *clean) Parameters() map[string]any {
	return map[string]any{"configs": t.Configs, "restricted": t.Restricted}
}

func (t *clean) Description() string {
	return fmt.Sprintf("Clean %d columns (restricted: %t)", len(t.Configs), t.Restricted)
}

func (t *clean) Apply(lf frame.LazyFrame) (frame.LazyFrame, error) {
	schema, err := lf.Schema()
	if err != nil {
		return frame.LazyFrame{}, err
	}

	names := make([]string, 0, len(t.Configs))
	for name := range t.Configs {
		names = append(names, name)
	}
	sort.Strings(names)

	renames := map[string]string{}
	for _, name := range names {
		cfg := t.Configs[name]
		field, ok := schema.Lookup(name)
		if !ok || !cfg.IsActive() {
			continue
		}

		if field.Type == frame.String {
			lf = lf.MapColumnKeepType(name, t.textCleaner(name, cfg))
		}
		if cfg.TargetDType != "" {
			target, _ := frame.ParseDType(cfg.TargetDType)
			lf = lf.Cast(name, target)
			field.Type = target
		}
		if !t.Restricted && field.Type.IsNumeric() {
			if fill := imputer(name, strings.ToLower(cfg.ImputeMode)); fill != nil {
				lf = lf.FillNull(name, fill)
			}
			if cfg.Rounding != nil && field.Type == frame.Float64 {
				lf = lf.MapColumnKeepType(name, rounder(*cfg.Rounding))
			}
		}
		if cfg.NewName != "" && cfg.NewName != name {
			renames[name] = cfg.NewName
		}
	}
	if len(renames) > 0 {
		lf = lf.Rename(renames)
	}
	return lf, nil
}

func (t *clean) textCleaner(name string, cfg ColumnConfig) func(any) (any, error) {
	re := t.regexes[name]
	textCase := strings.ToLower(cfg.TextCase)
	return func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		if cfg.TrimWhitespace {
			s = strings.TrimSpace(s)
		}
		switch textCase {
		case "lower", "lowercase":
			s = strings.ToLower(s)
		case "upper", "uppercase":
			s = strings.ToUpper(s)
		}
		if cfg.RemoveSpecialChars {
			s = specialChars.ReplaceAllString(s, "")
		}
		if cfg.RemoveNonASCII {
			s = nonASCII.ReplaceAllString(s, "")
		}
		if re != nil {
			s = re.ReplaceAllString(s, cfg.RegexReplace)
		}
		if cfg.StandardiseNulls && nullTokens[s] {
			return nil, nil
		}
		return s, nil
	}
}

func imputer(column, mode string) func(frame.LazyFrame) (any, error) {
	switch mode {
	case ImputeZero:
		return func(frame.LazyFrame) (any, error) { return 0.0, nil }
	case ImputeMean:
		return func(in frame.LazyFrame) (any, error) {
			mean, ok, err := in.Mean(column)
			if err != nil || !ok {
				return nil, err
			}
			return mean, nil
		}
	case ImputeMedian:
		return func(in frame.LazyFrame) (any, error) {
			median, ok, err := in.Median(column)
			if err != nil || !ok {
				return nil, err
			}
			return median, nil
		}
	}
	return nil
}

func rounder(decimals int) func(any) (any, error) {
	scale := math.Pow(10, float64(decimals))
	return func(v any) (any, error) {
		if f, ok := v.(float64); ok {
			return math.Round(f*scale) / scale, nil
		}
		return v, nil
	}
}
