package lifecycle

import (
	"fmt"
	"regexp"

	"github.com/teranos/tessera/errors"
	"github.com/teranos/tessera/frame"
)

// Rule kinds.
const (
	RuleMaxNullPercent = "max_null_percent"
	RuleValueRange     = "value_range"
	RuleColumnExists   = "column_exists"
	RuleRowCountRange  = "row_count_range"
	RuleNoDuplicates   = "no_duplicates"
	RuleMatchesPattern = "matches_pattern"
)

// ValidationRule is one QA gate. Which fields matter depends on Kind.
type ValidationRule struct {
	Kind       string  `json:"kind" yaml:"kind" toml:"kind"`
	Column     string  `json:"column,omitempty" yaml:"column" toml:"column"`
	MaxPercent float64 `json:"max_percent,omitempty" yaml:"max_percent" toml:"max_percent"`
	Min        float64 `json:"min,omitempty" yaml:"min" toml:"min"`
	Max        float64 `json:"max,omitempty" yaml:"max" toml:"max"`
	Pattern    string  `json:"pattern,omitempty" yaml:"pattern" toml:"pattern"`
}

func MaxNullPercent(column string, maxPercent float64) ValidationRule {
	return ValidationRule{Kind: RuleMaxNullPercent, Column: column, MaxPercent: maxPercent}
}

func ValueRange(column string, min, max float64) ValidationRule {
	return ValidationRule{Kind: RuleValueRange, Column: column, Min: min, Max: max}
}

func ColumnExists(column string) ValidationRule {
	return ValidationRule{Kind: RuleColumnExists, Column: column}
}

func RowCountRange(min, max int64) ValidationRule {
	return ValidationRule{Kind: RuleRowCountRange, Min: float64(min), Max: float64(max)}
}

func NoDuplicates(column string) ValidationRule {
	return ValidationRule{Kind: RuleNoDuplicates, Column: column}
}

func MatchesPattern(column, pattern string) ValidationRule {
	return ValidationRule{Kind: RuleMatchesPattern, Column: column, Pattern: pattern}
}

// ValidationResult is the outcome of one rule.
type ValidationResult struct {
	Rule    ValidationRule `json:"rule"`
	Passed  bool           `json:"passed"`
	Message string         `json:"message"`
}

// Validate evaluates every rule against lf. A rule that cannot be evaluated
// (unknown kind, bad pattern) is an error; a rule that evaluates to false is a
// failed result.
func Validate(lf frame.LazyFrame, rules []ValidationRule) ([]ValidationResult, error) {
	schema, err := lf.Schema()
	if err != nil {
		return nil, err
	}
	results := make([]ValidationResult, 0, len(rules))
	for _, rule := range rules {
		res, err := validateRule(lf, schema, rule)
		if err != nil {
			return nil, errors.Wrapf(err, "rule %s", rule.Kind)
		}
		results = append(results, res)
	}
	return results, nil
}

func validateRule(lf frame.LazyFrame, schema frame.Schema, rule ValidationRule) (ValidationResult, error) {
	res := ValidationResult{Rule: rule}

	switch rule.Kind {
	case RuleMaxNullPercent, RuleValueRange, RuleColumnExists, RuleRowCountRange, RuleNoDuplicates, RuleMatchesPattern:
	default:
		return res, errors.NewInvalidRequestError("unknown validation rule %q", rule.Kind)
	}

	if rule.Kind == RuleColumnExists {
		res.Passed = schema.Index(rule.Column) >= 0
		if res.Passed {
			res.Message = fmt.Sprintf("Column '%s' exists", rule.Column)
		} else {
			res.Message = fmt.Sprintf("Column '%s' does not exist", rule.Column)
		}
		return res, nil
	}

	if rule.Kind == RuleRowCountRange {
		n, err := lf.Count()
		if err != nil {
			return res, err
		}
		res.Passed = float64(n) >= rule.Min && float64(n) <= rule.Max
		res.Message = fmt.Sprintf("Row count %d is %sin range [%d, %d]", n, not(res.Passed), int64(rule.Min), int64(rule.Max))
		return res, nil
	}

	if schema.Index(rule.Column) < 0 {
		res.Message = fmt.Sprintf("Column '%s' does not exist", rule.Column)
		return res, nil
	}

	switch rule.Kind {
	case RuleMaxNullPercent:
		var nulls, total int64
		err := eachValue(lf, rule.Column, func(v any) {
			total++
			if v == nil {
				nulls++
			}
		})
		if err != nil {
			return res, err
		}
		pct := 0.0
		if total > 0 {
			pct = float64(nulls) / float64(total) * 100
		}
		res.Passed = pct <= rule.MaxPercent
		res.Message = fmt.Sprintf("Column '%s' has %.2f%% nulls (max allowed: %.2f%%)", rule.Column, pct, rule.MaxPercent)

	case RuleValueRange:
		lo, okLo, err := lf.Min(rule.Column)
		if err != nil {
			return res, err
		}
		hi, okHi, err := lf.Max(rule.Column)
		if err != nil {
			return res, err
		}
		res.Passed = okLo && okHi && lo >= rule.Min && hi <= rule.Max
		res.Message = fmt.Sprintf("Column '%s' range [%g, %g] %swithin expected [%g, %g]", rule.Column, lo, hi, not(res.Passed), rule.Min, rule.Max)

	case RuleNoDuplicates:
		seen := map[any]struct{}{}
		var total int64
		err := eachValue(lf, rule.Column, func(v any) {
			total++
			seen[v] = struct{}{}
		})
		if err != nil {
			return res, err
		}
		unique := int64(len(seen))
		res.Passed = unique == total
		res.Message = fmt.Sprintf("Column '%s' has %d unique values out of %d (duplicates: %d)", rule.Column, unique, total, total-unique)

	case RuleMatchesPattern:
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return res, errors.Mark(errors.Wrapf(err, "invalid pattern %q", rule.Pattern), errors.ErrInvalidRequest)
		}
		var mismatched int64
		err = eachValue(lf, rule.Column, func(v any) {
			if v != nil && !re.MatchString(frame.FormatValue(v)) {
				mismatched++
			}
		})
		if err != nil {
			return res, err
		}
		res.Passed = mismatched == 0
		res.Message = fmt.Sprintf("Column '%s' has %d values not matching %s", rule.Column, mismatched, rule.Pattern)
	}
	return res, nil
}

func eachValue(lf frame.LazyFrame, column string, fn func(any)) error {
	return lf.Select(column).Stream(frame.DefaultBatchSize, func(b frame.Batch) error {
		for _, v := range b.Columns[0] {
			fn(v)
		}
		return nil
	})
}

func not(passed bool) string {
	if passed {
		return ""
	}
	return "not "
}
