package lifecycle

import (
	"fmt"

	"github.com/teranos/tessera/errors"
	"github.com/teranos/tessera/frame"
	"github.com/teranos/tessera/stage"
	"github.com/teranos/tessera/transform"
)

// StageExecutor decides what a stage does to a dataset. It returns a pipeline
// rather than data, so the decision can be stored and replayed.
type StageExecutor interface {
	Execute(lf frame.LazyFrame) (transform.Pipeline, error)
	Stage() stage.Stage
	Description() string
}

// Annotator is implemented by executors that record findings in the new
// version's custom metadata fields.
type Annotator interface {
	Annotations() map[string]any
}

// ProfileExecutor summarizes every column without changing data.
type ProfileExecutor struct {
	profiles []frame.ColumnProfile
	rows     int64
}

// NewProfileExecutor returns a profile stage executor.
func NewProfileExecutor() *ProfileExecutor { return &ProfileExecutor{} }

func (e *ProfileExecutor) Execute(lf frame.LazyFrame) (transform.Pipeline, error) {
	profiles, rows, err := lf.Profile()
	if err != nil {
		return transform.Pipeline{}, err
	}
	e.profiles, e.rows = profiles, rows
	return transform.Empty(), nil
}

func (e *ProfileExecutor) Stage() stage.Stage { return stage.Profiled }

func (e *ProfileExecutor) Description() string {
	return "Analyze data quality and record per-column statistics"
}

// Profiles returns the result of the last Execute.
func (e *ProfileExecutor) Profiles() []frame.ColumnProfile { return e.profiles }

func (e *ProfileExecutor) Annotations() map[string]any {
	return map[string]any{"profile": e.profiles, "profiled_rows": e.rows}
}

// CleanExecutor applies deterministic per-column cleaning.
type CleanExecutor struct {
	Configs    map[string]transform.ColumnConfig
	Restricted bool
}

// NewCleanExecutor returns a clean stage executor.
func NewCleanExecutor(configs map[string]transform.ColumnConfig, restricted bool) *CleanExecutor {
	return &CleanExecutor{Configs: configs, Restricted: restricted}
}

func (e *CleanExecutor) Execute(frame.LazyFrame) (transform.Pipeline, error) {
	return transform.NewPipeline(transform.Clean(e.Configs, e.Restricted)), nil
}

func (e *CleanExecutor) Stage() stage.Stage { return stage.Cleaned }

func (e *CleanExecutor) Description() string {
	return fmt.Sprintf("Clean %d columns (restricted: %t)", len(e.Configs), e.Restricted)
}

// AdvancedExecutor runs the clean transform unrestricted, which enables
// imputation and rounding.
type AdvancedExecutor struct {
	Configs map[string]transform.ColumnConfig
}

// NewAdvancedExecutor returns an advanced stage executor. With impute set,
// numeric columns without an impute mode get mean imputation.
func NewAdvancedExecutor(configs map[string]transform.ColumnConfig, impute bool) *AdvancedExecutor {
	out := make(map[string]transform.ColumnConfig, len(configs))
	for name, cfg := range configs {
		if impute && cfg.ImputeMode == transform.ImputeNone {
			cfg.ImputeMode = transform.ImputeMean
		}
		out[name] = cfg
	}
	return &AdvancedExecutor{Configs: out}
}

func (e *AdvancedExecutor) Execute(frame.LazyFrame) (transform.Pipeline, error) {
	return transform.NewPipeline(transform.Clean(e.Configs, false)), nil
}

func (e *AdvancedExecutor) Stage() stage.Stage { return stage.Advanced }

func (e *AdvancedExecutor) Description() string {
	return fmt.Sprintf("Apply preprocessing to %d columns (imputation, rounding)", len(e.Configs))
}

// ValidateExecutor checks rules and refuses to advance when any fails.
type ValidateExecutor struct {
	Rules   []ValidationRule
	results []ValidationResult
}

// NewValidateExecutor returns a validate stage executor.
func NewValidateExecutor(rules ...ValidationRule) *ValidateExecutor {
	return &ValidateExecutor{Rules: rules}
}

func (e *ValidateExecutor) Execute(lf frame.LazyFrame) (transform.Pipeline, error) {
	results, err := Validate(lf, e.Rules)
	if err != nil {
		return transform.Pipeline{}, err
	}
	e.results = results

	var failed []string
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r.Message)
		}
	}
	if len(failed) > 0 {
		err := errors.NewInvalidRequestError("%d of %d validation rules failed", len(failed), len(results))
		for _, msg := range failed {
			err = errors.WithDetail(err, msg)
		}
		return transform.Pipeline{}, err
	}
	return transform.Empty(), nil
}

func (e *ValidateExecutor) Stage() stage.Stage { return stage.Validated }

func (e *ValidateExecutor) Description() string {
	return fmt.Sprintf("Run %d validation rules", len(e.Rules))
}

// Results returns the outcome of the last Execute.
func (e *ValidateExecutor) Results() []ValidationResult { return e.results }

func (e *ValidateExecutor) Annotations() map[string]any {
	return map[string]any{"validation": e.results}
}

// PublishExecutor finalizes the active version as a view or snapshot.
// Registry.ApplyStage routes it through Dataset.PublishVersion.
type PublishExecutor struct {
	Mode stage.PublishMode
}

// NewPublishExecutor returns a publish stage executor.
func NewPublishExecutor(mode stage.PublishMode) *PublishExecutor {
	return &PublishExecutor{Mode: mode}
}

func (e *PublishExecutor) Execute(frame.LazyFrame) (transform.Pipeline, error) {
	return transform.Empty(), nil
}

func (e *PublishExecutor) Stage() stage.Stage { return stage.Published }

func (e *PublishExecutor) Description() string {
	return "Publish as " + e.Mode.String()
}
