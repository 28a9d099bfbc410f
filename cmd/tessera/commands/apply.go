package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/tessera/errors"
	"github.com/teranos/tessera/lifecycle"
	"github.com/teranos/tessera/stage"
	"github.com/teranos/tessera/transform"
)

// ApplyCmd applies a pipeline file to the active version.
var ApplyCmd = &cobra.Command{
	Use:   "apply <dataset> <pipeline-file>",
	Short: "Apply a transform pipeline to the active version",
	Long: `Apply a pipeline of transforms to the active version and record the result
as a new version at the target stage.

Pipelines are JSON, YAML or TOML documents:

  transforms:
    - transform_type: trim_whitespace
    - transform_type: select_columns
      parameters: {columns: [name, age]}

Pipelines made only of read-time transforms (select_columns) reuse the
parent's storage instead of writing a new artifact.`,
	Args: cobra.ExactArgs(2),
	RunE: runApply,
}

// StageCmd runs a built-in stage executor.
var StageCmd = &cobra.Command{
	Use:   "stage <dataset> <profile|clean|advanced|validate|publish>",
	Short: "Advance the active version through a lifecycle stage",
	Long: `Run a built-in stage on the active version.

  profile   record per-column statistics, no data change
  clean     per-column cleaning from --columns
  advanced  unrestricted cleaning with imputation (--impute) and rounding
  validate  check --rules and refuse to advance on any failure
  publish   publish as --mode view or snapshot

Stages only move forward.`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"profile", "clean", "advanced", "validate", "publish"},
	RunE:      runStage,
}

var (
	applyStageFlag   string
	stageColumnsFlag string
	stageRulesFlag   string
	stageImputeFlag  bool
	stageRestrictFlg bool
	stageModeFlag    string
)

func init() {
	ApplyCmd.Flags().StringVarP(&applyStageFlag, "stage", "s", "cleaned", "Stage label for the new version")

	StageCmd.Flags().StringVar(&stageColumnsFlag, "columns", "", "Column config file for clean/advanced (name → config)")
	StageCmd.Flags().StringVar(&stageRulesFlag, "rules", "", "Validation rules file for validate")
	StageCmd.Flags().BoolVar(&stageImputeFlag, "impute", false, "Mean-impute numeric columns without an impute_mode (advanced)")
	StageCmd.Flags().BoolVar(&stageRestrictFlg, "restricted", true, "Restrict clean to text and type operations")
	StageCmd.Flags().StringVar(&stageModeFlag, "mode", "view", "Publish mode: view or snapshot")
}

func runApply(cmd *cobra.Command, args []string) error {
	target, err := stage.Parse(applyStageFlag)
	if err != nil {
		return err
	}
	p, err := transform.LoadPipelineFile(args[1])
	if err != nil {
		return err
	}

	reg, closeFn, err := openRegistry()
	if err != nil {
		return err
	}
	defer closeFn()

	ds, err := resolveDataset(reg, args[0])
	if err != nil {
		return err
	}
	id, err := reg.ApplyTransforms(ds.ID, p, target)
	if err != nil {
		return err
	}
	return reportVersion(cmd, reg, ds.ID, id)
}

func runStage(cmd *cobra.Command, args []string) error {
	executor, err := buildExecutor(args[1])
	if err != nil {
		return err
	}

	reg, closeFn, err := openRegistry()
	if err != nil {
		return err
	}
	defer closeFn()

	ds, err := resolveDataset(reg, args[0])
	if err != nil {
		return err
	}
	id, err := reg.ApplyStage(ds.ID, executor)
	if v, ok := executor.(*lifecycle.ValidateExecutor); ok {
		printValidation(v.Results())
	}
	if err != nil {
		return err
	}
	if p, ok := executor.(*lifecycle.ProfileExecutor); ok {
		if err := printProfiles(p); err != nil {
			return err
		}
	}
	return reportVersion(cmd, reg, ds.ID, id)
}

func buildExecutor(name string) (lifecycle.StageExecutor, error) {
	switch strings.ToLower(name) {
	case "profile":
		return lifecycle.NewProfileExecutor(), nil
	case "clean", "advanced":
		configs := map[string]transform.ColumnConfig{}
		if stageColumnsFlag == "" {
			return nil, errors.WithHint(
				errors.NewInvalidRequestError("%s needs column configs", name),
				"pass --columns <file> mapping column names to configs")
		}
		if err := decodeFile(stageColumnsFlag, &configs); err != nil {
			return nil, err
		}
		if name == "clean" {
			return lifecycle.NewCleanExecutor(configs, stageRestrictFlg), nil
		}
		return lifecycle.NewAdvancedExecutor(configs, stageImputeFlag), nil
	case "validate":
		var doc struct {
			Rules []lifecycle.ValidationRule `yaml:"rules" toml:"rules"`
		}
		if stageRulesFlag == "" {
			return nil, errors.WithHint(
				errors.NewInvalidRequestError("validate needs rules"),
				"pass --rules <file> with a 'rules' list")
		}
		if err := decodeFile(stageRulesFlag, &doc); err != nil {
			return nil, err
		}
		return lifecycle.NewValidateExecutor(doc.Rules...), nil
	case "publish":
		mode, err := stage.ParsePublishMode(stageModeFlag)
		if err != nil {
			return nil, err
		}
		return lifecycle.NewPublishExecutor(mode), nil
	}
	return nil, errors.WithHint(
		errors.NewInvalidRequestError("unknown stage %q", name),
		"choose one of profile, clean, advanced, validate, publish")
}

func reportVersion(cmd *cobra.Command, reg *lifecycle.Registry, datasetID, versionID string) error {
	v, err := reg.GetVersion(datasetID, versionID)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Created %s version %s", v.Stage, v.ShortID())
	if v.Metadata.RowCount != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "  rows: %d\n", *v.Metadata.RowCount)
	}
	return nil
}

func printValidation(results []lifecycle.ValidationResult) {
	for _, r := range results {
		if r.Passed {
			pterm.Printf("  %s %s\n", pterm.LightGreen("✓"), r.Message)
		} else {
			pterm.Printf("  %s %s\n", pterm.Red("✗"), r.Message)
		}
	}
}

func printProfiles(p *lifecycle.ProfileExecutor) error {
	data := pterm.TableData{{"COLUMN", "TYPE", "NULLS", "MIN", "MAX", "MEAN"}}
	for _, c := range p.Profiles() {
		data = append(data, []string{c.Name, c.Type.String(), fmt.Sprint(c.NullCount), optFloat(c.Min), optFloat(c.Max), optFloat(c.Mean)})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func optFloat(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%.4g", *f)
}
