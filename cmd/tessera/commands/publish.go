package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/tessera/display"
	"github.com/teranos/tessera/stage"
)

// PublishCmd publishes any version, not only the active one.
var PublishCmd = &cobra.Command{
	Use:   "publish <dataset> [version]",
	Short: "Publish a version as a view or snapshot",
	Long: `Create a Published child of a version (default: active) and make it active.

A view shares the source's storage; a snapshot writes an independent columnar copy.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPublish,
}

// DiffCmd compares two versions.
var DiffCmd = &cobra.Command{
	Use:   "diff <dataset> <version1> <version2>",
	Short: "Compare two versions of a dataset",
	Long: `Report schema, row count and statistical differences between two versions.

Statistics and the column cap come from the diff section of the configuration.`,
	Args: cobra.ExactArgs(3),
	RunE: runDiff,
}

var publishModeFlag string

func init() {
	PublishCmd.Flags().StringVar(&publishModeFlag, "mode", "view", "Publish mode: view or snapshot")
}

func runPublish(cmd *cobra.Command, args []string) error {
	mode, err := stage.ParsePublishMode(publishModeFlag)
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
	ref := ""
	if len(args) == 2 {
		ref = args[1]
	}
	src, err := resolveVersion(ds, ref)
	if err != nil {
		return err
	}
	id, err := reg.PublishVersion(ds.ID, src.ID, mode)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Published %s as %s %s", src.ShortID(), mode, shortID(id))
	return nil
}

func runDiff(cmd *cobra.Command, args []string) error {
	reg, closeFn, err := openRegistry()
	if err != nil {
		return err
	}
	defer closeFn()

	ds, err := resolveDataset(reg, args[0])
	if err != nil {
		return err
	}
	v1, err := resolveVersion(ds, args[1])
	if err != nil {
		return err
	}
	v2, err := resolveVersion(ds, args[2])
	if err != nil {
		return err
	}
	summary, err := reg.ComputeDiff(ds.ID, v1.ID, v2.ID)
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(cmd.OutOrStdout(), summary)
	}

	pterm.DefaultSection.Printfln("%s → %s", v1.ShortID(), v2.ShortID())
	for _, line := range strings.Split(summary.SummaryText(), "\n") {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", line)
	}
	return nil
}
