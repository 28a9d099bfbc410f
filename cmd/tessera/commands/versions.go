package commands

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/tessera/display"
	"github.com/teranos/tessera/lifecycle"
)

// LogCmd lists the versions of a dataset.
var LogCmd = &cobra.Command{
	Use:   "log <dataset>",
	Short: "List the versions of a dataset",
	Args:  cobra.ExactArgs(1),
	RunE:  runLog,
}

// LineageCmd prints the root-to-version chain.
var LineageCmd = &cobra.Command{
	Use:   "lineage <dataset> [version]",
	Short: "Show the lineage of a version (default: active)",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runLineage,
}

// ActivateCmd repoints a dataset at an existing version.
var ActivateCmd = &cobra.Command{
	Use:   "activate <dataset> <version>",
	Short: "Make an existing version the active one (rollback)",
	Long: `Move the dataset's active pointer to an existing version.

No version is created and no data is touched. Versions can be named by id, id
prefix, "raw", "latest" or a stage name.`,
	Args: cobra.ExactArgs(2),
	RunE: runActivate,
}

func runLog(cmd *cobra.Command, args []string) error {
	reg, closeFn, err := openRegistry()
	if err != nil {
		return err
	}
	defer closeFn()

	ds, err := resolveDataset(reg, args[0])
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(cmd.OutOrStdout(), ds.ListVersions())
	}

	data := pterm.TableData{{"", "VERSION", "PARENT", "STAGE", "ROWS", "STORAGE", "PIPELINE", "CREATED"}}
	for _, v := range ds.ListVersions() {
		marker := ""
		if v.ID == ds.ActiveVersionID {
			marker = "*"
		}
		parent := "-"
		if v.ParentID != nil {
			parent = shortID(*v.ParentID)
		}
		rows := "-"
		if v.Metadata.RowCount != nil {
			rows = humanize.Comma(*v.Metadata.RowCount)
		}
		data = append(data, []string{
			marker,
			v.ShortID(),
			parent,
			v.Stage.String(),
			rows,
			storageLabel(ds, v),
			strings.Join(v.Pipeline.Describe(), "; "),
			humanize.Time(v.CreatedAt),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// storageLabel says whether v has its own artifact or reads through its parent.
func storageLabel(ds *lifecycle.Dataset, v lifecycle.DatasetVersion) string {
	if v.IsRoot() {
		return "original"
	}
	parent, err := ds.Version(v.Parent())
	if err == nil && parent.DataLocation == v.DataLocation {
		return "alias"
	}
	if v.Metadata.FileSizeBytes != nil {
		return humanize.Bytes(uint64(*v.Metadata.FileSizeBytes))
	}
	return "snapshot"
}

func runLineage(cmd *cobra.Command, args []string) error {
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
	target, err := resolveVersion(ds, ref)
	if err != nil {
		return err
	}
	lineage, err := reg.Lineage(ds.ID, target.ID)
	if err != nil {
		return err
	}

	items := make([]pterm.LeveledListItem, 0, len(lineage))
	for i, v := range lineage {
		text := fmt.Sprintf("%s %s", pterm.Cyan(v.Stage.String()), v.ShortID())
		if !v.Pipeline.IsEmpty() {
			text += "  " + pterm.Gray(strings.Join(v.Pipeline.Describe(), "; "))
		}
		items = append(items, pterm.LeveledListItem{Level: i, Text: text})
	}
	return pterm.DefaultTree.WithRoot(pterm.NewTreeFromLeveledList(items)).Render()
}

func runActivate(cmd *cobra.Command, args []string) error {
	reg, closeFn, err := openRegistry()
	if err != nil {
		return err
	}
	defer closeFn()

	ds, err := resolveDataset(reg, args[0])
	if err != nil {
		return err
	}
	v, err := resolveVersion(ds, args[1])
	if err != nil {
		return err
	}
	if err := reg.SetActiveVersion(ds.ID, v.ID); err != nil {
		return err
	}
	pterm.Success.Printfln("%s is now at %s (%s)", ds.Name, v.ShortID(), strings.ToLower(v.Stage.String()))
	return nil
}
