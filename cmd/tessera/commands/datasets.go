package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/tessera/display"
)

// CreateCmd registers a raw file as a new dataset.
var CreateCmd = &cobra.Command{
	Use:   "create <name> <path>",
	Short: "Register a raw data file as a new dataset",
	Long: `Register a CSV, TSV, Parquet or JSON file as a new dataset.

The file becomes the dataset's immutable Raw version. It is referenced in place,
not copied, so it must stay where it is.`,
	Args: cobra.ExactArgs(2),
	RunE: runCreate,
}

// LsCmd lists datasets.
var LsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List datasets",
	Args:  cobra.NoArgs,
	RunE:  runLs,
}

func runCreate(cmd *cobra.Command, args []string) error {
	reg, closeFn, err := openRegistry()
	if err != nil {
		return err
	}
	defer closeFn()

	id, err := reg.CreateDataset(args[0], args[1])
	if err != nil {
		return err
	}
	ds, err := reg.GetDataset(id)
	if err != nil {
		return err
	}
	raw, err := ds.ActiveVersion()
	if err != nil {
		return err
	}

	pterm.Success.Printfln("Created dataset %s (%s)", pterm.Bold.Sprint(args[0]), id)
	if raw.Metadata.RowCount != nil && raw.Metadata.ColumnCount != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s rows × %d columns, raw version %s\n",
			humanize.Comma(*raw.Metadata.RowCount), *raw.Metadata.ColumnCount, raw.ShortID())
	}
	return nil
}

func runLs(cmd *cobra.Command, args []string) error {
	reg, closeFn, err := openRegistry()
	if err != nil {
		return err
	}
	defer closeFn()

	list, err := reg.ListDatasets()
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(cmd.OutOrStdout(), list)
	}
	if len(list) == 0 {
		pterm.Info.Println("No datasets yet. Create one with 'tessera create <name> <path>'")
		return nil
	}

	data := pterm.TableData{{"ID", "NAME", "STAGE", "VERSIONS", "ACTIVE", "CREATED"}}
	for _, s := range list {
		data = append(data, []string{
			shortID(s.ID),
			s.Name,
			s.ActiveStage,
			fmt.Sprint(s.VersionCount),
			shortID(s.ActiveVersionID),
			humanize.Time(s.CreatedAt),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
