package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/tessera/frame"
	"github.com/teranos/tessera/lifecycle"
)

// HeadCmd prints the first rows of a version.
var HeadCmd = &cobra.Command{
	Use:   "head <dataset> [version]",
	Short: "Show the first rows of a version (default: active)",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runHead,
}

var (
	headRowsFlag    int
	headColumnsFlag []string
	headFilterFlag  []string
)

func init() {
	HeadCmd.Flags().IntVarP(&headRowsFlag, "rows", "n", 10, "Number of rows to show")
	HeadCmd.Flags().StringSliceVarP(&headColumnsFlag, "columns", "c", nil, "Only show these columns")
	HeadCmd.Flags().StringArrayVarP(&headFilterFlag, "where", "w", nil, "Row filter, e.g. \"age >= 30\" (repeatable)")
}

func runHead(cmd *cobra.Command, args []string) error {
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
	v, err := resolveVersion(ds, ref)
	if err != nil {
		return err
	}

	q := lifecycle.NewQuery(ds).Version(lifecycle.ByID(v.ID)).Limit(headRowsFlag)
	for _, f := range headFilterFlag {
		q.Filter(f)
	}
	if len(headColumnsFlag) > 0 {
		q.Select(headColumnsFlag...)
	}
	lf, err := q.Build()
	if err != nil {
		return err
	}
	b, err := lf.Collect()
	if err != nil {
		return err
	}
	return pterm.DefaultTable.WithHasHeader().WithData(batchTable(b)).Render()
}

func batchTable(b frame.Batch) pterm.TableData {
	data := pterm.TableData{b.Schema.Names()}
	rows := 0
	if len(b.Columns) > 0 {
		rows = len(b.Columns[0])
	}
	for r := 0; r < rows; r++ {
		row := make([]string, len(b.Columns))
		for c := range b.Columns {
			if v := b.Columns[c][r]; v == nil {
				row[c] = pterm.Gray("null")
			} else {
				row[c] = frame.FormatValue(v)
			}
		}
		data = append(data, row)
	}
	return data
}
