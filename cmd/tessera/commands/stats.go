package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// StatsCmd reports storage usage of a dataset.
var StatsCmd = &cobra.Command{
	Use:   "stats <dataset>",
	Short: "Show storage usage of a dataset",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

// CleanupCmd deletes versions that are not needed.
var CleanupCmd = &cobra.Command{
	Use:   "cleanup <dataset>",
	Short: "Delete versions outside the kept lineages",
	Long: `Delete stored versions except the raw root, the active version, every
--keep version, and all of their ancestors.

Examples:
  tessera cleanup people                         # keep only the active lineage
  tessera cleanup people --keep 3f2a --keep raw`,
	Args: cobra.ExactArgs(1),
	RunE: runCleanup,
}

var cleanupKeepFlag []string

func init() {
	CleanupCmd.Flags().StringArrayVarP(&cleanupKeepFlag, "keep", "k", nil, "Version to keep with its ancestors (repeatable)")
}

func runStats(cmd *cobra.Command, args []string) error {
	reg, closeFn, err := openRegistry()
	if err != nil {
		return err
	}
	defer closeFn()

	ds, err := resolveDataset(reg, args[0])
	if err != nil {
		return err
	}
	stats, err := reg.StorageStats(ds.ID)
	if err != nil {
		return err
	}

	data := pterm.TableData{
		{"Dataset", fmt.Sprintf("%s (%s)", ds.Name, ds.ID)},
		{"Versions", fmt.Sprint(ds.Versions.Len())},
		{"Stored artifacts", fmt.Sprint(stats.VersionCount)},
		{"Total size", humanize.Bytes(uint64(stats.TotalBytes))},
		{"Average size", humanize.Bytes(uint64(stats.AvgVersionBytes()))},
	}
	return pterm.DefaultTable.WithData(data).Render()
}

func runCleanup(cmd *cobra.Command, args []string) error {
	reg, closeFn, err := openRegistry()
	if err != nil {
		return err
	}
	defer closeFn()

	ds, err := resolveDataset(reg, args[0])
	if err != nil {
		return err
	}
	keep := make([]string, 0, len(cleanupKeepFlag))
	for _, ref := range cleanupKeepFlag {
		v, err := resolveVersion(ds, ref)
		if err != nil {
			return err
		}
		keep = append(keep, v.ID)
	}

	before, err := reg.StorageStats(ds.ID)
	if err != nil {
		return err
	}
	removed, err := reg.CleanupVersions(ds.ID, keep)
	if err != nil {
		return err
	}
	after, err := reg.StorageStats(ds.ID)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Removed %d version(s), freed %s", removed,
		humanize.Bytes(uint64(before.TotalBytes-after.TotalBytes)))
	return nil
}
