package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/tessera/cmd/tessera/commands"
	"github.com/teranos/tessera/config"
	"github.com/teranos/tessera/errors"
	"github.com/teranos/tessera/logger"
)

var rootCmd = &cobra.Command{
	Use:   "tessera",
	Short: "tessera - versioned dataset lifecycle",
	Long: `tessera - versioned dataset lifecycle.

Register a raw file as a dataset, move it through the stages
Raw → Profiled → Cleaned → Advanced → Validated → Published, and keep every
intermediate version addressable, comparable and recoverable.

Examples:
  tessera create people ./people.csv          # Register a dataset
  tessera apply people pipeline.yaml --stage cleaned
  tessera log people                          # List versions
  tessera diff people raw active              # Compare two versions
  tessera publish people --mode snapshot      # Publish the active version`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs := false
		if cfg, err := config.Load(); err == nil {
			jsonLogs = cfg.Log.JSON
		}
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		logger.Debugw("Logger initialized", "verbosity", logger.LevelName(verbosity), "json", jsonLogs)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output JSON where supported")

	rootCmd.AddCommand(commands.CreateCmd)
	rootCmd.AddCommand(commands.LsCmd)
	rootCmd.AddCommand(commands.LogCmd)
	rootCmd.AddCommand(commands.LineageCmd)
	rootCmd.AddCommand(commands.ApplyCmd)
	rootCmd.AddCommand(commands.StageCmd)
	rootCmd.AddCommand(commands.ActivateCmd)
	rootCmd.AddCommand(commands.PublishCmd)
	rootCmd.AddCommand(commands.DiffCmd)
	rootCmd.AddCommand(commands.HeadCmd)
	rootCmd.AddCommand(commands.StatsCmd)
	rootCmd.AddCommand(commands.CleanupCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, commands.FormatError(err))
		os.Exit(1)
	}
}
