package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/tessera/config"
	"github.com/teranos/tessera/errors"
)

// ConfigCmd manages tessera configuration.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or initialize configuration",
	Long: `Show or initialize tessera configuration.

Configuration sources (in order of precedence):
1. Environment variables (TESSERA_* prefix, e.g. TESSERA_STORE_PATH)
2. Project config (tessera.toml in the current or a parent directory)
3. User config (~/.tessera/config.toml)
4. System config (/etc/tessera/config.toml)
5. Default values`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default tessera.toml",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var (
	configFormatFlag  string
	configSourcesFlag bool
	configPathFlag    string
	configForceFlag   bool
)

func init() {
	configShowCmd.Flags().StringVar(&configFormatFlag, "format", "toml", "Output format: toml, json, yaml")
	configShowCmd.Flags().BoolVar(&configSourcesFlag, "sources", false, "Show where each setting comes from")
	configInitCmd.Flags().StringVar(&configPathFlag, "path", config.ProjectConfigFileName, "File to write")
	configInitCmd.Flags().BoolVar(&configForceFlag, "force", false, "Overwrite an existing file")

	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configInitCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	if configSourcesFlag {
		data := pterm.TableData{{"KEY", "VALUE", "SOURCE", "FROM"}}
		for _, s := range config.Introspect() {
			data = append(data, []string{s.Key, fmt.Sprint(s.Value), string(s.Source), s.SourcePath})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	}

	out := cmd.OutOrStdout()
	switch configFormatFlag {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return errors.WrapSerialization(err, "config")
		}
		fmt.Fprintln(out, string(data))
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return errors.WrapSerialization(err, "config")
		}
		fmt.Fprintf(out, "# tessera configuration\n%s", data)
	case "toml":
		data, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "# tessera configuration\n%s", data)
	default:
		return errors.NewInvalidRequestError("unsupported format: %s (supported: toml, json, yaml)", configFormatFlag)
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(configPathFlag)
	if err != nil {
		return errors.WrapIO(err, "resolve path", configPathFlag)
	}
	if err := config.WriteFile(path, config.Default(), configForceFlag); err != nil {
		return err
	}
	pterm.Success.Printfln("Wrote %s", path)
	if _, err := os.Stat(path + ".back1"); err == nil && configForceFlag {
		pterm.Info.Printfln("Previous file kept as %s.back1", filepath.Base(path))
	}
	return nil
}
