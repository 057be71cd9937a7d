/*
PURPOSE:
  Defines the 'scenario' command group.
  'scenario init' writes the annotated example configuration so a new user
  has something to edit. 'scenario validate' checks a config without running.

REQUIREMENTS:
  User-specified:
  - Make it easy to start from a working config.

  Implementation-discovered:
  - Never overwrite an existing file.

ARCHITECTURE INTEGRATION:
  - Uses: internal/assets.ExampleConfig, internal/config

ERROR HANDLING:
  - Returns error if the target exists or cannot be written.

IMPLEMENTATION RULES:
  - The example is embedded, so the binary works without a source checkout.

USAGE:
  resctl-bench scenario init ./resctl-bench.yaml
  resctl-bench scenario validate --config ./resctl-bench.yaml

RELATED FILES:
  - internal/assets/example.yaml

MAINTENANCE:
  - Keep example.yaml valid whenever Config changes.
*/

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/daryltucker/resctl-bench/internal/assets"
)

var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Create and check scenario configurations",
}

var scenarioInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write an annotated example configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "resctl-bench.yaml"
		if len(args) == 1 {
			path = args[0]
		}

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s already exists, refusing to overwrite", path)
		}
		if err != nil {
			return err
		}
		if _, err := f.Write(assets.ExampleConfig); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var scenarioValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration without running anything",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, nil)
		if err != nil {
			return err
		}
		for _, sc := range cfg.Scenarios {
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s %s/%s\n", sc.Name, sc.Search.Strategy, sc.Knob.Target, sc.Knob.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scenarioCmd)
	scenarioCmd.AddCommand(scenarioInitCmd)
	scenarioCmd.AddCommand(scenarioValidateCmd)
}
