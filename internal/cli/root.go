/*
PURPOSE:
  Defines the root Cobra command for the resctl-bench CLI.
  Handles global flags and command initialization.

REQUIREMENTS:
  User-specified:
  - Provide a CLI interface.
  - Support global flags like --config, --log-level, --log-format.

  Implementation-discovered:
  - Needs to expose an Execute() function for main.go.
  - The logger must be configured before any subcommand logs.

ARCHITECTURE INTEGRATION:
  - Called by: cmd/resctl-bench/main.go
  - Calls: Child commands (run, resume, show, scenario)

ERROR HANDLING:
  - Returns error to main.go for exit code handling.

IMPLEMENTATION RULES:
  - Use `PersistentFlags()` for flags available to all subcommands.
  - Keep Run logic in subcommands.

USAGE:
  Called by main.go.

SELF-HEALING INSTRUCTIONS:
  - If adding new global flags, add them to init().

RELATED FILES:
  - cmd/resctl-bench/main.go

MAINTENANCE:
  - Update when adding global configuration options.
*/

package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/daryltucker/resctl-bench/internal/output"
)

var (
	// cfgFile stores the path to the config file (if specified via flag)
	cfgFile   string
	logLevel  string
	logFormat string

	rootCmd = &cobra.Command{
		Use:   "resctl-bench",
		Short: "Benchmark a resource-control stack under reproducible load",
		Long: `resctl-bench drives rd-hashd and a resource-control agent through scripted
scenarios, searches a control knob until the system converges, and writes
versioned result records. Use 'run --help' for benchmark options.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Flags win over the config file; the file is applied again in loadConfig.
			if logLevel != "" || logFormat != "" {
				return output.Setup(cmd.ErrOrStderr(), logLevel, logFormat)
			}
			return nil
		},
	}
)

// Execute executes the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./resctl-bench.yaml or ./bench.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "text or json (overrides config)")
}
