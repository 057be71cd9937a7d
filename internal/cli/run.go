/*
PURPOSE:
  Defines the 'run' subcommand.
  Executes the configured benchmark scenarios one after another.

REQUIREMENTS:
  User-specified:
  - Run the benchmarks.
  - Specific flags for overrides.

  Implementation-discovered:
  - Need to load config first.
  - Apply flag overrides to config before validating it.
  - Scenarios share one agent, so they never run concurrently.

ARCHITECTURE INTEGRATION:
  - Calls: internal/engine.Runner.Run()
  - Uses: internal/config, internal/output, internal/checkpoint

ERROR HANDLING:
  - Returns error if config load fails.
  - A scenario that fails setup is logged and the next one runs; the command
    still exits non-zero.
  - Cancellation stops after the current scenario's teardown.

IMPLEMENTATION RULES:
  - Setup flags in init().
  - Logic: Load Config -> Override -> Validate -> Runner.Run per scenario.

USAGE:
  resctl-bench run --scenario rps-knee -o ./results

SELF-HEALING INSTRUCTIONS:
  - Check flag names match Config struct fields generally.

RELATED FILES:
  - internal/cli/root.go
  - internal/cli/session.go

MAINTENANCE:
  - Update when adding new CLI overrides.
*/

package cli

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/daryltucker/resctl-bench/internal/config"
	"github.com/daryltucker/resctl-bench/internal/model"
	"github.com/daryltucker/resctl-bench/internal/output"
)

var (
	outputOverride     string
	checkpointOverride string
	metricsOverride    string
	traceOverride      string
	scenarioFilter     []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the benchmark scenarios",
	Long: `Runs every configured scenario against the workload and the resource-control
agent. Each scenario follows the same protocol:
1. Setup: applies the scenario's fixed workload and agent parameters.
2. Rounds: sets the knob, warms up, collects a measurement window and
   classifies it until the round is decisive.
3. Search: moves the knob according to the search strategy until the
   best value is pinned down or the step budget runs out.
4. Teardown: resets the workload and the agent, whatever happened.

Results are appended to results.jsonl and rounds.csv in the output directory,
with automatic file versioning (e.g., results.jsonl.1) to prevent overwriting
previous data.`,
	Example: `  # Run every scenario in ./resctl-bench.yaml
  resctl-bench run

  # Run one scenario and write results elsewhere
  resctl-bench run --scenario rps-knee -o ./benchmarks

  # Keep checkpoints so an interrupted run can be resumed
  resctl-bench run --checkpoint-dir ./checkpoints`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, applyRunOverrides)
		if err != nil {
			return err
		}

		scenarios, err := selectScenarios(cfg, scenarioFilter)
		if err != nil {
			return err
		}

		s, err := openSession(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		var failed []error
		for _, sc := range scenarios {
			res, err := s.runner.Run(ctx, sc)
			if res != nil {
				if werr := s.jsonOut.Write(res); werr != nil {
					return fmt.Errorf("failed to write result for %s: %w", sc.Name, werr)
				}
				printSummary(cmd.OutOrStdout(), res)
			}
			if err != nil {
				output.Logger.Error("Scenario failed", "scenario", sc.Name, "error", err)
				failed = append(failed, fmt.Errorf("scenario %s: %w", sc.Name, err))
			}
			if ctx.Err() != nil {
				output.Logger.Warn("Interrupted, skipping remaining scenarios")
				break
			}
		}
		return errors.Join(failed...)
	},
}

func applyRunOverrides(cfg *config.Config) {
	if outputOverride != "" {
		cfg.OutputDir = outputOverride
	}
	if checkpointOverride != "" {
		cfg.CheckpointDir = checkpointOverride
	}
	if metricsOverride != "" {
		cfg.MetricsAddr = metricsOverride
	}
	if traceOverride != "" {
		cfg.TraceExporter = traceOverride
	}
}

// selectScenarios keeps config order and fails on unknown names.
func selectScenarios(cfg *config.Config, names []string) ([]config.Scenario, error) {
	if len(names) == 0 {
		return cfg.Scenarios, nil
	}
	for _, name := range names {
		if _, ok := cfg.Scenario(name); !ok {
			return nil, fmt.Errorf("%w: unknown scenario %q", config.ErrConfig, name)
		}
	}
	var out []config.Scenario
	for _, sc := range cfg.Scenarios {
		if slices.Contains(names, sc.Name) {
			out = append(out, sc)
		}
	}
	return out, nil
}

func printSummary(w io.Writer, res *model.BenchmarkResult) {
	best := "-"
	if res.Best != nil {
		best = strconv.FormatFloat(*res.Best, 'g', 6, 64)
	}
	fmt.Fprintf(w, "%-24s %-30s %s=%-10s steps=%-3d rounds=%-3d %s\n",
		res.Scenario, res.Final, res.Knob, best, res.Steps, len(res.Rounds), res.Duration.Round(time.Millisecond))
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&outputOverride, "output-dir", "o", "", "Output directory for results (JSONL/CSV)")
	runCmd.Flags().StringVar(&checkpointOverride, "checkpoint-dir", "", "Directory for resumable checkpoints (overrides config)")
	runCmd.Flags().StringVar(&metricsOverride, "metrics-addr", "", "Serve Prometheus metrics on this host:port")
	runCmd.Flags().StringVar(&traceOverride, "trace", "", "Trace exporter: none or stdout")
	runCmd.Flags().StringSliceVar(&scenarioFilter, "scenario", nil, "Comma-separated list of scenarios to run (default all)")
}
