package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/daryltucker/resctl-bench/internal/checkpoint"
	"github.com/daryltucker/resctl-bench/internal/config"
	"github.com/daryltucker/resctl-bench/internal/output"
)

var listCheckpoints bool

var resumeCmd = &cobra.Command{
	Use:   "resume [run-id]",
	Short: "Resume an interrupted run from its checkpoint",
	Long: `Continues a run that was interrupted after some rounds completed. The
scenario definition stored in the checkpoint is used, not the current config
file, so a resumed run measures exactly what the original run measured.

Requires checkpoint_dir (or --checkpoint-dir) to point at the store the
original run wrote to.`,
	Example: `  # Show resumable runs
  resctl-bench resume --list --checkpoint-dir ./checkpoints

  # Continue one of them
  resctl-bench resume 3f0c2a9e-... --checkpoint-dir ./checkpoints`,
	Args: func(cmd *cobra.Command, args []string) error {
		if listCheckpoints {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, applyRunOverrides)
		if err != nil {
			return err
		}
		if cfg.CheckpointDir == "" {
			return fmt.Errorf("%w: resume needs checkpoint_dir or --checkpoint-dir", config.ErrConfig)
		}

		if listCheckpoints {
			return printCheckpoints(cmd, cfg.CheckpointDir)
		}

		s, err := openSession(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		cp, err := s.store.Load(args[0])
		if err != nil {
			return err
		}
		res, err := s.runner.Resume(cmd.Context(), cp)
		if res != nil {
			if werr := s.jsonOut.Write(res); werr != nil {
				return errors.Join(err, werr)
			}
			printSummary(cmd.OutOrStdout(), res)
		}
		return err
	},
}

func printCheckpoints(cmd *cobra.Command, dir string) error {
	store, err := checkpoint.Open(checkpoint.Config{Dir: dir, Logger: output.Logger})
	if err != nil {
		return err
	}
	defer store.Close()

	cps, err := store.List()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSCENARIO\tROUNDS\tUPDATED\tSTATE")
	for _, cp := range cps {
		state := "resumable"
		if cp.Done {
			state = "done"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", cp.RunID, cp.Scenario.Name, len(cp.Rounds),
			cp.UpdatedAt.Local().Format("2006-01-02 15:04:05"), state)
	}
	return w.Flush()
}

func init() {
	rootCmd.AddCommand(resumeCmd)

	resumeCmd.Flags().BoolVar(&listCheckpoints, "list", false, "List checkpointed runs instead of resuming one")
	resumeCmd.Flags().StringVar(&checkpointOverride, "checkpoint-dir", "", "Directory holding checkpoints (overrides config)")
	resumeCmd.Flags().StringVarP(&outputOverride, "output-dir", "o", "", "Output directory for results (JSONL/CSV)")
}
