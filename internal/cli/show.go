package cli

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/daryltucker/resctl-bench/internal/output"
)

var showRounds bool

var showCmd = &cobra.Command{
	Use:   "show <results.jsonl>",
	Short: "Summarize a results file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		results, err := output.ReadResults(f)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		out := cmd.OutOrStdout()
		for i := range results {
			res := &results[i]
			printSummary(out, res)
			if !showRounds {
				continue
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "  ROUND\tSTEP\tPARAM\tKEY\tHEADROOM\tVERDICT\tNOTE")
			for _, r := range res.Rounds {
				key := "-"
				if r.KeyValue != nil {
					key = strconv.FormatFloat(*r.KeyValue, 'g', 6, 64)
				}
				fmt.Fprintf(w, "  %d\t%d\t%g\t%s\t%t\t%s\t%s\n",
					r.Index, r.Step, r.Parameter, key, r.Headroom, r.Verdict, r.Note)
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)

	showCmd.Flags().BoolVarP(&showRounds, "rounds", "r", false, "Print every round, not just the summary")
}
