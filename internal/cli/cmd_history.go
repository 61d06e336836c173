package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var runID string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished waves from the history ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return cliError(err)
			}
			defer a.close()

			if a.history == nil {
				return fmt.Errorf("wave history is disabled (history_enabled: false)")
			}
			rows, err := a.history.ListWaves(runID, limit)
			if err != nil {
				return cliError(err)
			}
			if len(rows) == 0 {
				fmt.Println("No recorded waves.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WAVE\tRUN\tPHASE\tSTARTED\tDURATION\tTASKS\tPASSED\tMERGED\tSTATE")
			for _, r := range rows {
				state := r.State
				if r.ConflictTask != "" {
					state = fmt.Sprintf("conflict(%s)", r.ConflictTask)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					r.WaveID, r.RunID, r.Phase,
					r.StartedAt.Local().Format("2006-01-02 15:04:05"),
					r.EndedAt.Sub(r.StartedAt).Round(time.Second),
					r.TaskCount, r.Passed, r.Merged, state)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "filter by run id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "max rows (0 = all)")
	return cmd
}
