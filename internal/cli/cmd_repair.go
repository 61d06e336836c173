package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRepairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Recover tasks orphaned by a crashed orchestrator",
		Long: `Repair marks every in_progress task that no active wave contains as
failed, writing a feedback file per task that points at any leftover
worker state. Failed tasks are preferred by the next wave's selection.

Run is not required after repair; it performs the same recovery at
startup. Repair exists for inspecting a crashed state without starting
workers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return cliError(err)
			}
			defer a.close()

			n, err := a.engine.RepairOrphans(cmd.Context())
			if err != nil {
				return cliError(err)
			}
			if n == 0 {
				fmt.Println("No orphaned tasks.")
				return nil
			}
			fmt.Printf("Repaired %d orphaned task(s); see task-feedback/ for details.\n", n)
			return nil
		},
	}
}
