package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/randalmurphal/waverunner/internal/issue"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"st"},
		Short:   "Show tasks, workflow flags and the active wave",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return cliError(err)
			}
			defer a.close()
			return cliError(showStatus(a))
		},
	}
	return cmd
}

func showStatus(a *app) error {
	rec, err := a.store.ReadIssue()
	if err != nil {
		return err
	}
	tasks, err := a.store.ReadTasks()
	if err != nil {
		return err
	}

	fmt.Printf("Issue #%d  phase %s\n", rec.IssueNumber(), rec.Phase)
	printRule()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tDEPENDS ON")
	for _, t := range tasks.Tasks {
		deps := strings.Join(t.DependsOn, ", ")
		if deps == "" {
			deps = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, t.Status, deps)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	printRule()

	counts := tasks.StatusCounts()
	fmt.Printf("pending %d  in_progress %d  passed %d  failed %d\n",
		counts[issue.StatusPending], counts[issue.StatusInProgress],
		counts[issue.StatusPassed], counts[issue.StatusFailed])
	fmt.Printf("flags: taskPassed=%t taskFailed=%t hasMoreTasks=%t allTasksComplete=%t\n",
		rec.Status.TaskPassed, rec.Status.TaskFailed,
		rec.Status.HasMoreTasks, rec.Status.AllTasksComplete)

	if wave := rec.Status.Parallel; wave != nil {
		printRule()
		fmt.Printf("Active wave %s (run %s)\n", wave.ActiveWaveID, wave.RunID)
		fmt.Printf("  phase:    %s\n", wave.ActiveWavePhase)
		fmt.Printf("  tasks:    %s\n", strings.Join(wave.ActiveWaveTaskIDs, ", "))
		fmt.Printf("  reserved: %s\n", wave.ReservedAt.Format(time.RFC3339))
	} else {
		fmt.Println("No active wave.")
	}
	return nil
}

// printRule draws a horizontal rule sized to the terminal, or a fixed-width
// one when stdout is not a tty.
func printRule() {
	width := 60
	if isatty.IsTerminal(os.Stdout.Fd()) {
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
			width = w
		}
	}
	if width > 100 {
		width = 100
	}
	fmt.Println(strings.Repeat("-", width))
}
