package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	waveerrors "github.com/randalmurphal/waverunner/internal/errors"
	"github.com/randalmurphal/waverunner/internal/events"
	"github.com/randalmurphal/waverunner/internal/issue"
	"github.com/randalmurphal/waverunner/internal/wave"
)

func newRunCmd() *cobra.Command {
	var maxWaves int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive waves until the issue is done or a wave fails",
		Long: `Run repairs orphaned tasks, then repeatedly executes one wave:
implement phase, spec-check phase, then the serial merge of passing
branches. The loop continues while every task in the wave passes and
eligible tasks remain.

The loop ends when:
  - all tasks have passed (allTasksComplete)
  - a wave reports failed tasks; feedback files are written and the
    failed tasks will be preferred by the next run
  - a merge conflict or setup failure occurs (non-zero exit)

Ctrl-C stops the wave cooperatively: running workers receive SIGTERM
and the reservation is rolled back; a stop between phases leaves the
wave record in place so the next run resumes it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return cliError(err)
			}
			defer a.close()
			return cliError(runWaves(cmd.Context(), a, maxWaves))
		},
	}

	cmd.Flags().IntVar(&maxWaves, "max-waves", 0, "stop after N waves (0 = until done)")
	return cmd
}

func runWaves(ctx context.Context, a *app, maxWaves int) error {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		fmt.Fprintln(os.Stderr, "stopping wave (workers receive SIGTERM)...")
		a.engine.Stop()
		<-sigs
		os.Exit(1)
	}()

	ch := a.events.Subscribe(events.AllTasks)
	defer a.events.Unsubscribe(events.AllTasks, ch)
	go func() {
		for ev := range ch {
			if line := renderEvent(ev); line != "" {
				fmt.Println(line)
			}
		}
	}()

	repaired, err := a.engine.RepairOrphans(ctx)
	if err != nil {
		return err
	}
	if repaired > 0 {
		fmt.Printf("Repaired %d orphaned task(s); see task-feedback/ for details.\n", repaired)
	}

	for n := 1; maxWaves == 0 || n <= maxWaves; n++ {
		rec, err := a.store.ReadIssue()
		if err != nil {
			return err
		}
		// A wave that already finished implement (restart after a crash or
		// stop between phases) resumes directly in spec-check.
		resumeSpecCheck := rec.Status.Parallel != nil &&
			rec.Status.Parallel.ActiveWavePhase == issue.PhaseSpecCheck

		if !resumeSpecCheck {
			if err := setPhase(a, issue.PhaseImplement); err != nil {
				return err
			}
			res, err := a.engine.RunImplement(ctx)
			if err != nil {
				return err
			}
			switch res.Kind {
			case wave.ResultNoWave:
				return reportIdle(a)
			case wave.ResultStopped:
				fmt.Println("Wave stopped.")
				return nil
			case wave.ResultTimedOut:
				fmt.Printf("Wave %s timed out during implement; all wave tasks marked failed.\n", res.WaveID)
				return nil
			case wave.ResultSetupFailed:
				return waveerrors.ErrSetupFailed(firstCreated(res), errors.New(res.Summary.Error))
			}
		}

		if err := setPhase(a, issue.PhaseSpecCheck); err != nil {
			return err
		}
		res, err := a.engine.RunSpecCheck(ctx)
		if err != nil {
			return err
		}
		switch res.Kind {
		case wave.ResultNoWave:
			return reportIdle(a)
		case wave.ResultStopped:
			fmt.Println("Wave stopped; the active wave will resume on the next run.")
			return nil
		case wave.ResultTimedOut:
			fmt.Printf("Wave %s timed out during spec-check; all wave tasks marked failed.\n", res.WaveID)
			return nil
		case wave.ResultSetupFailed:
			return waveerrors.ErrSetupFailed(firstCreated(res), errors.New(res.Summary.Error))
		case wave.ResultMergeConflict:
			return waveerrors.ErrMergeConflict(res.ConflictTaskID)
		}

		rec, err = a.store.ReadIssue()
		if err != nil {
			return err
		}
		switch {
		case rec.Status.AllTasksComplete:
			fmt.Println("All tasks passed and merged.")
			return nil
		case rec.Status.TaskFailed:
			fmt.Printf("Wave %s had failing tasks; feedback written under task-feedback/.\n", res.WaveID)
			return nil
		}
		fmt.Printf("Wave %s passed and merged; continuing.\n", res.WaveID)
	}
	fmt.Println("Wave limit reached.")
	return nil
}

// setPhase records the canonical phase before each engine call, mirroring
// what the external workflow engine does between phases.
func setPhase(a *app, phase issue.Phase) error {
	rec, err := a.store.ReadIssue()
	if err != nil {
		return err
	}
	if rec.Phase == phase {
		return nil
	}
	rec.Phase = phase
	return a.store.WriteIssue(rec)
}

func reportIdle(a *app) error {
	tasks, err := a.store.ReadTasks()
	if err != nil {
		return err
	}
	if tasks.AllPassed() {
		fmt.Println("Nothing to do: all tasks have passed.")
		return nil
	}
	counts := tasks.StatusCounts()
	fmt.Printf("No eligible tasks (pending %d, failed %d, blocked by dependencies or in progress).\n",
		counts[issue.StatusPending], counts[issue.StatusFailed])
	return nil
}

func firstCreated(res wave.Result) string {
	if res.Summary != nil && res.Summary.PartialSetup != nil && len(res.Summary.PartialSetup.CreatedSandboxes) > 0 {
		s := res.Summary.PartialSetup.CreatedSandboxes
		return s[len(s)-1]
	}
	return "unknown"
}

// renderEvent formats a lifecycle event for the run command's output.
// Worker output lines are already streamed through the logger, so they
// render as nothing here.
func renderEvent(ev events.Event) string {
	switch ev.Type {
	case events.EventWaveStarted:
		return fmt.Sprintf("[%s] wave %s: %s phase started (%v)",
			ev.Time.Format("15:04:05"), ev.WaveID, ev.Data["phase"], ev.Data["tasks"])
	case events.EventWaveCompleted:
		return fmt.Sprintf("[%s] wave %s: %s phase completed",
			ev.Time.Format("15:04:05"), ev.WaveID, ev.Data["phase"])
	case events.EventWaveTimeout:
		return fmt.Sprintf("[%s] wave %s: timed out (%s)",
			ev.Time.Format("15:04:05"), ev.WaveID, ev.Data["timeout"])
	case events.EventMerge:
		verb := "merged"
		if ok, _ := ev.Data["success"].(bool); !ok {
			verb = "failed to merge"
		}
		return fmt.Sprintf("[%s] %s %s", ev.Time.Format("15:04:05"), verb, ev.TaskID)
	}
	return ""
}

// cliError renders structured errors with their what/why/fix sections.
func cliError(err error) error {
	if err == nil {
		return nil
	}
	var we *waveerrors.WaveError
	if errors.As(err, &we) {
		return fmt.Errorf("%s", we.UserMessage())
	}
	return err
}
