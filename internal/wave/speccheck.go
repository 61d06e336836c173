package wave

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/randalmurphal/waverunner/internal/events"
	"github.com/randalmurphal/waverunner/internal/git"
	"github.com/randalmurphal/waverunner/internal/issue"
	"github.com/randalmurphal/waverunner/internal/sandbox"
	"github.com/randalmurphal/waverunner/internal/util"
	"github.com/randalmurphal/waverunner/internal/worker"
)

// RunSpecCheck executes the spec-check phase of the active wave, then the
// merge integrator, then updates canonical statuses and workflow signal
// flags and clears the active-wave record. Tasks whose spec_check.done
// marker already exists are not re-run; their worker-local flags are read
// instead. Sandboxes are only ever reused, never recreated.
func (e *Engine) RunSpecCheck(ctx context.Context) (Result, error) {
	// A stop requested before the phase starts launches nothing and leaves
	// the recorded wave intact for a later resume.
	if e.stopRequested.Load() {
		return Result{Kind: ResultStopped}, nil
	}
	rec, err := e.store.ReadIssue()
	if err != nil {
		return Result{}, err
	}
	tasks, err := e.store.ReadTasks()
	if err != nil {
		return Result{}, err
	}

	wave := rec.Status.Parallel
	if wave == nil {
		return Result{Kind: ResultNoWave}, nil
	}
	if err := e.reconcilePhase(rec, wave, issue.PhaseSpecCheck); err != nil {
		return Result{}, err
	}

	te := rec.TaskExecution()
	issueNumber := rec.IssueNumber()
	sum := newSummary(wave.RunID, wave.ActiveWaveID, issue.PhaseSpecCheck, wave.ActiveWaveTaskIDs, time.Now())

	mon := newTimeoutMonitor(te.IterationTimeoutSec, te.InactivityTimeoutSec)
	sup := worker.NewSupervisor(e.logger, e.publisher, mon.touch)

	finished := make(map[string]worker.Outcome)
	var toRun []string
	for _, id := range wave.ActiveWaveTaskIDs {
		stateDir := e.store.WorkerDir(wave.RunID, id)
		if sandbox.HasMarker(stateDir, issue.PhaseSpecCheck) {
			// A previous run finished this task's spec-check; trust its
			// local flags.
			tp, tf := worker.HarvestFlags(stateDir)
			status := worker.OutcomeFailed
			if tp && !tf {
				status = worker.OutcomePassed
			}
			finished[id] = worker.Outcome{TaskID: id, Status: status, TaskPassed: tp, TaskFailed: tf}
			continue
		}
		toRun = append(toRun, id)
	}

	l, failed, err := e.launchWave(ctx, rec, tasks, wave, sum, issue.PhaseSpecCheck, toRun, sup)
	if failed != nil || err != nil {
		if failed != nil {
			return *failed, err
		}
		return Result{}, err
	}

	e.setActive(l.workers)
	defer e.clearActive()
	e.publisher.Publish(events.Event{
		Type: events.EventWaveStarted, WaveID: wave.ActiveWaveID, Time: time.Now(),
		Data: map[string]any{"phase": string(issue.PhaseSpecCheck), "tasks": toRun},
	})

	monCtx, cancelMon := context.WithCancel(ctx)
	go mon.watch(monCtx, l.workers)
	spawned := waitAll(l.workers)
	cancelMon()

	// Outcomes are recorded in activeWaveTaskIds order regardless of
	// which worker finished first.
	byID := make(map[string]worker.Outcome, len(spawned))
	for _, o := range spawned {
		byID[o.TaskID] = o
	}
	outcomes := make([]worker.Outcome, 0, len(wave.ActiveWaveTaskIDs))
	for _, id := range wave.ActiveWaveTaskIDs {
		if o, ok := finished[id]; ok {
			outcomes = append(outcomes, o)
		} else {
			outcomes = append(outcomes, byID[id])
		}
	}
	sum.finish(outcomes)

	if e.stopRequested.Load() {
		return e.handleStop(rec, tasks, wave)
	}
	if t := mon.firedType(); t != "" {
		// No branches are merged on timeout, even for workers that passed.
		return e.timeoutCleanup(rec, tasks, wave, sum, t)
	}

	for _, id := range l.startedIDs {
		if err := l.sandboxes[id].WriteMarker(issue.PhaseSpecCheck); err != nil {
			return Result{}, err
		}
	}

	branches := make(map[string]string, len(wave.ActiveWaveTaskIDs))
	var passedIDs []string
	for _, o := range outcomes {
		branches[o.TaskID] = git.TaskBranch(issueNumber, o.TaskID, wave.RunID)
		if o.Status == worker.OutcomePassed {
			tasks.SetStatus(o.TaskID, issue.StatusPassed)
			passedIDs = append(passedIDs, o.TaskID)
		} else {
			tasks.SetStatus(o.TaskID, issue.StatusFailed)
			if err := e.publishFailureFeedback(wave, o); err != nil {
				return Result{}, err
			}
		}
	}

	sum.TaskVerdicts = e.verdicts(outcomes, wave, issueNumber)
	if err := e.store.WriteWaveSummary(wave.RunID, wave.ActiveWaveID, sum); err != nil {
		return Result{}, err
	}

	merge, err := e.integrator.Merge(passedIDs, branches, tasks)
	if err != nil {
		return Result{}, err
	}
	sum.Merge = merge

	if err := e.store.WriteTasks(tasks); err != nil {
		return Result{}, err
	}

	anyFailed := sum.AnyFailed || merge.Failed > 0
	switch {
	case anyFailed:
		rec.Status.SetFlags(false, true, true, false)
	case tasks.AllPassed():
		rec.Status.SetFlags(true, false, false, true)
	default:
		rec.Status.SetFlags(true, false, true, false)
	}
	rec.Status.Parallel = nil
	if err := e.store.WriteIssue(rec); err != nil {
		return Result{}, err
	}

	// Patch the summary with merge results and write the one combined
	// progress entry for the whole wave.
	if err := e.store.WriteWaveSummary(wave.RunID, wave.ActiveWaveID, sum); err != nil {
		return Result{}, err
	}
	if err := e.store.AppendProgress(combinedEntry(sum)); err != nil {
		return Result{}, err
	}
	if err := e.recorder.RecordWave(sum); err != nil {
		e.logger.Warn("history record failed", "wave_id", wave.ActiveWaveID, "error", err)
	}
	e.publisher.Publish(events.Event{
		Type: events.EventWaveCompleted, WaveID: wave.ActiveWaveID, Time: time.Now(),
		Data: map[string]any{"phase": string(issue.PhaseSpecCheck), "merged": merge.Merged},
	})

	for _, r := range merge.Results {
		if !r.Success {
			continue
		}
		if sb, err := e.sandboxes.Reuse(ctx, r.TaskID, wave.RunID, issueNumber); err == nil {
			e.sandboxes.CleanupOnSuccess(sb)
		}
	}

	if merge.HasConflict {
		e.logger.Error("merge conflict stops the run",
			"wave_id", wave.ActiveWaveID, "task_id", merge.ConflictTaskID)
		return Result{
			Kind:           ResultMergeConflict,
			WaveID:         wave.ActiveWaveID,
			Summary:        sum,
			ConflictTaskID: merge.ConflictTaskID,
		}, nil
	}
	e.logger.Info("spec-check wave complete",
		"wave_id", wave.ActiveWaveID, "passed", len(passedIDs), "merged", merge.Merged)
	return Result{Kind: ResultOK, WaveID: wave.ActiveWaveID, Summary: sum}, nil
}

// publishFailureFeedback copies a failing worker's feedback file to the
// canonical task-feedback directory, or writes a synthetic one when the
// worker left nothing behind. Every failed task ends up with feedback.
func (e *Engine) publishFailureFeedback(wave *issue.ActiveWave, o worker.Outcome) error {
	dst, err := e.store.FeedbackPath(o.TaskID)
	if err != nil {
		return err
	}
	src := filepath.Join(e.store.WorkerDir(wave.RunID, o.TaskID), "task-feedback.md")
	if _, statErr := os.Stat(src); statErr == nil {
		return util.CopyFile(src, dst, 0o644)
	}
	return e.store.WriteFeedback(o.TaskID, fmt.Sprintf(
		"# Task %s failed spec-check\n\nThe worker exited with code %d and reported taskPassed=%t taskFailed=%t, but wrote no feedback file.\nSee the worker log in wave %s of run %s.\n",
		o.TaskID, o.ExitCode, o.TaskPassed, o.TaskFailed, wave.ActiveWaveID, wave.RunID))
}

func (e *Engine) verdicts(outcomes []worker.Outcome, wave *issue.ActiveWave, issueNumber int) map[string]Verdict {
	m := make(map[string]Verdict, len(outcomes))
	for _, o := range outcomes {
		m[o.TaskID] = Verdict{
			Status:     o.Status,
			ExitCode:   o.ExitCode,
			Branch:     git.TaskBranch(issueNumber, o.TaskID, wave.RunID),
			TaskPassed: o.TaskPassed,
			TaskFailed: o.TaskFailed,
		}
	}
	return m
}
