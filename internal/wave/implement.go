package wave

import (
	"context"
	"time"

	"github.com/randalmurphal/waverunner/internal/events"
	"github.com/randalmurphal/waverunner/internal/issue"
	"github.com/randalmurphal/waverunner/internal/sandbox"
	"github.com/randalmurphal/waverunner/internal/worker"
)

// RunImplement executes one implement wave. With no active-wave record it
// selects and reserves a fresh wave; with one it resumes the recorded wave,
// skipping tasks whose implement.done marker already exists and never
// reselecting. On success the active-wave record stays in place (advanced
// to the spec-check phase) and no canonical statuses change.
func (e *Engine) RunImplement(ctx context.Context) (Result, error) {
	// A stop requested before the phase starts launches nothing and leaves
	// any recorded wave intact for a later resume.
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
	te := rec.TaskExecution()

	wave := rec.Status.Parallel
	if wave != nil {
		if wave.ActiveWavePhase == issue.PhaseSpecCheck {
			// The recorded wave already finished its implement phase; a
			// restart lands here on the way to spec-check. Nothing to re-run.
			sum := newSummary(wave.RunID, wave.ActiveWaveID, issue.PhaseImplement, wave.ActiveWaveTaskIDs, time.Now())
			return Result{Kind: ResultOK, WaveID: wave.ActiveWaveID, Summary: sum}, nil
		}
	} else {
		ids := SelectTasks(tasks, te.EffectiveMaxParallel())
		if len(ids) == 0 {
			return Result{Kind: ResultNoWave}, nil
		}
		wave, err = e.reserve(rec, tasks, ids, issue.PhaseImplement)
		if err != nil {
			return Result{}, err
		}
	}

	var pending []string
	for _, id := range wave.ActiveWaveTaskIDs {
		if !sandbox.HasMarker(e.store.WorkerDir(wave.RunID, id), issue.PhaseImplement) {
			pending = append(pending, id)
		}
	}
	sum := newSummary(wave.RunID, wave.ActiveWaveID, issue.PhaseImplement, wave.ActiveWaveTaskIDs, time.Now())
	if len(pending) == 0 {
		// A previous process finished the implement wave; hand the wave
		// straight to spec-check.
		if err := e.advanceToSpecCheck(rec, wave); err != nil {
			return Result{}, err
		}
		return Result{Kind: ResultOK, WaveID: wave.ActiveWaveID, Summary: sum}, nil
	}

	mon := newTimeoutMonitor(te.IterationTimeoutSec, te.InactivityTimeoutSec)
	sup := worker.NewSupervisor(e.logger, e.publisher, mon.touch)

	l, failed, err := e.launchWave(ctx, rec, tasks, wave, sum, issue.PhaseImplement, pending, sup)
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
		Data: map[string]any{"phase": string(issue.PhaseImplement), "tasks": pending},
	})

	monCtx, cancelMon := context.WithCancel(ctx)
	go mon.watch(monCtx, l.workers)
	outcomes := waitAll(l.workers)
	cancelMon()

	sum.finish(outcomes)

	if e.stopRequested.Load() {
		return e.handleStop(rec, tasks, wave)
	}
	if t := mon.firedType(); t != "" {
		return e.timeoutCleanup(rec, tasks, wave, sum, t)
	}

	for _, id := range pending {
		if err := l.sandboxes[id].WriteMarker(issue.PhaseImplement); err != nil {
			return Result{}, err
		}
	}
	if err := e.advanceToSpecCheck(rec, wave); err != nil {
		return Result{}, err
	}

	sum.TaskVerdicts = e.verdicts(outcomes, wave, rec.IssueNumber())
	if err := e.store.WriteWaveSummary(wave.RunID, wave.ActiveWaveID, sum); err != nil {
		return Result{}, err
	}
	e.publisher.Publish(events.Event{
		Type: events.EventWaveCompleted, WaveID: wave.ActiveWaveID, Time: time.Now(),
		Data: map[string]any{"phase": string(issue.PhaseImplement)},
	})
	e.logger.Info("implement wave complete",
		"wave_id", wave.ActiveWaveID, "all_passed", sum.AllPassed)
	return Result{Kind: ResultOK, WaveID: wave.ActiveWaveID, Summary: sum}, nil
}

// advanceToSpecCheck moves the active-wave record and the canonical phase
// to spec-check once every implement marker exists, so a restart reads a
// coherent record and resumes in the right phase.
func (e *Engine) advanceToSpecCheck(rec *issue.Record, wave *issue.ActiveWave) error {
	if wave.ActiveWavePhase == issue.PhaseSpecCheck && rec.Phase == issue.PhaseSpecCheck {
		return nil
	}
	wave.ActiveWavePhase = issue.PhaseSpecCheck
	rec.Phase = issue.PhaseSpecCheck
	return e.store.WriteIssue(rec)
}
