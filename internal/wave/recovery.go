package wave

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/randalmurphal/waverunner/internal/issue"
)

// RepairOrphans re-establishes the invariant that every in_progress task
// belongs to an active wave. Tasks left in_progress by a crashed process
// with no wave record (or outside the recorded wave) are marked failed,
// each with a synthetic feedback file pointing at the would-be worker state
// directory. The repair is idempotent. Returns the number of repaired
// tasks.
func (e *Engine) RepairOrphans(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rec, err := e.store.ReadIssue()
	if err != nil {
		return 0, err
	}
	tasks, err := e.store.ReadTasks()
	if err != nil {
		return 0, err
	}

	wave := rec.Status.Parallel
	repaired := make(map[string]string)
	for i := range tasks.Tasks {
		t := &tasks.Tasks[i]
		if t.Status != issue.StatusInProgress {
			continue
		}
		if wave != nil && wave.Contains(t.ID) {
			continue
		}
		hint := e.workerStateHint(t.ID)
		t.Status = issue.StatusFailed
		repaired[t.ID] = hint
		if err := e.store.WriteFeedback(t.ID, orphanFeedback(t.ID, hint)); err != nil {
			return 0, err
		}
		e.logger.Warn("orphan task repaired", "task_id", t.ID, "worker_state", hint)
	}
	if len(repaired) == 0 {
		return 0, nil
	}

	if err := e.store.WriteTasks(tasks); err != nil {
		return 0, err
	}
	if err := e.store.AppendProgress(orphanEntry(repaired)); err != nil {
		return 0, err
	}
	return len(repaired), nil
}

// workerStateHint locates any worker state directories a previous run left
// for a task, for forensics in the orphan feedback.
func (e *Engine) workerStateHint(taskID string) string {
	fsys := os.DirFS(e.store.StateDir())
	matches, err := doublestar.Glob(fsys, path.Join(".runs", "*", "workers", taskID))
	if err != nil || len(matches) == 0 {
		return "(no worker state directory found)"
	}
	sort.Strings(matches)
	for i, m := range matches {
		matches[i] = filepath.Join(e.store.StateDir(), filepath.FromSlash(m))
	}
	return strings.Join(matches, ", ")
}

// reconcilePhase corrects a phase-coherent active-wave record, or repairs a
// diverged one: the recorded phase is overwritten with the canonical phase
// and a corruption warning appended to the progress log. Never silent.
func (e *Engine) reconcilePhase(rec *issue.Record, wave *issue.ActiveWave, canonical issue.Phase) error {
	if wave.ActiveWavePhase == canonical {
		return nil
	}
	e.logger.Warn("active wave phase mismatch",
		"recorded", wave.ActiveWavePhase, "canonical", canonical)
	if err := e.store.AppendProgress(corruptionWarningEntry(wave.ActiveWavePhase, canonical)); err != nil {
		return err
	}
	wave.ActiveWavePhase = canonical
	return e.store.WriteIssue(rec)
}

func orphanFeedback(taskID, workerStateHint string) string {
	return fmt.Sprintf(`# Task %s recovered from orphaned state

The task was in_progress but no active wave contained it, which means a
previous orchestrator process died mid-wave. The task has been marked
failed and will be preferred for retry in the next wave.

Worker state for forensics: %s
`, taskID, workerStateHint)
}

func timeoutFeedback(taskID, timeoutType string, phase issue.Phase, recordedStatus string) string {
	return fmt.Sprintf(`# Task %s failed: wave timeout

The %s timeout fired during the %s phase. All tasks in the wave were
marked failed; this worker's recorded status at the timeout was %q.

The task will be preferred for retry in the next wave.
`, taskID, timeoutType, phase, recordedStatus)
}
