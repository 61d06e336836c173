//go:build !windows

package wave

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/waverunner/internal/git"
	"github.com/randalmurphal/waverunner/internal/issue"
	"github.com/randalmurphal/waverunner/internal/sandbox"
	"github.com/randalmurphal/waverunner/internal/store"
)

// fakeGit scripts git behavior per branch and records every invocation.
// Worktree adds create the target directory so workers have a real workdir.
type fakeGit struct {
	mu    sync.Mutex
	calls []string
	// mergeMode maps a task id to "conflict" or "error"; absent means the
	// merge succeeds.
	mergeMode map[string]string
	// failWorktreeFor makes worktree creation fail for one task id.
	failWorktreeFor string

	shaN         int
	lastConflict bool
}

func (f *fakeGit) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeGit) Run(workDir, name string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, call)

	fail := func(out string) (string, error) {
		return out, &git.CommandError{Command: name, Args: args, Output: out, Err: fmt.Errorf("exit status 1")}
	}

	switch {
	case strings.HasPrefix(call, "git rev-parse --abbrev-ref"):
		return "main", nil
	case strings.HasPrefix(call, "git rev-parse"):
		f.shaN++
		return fmt.Sprintf("sha-%d", f.shaN), nil
	case args[0] == "worktree" && args[1] == "add":
		branch, path := args[len(args)-2], ""
		if args[2] == "-b" {
			branch, path = args[3], args[4]
		} else {
			path, branch = args[2], args[3]
		}
		if f.failWorktreeFor != "" && strings.Contains(branch, "-"+f.failWorktreeFor+"-") {
			return fail("cannot create worktree")
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fail(err.Error())
		}
		return "", nil
	case args[0] == "worktree" || args[0] == "branch":
		return "", nil
	case args[0] == "merge" && args[1] == "--abort":
		return "", nil
	case args[0] == "merge":
		branch := args[len(args)-1]
		for taskID, mode := range f.mergeMode {
			if !strings.Contains(branch, "-"+taskID+"-") {
				continue
			}
			if mode == "conflict" {
				f.lastConflict = true
				return fail("CONFLICT (content)")
			}
			f.lastConflict = false
			return fail("fatal: merge failure")
		}
		f.lastConflict = false
		return "", nil
	case args[0] == "diff":
		if f.lastConflict {
			return "conflicted.go", nil
		}
		return "", nil
	}
	return "", nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Worker script behaviors. Each script locates its --state-dir and --phase
// arguments; the task id is the state dir's basename.
const scriptPreamble = `state=""; phase=""; prev=""
for a in "$@"; do
  case "$prev" in
    --state-dir) state="$a";;
    --phase) phase="$a";;
  esac
  prev="$a"
done
task=$(basename "$state")
`

const scriptPassAll = scriptPreamble + `
printf '{"status":{"taskPassed":true,"taskFailed":false}}' > "$state/issue.json"
exit 0`

const scriptFailT2SpecCheck = scriptPreamble + `
if [ "$phase" = "task_spec_check" ] && [ "$task" = "T2" ]; then
  printf '{"status":{"taskPassed":false,"taskFailed":true}}' > "$state/issue.json"
  printf '# T2 spec-check findings\n' > "$state/task-feedback.md"
  exit 1
fi
printf '{"status":{"taskPassed":true,"taskFailed":false}}' > "$state/issue.json"
exit 0`

const scriptSleep = scriptPreamble + `
echo started
sleep 30`

const scriptSleepSpecCheck = scriptPreamble + `
if [ "$phase" = "task_spec_check" ]; then
  echo started
  sleep 30
fi
printf '{"status":{"taskPassed":true,"taskFailed":false}}' > "$state/issue.json"
exit 0`

type env struct {
	t     *testing.T
	st    *store.Store
	fg    *fakeGit
	eng   *Engine
	cfg   Config
	repo  string
	tasks string
}

func newEnv(t *testing.T, script, tasksJSON, taskExecJSON string) *env {
	t.Helper()
	stateDir := t.TempDir()
	repo := t.TempDir()
	st := store.New(stateDir)

	issueJSON := fmt.Sprintf(`{
		"phase": "implement_task",
		"issueNumber": 42,
		"settings": {"taskExecution": %s},
		"status": {}
	}`, taskExecJSON)
	require.NoError(t, os.WriteFile(st.IssuePath(), []byte(issueJSON), 0o644))
	require.NoError(t, os.WriteFile(st.TasksPath(), []byte(tasksJSON), 0o644))

	bin := filepath.Join(t.TempDir(), "runner.sh")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+script+"\n"), 0o755))

	fg := &fakeGit{}
	g := git.New(repo, fg)
	cfg := Config{
		Store:           st,
		Sandboxes:       sandbox.NewManager(st, g, discardLogger()),
		Git:             g,
		Logger:          discardLogger(),
		RunnerBin:       bin,
		Workflow:        "issue",
		Provider:        "test",
		WorkflowsDir:    "/tmp/workflows",
		PromptsDir:      "/tmp/prompts",
		CanonicalBranch: "main",
	}
	return &env{t: t, st: st, fg: fg, eng: NewEngine(cfg), cfg: cfg, repo: repo, tasks: tasksJSON}
}

func (e *env) readIssue() *issue.Record {
	rec, err := e.st.ReadIssue()
	require.NoError(e.t, err)
	return rec
}

func (e *env) readTasks() *issue.TasksFile {
	f, err := e.st.ReadTasks()
	require.NoError(e.t, err)
	return f
}

func (e *env) progress() string {
	data, err := os.ReadFile(e.st.ProgressPath())
	if err != nil {
		return ""
	}
	return string(data)
}

const twoPending = `{"tasks":[
	{"id":"T1","status":"pending","title":"first"},
	{"id":"T2","status":"pending","title":"second"}
]}`

const parallelTwo = `{"mode":"parallel","maxParallelTasks":2}`

func TestHappyWave(t *testing.T) {
	e := newEnv(t, scriptPassAll, twoPending, parallelTwo)
	ctx := context.Background()

	res, err := e.eng.RunImplement(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultOK, res.Kind)

	rec := e.readIssue()
	require.NotNil(t, rec.Status.Parallel, "wave record survives implement")
	assert.Equal(t, issue.PhaseSpecCheck, rec.Status.Parallel.ActiveWavePhase)
	for _, task := range e.readTasks().Tasks {
		assert.Equal(t, issue.StatusInProgress, task.Status)
	}
	runID := rec.Status.Parallel.RunID
	assert.True(t, sandbox.HasMarker(e.st.WorkerDir(runID, "T1"), issue.PhaseImplement))
	assert.True(t, sandbox.HasMarker(e.st.WorkerDir(runID, "T2"), issue.PhaseImplement))

	res, err = e.eng.RunSpecCheck(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultOK, res.Kind)

	for _, task := range e.readTasks().Tasks {
		assert.Equal(t, issue.StatusPassed, task.Status)
	}
	rec = e.readIssue()
	assert.Nil(t, rec.Status.Parallel)
	assert.True(t, rec.Status.TaskPassed)
	assert.False(t, rec.Status.TaskFailed)
	assert.False(t, rec.Status.HasMoreTasks)
	assert.True(t, rec.Status.AllTasksComplete)

	progress := e.progress()
	assert.Contains(t, progress, "Parallel Wave Summary")
	assert.Contains(t, progress, "Passed: 2/2")
	assert.Contains(t, progress, "Merged: 2")
	assert.NotContains(t, progress, "Corruption")

	// Lexicographic merge order: T1 before T2.
	var merges []string
	for _, c := range e.fg.recorded() {
		if strings.HasPrefix(c, "git merge --no-ff") {
			merges = append(merges, c)
		}
	}
	require.Len(t, merges, 2)
	assert.Contains(t, merges[0], "-T1-")
	assert.Contains(t, merges[1], "-T2-")
}

func TestSpecCheckFailureMarksTaskAndMergesRest(t *testing.T) {
	e := newEnv(t, scriptFailT2SpecCheck, twoPending, parallelTwo)
	ctx := context.Background()

	res, err := e.eng.RunImplement(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultOK, res.Kind)

	res, err = e.eng.RunSpecCheck(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultOK, res.Kind)

	tasks := e.readTasks()
	assert.Equal(t, issue.StatusPassed, tasks.Find("T1").Status)
	assert.Equal(t, issue.StatusFailed, tasks.Find("T2").Status)

	rec := e.readIssue()
	assert.False(t, rec.Status.TaskPassed)
	assert.True(t, rec.Status.TaskFailed)
	assert.True(t, rec.Status.HasMoreTasks)
	assert.False(t, rec.Status.AllTasksComplete)

	require.NotNil(t, res.Summary.Merge)
	assert.Equal(t, 1, res.Summary.Merge.Merged)
	assert.False(t, res.Summary.Merge.HasConflict)

	fb, err := e.st.FeedbackPath("T2")
	require.NoError(t, err)
	data, err := os.ReadFile(fb)
	require.NoError(t, err)
	assert.Contains(t, string(data), "T2 spec-check findings",
		"worker-authored feedback is copied to the canonical location")
}

func TestMergeConflictStopsRun(t *testing.T) {
	e := newEnv(t, scriptPassAll, twoPending, parallelTwo)
	e.fg.mergeMode = map[string]string{"T2": "conflict"}
	ctx := context.Background()

	_, err := e.eng.RunImplement(ctx)
	require.NoError(t, err)
	res, err := e.eng.RunSpecCheck(ctx)
	require.NoError(t, err)

	require.Equal(t, ResultMergeConflict, res.Kind)
	assert.Equal(t, "T2", res.ConflictTaskID)

	tasks := e.readTasks()
	assert.Equal(t, issue.StatusPassed, tasks.Find("T1").Status)
	assert.Equal(t, issue.StatusFailed, tasks.Find("T2").Status)

	require.NotNil(t, res.Summary.Merge)
	assert.True(t, res.Summary.Merge.HasConflict)
	assert.Equal(t, "T2", res.Summary.Merge.ConflictTaskID)
	assert.Equal(t, 1, res.Summary.Merge.Merged)

	fb, _ := e.st.FeedbackPath("T2")
	data, err := os.ReadFile(fb)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Merge conflict")
	assert.Contains(t, string(data), "conflicted.go")

	sumData, err := os.ReadFile(e.st.WaveSummaryPath(res.Summary.RunID, res.WaveID))
	require.NoError(t, err)
	assert.Contains(t, string(sumData), `"hasConflict": true`)
	assert.True(t, e.readIssue().Status.TaskFailed)
}

func TestResumeUsesRecordedWaveAndNeverReselects(t *testing.T) {
	// Simulated crash after reservation, before any sandbox existed: T1 is
	// reserved in the wave, T2 is eligible but must not be picked up.
	e := newEnv(t, scriptPassAll, `{"tasks":[
		{"id":"T1","status":"in_progress"},
		{"id":"T2","status":"pending"}
	]}`, parallelTwo)

	rec := e.readIssue()
	rec.Status.Parallel = &issue.ActiveWave{
		RunID:                  "run-crashed1",
		ActiveWaveID:           "wave-crashed1",
		ActiveWavePhase:        issue.PhaseImplement,
		ActiveWaveTaskIDs:      []string{"T1"},
		ReservedStatusByTaskID: map[string]issue.TaskStatus{"T1": issue.StatusPending},
		ReservedAt:             time.Now().UTC(),
	}
	require.NoError(t, e.st.WriteIssue(rec))

	ctx := context.Background()
	n, err := e.eng.RepairOrphans(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "reserved in_progress tasks are not orphans")

	res, err := e.eng.RunImplement(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultOK, res.Kind)
	assert.Equal(t, "wave-crashed1", res.WaveID)

	var worktreeBranches []string
	for _, c := range e.fg.recorded() {
		if strings.Contains(c, "worktree add -b") {
			worktreeBranches = append(worktreeBranches, c)
		}
	}
	require.Len(t, worktreeBranches, 1)
	assert.Contains(t, worktreeBranches[0], "issue/42-T1-run-crashed1")

	rec = e.readIssue()
	require.NotNil(t, rec.Status.Parallel)
	assert.Equal(t, []string{"T1"}, rec.Status.Parallel.ActiveWaveTaskIDs)
	assert.Equal(t, issue.StatusPending, e.readTasks().Find("T2").Status)
}

func TestIterationTimeoutFailsWave(t *testing.T) {
	e := newEnv(t, scriptSleep, `{"tasks":[{"id":"T1","status":"pending"}]}`,
		`{"mode":"parallel","maxParallelTasks":1,"iterationTimeoutSec":1}`)
	ctx := context.Background()

	res, err := e.eng.RunImplement(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultTimedOut, res.Kind)

	assert.Equal(t, issue.StatusFailed, e.readTasks().Find("T1").Status)

	rec := e.readIssue()
	assert.Nil(t, rec.Status.Parallel)
	assert.True(t, rec.Status.TaskFailed)
	assert.True(t, rec.Status.HasMoreTasks)

	fb, _ := e.st.FeedbackPath("T1")
	data, err := os.ReadFile(fb)
	require.NoError(t, err)
	assert.Contains(t, string(data), "iteration")

	assert.Contains(t, e.progress(), "Parallel Wave Timeout")
	assert.Contains(t, e.progress(), "Timeout type: iteration")
}

func TestSetupFailureRollsBackAndLeavesFlagsAlone(t *testing.T) {
	e := newEnv(t, scriptPassAll, twoPending, parallelTwo)
	e.fg.failWorktreeFor = "T2"
	ctx := context.Background()

	res, err := e.eng.RunImplement(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultSetupFailed, res.Kind)

	require.NotNil(t, res.Summary.PartialSetup)
	assert.Equal(t, []string{"T1"}, res.Summary.PartialSetup.CreatedSandboxes)
	assert.Empty(t, res.Summary.PartialSetup.StartedWorkers)
	assert.Equal(t, "setup_failed", res.Summary.State)
	assert.NotEmpty(t, res.Summary.ErrorStack)

	sumData, err := os.ReadFile(e.st.WaveSummaryPath(res.Summary.RunID, res.WaveID))
	require.NoError(t, err)
	assert.Contains(t, string(sumData), `"state": "setup_failed"`)

	for _, task := range e.readTasks().Tasks {
		assert.Equal(t, issue.StatusPending, task.Status, "reservations rolled back")
	}
	rec := e.readIssue()
	assert.Nil(t, rec.Status.Parallel)
	assert.False(t, rec.Status.TaskFailed, "flags untouched on setup failure")
	assert.False(t, rec.Status.TaskPassed)

	progress := e.progress()
	assert.Contains(t, progress, "Parallel Wave Setup Failure")
	assert.Contains(t, progress, "Stack:")
}

func TestReserveThenRollbackRestoresTasksFile(t *testing.T) {
	e := newEnv(t, scriptPassAll, twoPending, parallelTwo)

	// Normalize through the store so the comparison is byte-for-byte.
	tasks := e.readTasks()
	require.NoError(t, e.st.WriteTasks(tasks))
	before, err := os.ReadFile(e.st.TasksPath())
	require.NoError(t, err)

	rec := e.readIssue()
	tasks = e.readTasks()
	wave, err := e.eng.reserve(rec, tasks, []string{"T1", "T2"}, issue.PhaseImplement)
	require.NoError(t, err)
	require.NotNil(t, e.readIssue().Status.Parallel)
	for _, task := range e.readTasks().Tasks {
		assert.Equal(t, issue.StatusInProgress, task.Status)
	}

	require.NoError(t, e.eng.rollbackReservation(rec, tasks, wave))
	after, err := os.ReadFile(e.st.TasksPath())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.Nil(t, e.readIssue().Status.Parallel)
}

func TestRepairOrphansIsIdempotent(t *testing.T) {
	e := newEnv(t, scriptPassAll, `{"tasks":[
		{"id":"T1","status":"in_progress"},
		{"id":"T2","status":"passed"}
	]}`, parallelTwo)
	ctx := context.Background()

	n, err := e.eng.RepairOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, issue.StatusFailed, e.readTasks().Find("T1").Status)

	fb, _ := e.st.FeedbackPath("T1")
	data, err := os.ReadFile(fb)
	require.NoError(t, err)
	assert.Contains(t, string(data), "orphaned state")
	assert.Contains(t, e.progress(), "Orphan Task Recovery")

	afterFirst, err := os.ReadFile(e.st.TasksPath())
	require.NoError(t, err)

	n, err = e.eng.RepairOrphans(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	afterSecond, err := os.ReadFile(e.st.TasksPath())
	require.NoError(t, err)
	assert.Equal(t, afterFirst, afterSecond)
}

func TestPhaseMismatchIsCorrectedWithWarning(t *testing.T) {
	e := newEnv(t, scriptPassAll, twoPending, parallelTwo)
	ctx := context.Background()

	_, err := e.eng.RunImplement(ctx)
	require.NoError(t, err)

	// Corrupt the record back to the implement phase.
	rec := e.readIssue()
	rec.Status.Parallel.ActiveWavePhase = issue.PhaseImplement
	require.NoError(t, e.st.WriteIssue(rec))

	res, err := e.eng.RunSpecCheck(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultOK, res.Kind)
	assert.Contains(t, e.progress(), "Parallel State Corruption Warning")
}

func TestStopRollsBackWithoutTouchingFlags(t *testing.T) {
	e := newEnv(t, scriptSleep, `{"tasks":[{"id":"T1","status":"pending"}]}`,
		`{"mode":"parallel","maxParallelTasks":1}`)
	ctx := context.Background()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := e.eng.RunImplement(ctx)
		done <- outcome{res, err}
	}()

	time.Sleep(300 * time.Millisecond)
	e.eng.Stop()

	select {
	case o := <-done:
		require.NoError(t, o.err)
		require.Equal(t, ResultStopped, o.res.Kind)
	case <-time.After(10 * time.Second):
		t.Fatal("stop did not end the wave")
	}

	assert.Equal(t, issue.StatusPending, e.readTasks().Find("T1").Status)
	rec := e.readIssue()
	assert.Nil(t, rec.Status.Parallel)
	assert.False(t, rec.Status.TaskFailed)
}

func TestStopBetweenPhasesPreservesWave(t *testing.T) {
	e := newEnv(t, scriptPassAll, twoPending, parallelTwo)
	ctx := context.Background()

	res, err := e.eng.RunImplement(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultOK, res.Kind)
	runID := e.readIssue().Status.Parallel.RunID

	// Stop lands after implement finished and before spec-check starts.
	e.eng.Stop()
	callsBefore := len(e.fg.recorded())

	res, err = e.eng.RunSpecCheck(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultStopped, res.Kind)

	rec := e.readIssue()
	require.NotNil(t, rec.Status.Parallel, "wave record survives for the next run")
	assert.Equal(t, issue.PhaseSpecCheck, rec.Status.Parallel.ActiveWavePhase)
	assert.Equal(t, []string{"T1", "T2"}, rec.Status.Parallel.ActiveWaveTaskIDs)
	for _, task := range e.readTasks().Tasks {
		assert.Equal(t, issue.StatusInProgress, task.Status, "reservation not rolled back")
	}
	assert.False(t, rec.Status.TaskFailed)
	assert.False(t, rec.Status.TaskPassed)

	assert.False(t, sandbox.HasMarker(e.st.WorkerDir(runID, "T1"), issue.PhaseSpecCheck),
		"no spec-check worker ran")
	assert.Equal(t, callsBefore, len(e.fg.recorded()), "no git activity after stop")

	// A fresh engine, as the next run would build, picks the wave back up.
	e2 := NewEngine(e.cfg)
	res, err = e2.RunSpecCheck(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultOK, res.Kind)
	assert.True(t, e.readIssue().Status.AllTasksComplete)
}

func TestStopBeforeReservationLaunchesNothing(t *testing.T) {
	e := newEnv(t, scriptPassAll, twoPending, parallelTwo)

	e.eng.Stop()
	res, err := e.eng.RunImplement(context.Background())
	require.NoError(t, err)
	require.Equal(t, ResultStopped, res.Kind)

	assert.Nil(t, e.readIssue().Status.Parallel)
	for _, task := range e.readTasks().Tasks {
		assert.Equal(t, issue.StatusPending, task.Status)
	}
	assert.Empty(t, e.fg.recorded())
}

func TestRestartAfterImplementResumesWithoutWarning(t *testing.T) {
	e := newEnv(t, scriptPassAll, twoPending, parallelTwo)
	ctx := context.Background()

	res, err := e.eng.RunImplement(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultOK, res.Kind)
	waveID := res.WaveID

	rec := e.readIssue()
	assert.Equal(t, issue.PhaseSpecCheck, rec.Phase,
		"canonical phase advances with the wave record")

	// A second implement call, as a restarted run loop would make, is a
	// no-op handoff to spec-check rather than a corruption.
	res, err = e.eng.RunImplement(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultOK, res.Kind)
	assert.Equal(t, waveID, res.WaveID)
	assert.NotContains(t, e.progress(), "Corruption")

	res, err = e.eng.RunSpecCheck(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultOK, res.Kind)
	assert.True(t, e.readIssue().Status.AllTasksComplete)
	assert.NotContains(t, e.progress(), "Corruption")
}

func TestSpecCheckTimeoutMergesNothing(t *testing.T) {
	e := newEnv(t, scriptSleepSpecCheck, twoPending,
		`{"mode":"parallel","maxParallelTasks":2,"iterationTimeoutSec":1}`)
	ctx := context.Background()

	res, err := e.eng.RunImplement(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultOK, res.Kind)

	res, err = e.eng.RunSpecCheck(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultTimedOut, res.Kind)

	for _, c := range e.fg.recorded() {
		assert.False(t, strings.HasPrefix(c, "git merge"),
			"no branch is merged on a spec-check timeout: %s", c)
	}
	for _, task := range e.readTasks().Tasks {
		assert.Equal(t, issue.StatusFailed, task.Status)
	}

	rec := e.readIssue()
	assert.Nil(t, rec.Status.Parallel)
	assert.True(t, rec.Status.TaskFailed)
	assert.True(t, rec.Status.HasMoreTasks)
	assert.False(t, rec.Status.AllTasksComplete)
	assert.Contains(t, e.progress(), "Parallel Wave Timeout")
}

func TestSequentialModeRunsOneTaskPerWave(t *testing.T) {
	e := newEnv(t, scriptPassAll, twoPending, `{"mode":"sequential","maxParallelTasks":4}`)
	ctx := context.Background()

	res, err := e.eng.RunImplement(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultOK, res.Kind)

	rec := e.readIssue()
	require.NotNil(t, rec.Status.Parallel)
	assert.Equal(t, []string{"T1"}, rec.Status.Parallel.ActiveWaveTaskIDs)
}

func TestNoWaveWhenNothingEligible(t *testing.T) {
	e := newEnv(t, scriptPassAll, `{"tasks":[{"id":"T1","status":"passed"}]}`, parallelTwo)

	res, err := e.eng.RunImplement(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultNoWave, res.Kind)

	res, err = e.eng.RunSpecCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultNoWave, res.Kind)
}
