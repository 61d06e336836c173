package wave

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/waverunner/internal/events"
	"github.com/randalmurphal/waverunner/internal/git"
	"github.com/randalmurphal/waverunner/internal/issue"
	"github.com/randalmurphal/waverunner/internal/sandbox"
	"github.com/randalmurphal/waverunner/internal/store"
	"github.com/randalmurphal/waverunner/internal/worker"
)

// ResultKind is the closed set of wave execution outcomes.
type ResultKind string

const (
	ResultOK            ResultKind = "ok"
	ResultNoWave        ResultKind = "no_wave"
	ResultSetupFailed   ResultKind = "setup_failed"
	ResultTimedOut      ResultKind = "timed_out"
	ResultStopped       ResultKind = "stopped"
	ResultMergeConflict ResultKind = "merge_conflict"
)

// Result is the tagged outcome of one wave phase execution. Errors are
// reserved for IO and corruption; every domain outcome is a Result.
type Result struct {
	Kind           ResultKind
	WaveID         string
	Summary        *Summary
	ConflictTaskID string
}

// Recorder receives finished wave summaries, for the history ledger.
type Recorder interface {
	RecordWave(sum *Summary) error
}

type nopRecorder struct{}

func (nopRecorder) RecordWave(*Summary) error { return nil }

// Config assembles an Engine.
type Config struct {
	Store     *store.Store
	Sandboxes *sandbox.Manager
	Git       *git.Git
	Logger    *slog.Logger
	Publisher events.Publisher
	Recorder  Recorder

	RunnerBin    string
	Workflow     string
	Provider     string
	WorkflowsDir string
	PromptsDir   string

	// CanonicalBranch is the merge target and worktree base. Empty means
	// the branch checked out when the first wave starts.
	CanonicalBranch string
}

// Engine drives waves of tasks through the implement and spec-check phases.
// All canonical writes happen from the engine's goroutine; workers run as
// OS processes and never touch canonical files.
type Engine struct {
	store      *store.Store
	sandboxes  *sandbox.Manager
	git        *git.Git
	integrator *Integrator
	logger     *slog.Logger
	publisher  events.Publisher
	recorder   Recorder

	runnerBin    string
	workflow     string
	provider     string
	workflowsDir string
	promptsDir   string
	branch       string

	stopRequested atomic.Bool
	mu            sync.Mutex
	active        []*worker.Worker
}

// NewEngine creates a wave engine.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NewNopPublisher()
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Engine{
		store:        cfg.Store,
		sandboxes:    cfg.Sandboxes,
		git:          cfg.Git,
		integrator:   NewIntegrator(cfg.Git, cfg.Store, logger, publisher),
		logger:       logger,
		publisher:    publisher,
		recorder:     recorder,
		runnerBin:    cfg.RunnerBin,
		workflow:     cfg.Workflow,
		provider:     cfg.Provider,
		workflowsDir: cfg.WorkflowsDir,
		promptsDir:   cfg.PromptsDir,
		branch:       cfg.CanonicalBranch,
	}
}

// Stop requests a cooperative stop. Running workers receive SIGTERM; the
// engine rolls back or preserves state so a later run resumes cleanly.
// Workflow signal flags are never touched by a stop.
func (e *Engine) Stop() {
	e.stopRequested.Store(true)
	e.mu.Lock()
	ws := append([]*worker.Worker(nil), e.active...)
	e.mu.Unlock()
	for _, w := range ws {
		w.Terminate()
	}
}

func (e *Engine) setActive(ws []*worker.Worker) {
	e.mu.Lock()
	e.active = ws
	e.mu.Unlock()
}

func (e *Engine) clearActive() {
	e.mu.Lock()
	e.active = nil
	e.mu.Unlock()
}

func newRunID() string  { return "run-" + uuid.NewString()[:8] }
func newWaveID() string { return "wave-" + uuid.NewString()[:8] }

func (e *Engine) spawnSpec(sb *sandbox.Sandbox, phase issue.Phase) worker.SpawnSpec {
	return worker.SpawnSpec{
		RunnerBin:    e.runnerBin,
		Workflow:     e.workflow,
		Phase:        phase,
		Provider:     e.provider,
		WorkflowsDir: e.workflowsDir,
		PromptsDir:   e.promptsDir,
		StateDir:     sb.StateDir,
		WorkDir:      sb.WorkDir,
	}
}

func (e *Engine) baseBranch() (string, error) {
	if e.branch != "" {
		return e.branch, nil
	}
	branch, err := e.git.CurrentBranch()
	if err != nil {
		return "", err
	}
	e.branch = branch
	return branch, nil
}

// reserve flips the selected tasks to in_progress and records the
// active-wave record. The tasks file is written before the issue record; a
// crash between the two leaves in_progress tasks without a wave, which
// start-of-run orphan repair marks failed.
func (e *Engine) reserve(rec *issue.Record, tasks *issue.TasksFile, ids []string, phase issue.Phase) (*issue.ActiveWave, error) {
	wave := &issue.ActiveWave{
		RunID:                  newRunID(),
		ActiveWaveID:           newWaveID(),
		ActiveWavePhase:        phase,
		ActiveWaveTaskIDs:      ids,
		ReservedStatusByTaskID: make(map[string]issue.TaskStatus, len(ids)),
		ReservedAt:             time.Now().UTC(),
	}
	for _, id := range ids {
		t := tasks.Find(id)
		if t == nil {
			return nil, fmt.Errorf("selected task %s not in tasks file", id)
		}
		wave.ReservedStatusByTaskID[id] = t.Status
		t.Status = issue.StatusInProgress
	}
	if err := e.store.WriteTasks(tasks); err != nil {
		return nil, err
	}
	rec.Status.Parallel = wave
	if err := e.store.WriteIssue(rec); err != nil {
		return nil, err
	}
	e.logger.Info("wave reserved",
		"run_id", wave.RunID, "wave_id", wave.ActiveWaveID, "tasks", ids)
	return wave, nil
}

// rollbackReservation clears the active-wave record, then restores every
// reserved task to its pre-reservation status. The record is cleared first
// so a crash mid-rollback leaves orphans for start-of-run repair instead of
// a resumable wave that was meant to be abandoned.
func (e *Engine) rollbackReservation(rec *issue.Record, tasks *issue.TasksFile, wave *issue.ActiveWave) error {
	rec.Status.Parallel = nil
	if err := e.store.WriteIssue(rec); err != nil {
		return err
	}
	for _, id := range wave.SortedReservedIDs() {
		tasks.SetStatus(id, wave.ReservedStatusByTaskID[id])
	}
	return e.store.WriteTasks(tasks)
}

// obtainSandbox returns the sandbox for one wave task. Implement waves
// create a fresh sandbox unless a previous process already built it;
// spec-check waves only ever reuse.
func (e *Engine) obtainSandbox(ctx context.Context, wave *issue.ActiveWave, taskID string, issueNumber int, phase issue.Phase) (*sandbox.Sandbox, error) {
	if phase == issue.PhaseSpecCheck {
		return e.sandboxes.Reuse(ctx, taskID, wave.RunID, issueNumber)
	}
	if _, err := os.Stat(e.store.WorkerDir(wave.RunID, taskID)); err == nil {
		return e.sandboxes.Reuse(ctx, taskID, wave.RunID, issueNumber)
	}
	base, err := e.baseBranch()
	if err != nil {
		return nil, err
	}
	return e.sandboxes.Create(ctx, taskID, wave.RunID, issueNumber, base)
}

// launchWave builds the sandboxes for every id, then starts every worker.
// Sandboxes are created before any worker starts so a creation failure
// never leaves processes to reap. Any failure takes the setup-failure path
// and returns its Result.
func (e *Engine) launchWave(ctx context.Context, rec *issue.Record, tasks *issue.TasksFile, wave *issue.ActiveWave, sum *Summary, phase issue.Phase, ids []string, sup *worker.Supervisor) (launch, *Result, error) {
	issueNumber := rec.IssueNumber()
	l := launch{sandboxes: make(map[string]*sandbox.Sandbox, len(ids))}

	var created []string
	for _, id := range ids {
		sb, err := e.obtainSandbox(ctx, wave, id, issueNumber, phase)
		if err != nil {
			r, ferr := e.setupFailed(rec, tasks, wave, sum, err, created, nil, nil)
			return launch{}, &r, ferr
		}
		created = append(created, id)
		l.sandboxes[id] = sb
	}
	for _, id := range ids {
		w, err := sup.Start(id, e.spawnSpec(l.sandboxes[id], phase))
		if err != nil {
			r, ferr := e.setupFailed(rec, tasks, wave, sum, err, created, l.startedIDs, l.workers)
			return launch{}, &r, ferr
		}
		l.workers = append(l.workers, w)
		l.startedIDs = append(l.startedIDs, id)
	}
	return l, nil, nil
}

type launch struct {
	sandboxes  map[string]*sandbox.Sandbox
	workers    []*worker.Worker
	startedIDs []string
}

func waitAll(workers []*worker.Worker) []worker.Outcome {
	outcomes := make([]worker.Outcome, len(workers))
	g := new(errgroup.Group)
	for i, w := range workers {
		g.Go(func() error {
			outcomes[i] = w.Wait()
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// setupFailed is the common handling for sandbox-creation and worker-spawn
// failures: kill whatever already started, persist a setup_failed summary
// with the partial setup, write the dedicated progress entry, and roll the
// reservation back. Workflow signal flags are never touched here; setup
// failure is not task failure.
func (e *Engine) setupFailed(rec *issue.Record, tasks *issue.TasksFile, wave *issue.ActiveWave, sum *Summary, cause error, created, startedIDs []string, started []*worker.Worker) (Result, error) {
	for _, w := range started {
		w.Kill()
	}
	for _, w := range started {
		w.Wait()
	}

	sum.EndedAt = time.Now()
	sum.State = "setup_failed"
	sum.Error = cause.Error()
	sum.ErrorStack = string(debug.Stack())
	sum.PartialSetup = &PartialSetup{
		CreatedSandboxes: append([]string{}, created...),
		StartedWorkers:   append([]string{}, startedIDs...),
	}
	e.logger.Error("wave setup failed",
		"wave_id", wave.ActiveWaveID, "error", cause,
		"created_sandboxes", created, "started_workers", startedIDs)

	if err := e.store.WriteWaveSummary(wave.RunID, wave.ActiveWaveID, sum); err != nil {
		return Result{}, err
	}
	if err := e.store.AppendProgress(setupFailureEntry(sum)); err != nil {
		return Result{}, err
	}
	if err := e.recorder.RecordWave(sum); err != nil {
		e.logger.Warn("history record failed", "wave_id", wave.ActiveWaveID, "error", err)
	}
	if err := e.rollbackReservation(rec, tasks, wave); err != nil {
		return Result{}, err
	}
	return Result{Kind: ResultSetupFailed, WaveID: wave.ActiveWaveID, Summary: sum}, nil
}

// handleStop finishes a manually stopped wave: workers have already
// received SIGTERM from Stop, so the reservation is rolled back and the
// flags left alone.
func (e *Engine) handleStop(rec *issue.Record, tasks *issue.TasksFile, wave *issue.ActiveWave) (Result, error) {
	e.logger.Info("wave stopped by request", "wave_id", wave.ActiveWaveID)
	if err := e.rollbackReservation(rec, tasks, wave); err != nil {
		return Result{}, err
	}
	return Result{Kind: ResultStopped, WaveID: wave.ActiveWaveID}, nil
}

// timeoutCleanup applies the timeout protocol: every wave task fails, each
// gets a synthetic feedback file naming the timeout type and the worker's
// recorded status, the wave record is cleared, and the flags report
// failure. No branches are merged.
func (e *Engine) timeoutCleanup(rec *issue.Record, tasks *issue.TasksFile, wave *issue.ActiveWave, sum *Summary, timeoutType string) (Result, error) {
	sum.Timeout = timeoutType

	statusByID := make(map[string]worker.OutcomeStatus, len(sum.Workers))
	for _, o := range sum.Workers {
		statusByID[o.TaskID] = o.Status
	}
	for _, id := range wave.ActiveWaveTaskIDs {
		tasks.SetStatus(id, issue.StatusFailed)
		recorded := string(statusByID[id])
		if recorded == "" {
			recorded = "not started this run"
		}
		if err := e.store.WriteFeedback(id, timeoutFeedback(id, timeoutType, sum.Phase, recorded)); err != nil {
			return Result{}, err
		}
	}
	if err := e.store.WriteTasks(tasks); err != nil {
		return Result{}, err
	}

	rec.Status.Parallel = nil
	rec.Status.SetFlags(false, true, true, false)
	if err := e.store.WriteIssue(rec); err != nil {
		return Result{}, err
	}
	if err := e.store.AppendProgress(timeoutEntry(sum, timeoutType)); err != nil {
		return Result{}, err
	}
	if err := e.store.WriteWaveSummary(wave.RunID, wave.ActiveWaveID, sum); err != nil {
		return Result{}, err
	}
	if err := e.recorder.RecordWave(sum); err != nil {
		e.logger.Warn("history record failed", "wave_id", wave.ActiveWaveID, "error", err)
	}
	e.publisher.Publish(events.Event{
		Type:   events.EventWaveTimeout,
		WaveID: wave.ActiveWaveID,
		Time:   time.Now(),
		Data:   map[string]any{"timeout": timeoutType},
	})
	return Result{Kind: ResultTimedOut, WaveID: wave.ActiveWaveID, Summary: sum}, nil
}
