// Package worker supervises external worker processes: spawning one
// run-phase invocation per (task, phase), streaming its output line by
// line, signalling it on stop or timeout, and mapping its exit to an
// outcome.
package worker

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/randalmurphal/waverunner/internal/events"
	"github.com/randalmurphal/waverunner/internal/issue"
)

// OutcomeStatus is the closed set of worker verdicts.
type OutcomeStatus string

const (
	OutcomePassed   OutcomeStatus = "passed"
	OutcomeFailed   OutcomeStatus = "failed"
	OutcomeTimedOut OutcomeStatus = "timed_out"
)

// Outcome is the result of one worker's execution.
type Outcome struct {
	TaskID     string        `json:"taskId"`
	ExitCode   int           `json:"exitCode"`
	Status     OutcomeStatus `json:"status"`
	TaskPassed bool          `json:"taskPassed"`
	TaskFailed bool          `json:"taskFailed"`
}

// SpawnSpec describes one run-phase invocation.
type SpawnSpec struct {
	RunnerBin    string
	Workflow     string
	Phase        issue.Phase
	Provider     string
	WorkflowsDir string
	PromptsDir   string
	StateDir     string
	WorkDir      string
}

func (s SpawnSpec) args() []string {
	return []string{
		"run-phase",
		"--workflow", s.Workflow,
		"--phase", string(s.Phase),
		"--provider", s.Provider,
		"--workflows-dir", s.WorkflowsDir,
		"--prompts-dir", s.PromptsDir,
		"--state-dir", s.StateDir,
		"--work-dir", s.WorkDir,
	}
}

// Supervisor spawns and tracks workers. The onActivity callback fires for
// every output line; the timeout monitor uses it as the inactivity signal.
type Supervisor struct {
	logger     *slog.Logger
	publisher  events.Publisher
	onActivity func()
}

// NewSupervisor creates a supervisor. Both logger and publisher may be nil.
func NewSupervisor(logger *slog.Logger, publisher events.Publisher, onActivity func()) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = events.NewNopPublisher()
	}
	if onActivity == nil {
		onActivity = func() {}
	}
	return &Supervisor{logger: logger, publisher: publisher, onActivity: onActivity}
}

// Worker is one spawned worker process.
type Worker struct {
	TaskID   string
	Phase    issue.Phase
	StateDir string

	cmd *exec.Cmd
	wg  sync.WaitGroup

	mu       sync.Mutex
	exited   bool
	timedOut bool
}

// Start spawns a worker for one (task, phase). stdin is not connected; the
// worker reads nothing from its parent. Output streaming begins
// immediately.
func (s *Supervisor) Start(taskID string, spec SpawnSpec) (*Worker, error) {
	cmd := exec.Command(spec.RunnerBin, spec.args()...)
	cmd.Dir = spec.WorkDir
	cmd.Stdin = nil
	setProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe for %s: %w", taskID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe for %s: %w", taskID, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawning worker for %s: %w", taskID, err)
	}

	w := &Worker{
		TaskID:   taskID,
		Phase:    spec.Phase,
		StateDir: spec.StateDir,
		cmd:      cmd,
	}
	w.wg.Add(2)
	go s.stream(w, "stdout", stdout)
	go s.stream(w, "stderr", stderr)

	s.logger.Info("worker started",
		"task_id", taskID, "phase", spec.Phase, "pid", cmd.Process.Pid)
	return w, nil
}

func (s *Supervisor) stream(w *Worker, name string, r io.Reader) {
	defer w.wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		s.onActivity()
		s.logger.Info(fmt.Sprintf("[WORKER %s][%s] %s", w.TaskID, name, line))
		s.publisher.Publish(events.Event{
			Type:   events.EventWorkerLine,
			TaskID: w.TaskID,
			Time:   time.Now(),
			Data:   map[string]any{"stream": name, "line": line},
		})
	}
}

// Wait blocks until the worker exits, then maps the exit to an outcome.
// For the implement phase, passed means exit code 0; for spec-check, passed
// means the worker-local taskPassed flag is set and taskFailed is not. A
// timed-out mark always wins.
func (w *Worker) Wait() Outcome {
	w.wg.Wait()
	_ = w.cmd.Wait()

	w.mu.Lock()
	w.exited = true
	timedOut := w.timedOut
	w.mu.Unlock()

	out := Outcome{
		TaskID:   w.TaskID,
		ExitCode: normalizeExitCode(w.cmd.ProcessState),
	}
	out.TaskPassed, out.TaskFailed = harvestFlags(w.StateDir)

	switch {
	case timedOut:
		out.Status = OutcomeTimedOut
	case w.Phase == issue.PhaseSpecCheck:
		if out.TaskPassed && !out.TaskFailed {
			out.Status = OutcomePassed
		} else {
			out.Status = OutcomeFailed
		}
	default:
		if out.ExitCode == 0 {
			out.Status = OutcomePassed
		} else {
			out.Status = OutcomeFailed
		}
	}
	return out
}

// MarkTimedOut records that the timeout monitor killed this worker. Wait
// will report timed_out regardless of the exit code.
func (w *Worker) MarkTimedOut() {
	w.mu.Lock()
	w.timedOut = true
	w.mu.Unlock()
}

// Alive reports whether the process has started and not yet exited.
func (w *Worker) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cmd != nil && w.cmd.Process != nil && !w.exited
}

// Terminate sends SIGTERM to the worker's process group (manual stop).
func (w *Worker) Terminate() {
	if !w.Alive() {
		return
	}
	_ = terminateGroup(w.cmd.Process.Pid)
}

// Kill sends SIGKILL to the worker's process group (timeout, setup
// failure).
func (w *Worker) Kill() {
	if !w.Alive() {
		return
	}
	_ = killGroup(w.cmd.Process.Pid)
	_ = w.cmd.Process.Kill()
}

// HarvestFlags reads the workflow signal flags from a worker-local issue
// record. Missing or malformed files read as both-false.
func HarvestFlags(workerStateDir string) (taskPassed, taskFailed bool) {
	return harvestFlags(workerStateDir)
}

func harvestFlags(workerStateDir string) (bool, bool) {
	data, err := os.ReadFile(filepath.Join(workerStateDir, "issue.json"))
	if err != nil {
		return false, false
	}
	return gjson.GetBytes(data, "status.taskPassed").Bool(),
		gjson.GetBytes(data, "status.taskFailed").Bool()
}
