// Package sandbox manages per-worker workspaces: a worker state directory
// seeded from canonical files, plus an isolated git worktree on a dedicated
// task branch.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/randalmurphal/waverunner/internal/git"
	"github.com/randalmurphal/waverunner/internal/issue"
	"github.com/randalmurphal/waverunner/internal/store"
	"github.com/randalmurphal/waverunner/internal/util"
)

const (
	markerImplement = "implement.done"
	markerSpecCheck = "spec_check.done"
	feedbackName    = "task-feedback.md"
)

// MarkerName returns the completion marker filename for a phase.
func MarkerName(phase issue.Phase) string {
	if phase == issue.PhaseSpecCheck {
		return markerSpecCheck
	}
	return markerImplement
}

// HasMarker reports whether a phase completion marker exists in a worker
// state directory.
func HasMarker(workerStateDir string, phase issue.Phase) bool {
	_, err := os.Stat(filepath.Join(workerStateDir, MarkerName(phase)))
	return err == nil
}

// Sandbox is one worker's workspace.
type Sandbox struct {
	TaskID   string
	RunID    string
	Branch   string
	StateDir string
	WorkDir  string
}

// IssuePath returns the worker-local issue record path.
func (s *Sandbox) IssuePath() string { return filepath.Join(s.StateDir, "issue.json") }

// TasksPath returns the worker-local tasks file path.
func (s *Sandbox) TasksPath() string { return filepath.Join(s.StateDir, "tasks.json") }

// FeedbackPath returns the worker-authored feedback file path.
func (s *Sandbox) FeedbackPath() string { return filepath.Join(s.StateDir, feedbackName) }

// HasMarker reports whether the phase completion marker exists.
func (s *Sandbox) HasMarker(phase issue.Phase) bool {
	return HasMarker(s.StateDir, phase)
}

// WriteMarker creates the phase completion marker (an empty sentinel file).
func (s *Sandbox) WriteMarker(phase issue.Phase) error {
	return util.AtomicWriteFile(filepath.Join(s.StateDir, MarkerName(phase)), nil, 0o644)
}

// Manager creates, reuses and cleans up sandboxes.
type Manager struct {
	store  *store.Store
	git    *git.Git
	logger *slog.Logger
}

// NewManager creates a sandbox manager.
func NewManager(st *store.Store, g *git.Git, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: st, git: g, logger: logger}
}

// Create builds a fresh sandbox for one (run, task): a state directory
// seeded with copies of the canonical issue and tasks files (plus prior
// canonical feedback for retries), and a worktree on a new branch whose tip
// is baseBranch. Identifier validation runs before any path is constructed.
func (m *Manager) Create(ctx context.Context, taskID, runID string, issueNumber int, baseBranch string) (*Sandbox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := issue.ValidateID("taskId", taskID); err != nil {
		return nil, err
	}
	if err := issue.ValidateID("runId", runID); err != nil {
		return nil, err
	}

	sb := m.locate(taskID, runID, issueNumber)
	if err := os.MkdirAll(sb.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating worker state dir: %w", err)
	}
	if err := util.CopyFile(m.store.IssuePath(), sb.IssuePath(), 0o644); err != nil {
		return nil, fmt.Errorf("seeding worker issue record: %w", err)
	}
	if err := util.CopyFile(m.store.TasksPath(), sb.TasksPath(), 0o644); err != nil {
		return nil, fmt.Errorf("seeding worker tasks file: %w", err)
	}
	if m.store.HasFeedback(taskID) {
		src, _ := m.store.FeedbackPath(taskID)
		if err := util.CopyFile(src, sb.FeedbackPath(), 0o644); err != nil {
			return nil, fmt.Errorf("seeding retry feedback: %w", err)
		}
	}

	if err := m.git.CreateWorktree(sb.Branch, sb.WorkDir, baseBranch); err != nil {
		return nil, err
	}
	m.logger.Debug("sandbox created",
		"task_id", taskID, "run_id", runID, "branch", sb.Branch, "work_dir", sb.WorkDir)
	return sb, nil
}

// Reuse returns the existing sandbox for one (run, task) without touching
// its branch. Used when spec-check follows an implement wave from an
// earlier process.
func (m *Manager) Reuse(ctx context.Context, taskID, runID string, issueNumber int) (*Sandbox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := issue.ValidateID("taskId", taskID); err != nil {
		return nil, err
	}
	if err := issue.ValidateID("runId", runID); err != nil {
		return nil, err
	}

	sb := m.locate(taskID, runID, issueNumber)
	if _, err := os.Stat(sb.StateDir); err != nil {
		return nil, fmt.Errorf("no sandbox to reuse for task %s run %s: %w", taskID, runID, err)
	}
	return sb, nil
}

// CleanupOnSuccess removes a sandbox's worktree and branch. Called only
// after the task's branch has merged; failures are logged, not fatal.
func (m *Manager) CleanupOnSuccess(sb *Sandbox) {
	if err := m.git.RemoveWorktree(sb.WorkDir); err != nil {
		m.logger.Warn("worktree removal failed", "task_id", sb.TaskID, "error", err)
		return
	}
	if err := m.git.DeleteBranch(sb.Branch); err != nil {
		m.logger.Warn("branch removal failed", "task_id", sb.TaskID, "branch", sb.Branch, "error", err)
	}
}

func (m *Manager) locate(taskID, runID string, issueNumber int) *Sandbox {
	branch := git.TaskBranch(issueNumber, taskID, runID)
	return &Sandbox{
		TaskID:   taskID,
		RunID:    runID,
		Branch:   branch,
		StateDir: m.store.WorkerDir(runID, taskID),
		WorkDir:  git.WorktreePath(m.git.RepoPath(), branch),
	}
}
