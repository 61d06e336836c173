// Package store provides the canonical state store for one issue: atomic
// JSON file replacement for issue.json and tasks.json, the append-only
// progress log, per-wave summaries, and canonical feedback files.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	waveerrors "github.com/randalmurphal/waverunner/internal/errors"
	"github.com/randalmurphal/waverunner/internal/issue"
	"github.com/randalmurphal/waverunner/internal/util"
)

const (
	issueFileName    = "issue.json"
	tasksFileName    = "tasks.json"
	progressFileName = "progress.txt"
	feedbackDirName  = "task-feedback"
	runsDirName      = ".runs"
	historyDBName    = "history.db"
)

// Store reads and writes the canonical state directory for one issue.
// Writers never leave a partial file behind: every canonical write goes
// through temp-file-plus-rename. Callers serialize their own writes; the
// wave engine is the only writer during a run.
type Store struct {
	stateDir string
}

// New creates a store rooted at the given canonical state directory.
func New(stateDir string) *Store {
	return &Store{stateDir: stateDir}
}

// StateDir returns the canonical state directory.
func (s *Store) StateDir() string { return s.stateDir }

// IssuePath returns the path of the canonical issue record.
func (s *Store) IssuePath() string { return filepath.Join(s.stateDir, issueFileName) }

// TasksPath returns the path of the canonical tasks file.
func (s *Store) TasksPath() string { return filepath.Join(s.stateDir, tasksFileName) }

// ProgressPath returns the path of the append-only progress log.
func (s *Store) ProgressPath() string { return filepath.Join(s.stateDir, progressFileName) }

// RunDir returns the directory holding one run's waves and worker state.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.stateDir, runsDirName, runID)
}

// WorkerDir returns the worker state directory for one (run, task).
func (s *Store) WorkerDir(runID, taskID string) string {
	return filepath.Join(s.RunDir(runID), "workers", taskID)
}

// WaveSummaryPath returns the path of one wave's summary JSON.
func (s *Store) WaveSummaryPath(runID, waveID string) string {
	return filepath.Join(s.RunDir(runID), "waves", waveID+".json")
}

// HistoryDBPath returns the path of the sqlite wave history database.
func (s *Store) HistoryDBPath() string {
	return filepath.Join(s.stateDir, runsDirName, historyDBName)
}

// FeedbackPath returns the canonical feedback file path for a task. The id
// is validated before the path is constructed.
func (s *Store) FeedbackPath(taskID string) (string, error) {
	if err := issue.ValidateID("taskId", taskID); err != nil {
		return "", err
	}
	return filepath.Join(s.stateDir, feedbackDirName, taskID+".md"), nil
}

// ReadIssue reads the canonical issue record. A missing file is reported as
// a structured issue-missing error so callers can distinguish it from IO
// failures.
func (s *Store) ReadIssue() (*issue.Record, error) {
	data, err := os.ReadFile(s.IssuePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, waveerrors.ErrIssueMissing(s.stateDir)
		}
		return nil, fmt.Errorf("reading issue record: %w", err)
	}
	var rec issue.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.IssuePath(), err)
	}
	return &rec, nil
}

// WriteIssue atomically replaces the canonical issue record.
func (s *Store) WriteIssue(rec *issue.Record) error {
	data, err := marshalIndented(rec)
	if err != nil {
		return fmt.Errorf("encoding issue record: %w", err)
	}
	return util.AtomicWriteFile(s.IssuePath(), data, 0o644)
}

// ReadTasks reads the canonical tasks file.
func (s *Store) ReadTasks() (*issue.TasksFile, error) {
	data, err := os.ReadFile(s.TasksPath())
	if err != nil {
		return nil, fmt.Errorf("reading tasks file: %w", err)
	}
	var f issue.TasksFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.TasksPath(), err)
	}
	return &f, nil
}

// WriteTasks atomically replaces the canonical tasks file.
func (s *Store) WriteTasks(f *issue.TasksFile) error {
	data, err := marshalIndented(f)
	if err != nil {
		return fmt.Errorf("encoding tasks file: %w", err)
	}
	return util.AtomicWriteFile(s.TasksPath(), data, 0o644)
}

// AppendProgress appends one entry to the progress log, creating the log on
// first write. A trailing newline is guaranteed.
func (s *Store) AppendProgress(text string) error {
	if len(text) == 0 || text[len(text)-1] != '\n' {
		text += "\n"
	}
	return util.AppendFile(s.ProgressPath(), []byte(text), 0o644)
}

// WriteWaveSummary writes one wave's summary under .runs/<runId>/waves/.
// Both identifiers are validated before any path is built.
func (s *Store) WriteWaveSummary(runID, waveID string, summary any) error {
	if err := issue.ValidateID("runId", runID); err != nil {
		return err
	}
	if err := issue.ValidateID("waveId", waveID); err != nil {
		return err
	}
	data, err := marshalIndented(summary)
	if err != nil {
		return fmt.Errorf("encoding wave summary: %w", err)
	}
	return util.AtomicWriteFile(s.WaveSummaryPath(runID, waveID), data, 0o644)
}

// WriteFeedback writes a canonical feedback file for a task.
func (s *Store) WriteFeedback(taskID, content string) error {
	path, err := s.FeedbackPath(taskID)
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(path, []byte(content), 0o644)
}

// HasFeedback reports whether a canonical feedback file exists for a task.
func (s *Store) HasFeedback(taskID string) bool {
	path, err := s.FeedbackPath(taskID)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(path)
	return statErr == nil
}

func marshalIndented(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
