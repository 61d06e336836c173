// Package config loads waverunner configuration: built-in defaults layered
// under optional system, user and project YAML files, with WAVERUNNER_*
// environment variables on top.
package config

import (
	"fmt"
	"strings"

	waveerrors "github.com/randalmurphal/waverunner/internal/errors"
)

const (
	// Dir is the project-local directory holding config and state.
	Dir = ".waverunner"
	// FileName is the config file name inside Dir.
	FileName = "config.yaml"
)

// Config is the full waverunner configuration.
type Config struct {
	// StateDir is the canonical state directory (issue.json, tasks.json,
	// progress log, runs). Relative paths are resolved against the repo.
	StateDir string `yaml:"state_dir"`
	// RepoPath is the repository the orchestrator merges into. Empty means
	// the current working directory.
	RepoPath string `yaml:"repo_path"`
	// CanonicalBranch is the merge target and worktree base branch. Empty
	// means whatever branch is checked out when the first wave starts.
	CanonicalBranch string `yaml:"canonical_branch"`

	Runner RunnerConfig `yaml:"runner"`
	Log    LogConfig    `yaml:"log"`

	// HistoryEnabled controls the sqlite wave ledger under .runs/.
	HistoryEnabled bool `yaml:"history_enabled"`
}

// RunnerConfig describes the worker runner invocation.
type RunnerConfig struct {
	// Bin is the runner executable spawned once per (task, phase).
	Bin string `yaml:"bin"`
	// Workflow is the workflow name passed to run-phase.
	Workflow string `yaml:"workflow"`
	// Provider is the model provider passed to run-phase.
	Provider string `yaml:"provider"`
	// WorkflowsDir and PromptsDir are passed through to the runner.
	WorkflowsDir string `yaml:"workflows_dir"`
	PromptsDir   string `yaml:"prompts_dir"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		StateDir: Dir + "/state",
		Runner: RunnerConfig{
			Bin:          "waverunner-worker",
			Workflow:     "issue",
			Provider:     "claude",
			WorkflowsDir: Dir + "/workflows",
			PromptsDir:   Dir + "/prompts",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		HistoryEnabled: true,
	}
}

// Validate checks field values that have a closed domain.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return waveerrors.ErrConfigInvalid("log.level", fmt.Sprintf("unknown level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return waveerrors.ErrConfigInvalid("log.format", fmt.Sprintf("unknown format %q", c.Log.Format))
	}
	if c.Runner.Bin == "" {
		return waveerrors.ErrConfigInvalid("runner.bin", "runner binary must be set")
	}
	return nil
}
