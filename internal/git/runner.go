// Package git wraps the git primitives the orchestrator needs: worktree
// lifecycle, branch naming, and non-fast-forward merges with conflict
// detection.
package git

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner executes git commands. The interface exists so engine and
// integrator tests can script git behavior without a real repository.
type CommandRunner interface {
	// Run executes a command in workDir and returns the trimmed stdout.
	// On failure the returned string carries the command's stderr (or
	// stdout when stderr is empty) and err is a *CommandError.
	Run(workDir string, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// NewExecRunner creates a new ExecRunner.
func NewExecRunner() *ExecRunner { return &ExecRunner{} }

// Run executes the command using exec.Command.
func (r *ExecRunner) Run(workDir, name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if msg == "" {
			msg = err.Error()
		}
		return msg, &CommandError{
			Command: name,
			Args:    args,
			WorkDir: workDir,
			Output:  msg,
			Err:     err,
		}
	}

	return strings.TrimSpace(stdout.String()), nil
}

// CommandError is a failed command invocation with its captured output.
type CommandError struct {
	Command string
	Args    []string
	WorkDir string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s %s: %s", e.Command, strings.Join(e.Args, " "), e.Output)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "command failed"
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
