// Package errors provides structured error types for waverunner.
package errors

import (
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for wave orchestration.
const (
	// Identifier / state errors
	CodeInvalidIdentifier Code = "WAVE_INVALID_IDENTIFIER"
	CodeWaveCorrupt       Code = "WAVE_STATE_CORRUPT"
	CodeIssueMissing      Code = "WAVE_ISSUE_MISSING"

	// Wave execution errors
	CodeSetupFailed   Code = "WAVE_SETUP_FAILED"
	CodeWaveTimeout   Code = "WAVE_TIMEOUT"
	CodeMergeConflict Code = "WAVE_MERGE_CONFLICT"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
)

// WaveError is the structured error type for waverunner.
type WaveError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *WaveError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *WaveError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a WaveError with the same code.
func (e *WaveError) Is(target error) bool {
	t, ok := target.(*WaveError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// UserMessage returns a user-facing message for CLI output.
func (e *WaveError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// WithCause returns a copy of the error with the given cause.
func (e *WaveError) WithCause(err error) *WaveError {
	return &WaveError{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// --- Error constructors ---

// ErrInvalidIdentifier returns an error for an identifier that is not
// path-safe. The identifier participates in constructed filesystem paths, so
// rejection happens before any path is built.
func ErrInvalidIdentifier(kind, value, reason string) *WaveError {
	return &WaveError{
		Code: CodeInvalidIdentifier,
		What: fmt.Sprintf("invalid %s %q", kind, value),
		Why:  reason,
		Fix:  "Identifiers may only contain letters, digits, '_' and '-'",
	}
}

// ErrWaveCorrupt returns an error for a structurally invalid active-wave
// record. Corruption is surfaced, never silently repaired.
func ErrWaveCorrupt(reason string) *WaveError {
	return &WaveError{
		Code: CodeWaveCorrupt,
		What: "active-wave record is structurally invalid",
		Why:  reason,
		Fix:  "Inspect status.parallel in issue.json; remove it to abandon the wave after repairing task statuses",
	}
}

// ErrIssueMissing returns an error when no canonical issue record exists.
func ErrIssueMissing(stateDir string) *WaveError {
	return &WaveError{
		Code: CodeIssueMissing,
		What: "canonical issue record not found",
		Why:  fmt.Sprintf("no issue.json in %s", stateDir),
		Fix:  "Point --state-dir at a decomposed issue directory",
	}
}

// ErrSetupFailed returns an error for a failed wave setup (sandbox creation
// or worker spawn). Setup failure is not task failure: workflow signal flags
// stay untouched.
func ErrSetupFailed(taskID string, cause error) *WaveError {
	return &WaveError{
		Code:  CodeSetupFailed,
		What:  fmt.Sprintf("wave setup failed at task %s", taskID),
		Why:   "sandbox creation or worker spawn failed; reservations were rolled back",
		Fix:   "See the setup_failed wave summary for the partial setup details",
		Cause: cause,
	}
}

// ErrMergeConflict returns an error for a merge conflict that stops the run.
func ErrMergeConflict(taskID string) *WaveError {
	return &WaveError{
		Code: CodeMergeConflict,
		What: fmt.Sprintf("merge conflict on task %s branch", taskID),
		Why:  "the task branch could not be merged into the canonical branch",
		Fix:  fmt.Sprintf("See task-feedback/%s.md for resolution steps", taskID),
	}
}

// ErrConfigInvalid returns an error for invalid configuration.
func ErrConfigInvalid(field, reason string) *WaveError {
	return &WaveError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
		Fix:  "Check .waverunner/config.yaml and fix the invalid field",
	}
}

// Wrap wraps a generic error into a WaveError with unknown code.
func Wrap(err error, what string) *WaveError {
	return &WaveError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
