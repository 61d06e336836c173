package issue

import (
	"github.com/randalmurphal/waverunner/internal/errors"
)

// Phase represents a workflow phase the wave engine participates in.
type Phase string

const (
	PhaseImplement Phase = "implement_task"
	PhaseSpecCheck Phase = "task_spec_check"
)

// IsValidPhase returns true if p is a phase the wave engine runs.
func IsValidPhase(p Phase) bool {
	return p == PhaseImplement || p == PhaseSpecCheck
}

// ValidateID checks that an identifier is path-safe: non-empty, and built
// only from letters, digits, underscore and hyphen. Identifiers feed into
// constructed filesystem paths and branch names, so validation runs before
// any path is built, at every trust boundary.
func ValidateID(kind, value string) error {
	if value == "" {
		return errors.ErrInvalidIdentifier(kind, value, "empty")
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return errors.ErrInvalidIdentifier(kind, value, "contains a character outside [A-Za-z0-9_-]")
		}
	}
	return nil
}
