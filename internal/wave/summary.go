package wave

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/randalmurphal/waverunner/internal/issue"
	"github.com/randalmurphal/waverunner/internal/worker"
)

// Summary is the per-wave JSON artifact written under .runs/<runId>/waves/.
type Summary struct {
	WaveID    string           `json:"waveId"`
	RunID     string           `json:"runId"`
	Phase     issue.Phase      `json:"phase"`
	TaskIDs   []string         `json:"taskIds"`
	StartedAt time.Time        `json:"startedAt"`
	EndedAt   time.Time        `json:"endedAt"`
	Workers   []worker.Outcome `json:"workers"`
	AllPassed bool             `json:"allPassed"`
	AnyFailed bool             `json:"anyFailed"`

	TaskVerdicts map[string]Verdict `json:"taskVerdicts,omitempty"`
	Merge        *MergeOutcome      `json:"merge,omitempty"`

	// Timeout names the fired bound (iteration or inactivity) when the
	// wave was killed by the monitor.
	Timeout string `json:"timeout,omitempty"`

	// Setup-failure fields.
	State        string        `json:"state,omitempty"`
	Error        string        `json:"error,omitempty"`
	ErrorStack   string        `json:"errorStack,omitempty"`
	PartialSetup *PartialSetup `json:"partialSetup,omitempty"`
}

// Verdict is the per-task slice of a wave summary.
type Verdict struct {
	Status     worker.OutcomeStatus `json:"status"`
	ExitCode   int                  `json:"exitCode"`
	Branch     string               `json:"branch"`
	TaskPassed bool                 `json:"taskPassed"`
	TaskFailed bool                 `json:"taskFailed"`
}

// PartialSetup records what a failed wave setup had already built.
type PartialSetup struct {
	CreatedSandboxes []string `json:"createdSandboxes"`
	StartedWorkers   []string `json:"startedWorkers"`
}

// MergeEntry is the result of one branch merge attempt.
type MergeEntry struct {
	TaskID    string `json:"taskId"`
	Success   bool   `json:"success"`
	Conflict  bool   `json:"conflict"`
	CommitSHA string `json:"commitSha,omitempty"`
	Error     string `json:"error,omitempty"`
}

// MergeOutcome aggregates one integration pass.
type MergeOutcome struct {
	Results        []MergeEntry `json:"results"`
	Merged         int          `json:"merged"`
	Failed         int          `json:"failed"`
	HasConflict    bool         `json:"hasConflict"`
	ConflictTaskID string       `json:"conflictTaskId,omitempty"`
}

func newSummary(runID, waveID string, phase issue.Phase, taskIDs []string, startedAt time.Time) *Summary {
	return &Summary{
		WaveID:    waveID,
		RunID:     runID,
		Phase:     phase,
		TaskIDs:   taskIDs,
		StartedAt: startedAt,
	}
}

func (s *Summary) finish(outcomes []worker.Outcome) {
	s.EndedAt = time.Now()
	s.Workers = outcomes
	s.AllPassed = len(outcomes) > 0
	for _, o := range outcomes {
		if o.Status != worker.OutcomePassed {
			s.AllPassed = false
			s.AnyFailed = true
		}
	}
}

// --- progress entries ---

func progressHeader(title string) string {
	return fmt.Sprintf("=== %s === %s", title, time.Now().UTC().Format(time.RFC3339))
}

// combinedEntry renders the single progress entry for a completed
// implement + spec-check + merge wave.
func combinedEntry(s *Summary) string {
	var b strings.Builder
	fmt.Fprintln(&b, progressHeader("Parallel Wave Summary"))
	fmt.Fprintf(&b, "Run: %s  Wave: %s\n", s.RunID, s.WaveID)
	fmt.Fprintf(&b, "Tasks: %s\n", strings.Join(s.TaskIDs, ", "))

	passed := 0
	for _, id := range s.TaskIDs {
		v, ok := s.TaskVerdicts[id]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "  %s: %s (exit %d, branch %s)\n", id, v.Status, v.ExitCode, v.Branch)
		if v.Status == worker.OutcomePassed {
			passed++
		}
	}
	fmt.Fprintf(&b, "Passed: %d/%d\n", passed, len(s.TaskIDs))

	if s.Merge != nil {
		fmt.Fprintf(&b, "Merged: %d\n", s.Merge.Merged)
		for _, r := range s.Merge.Results {
			switch {
			case r.Conflict:
				fmt.Fprintf(&b, "  %s: CONFLICT\n", r.TaskID)
			case !r.Success:
				fmt.Fprintf(&b, "  %s: merge failed: %s\n", r.TaskID, r.Error)
			}
		}
		if s.Merge.HasConflict {
			fmt.Fprintf(&b, "Merge conflict on %s; run stopped.\n", s.Merge.ConflictTaskID)
		}
	}
	return b.String()
}

func timeoutEntry(s *Summary, timeoutType string) string {
	var b strings.Builder
	fmt.Fprintln(&b, progressHeader("Parallel Wave Timeout"))
	fmt.Fprintf(&b, "Run: %s  Wave: %s  Phase: %s\n", s.RunID, s.WaveID, s.Phase)
	fmt.Fprintf(&b, "Timeout type: %s\n", timeoutType)
	for _, o := range s.Workers {
		fmt.Fprintf(&b, "  %s: %s (exit %d)\n", o.TaskID, o.Status, o.ExitCode)
	}
	fmt.Fprintln(&b, "All wave tasks marked failed.")
	return b.String()
}

func setupFailureEntry(s *Summary) string {
	var b strings.Builder
	fmt.Fprintln(&b, progressHeader("Parallel Wave Setup Failure"))
	fmt.Fprintf(&b, "Run: %s  Wave: %s  Phase: %s\n", s.RunID, s.WaveID, s.Phase)
	fmt.Fprintf(&b, "Error: %s\n", s.Error)
	if s.PartialSetup != nil {
		fmt.Fprintf(&b, "Created sandboxes: %s\n", strings.Join(s.PartialSetup.CreatedSandboxes, ", "))
		fmt.Fprintf(&b, "Started workers: %s\n", strings.Join(s.PartialSetup.StartedWorkers, ", "))
	}
	fmt.Fprintln(&b, "Reservations rolled back; workflow flags untouched.")
	fmt.Fprintln(&b, "Stack:")
	fmt.Fprintln(&b, s.ErrorStack)
	return b.String()
}

func corruptionWarningEntry(recorded, canonical issue.Phase) string {
	var b strings.Builder
	fmt.Fprintln(&b, progressHeader("Parallel State Corruption Warning"))
	fmt.Fprintf(&b, "Active wave phase %q disagrees with canonical phase %q.\n", recorded, canonical)
	fmt.Fprintf(&b, "Overwrote activeWavePhase to %q and resumed.\n", canonical)
	return b.String()
}

func orphanEntry(repaired map[string]string) string {
	ids := make([]string, 0, len(repaired))
	for id := range repaired {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	fmt.Fprintln(&b, progressHeader("Orphan Task Recovery"))
	for _, id := range ids {
		fmt.Fprintf(&b, "  %s marked failed (was in_progress with no active wave); worker state: %s\n", id, repaired[id])
	}
	return b.String()
}
