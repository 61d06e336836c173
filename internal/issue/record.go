package issue

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/randalmurphal/waverunner/internal/errors"
)

// Record is the canonical issue record (issue.json). The external workflow
// engine owns phase and settings; the wave engine owns status. Fields the
// orchestrator does not model pass through verbatim.
type Record struct {
	Phase    Phase
	Settings json.RawMessage
	Status   Status

	Extra map[string]json.RawMessage
}

// UnmarshalJSON decodes the modeled fields and keeps everything else raw.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["phase"]; ok {
		if err := json.Unmarshal(v, &r.Phase); err != nil {
			return err
		}
		delete(raw, "phase")
	}
	if v, ok := raw["settings"]; ok {
		r.Settings = v
		delete(raw, "settings")
	}
	if v, ok := raw["status"]; ok {
		if err := json.Unmarshal(v, &r.Status); err != nil {
			return err
		}
		delete(raw, "status")
	}
	r.Extra = raw
	return nil
}

// MarshalJSON re-emits the opaque fields alongside the modeled ones.
// Settings are passed through byte-for-byte; the workflow engine owns them.
func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]json.RawMessage, len(r.Extra)+3)
	for k, v := range r.Extra {
		m[k] = v
	}
	var err error
	if m["phase"], err = json.Marshal(r.Phase); err != nil {
		return nil, err
	}
	if len(r.Settings) > 0 {
		m["settings"] = r.Settings
	}
	if m["status"], err = json.Marshal(r.Status); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// IssueNumber returns the issue number carried in the record, or 0 when
// absent. The number participates in task branch names.
func (r *Record) IssueNumber() int {
	v, ok := r.Extra["issueNumber"]
	if !ok {
		return 0
	}
	var n int
	if err := json.Unmarshal(v, &n); err != nil {
		return 0
	}
	return n
}

// Status holds the workflow signal flags consumed by the external workflow
// engine, plus the optional active-wave record.
type Status struct {
	TaskPassed       bool
	TaskFailed       bool
	HasMoreTasks     bool
	AllTasksComplete bool

	// Parallel is the active-wave record; non-nil exactly when a wave is in
	// flight.
	Parallel *ActiveWave

	Extra map[string]json.RawMessage
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key, dst := range map[string]*bool{
		"taskPassed":       &s.TaskPassed,
		"taskFailed":       &s.TaskFailed,
		"hasMoreTasks":     &s.HasMoreTasks,
		"allTasksComplete": &s.AllTasksComplete,
	} {
		if v, ok := raw[key]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				return err
			}
			delete(raw, key)
		}
	}
	if v, ok := raw["parallel"]; ok {
		if string(v) != "null" {
			var wave ActiveWave
			if err := json.Unmarshal(v, &wave); err != nil {
				return err
			}
			if err := wave.Validate(); err != nil {
				return err
			}
			s.Parallel = &wave
		}
		delete(raw, "parallel")
	}
	s.Extra = raw
	return nil
}

func (s Status) MarshalJSON() ([]byte, error) {
	m := make(map[string]json.RawMessage, len(s.Extra)+5)
	for k, v := range s.Extra {
		m[k] = v
	}
	for key, val := range map[string]bool{
		"taskPassed":       s.TaskPassed,
		"taskFailed":       s.TaskFailed,
		"hasMoreTasks":     s.HasMoreTasks,
		"allTasksComplete": s.AllTasksComplete,
	} {
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		m[key] = b
	}
	if s.Parallel != nil {
		b, err := json.Marshal(s.Parallel)
		if err != nil {
			return nil, err
		}
		m["parallel"] = b
	}
	return json.Marshal(m)
}

// SetFlags overwrites the four workflow signal flags at once.
func (s *Status) SetFlags(passed, failed, more, complete bool) {
	s.TaskPassed = passed
	s.TaskFailed = failed
	s.HasMoreTasks = more
	s.AllTasksComplete = complete
}

// ActiveWave is the crash-safety record for one in-flight wave, stored at
// status.parallel in the canonical issue record.
type ActiveWave struct {
	RunID                  string                `json:"runId"`
	ActiveWaveID           string                `json:"activeWaveId"`
	ActiveWavePhase        Phase                 `json:"activeWavePhase"`
	ActiveWaveTaskIDs      []string              `json:"activeWaveTaskIds"`
	ReservedStatusByTaskID map[string]TaskStatus `json:"reservedStatusByTaskId"`
	ReservedAt             time.Time             `json:"reservedAt"`
}

// Contains returns true if the wave includes the given task id.
func (w *ActiveWave) Contains(taskID string) bool {
	for _, id := range w.ActiveWaveTaskIDs {
		if id == taskID {
			return true
		}
	}
	return false
}

// Validate performs structural validation: path-safe identifiers and exact
// agreement between the reserved-status keys and the active task id set.
// A record that fails here is surfaced as corruption, never repaired silently.
func (w *ActiveWave) Validate() error {
	if err := ValidateID("runId", w.RunID); err != nil {
		return err
	}
	if err := ValidateID("activeWaveId", w.ActiveWaveID); err != nil {
		return err
	}
	if !IsValidPhase(w.ActiveWavePhase) {
		return errors.ErrWaveCorrupt(fmt.Sprintf("activeWavePhase %q is not a wave phase", w.ActiveWavePhase))
	}
	if len(w.ActiveWaveTaskIDs) == 0 {
		return errors.ErrWaveCorrupt("activeWaveTaskIds is empty")
	}
	seen := make(map[string]bool, len(w.ActiveWaveTaskIDs))
	for _, id := range w.ActiveWaveTaskIDs {
		if err := ValidateID("taskId", id); err != nil {
			return err
		}
		if seen[id] {
			return errors.ErrWaveCorrupt(fmt.Sprintf("duplicate task id %q in activeWaveTaskIds", id))
		}
		seen[id] = true
	}
	if len(w.ReservedStatusByTaskID) != len(w.ActiveWaveTaskIDs) {
		return errors.ErrWaveCorrupt("reservedStatusByTaskId keys do not match activeWaveTaskIds")
	}
	for id, prev := range w.ReservedStatusByTaskID {
		if !seen[id] {
			return errors.ErrWaveCorrupt(fmt.Sprintf("reservedStatusByTaskId has %q which is not an active task", id))
		}
		if prev != StatusPending && prev != StatusFailed {
			return errors.ErrWaveCorrupt(fmt.Sprintf("reserved status for %q is %q, want pending or failed", id, prev))
		}
	}
	return nil
}

// SortedReservedIDs returns the reserved task ids in lexicographic order,
// for stable iteration over the rollback map.
func (w *ActiveWave) SortedReservedIDs() []string {
	ids := make([]string, 0, len(w.ReservedStatusByTaskID))
	for id := range w.ReservedStatusByTaskID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
