// Package issue defines the canonical data model for one decomposed issue:
// the tasks file, the issue record with its workflow signal flags, and the
// active-wave record that makes in-flight waves crash-safe.
package issue

import "encoding/json"

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusPassed     TaskStatus = "passed"
	StatusFailed     TaskStatus = "failed"
)

// IsValidTaskStatus returns true if s is a valid task status value.
func IsValidTaskStatus(s TaskStatus) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusPassed, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true for statuses a task never leaves on its own.
func (s TaskStatus) Terminal() bool {
	return s == StatusPassed || s == StatusFailed
}

// Task is the unit of work. Beyond the fields the orchestrator acts on, a
// task carries opaque description fields consumed by the worker; those are
// preserved verbatim across every read/write cycle.
type Task struct {
	ID        string
	Status    TaskStatus
	DependsOn []string

	// Extra holds every JSON field the orchestrator does not model.
	Extra map[string]json.RawMessage
}

// UnmarshalJSON decodes the modeled fields and keeps everything else raw.
func (t *Task) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["id"]; ok {
		if err := json.Unmarshal(v, &t.ID); err != nil {
			return err
		}
		delete(raw, "id")
	}
	if v, ok := raw["status"]; ok {
		if err := json.Unmarshal(v, &t.Status); err != nil {
			return err
		}
		delete(raw, "status")
	}
	if v, ok := raw["dependsOn"]; ok {
		if err := json.Unmarshal(v, &t.DependsOn); err != nil {
			return err
		}
		delete(raw, "dependsOn")
	}
	t.Extra = raw
	return nil
}

// MarshalJSON re-emits the opaque fields alongside the modeled ones.
func (t Task) MarshalJSON() ([]byte, error) {
	m := make(map[string]json.RawMessage, len(t.Extra)+3)
	for k, v := range t.Extra {
		m[k] = v
	}
	var err error
	if m["id"], err = json.Marshal(t.ID); err != nil {
		return nil, err
	}
	if m["status"], err = json.Marshal(t.Status); err != nil {
		return nil, err
	}
	if len(t.DependsOn) > 0 {
		if m["dependsOn"], err = json.Marshal(t.DependsOn); err != nil {
			return nil, err
		}
	}
	return json.Marshal(m)
}

// TasksFile is the ordered sequence of tasks for one issue. File order is
// the tie-break for wave selection.
type TasksFile struct {
	Tasks []Task `json:"tasks"`
}

// Find returns the task with the given id, or nil.
func (f *TasksFile) Find(id string) *Task {
	for i := range f.Tasks {
		if f.Tasks[i].ID == id {
			return &f.Tasks[i]
		}
	}
	return nil
}

// SetStatus updates the status of the task with the given id. Returns false
// if no such task exists.
func (f *TasksFile) SetStatus(id string, status TaskStatus) bool {
	t := f.Find(id)
	if t == nil {
		return false
	}
	t.Status = status
	return true
}

// AllPassed returns true if every task in the file is passed.
func (f *TasksFile) AllPassed() bool {
	for i := range f.Tasks {
		if f.Tasks[i].Status != StatusPassed {
			return false
		}
	}
	return len(f.Tasks) > 0
}

// StatusCounts returns the number of tasks per status.
func (f *TasksFile) StatusCounts() map[TaskStatus]int {
	counts := make(map[TaskStatus]int)
	for i := range f.Tasks {
		counts[f.Tasks[i].Status]++
	}
	return counts
}
