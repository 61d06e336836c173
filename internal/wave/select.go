// Package wave implements the parallel wave engine: deterministic task
// selection, crash-safe reservation, worker lifecycle for the implement and
// spec-check phases, timeout monitoring, serial branch integration, and
// recovery of interrupted waves.
package wave

import "github.com/randalmurphal/waverunner/internal/issue"

// SelectTasks returns up to max task ids ready for the next wave. A task is
// eligible when its status is pending or failed and every dependency is
// passed. Failed tasks sort before pending ones; within each group, tasks
// keep their file order. The function is pure: identical inputs always
// produce identical output.
func SelectTasks(f *issue.TasksFile, max int) []string {
	if max < 1 {
		max = 1
	}

	statusByID := make(map[string]issue.TaskStatus, len(f.Tasks))
	for i := range f.Tasks {
		statusByID[f.Tasks[i].ID] = f.Tasks[i].Status
	}

	var failed, pending []string
	for i := range f.Tasks {
		t := &f.Tasks[i]
		if t.Status != issue.StatusPending && t.Status != issue.StatusFailed {
			continue
		}
		if !depsPassed(t, statusByID) {
			continue
		}
		if t.Status == issue.StatusFailed {
			failed = append(failed, t.ID)
		} else {
			pending = append(pending, t.ID)
		}
	}

	selected := append(failed, pending...)
	if len(selected) > max {
		selected = selected[:max]
	}
	return selected
}

func depsPassed(t *issue.Task, statusByID map[string]issue.TaskStatus) bool {
	for _, dep := range t.DependsOn {
		if statusByID[dep] != issue.StatusPassed {
			return false
		}
	}
	return true
}
