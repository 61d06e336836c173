package wave

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/randalmurphal/waverunner/internal/events"
	"github.com/randalmurphal/waverunner/internal/git"
	"github.com/randalmurphal/waverunner/internal/issue"
	"github.com/randalmurphal/waverunner/internal/store"
)

// Integrator serially merges passed task branches into the canonical
// branch. It runs in the canonical working directory, which no worker ever
// touches.
type Integrator struct {
	git       *git.Git
	store     *store.Store
	logger    *slog.Logger
	publisher events.Publisher
}

// NewIntegrator creates a merge integrator.
func NewIntegrator(g *git.Git, st *store.Store, logger *slog.Logger, publisher events.Publisher) *Integrator {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = events.NewNopPublisher()
	}
	return &Integrator{git: g, store: st, logger: logger, publisher: publisher}
}

// Merge merges the branches of the given passed tasks in lexicographic task
// id order. The first conflict aborts cleanly, fails that task, writes its
// feedback file and stops the pass; later tasks are not attempted. A
// non-conflict merge failure fails its task and continues. Task status
// changes are applied to tasks in memory; the caller persists them.
func (it *Integrator) Merge(passedIDs []string, branches map[string]string, tasks *issue.TasksFile) (*MergeOutcome, error) {
	ids := append([]string(nil), passedIDs...)
	sort.Strings(ids)

	out := &MergeOutcome{}
	for _, id := range ids {
		branch := branches[id]
		res, err := it.git.MergeNoFF(branch, fmt.Sprintf("Merge task %s", id))

		entry := MergeEntry{TaskID: id}
		switch {
		case err != nil:
			entry.Error = err.Error()
			out.Failed++
			tasks.SetStatus(id, issue.StatusFailed)
			it.logger.Warn("merge failed", "task_id", id, "branch", branch, "error", err)
			if ferr := it.store.WriteFeedback(id, mergeFailureFeedback(id, branch, err)); ferr != nil {
				return nil, ferr
			}
		case res.Conflict:
			entry.Conflict = true
			out.Failed++
			out.HasConflict = true
			out.ConflictTaskID = id
			tasks.SetStatus(id, issue.StatusFailed)
			it.logger.Warn("merge conflict", "task_id", id, "branch", branch, "files", res.ConflictedFiles)
			if ferr := it.store.WriteFeedback(id, conflictFeedback(id, branch, res.ConflictedFiles)); ferr != nil {
				return nil, ferr
			}
		default:
			entry.Success = true
			entry.CommitSHA = res.CommitSHA
			out.Merged++
			it.logger.Info("branch merged", "task_id", id, "branch", branch, "sha", res.CommitSHA)
		}

		out.Results = append(out.Results, entry)
		it.publisher.Publish(events.Event{
			Type:   events.EventMerge,
			TaskID: id,
			Time:   time.Now(),
			Data:   map[string]any{"success": entry.Success, "conflict": entry.Conflict},
		})

		if entry.Conflict {
			break
		}
	}
	return out, nil
}

func conflictFeedback(taskID, branch string, files []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Merge conflict: %s\n\n", taskID)
	fmt.Fprintf(&b, "Branch `%s` could not be merged into the canonical branch; the merge was aborted and the task marked failed.\n\n", branch)
	if len(files) > 0 {
		fmt.Fprintf(&b, "Conflicting files:\n")
		for _, f := range files {
			fmt.Fprintf(&b, "- `%s`\n", f)
		}
		fmt.Fprintln(&b)
	}
	fmt.Fprintf(&b, "To resolve:\n")
	fmt.Fprintf(&b, "1. Merge the canonical branch into `%s` and resolve the conflicts there.\n", branch)
	fmt.Fprintf(&b, "2. Re-run the wave; the task will be retried and re-merged.\n")
	return b.String()
}

func mergeFailureFeedback(taskID, branch string, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Merge failure: %s\n\n", taskID)
	fmt.Fprintf(&b, "Merging branch `%s` failed without a conflict:\n\n", branch)
	fmt.Fprintf(&b, "```\n%v\n```\n\n", err)
	fmt.Fprintf(&b, "The task was marked failed and will be selected for retry.\n")
	return b.String()
}
