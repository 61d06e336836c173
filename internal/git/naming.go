package git

import (
	"fmt"
	"path/filepath"
	"strings"
)

// WorktreeDirName is the directory under the repository root that holds
// task worktrees.
const WorktreeDirName = ".worktrees"

// TaskBranch returns the deterministic branch name for one (issue, task,
// run). Inputs are path-safe identifiers, so no collision or escape is
// possible.
func TaskBranch(issueNumber int, taskID, runID string) string {
	return fmt.Sprintf("issue/%d-%s-%s", issueNumber, taskID, runID)
}

// WorktreePath returns where a branch's worktree lives under the
// repository. Branch slashes map to dashes for the directory name.
func WorktreePath(repoPath, branch string) string {
	return filepath.Join(repoPath, WorktreeDirName, strings.ReplaceAll(branch, "/", "-"))
}
