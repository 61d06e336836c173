package git

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Git runs git operations against one repository. The orchestrator uses it
// from the canonical working directory; workers never share this instance.
type Git struct {
	repoPath string
	runner   CommandRunner
}

// New creates a Git for the repository at repoPath.
func New(repoPath string, runner CommandRunner) *Git {
	if runner == nil {
		runner = NewExecRunner()
	}
	return &Git{repoPath: repoPath, runner: runner}
}

// RepoPath returns the repository root.
func (g *Git) RepoPath() string { return g.repoPath }

func (g *Git) run(args ...string) (string, error) {
	return g.runner.Run(g.repoPath, "git", args...)
}

// CurrentBranch returns the branch checked out in the repository.
func (g *Git) CurrentBranch() (string, error) {
	out, err := g.run("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolving current branch: %w", err)
	}
	return out, nil
}

// HeadSHA returns the commit SHA of the given ref, or of HEAD when ref is
// empty.
func (g *Git) HeadSHA(ref string) (string, error) {
	if ref == "" {
		ref = "HEAD"
	}
	out, err := g.run("rev-parse", ref)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", ref, err)
	}
	return out, nil
}

// BranchExists reports whether a local branch exists.
func (g *Git) BranchExists(branch string) bool {
	_, err := g.run("rev-parse", "--verify", "refs/heads/"+branch)
	return err == nil
}

// CreateWorktree adds a worktree at path on a new branch whose tip is
// baseBranch. A stale worktree registration (directory deleted but still
// tracked) is pruned and the add retried.
func (g *Git) CreateWorktree(branch, path, baseBranch string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create worktrees dir: %w", err)
	}
	if _, err := g.run("worktree", "add", "-b", branch, path, baseBranch); err == nil {
		return nil
	}
	// The branch may already exist from an earlier run of the same wave.
	if _, err := g.run("worktree", "add", path, branch); err == nil {
		return nil
	}
	_, _ = g.run("worktree", "prune")
	if _, err := g.run("worktree", "add", "-b", branch, path, baseBranch); err == nil {
		return nil
	}
	_, err := g.run("worktree", "add", path, branch)
	if err != nil {
		return fmt.Errorf("create worktree %s on %s: %w", path, branch, err)
	}
	return nil
}

// RemoveWorktree removes a worktree and prunes the registration. Best
// effort: a missing worktree is not an error.
func (g *Git) RemoveWorktree(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_, _ = g.run("worktree", "prune")
		return nil
	}
	if _, err := g.run("worktree", "remove", "--force", path); err != nil {
		return fmt.Errorf("remove worktree %s: %w", path, err)
	}
	return nil
}

// DeleteBranch force-deletes a local branch.
func (g *Git) DeleteBranch(branch string) error {
	if _, err := g.run("branch", "-D", branch); err != nil {
		return fmt.Errorf("delete branch %s: %w", branch, err)
	}
	return nil
}

// MergeResult is the outcome of one MergeNoFF call.
type MergeResult struct {
	CommitSHA string
	Conflict  bool
	// ConflictedFiles lists unmerged paths when Conflict is true. The merge
	// has already been aborted by the time the result is returned.
	ConflictedFiles []string
}

// MergeNoFF merges branch into the currently checked-out branch with
// --no-ff. On a conflict the merge is aborted and the result reports the
// unmerged paths; the repository is left clean. Non-conflict failures are
// returned as errors.
func (g *Git) MergeNoFF(branch, message string) (MergeResult, error) {
	_, mergeErr := g.run("merge", "--no-ff", "--no-edit", "-m", message, branch)
	if mergeErr == nil {
		sha, err := g.HeadSHA("")
		if err != nil {
			return MergeResult{}, err
		}
		return MergeResult{CommitSHA: sha}, nil
	}

	conflicted, err := g.unmergedPaths()
	if err != nil {
		return MergeResult{}, fmt.Errorf("merge %s failed and conflict check failed: %w", branch, mergeErr)
	}
	if len(conflicted) == 0 {
		return MergeResult{}, fmt.Errorf("merge %s: %w", branch, mergeErr)
	}

	if _, err := g.run("merge", "--abort"); err != nil {
		return MergeResult{}, fmt.Errorf("aborting conflicted merge of %s: %w", branch, err)
	}
	return MergeResult{Conflict: true, ConflictedFiles: conflicted}, nil
}

func (g *Git) unmergedPaths() ([]string, error) {
	out, err := g.run("diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}
