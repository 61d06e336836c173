package git

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner scripts responses per command prefix and records every call.
type fakeRunner struct {
	calls     []string
	responses map[string]fakeResponse
}

type fakeResponse struct {
	out string
	err error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: map[string]fakeResponse{}}
}

func (f *fakeRunner) on(prefix, out string, err error) {
	f.responses[prefix] = fakeResponse{out: out, err: err}
}

func (f *fakeRunner) Run(workDir, name string, args ...string) (string, error) {
	call := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, call)
	for prefix, resp := range f.responses {
		if strings.HasPrefix(call, prefix) {
			return resp.out, resp.err
		}
	}
	return "", nil
}

func cmdErr(output string) error {
	return &CommandError{Command: "git", Output: output, Err: fmt.Errorf("exit status 1")}
}

func TestTaskBranch(t *testing.T) {
	assert.Equal(t, "issue/42-T1-run-abc", TaskBranch(42, "T1", "run-abc"))
}

func TestWorktreePathFlattensBranch(t *testing.T) {
	got := WorktreePath("/repo", "issue/42-T1-run-abc")
	assert.Equal(t, filepath.Join("/repo", ".worktrees", "issue-42-T1-run-abc"), got)
}

func TestMergeNoFFSuccess(t *testing.T) {
	f := newFakeRunner()
	f.on("git rev-parse HEAD", "abc123", nil)
	g := New("/repo", f)

	res, err := g.MergeNoFF("issue/42-T1-run-1", "merge T1")
	require.NoError(t, err)
	assert.Equal(t, "abc123", res.CommitSHA)
	assert.False(t, res.Conflict)
	assert.Contains(t, f.calls[0], "merge --no-ff --no-edit -m merge T1 issue/42-T1-run-1")
}

func TestMergeNoFFConflictAborts(t *testing.T) {
	f := newFakeRunner()
	f.on("git merge --no-ff", "CONFLICT (content)", cmdErr("CONFLICT (content)"))
	f.on("git diff --name-only --diff-filter=U", "main.go\nparser.go", nil)
	g := New("/repo", f)

	res, err := g.MergeNoFF("issue/42-T2-run-1", "merge T2")
	require.NoError(t, err)
	assert.True(t, res.Conflict)
	assert.Equal(t, []string{"main.go", "parser.go"}, res.ConflictedFiles)
	assert.Contains(t, f.calls, "git merge --abort")
}

func TestMergeNoFFNonConflictFailure(t *testing.T) {
	f := newFakeRunner()
	f.on("git merge --no-ff", "fatal: bad object", cmdErr("fatal: bad object"))
	f.on("git diff --name-only --diff-filter=U", "", nil)
	g := New("/repo", f)

	_, err := g.MergeNoFF("issue/42-T3-run-1", "merge T3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad object")
	assert.NotContains(t, f.calls, "git merge --abort")
}

func TestCreateWorktreePrunesStaleRegistrations(t *testing.T) {
	dir := t.TempDir()
	f := newFakeRunner()
	fail := cmdErr("already registered")
	// Fail both initial attempts, succeed after the prune.
	attempts := 0
	f.responses = nil
	runner := runnerFunc(func(workDir, name string, args ...string) (string, error) {
		call := name + " " + strings.Join(args, " ")
		f.calls = append(f.calls, call)
		if strings.HasPrefix(call, "git worktree add") {
			attempts++
			if attempts <= 2 {
				return "already registered", fail
			}
			return "", nil
		}
		return "", nil
	})
	g := New(dir, runner)

	err := g.CreateWorktree("issue/42-T1-run-1", filepath.Join(dir, ".worktrees", "wt"), "main")
	require.NoError(t, err)
	assert.Contains(t, f.calls, "git worktree prune")
}

type runnerFunc func(workDir, name string, args ...string) (string, error)

func (fn runnerFunc) Run(workDir, name string, args ...string) (string, error) {
	return fn(workDir, name, args...)
}

func TestRemoveWorktreeMissingDirPrunesOnly(t *testing.T) {
	f := newFakeRunner()
	g := New("/repo", f)

	require.NoError(t, g.RemoveWorktree("/repo/.worktrees/gone"))
	assert.Equal(t, []string{"git worktree prune"}, f.calls)
}

func TestRemoveWorktreeExistingDir(t *testing.T) {
	dir := t.TempDir()
	wt := filepath.Join(dir, "wt")
	require.NoError(t, os.MkdirAll(wt, 0o755))

	f := newFakeRunner()
	g := New(dir, f)
	require.NoError(t, g.RemoveWorktree(wt))
	assert.Contains(t, f.calls[0], "worktree remove --force")
}
