//go:build !windows

package worker

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/waverunner/internal/events"
	"github.com/randalmurphal/waverunner/internal/issue"
)

// fakeRunner writes a shell script acting as the worker binary.
func fakeRunner(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runner.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func spawnSpec(t *testing.T, bin string, phase issue.Phase) (SpawnSpec, string) {
	t.Helper()
	stateDir := t.TempDir()
	return SpawnSpec{
		RunnerBin:    bin,
		Workflow:     "issue",
		Phase:        phase,
		Provider:     "claude",
		WorkflowsDir: "/tmp/workflows",
		PromptsDir:   "/tmp/prompts",
		StateDir:     stateDir,
		WorkDir:      t.TempDir(),
	}, stateDir
}

func TestImplementOutcomeFollowsExitCode(t *testing.T) {
	s := NewSupervisor(nil, nil, nil)

	spec, _ := spawnSpec(t, fakeRunner(t, "exit 0"), issue.PhaseImplement)
	w, err := s.Start("T1", spec)
	require.NoError(t, err)
	out := w.Wait()
	assert.Equal(t, OutcomePassed, out.Status)
	assert.Equal(t, 0, out.ExitCode)

	spec, _ = spawnSpec(t, fakeRunner(t, "exit 3"), issue.PhaseImplement)
	w, err = s.Start("T1", spec)
	require.NoError(t, err)
	out = w.Wait()
	assert.Equal(t, OutcomeFailed, out.Status)
	assert.Equal(t, 3, out.ExitCode)
}

func TestSpecCheckOutcomeFollowsLocalFlags(t *testing.T) {
	s := NewSupervisor(nil, nil, nil)

	spec, stateDir := spawnSpec(t, fakeRunner(t, "exit 0"), issue.PhaseSpecCheck)
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, "issue.json"),
		[]byte(`{"status":{"taskPassed":true,"taskFailed":false}}`), 0o644))

	w, err := s.Start("T1", spec)
	require.NoError(t, err)
	out := w.Wait()
	assert.Equal(t, OutcomePassed, out.Status)
	assert.True(t, out.TaskPassed)

	spec, stateDir = spawnSpec(t, fakeRunner(t, "exit 0"), issue.PhaseSpecCheck)
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, "issue.json"),
		[]byte(`{"status":{"taskPassed":true,"taskFailed":true}}`), 0o644))
	w, err = s.Start("T1", spec)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, w.Wait().Status)
}

func TestSpecCheckMissingFlagsFails(t *testing.T) {
	s := NewSupervisor(nil, nil, nil)
	spec, _ := spawnSpec(t, fakeRunner(t, "exit 0"), issue.PhaseSpecCheck)
	w, err := s.Start("T1", spec)
	require.NoError(t, err)
	out := w.Wait()
	assert.Equal(t, OutcomeFailed, out.Status)
	assert.False(t, out.TaskPassed)
}

func TestOutputLinesPublishAndTouchActivity(t *testing.T) {
	var touches atomic.Int64
	pub := events.NewMemoryPublisher()
	defer pub.Close()
	ch := pub.Subscribe("T1")

	s := NewSupervisor(nil, pub, func() { touches.Add(1) })
	spec, _ := spawnSpec(t, fakeRunner(t, `echo one
echo two 1>&2`), issue.PhaseImplement)
	w, err := s.Start("T1", spec)
	require.NoError(t, err)
	w.Wait()

	assert.GreaterOrEqual(t, touches.Load(), int64(2))

	streams := map[string]string{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-ch:
			require.Equal(t, events.EventWorkerLine, ev.Type)
			streams[ev.Data["stream"].(string)] = ev.Data["line"].(string)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for worker line events")
		}
	}
	assert.Equal(t, "one", streams["stdout"])
	assert.Equal(t, "two", streams["stderr"])
}

func TestKillNormalizesExitCode(t *testing.T) {
	s := NewSupervisor(nil, nil, nil)
	spec, _ := spawnSpec(t, fakeRunner(t, "sleep 30"), issue.PhaseImplement)
	w, err := s.Start("T1", spec)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	w.MarkTimedOut()
	w.Kill()
	out := w.Wait()

	assert.Equal(t, OutcomeTimedOut, out.Status)
	assert.Equal(t, 137, out.ExitCode, "SIGKILL is 128+9")
}

func TestSignalAfterExitIsSkipped(t *testing.T) {
	s := NewSupervisor(nil, nil, nil)
	spec, _ := spawnSpec(t, fakeRunner(t, "exit 0"), issue.PhaseImplement)
	w, err := s.Start("T1", spec)
	require.NoError(t, err)
	w.Wait()

	assert.False(t, w.Alive())
	w.Terminate()
	w.Kill()
}

func TestStartFailsForMissingBinary(t *testing.T) {
	s := NewSupervisor(nil, nil, nil)
	spec, _ := spawnSpec(t, filepath.Join(t.TempDir(), "nope"), issue.PhaseImplement)
	_, err := s.Start("T1", spec)
	require.Error(t, err)
}

func TestSpawnArgsContract(t *testing.T) {
	spec := SpawnSpec{
		RunnerBin:    "/bin/runner",
		Workflow:     "issue",
		Phase:        issue.PhaseSpecCheck,
		Provider:     "claude",
		WorkflowsDir: "/w",
		PromptsDir:   "/p",
		StateDir:     "/s",
		WorkDir:      "/d",
	}
	assert.Equal(t, []string{
		"run-phase",
		"--workflow", "issue",
		"--phase", "task_spec_check",
		"--provider", "claude",
		"--workflows-dir", "/w",
		"--prompts-dir", "/p",
		"--state-dir", "/s",
		"--work-dir", "/d",
	}, spec.args())
}
