//go:build windows

package worker

import (
	"os"
	"os/exec"
)

// setProcAttr is a no-op on Windows; there are no POSIX process groups.
func setProcAttr(cmd *exec.Cmd) {}

func terminateGroup(pid int) error { return nil }

func killGroup(pid int) error { return nil }

func normalizeExitCode(state *os.ProcessState) int {
	if state == nil {
		return 0
	}
	if code := state.ExitCode(); code >= 0 {
		return code
	}
	return 0
}
