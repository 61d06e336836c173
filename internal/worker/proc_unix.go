//go:build !windows

package worker

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcAttr puts the worker in its own process group so the whole tree
// can be signalled together.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup sends a signal to the worker's process group. Negative PID
// addresses the whole group.
func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	return syscall.Kill(-pid, sig)
}

func terminateGroup(pid int) error { return signalGroup(pid, syscall.SIGTERM) }

func killGroup(pid int) error { return signalGroup(pid, syscall.SIGKILL) }

// normalizeExitCode maps a process state to the contract exit code: the
// numeric code, 128+signal on signalled termination, 0 when nothing was
// observable.
func normalizeExitCode(state *os.ProcessState) int {
	if state == nil {
		return 0
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	if code := state.ExitCode(); code >= 0 {
		return code
	}
	return 0
}
