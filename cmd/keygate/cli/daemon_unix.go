//go:build !windows

package cli

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr detaches the child into its own session so it survives the
// parent's terminal going away.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// isProcessRunning probes the PID with the null signal, which performs the
// permission and existence checks without delivering anything.
func isProcessRunning(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// stopProcess asks the server to shut down gracefully.
func stopProcess(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}
