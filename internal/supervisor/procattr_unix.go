//go:build unix && !linux

package supervisor

import (
	"os/exec"
	"syscall"
)

// setProcGroup runs the agent in its own process group so children die with
// it. Pdeathsig is Linux-only; on other unixes orphan cleanup relies on
// explicit Stop() calls.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateProcessGroup sends SIGTERM to the whole process group.
func terminateProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// killProcessGroup sends SIGKILL to the whole process group.
func killProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
