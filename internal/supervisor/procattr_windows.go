//go:build windows

package supervisor

import (
	"fmt"
	"os/exec"
	"syscall"
)

// setProcGroup runs the agent in its own process group so the tree can be
// killed together.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// terminateProcessGroup asks the process tree to close. Without /F taskkill
// sends WM_CLOSE, the closest Windows equivalent of SIGTERM.
func terminateProcessGroup(pid int) error {
	return exec.Command("taskkill", "/T", "/PID", fmt.Sprintf("%d", pid)).Run()
}

// killProcessGroup force-kills the process tree.
func killProcessGroup(pid int) error {
	return exec.Command("taskkill", "/F", "/T", "/PID", fmt.Sprintf("%d", pid)).Run()
}
