//go:build !windows

package supervisor

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// killPortListener kills whatever process is listening on the TCP port.
// Uses lsof to find the owner since we have no handle on foreign processes.
func killPortListener(port int) error {
	out, err := exec.Command("lsof", "-ti", fmt.Sprintf("tcp:%d", port)).Output()
	if err != nil {
		return fmt.Errorf("no process found listening on port %d", port)
	}

	var lastErr error
	for _, line := range strings.Fields(strings.TrimSpace(string(out))) {
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
