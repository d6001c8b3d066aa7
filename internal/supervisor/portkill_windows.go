//go:build windows

package supervisor

import (
	"fmt"
	"os/exec"
	"strings"
)

// killPortListener kills whatever process is listening on the TCP port.
func killPortListener(port int) error {
	out, err := exec.Command("netstat", "-ano", "-p", "tcp").Output()
	if err != nil {
		return fmt.Errorf("netstat failed: %w", err)
	}

	needle := fmt.Sprintf(":%d", port)
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || !strings.HasSuffix(fields[1], needle) || fields[3] != "LISTENING" {
			continue
		}
		return exec.Command("taskkill", "/F", "/T", "/PID", fields[4]).Run()
	}
	return fmt.Errorf("no process found listening on port %d", port)
}
