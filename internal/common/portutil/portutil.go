// Package portutil provides small TCP port helpers.
package portutil

import (
	"fmt"
	"net"
	"time"
)

// AllocatePort allocates an available port using OS assignment.
// This approach is thread-safe and avoids port conflicts.
func AllocatePort() (int, error) {
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("failed to allocate port: %w", err)
	}
	defer func() {
		_ = listener.Close()
	}()

	addr := listener.Addr().(*net.TCPAddr)
	return addr.Port, nil
}

// IsInUse reports whether something accepts TCP connections on host:port.
func IsInUse(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)), 500*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
