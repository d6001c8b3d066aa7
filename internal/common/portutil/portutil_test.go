package portutil

import (
	"net"
	"testing"
)

func TestAllocatePort(t *testing.T) {
	port, err := AllocatePort()
	if err != nil {
		t.Fatalf("AllocatePort() failed: %v", err)
	}
	if port <= 0 || port > 65535 {
		t.Errorf("AllocatePort() returned invalid port: %d", port)
	}
}

func TestIsInUse(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer func() { _ = listener.Close() }()

	port := listener.Addr().(*net.TCPAddr).Port
	if !IsInUse("127.0.0.1", port) {
		t.Errorf("expected port %d to be in use", port)
	}

	free, err := AllocatePort()
	if err != nil {
		t.Fatalf("AllocatePort() failed: %v", err)
	}
	if IsInUse("127.0.0.1", free) {
		t.Errorf("expected port %d to be free", free)
	}
}
