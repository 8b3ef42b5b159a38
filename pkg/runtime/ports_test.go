package runtime

import "testing"

func TestFreePortReturnsListenablePort(t *testing.T) {
	port, err := freePort()
	if err != nil {
		t.Fatalf("freePort() error = %v", err)
	}
	if port <= 0 || port > 65535 {
		t.Errorf("freePort() = %d, want a valid TCP port", port)
	}
}
