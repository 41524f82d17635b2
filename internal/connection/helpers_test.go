package connection

import (
	"context"
	"testing"
	"time"

	"github.com/rickgao/iot-relay/internal/relaytest"
)

func newTestRelay(t *testing.T) *relaytest.Relay {
	t.Helper()
	r := relaytest.New(nil)
	if err := r.StartLocal(); err != nil {
		t.Fatalf("StartLocal failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func testManagerConfig(r *relaytest.Relay, from, to int) ManagerConfig {
	return ManagerConfig{
		Server:   r.Host(),
		HTTPPort: r.HTTPPort(),
		TCPPort:  r.TCPPort(),
		Token:    "secret",
		DeviceID: from,
		PeerID:   to,
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
