package monitor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubPing(t *testing.T, fn func(string, time.Duration) error) {
	t.Helper()
	orig := PingFunc
	PingFunc = fn
	t.Cleanup(func() { PingFunc = orig })
}

func TestProbe(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[string]time.Duration{}
	)
	stubPing(t, func(target string, timeout time.Duration) error {
		mu.Lock()
		seen[target] = timeout
		mu.Unlock()
		if target == "192.0.2.1" {
			return nil
		}
		return errors.New("timeout")
	})

	require.NoError(t, Probe([]string{"192.0.2.1"}, 0))
	assert.Equal(t, DefaultTimeout, seen["192.0.2.1"])

	err := Probe([]string{"192.0.2.1", "198.51.100.1", "203.0.113.1"}, 2*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "198.51.100.1: timeout")
	assert.Contains(t, err.Error(), "203.0.113.1: timeout")
	assert.NotContains(t, err.Error(), "192.0.2.1:")
	assert.Equal(t, 2*time.Second, seen["203.0.113.1"])
}

func TestProbeNoTargets(t *testing.T) {
	stubPing(t, func(string, time.Duration) error {
		t.Fatal("no target to ping")
		return nil
	})
	assert.NoError(t, Probe(nil, time.Second))
}

func TestPingLoopback(t *testing.T) {
	// Unprivileged ICMP sockets may be disabled; only log the result.
	if err := PingFunc("127.0.0.1", 500*time.Millisecond); err != nil {
		t.Logf("loopback ping failed: %v", err)
	}
}
