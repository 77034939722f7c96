// Package monitor checks that hosts stay reachable after a network change.
package monitor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"grimm.is/hostnet/internal/logging"
)

// DefaultTimeout bounds a single probe when none is configured.
const DefaultTimeout = time.Second

// PingFunc sends one echo request to target and waits up to timeout for
// the reply. Tests replace it.
var PingFunc = func(target string, timeout time.Duration) error {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		return fmt.Errorf("failed to create pinger: %w", err)
	}

	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(false)

	if err := pinger.Run(); err != nil {
		return err
	}
	if pinger.Statistics().PacketsRecv == 0 {
		return fmt.Errorf("packet loss")
	}
	return nil
}

// Probe pings every target concurrently. It fails when any target is
// unreachable; the error lists each one.
func Probe(targets []string, timeout time.Duration) error {
	if len(targets) == 0 {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := logging.WithComponent("monitor")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, target := range targets {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			if err := PingFunc(target, timeout); err != nil {
				logger.Warn("target unreachable", "target", target, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", target, err))
				mu.Unlock()
				return
			}
			logger.Debug("target reachable", "target", target)
		}(target)
	}
	wg.Wait()
	return errors.Join(errs...)
}
