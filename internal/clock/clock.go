// Package clock provides a mockable time source for testing.
// In production, it wraps the time package. For tests, use MockClock,
// whose timers only fire when the clock is advanced past their deadline.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the interface for time operations.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending callback.
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer
	// already fired or was stopped.
	Stop() bool
}

// --- Real Clock ---

// RealClock provides the actual system time.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed since t.
func (RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// AfterFunc runs f in its own goroutine after d.
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// --- Mock Clock (for testing) ---

// MockClock is a test clock with controllable time.
type MockClock struct {
	mu      sync.Mutex
	current time.Time
	timers  []*mockTimer
}

type mockTimer struct {
	clock    *MockClock
	deadline time.Time
	f        func()
	done     bool
}

// NewMockClock creates a mock clock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{current: t}
}

// Now returns the mock time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Since returns the duration since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// AfterFunc registers f to run once the mock time reaches now+d.
func (c *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTimer{clock: c, deadline: c.current.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *MockClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// Set sets the mock time and fires any expired timers.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	due := c.collectDue()
	c.mu.Unlock()
	for _, tm := range due {
		tm.f()
	}
}

// Advance advances the mock time by d and fires any expired timers
// synchronously, in deadline order.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	due := c.collectDue()
	c.mu.Unlock()
	for _, tm := range due {
		tm.f()
	}
}

// collectDue must be called with c.mu held.
func (c *MockClock) collectDue() []*mockTimer {
	var due, rest []*mockTimer
	for _, t := range c.timers {
		if t.done {
			continue
		}
		if !t.deadline.After(c.current) {
			t.done = true
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	c.timers = rest
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	return due
}

func (t *mockTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// --- Package-level convenience functions ---

// Now returns the current system time.
func Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed since t.
func Since(t time.Time) time.Duration {
	return time.Since(t)
}
