package testutil

import (
	"os"
	"runtime"
	"testing"

	"github.com/vishvananda/netns"
)

// RequireVM skips the test if the HOSTNET_VM_TEST environment variable is not set.
// This ensures that tests requiring real kernel capabilities (links, routes, rules)
// are only run in the proper environment.
func RequireVM(t *testing.T) {
	t.Helper()
	if os.Getenv("HOSTNET_VM_TEST") == "" {
		t.Skip("Skipping test: requires HOSTNET_VM_TEST environment")
	}
}

// WithNetns runs the rest of the test inside a fresh network namespace
// on a locked OS thread. The original namespace is restored on cleanup.
func WithNetns(t *testing.T) {
	t.Helper()
	RequireVM(t)

	runtime.LockOSThread()
	orig, err := netns.Get()
	if err != nil {
		runtime.UnlockOSThread()
		t.Fatalf("failed to get current netns: %v", err)
	}
	ns, err := netns.New()
	if err != nil {
		orig.Close()
		runtime.UnlockOSThread()
		t.Fatalf("failed to create netns: %v", err)
	}

	t.Cleanup(func() {
		if err := netns.Set(orig); err != nil {
			t.Errorf("failed to restore netns: %v", err)
		}
		ns.Close()
		orig.Close()
		runtime.UnlockOSThread()
	})
}
