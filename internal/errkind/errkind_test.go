package errkind

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWalksChain(t *testing.T) {
	base := Conflictf("checkpoint %s already active", "abc")
	wrapped := fmt.Errorf("failed to create checkpoint: %w", base)

	assert.Equal(t, Conflict, KindOf(wrapped))
	assert.True(t, Is(wrapped, Conflict))
	assert.False(t, Is(wrapped, Value))
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
	assert.False(t, Is(nil, Internal))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "value error: bad mtu", Valuef("bad %s", "mtu").Error())

	cause := errors.New("EPERM")
	err := Wrap(Permission, cause, "failed to set link up")
	assert.Equal(t, "permission error: failed to set link up: EPERM", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestVerificationDiff(t *testing.T) {
	err := fmt.Errorf("apply: %w", VerificationFailed("interfaces differ", "-a\n+b\n"))
	assert.Equal(t, "-a\n+b\n", DiffOf(err))
	assert.Equal(t, Verification, KindOf(err))
	assert.Empty(t, DiffOf(errors.New("x")))
}

func TestExitCodes(t *testing.T) {
	tests := map[Kind]int{
		Internal:       1,
		Value:          2,
		NotImplemented: 2,
		Permission:     3,
		Verification:   4,
		Conflict:       5,
		Dependency:     6,
	}
	for k, code := range tests {
		assert.Equal(t, code, k.ExitCode(), k.String())
	}
}

func TestParseKindRoundTrip(t *testing.T) {
	for k := range kindNames {
		assert.Equal(t, k, ParseKind(k.String()))
	}
	assert.Equal(t, Internal, ParseKind("bogus"))
}

func TestFromOS(t *testing.T) {
	assert.NoError(t, FromOS(nil, "x"))

	err := FromOS(fmt.Errorf("link eth0: %w", syscall.EPERM), "failed to apply")
	assert.Equal(t, Permission, KindOf(err))
	assert.Equal(t, 3, KindOf(err).ExitCode())
	assert.ErrorIs(t, err, syscall.EPERM)

	err = FromOS(&fs.PathError{Op: "mkdir", Path: "/var/lib/hostnet", Err: syscall.EACCES}, "failed to create state directory")
	assert.Equal(t, Permission, KindOf(err))

	err = FromOS(&fs.PathError{Op: "mkdir", Path: "/var/lib/hostnet", Err: syscall.ENOSPC}, "failed to create state directory")
	assert.Equal(t, Internal, KindOf(err))
	assert.Contains(t, err.Error(), "failed to create state directory")

	err = FromOS(Wrap(Conflict, os.ErrPermission, "busy"), "failed to checkpoint")
	assert.Equal(t, Conflict, KindOf(err), "classified errors keep their kind")
}
