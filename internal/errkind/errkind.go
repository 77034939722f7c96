// Package errkind classifies hostnet failures so callers can map them to
// exit codes and RPC responses without string matching.
package errkind

import (
	"errors"
	"fmt"
	"os"
)

// Kind is the failure class of an error.
type Kind int

const (
	// Internal is an invariant violation or bug.
	Internal Kind = iota
	// Value is a malformed or semantically invalid desired state. Raised
	// before any system change.
	Value
	// Dependency means a required backend or daemon is unavailable.
	Dependency
	// Permission means the caller lacks privilege to checkpoint or apply.
	Permission
	// Conflict means another checkpoint or session is already active.
	Conflict
	// Verification means post-apply state does not match desired state.
	Verification
	// NotImplemented is a recognized but unsupported feature.
	NotImplemented
)

var kindNames = map[Kind]string{
	Internal:       "internal",
	Value:          "value",
	Dependency:     "dependency",
	Permission:     "permission",
	Conflict:       "conflict",
	Verification:   "verification",
	NotImplemented: "not-implemented",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String. Unknown names map to Internal.
func ParseKind(s string) Kind {
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	return Internal
}

// ExitCode maps a kind to the CLI exit status.
func (k Kind) ExitCode() int {
	switch k {
	case Value, NotImplemented:
		return 2
	case Permission:
		return 3
	case Verification:
		return 4
	case Conflict:
		return 5
	case Dependency:
		return 6
	}
	return 1
}

// Error is a classified error. Diff is set for Verification errors and
// holds a unified diff of desired versus current state.
type Error struct {
	Kind Kind
	Msg  string
	Diff string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies err, keeping it in the chain.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Valuef returns a Value error.
func Valuef(format string, args ...any) *Error {
	return &Error{Kind: Value, Msg: fmt.Sprintf(format, args...)}
}

// Dependencyf returns a Dependency error.
func Dependencyf(format string, args ...any) *Error {
	return &Error{Kind: Dependency, Msg: fmt.Sprintf(format, args...)}
}

// Permissionf returns a Permission error.
func Permissionf(format string, args ...any) *Error {
	return &Error{Kind: Permission, Msg: fmt.Sprintf(format, args...)}
}

// Conflictf returns a Conflict error.
func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: Conflict, Msg: fmt.Sprintf(format, args...)}
}

// NotImplementedf returns a NotImplemented error.
func NotImplementedf(format string, args ...any) *Error {
	return &Error{Kind: NotImplemented, Msg: fmt.Sprintf(format, args...)}
}

// Internalf returns an Internal error.
func Internalf(format string, args ...any) *Error {
	return &Error{Kind: Internal, Msg: fmt.Sprintf(format, args...)}
}

// VerificationFailed returns a Verification error carrying diff.
func VerificationFailed(msg, diff string) *Error {
	return &Error{Kind: Verification, Msg: msg, Diff: diff}
}

// FromOS classifies an error returned by the kernel or filesystem.
// EPERM and EACCES become Permission; anything else is returned as is.
func FromOS(err error, msg string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) && errors.Is(err, os.ErrPermission) {
		return Wrap(Permission, err, msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// KindOf returns the kind of the first classified error in err's chain.
// Unclassified errors are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err's chain holds an error of the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// DiffOf returns the verification diff carried in err's chain, if any.
func DiffOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Diff
	}
	return ""
}
