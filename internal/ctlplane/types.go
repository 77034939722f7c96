// Package ctlplane request/response types.
//
// # RPC Naming Convention
//
// All RPC types follow the pattern:
//   - Request: {MethodName}Args
//   - Response: {MethodName}Reply
//
// Empty is used for methods with no arguments. Every reply carries an
// Error field; RPC methods themselves only fail on transport problems.
package ctlplane

import (
	"strings"

	"grimm.is/hostnet/internal/applier"
	"grimm.is/hostnet/internal/brand"
	"grimm.is/hostnet/internal/errkind"
	"grimm.is/hostnet/internal/plugin"
	"grimm.is/hostnet/internal/state"
)

// GetSocketPath returns the path to the control plane socket.
// This uses brand.GetSocketPath() which supports environment overrides.
func GetSocketPath() string {
	return brand.GetSocketPath()
}

// Empty is used for methods with no arguments.
type Empty struct{}

// RPCError is a classified error on the wire.
type RPCError struct {
	Kind    string
	Message string
	Diff    string
}

func toRPCError(err error) *RPCError {
	if err == nil {
		return nil
	}
	return &RPCError{
		Kind:    errkind.KindOf(err).String(),
		Message: err.Error(),
		Diff:    errkind.DiffOf(err),
	}
}

// Err rebuilds the classified error.
func (e *RPCError) Err() error {
	if e == nil {
		return nil
	}
	kind := errkind.ParseKind(e.Kind)
	msg := strings.TrimPrefix(e.Message, kind.String()+" error: ")
	return &errkind.Error{Kind: kind, Msg: msg, Diff: e.Diff}
}

// PluginStatus describes a loaded backend.
type PluginStatus struct {
	Name         string
	Priority     int
	Supplemental bool
	Capabilities plugin.Capabilities
}

// StatusReply is the daemon status.
type StatusReply struct {
	Version string
	Plugins []PluginStatus
	Error   *RPCError
}

// ApplyArgs carries a desired document as JSON.
type ApplyArgs struct {
	Desired []byte
	Options applier.ApplyOptions
}

// ApplyReply mirrors applier.Result without the change-set.
type ApplyReply struct {
	CheckpointID string
	Changed      bool
	Interfaces   []string
	GlobalDNS    bool
	RolledBack   bool
	Error        *RPCError
}

// ShowArgs selects interfaces by name or glob pattern.
type ShowArgs struct {
	Names []string
}

// ShowReply carries the current state as JSON.
type ShowReply struct {
	Document []byte
	Error    *RPCError
}

// CheckpointArgs names a checkpoint; empty means the active one.
type CheckpointArgs struct {
	ID string
}

// CheckpointReply is the result of a commit or rollback.
type CheckpointReply struct {
	Error *RPCError
}

// GenerateConfigArgs carries a desired document as JSON.
type GenerateConfigArgs struct {
	Desired []byte
}

// GenerateConfigReply maps a target file or tool to its lines.
type GenerateConfigReply struct {
	Configs map[string][]string
	Error   *RPCError
}

// DiffArgs carries a desired document as JSON.
type DiffArgs struct {
	Desired []byte
}

// DiffReply holds a unified diff, empty when nothing would change.
type DiffReply struct {
	Diff  string
	Error *RPCError
}

// HistoryReply lists apply sessions, newest first.
type HistoryReply struct {
	Records []state.ApplyRecord
	Error   *RPCError
}
