// Package plugin defines the contract between the reconciliation engine
// and the backends that query and change the system.
//
// A backend reports the current state of what it manages and applies
// resolved change-sets. Every backend also implements the checkpoint
// protocol, so an apply can be committed or rolled back as a whole.
package plugin

import (
	"context"
	"time"

	"grimm.is/hostnet/internal/netstate"
	"grimm.is/hostnet/internal/schema"
)

// Capabilities are the optional features of a backend.
type Capabilities struct {
	OVS         bool `json:"ovs"`
	TeamDevices bool `json:"team_devices"`
	GlobalDNS   bool `json:"global_dns"`
}

// Plugin is a backend.
type Plugin interface {
	Name() string
	// Priority orders backends; the highest non-supplemental one applies
	// changes.
	Priority() int
	// Supplemental backends only enrich interfaces another backend
	// reports.
	Supplemental() bool
	Capabilities() Capabilities

	Interfaces(ctx context.Context) ([]schema.InterfaceDoc, error)
	Routes(ctx context.Context) (*schema.RouteSection, error)
	RouteRules(ctx context.Context) (*schema.RouteRuleSection, error)
	DNSConfig(ctx context.Context) (*schema.DNSSection, error)

	// ApplyChanges applies a change-set. persist is false for
	// memory-only applies that must not survive a reboot.
	ApplyChanges(ctx context.Context, cs *netstate.ChangeSet, persist bool) error

	CreateCheckpoint(ctx context.Context, timeout time.Duration) (string, error)
	RollbackCheckpoint(ctx context.Context, id string) error
	// DestroyCheckpoint commits: the checkpoint is discarded and the
	// changes stay.
	DestroyCheckpoint(ctx context.Context, id string) error
}

// ConfigGenerator is implemented by backends that can render a
// change-set offline, keyed by the file or tool it is meant for.
type ConfigGenerator interface {
	GenerateConfigurations(cs *netstate.ChangeSet) (map[string][]string, error)
}
