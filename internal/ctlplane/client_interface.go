package ctlplane

import (
	"context"

	"grimm.is/hostnet/internal/applier"
	"grimm.is/hostnet/internal/schema"
	"grimm.is/hostnet/internal/state"
)

// ControlPlaneClient defines the operations the CLI runs, either against
// the daemon or in-process. This interface enables mocking in unit tests.
type ControlPlaneClient interface {
	Close() error

	Status(ctx context.Context) (*StatusReply, error)
	Apply(ctx context.Context, desired *schema.Document, opts applier.ApplyOptions) (*applier.Result, error)
	Show(ctx context.Context, names ...string) (*schema.Document, error)
	Commit(ctx context.Context, id string) error
	Rollback(ctx context.Context, id string) error
	GenerateConfig(ctx context.Context, desired *schema.Document) (map[string][]string, error)
	Diff(ctx context.Context, desired *schema.Document) (string, error)
	History(ctx context.Context) ([]*state.ApplyRecord, error)
}

// Ensure implementations satisfy the interface
var (
	_ ControlPlaneClient = (*Client)(nil)
	_ ControlPlaneClient = (*LocalClient)(nil)
	_ ControlPlaneClient = (*MockControlPlaneClient)(nil)
)
