package ctlplane

import (
	"context"

	"grimm.is/hostnet/internal/applier"
	"grimm.is/hostnet/internal/brand"
	"grimm.is/hostnet/internal/schema"
	"grimm.is/hostnet/internal/state"
)

// LocalClient runs operations in the calling process. It is used when no
// daemon is listening; pending checkpoints then only live as long as the
// process, or in the state store when one is configured.
type LocalClient struct {
	applier *applier.Applier
	closer  func() error
}

// NewLocalClient wraps an applier. closer, if set, runs on Close.
func NewLocalClient(a *applier.Applier, closer func() error) *LocalClient {
	return &LocalClient{applier: a, closer: closer}
}

func (c *LocalClient) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

func (c *LocalClient) Status(ctx context.Context) (*StatusReply, error) {
	return statusOf(c.applier), nil
}

func (c *LocalClient) Apply(ctx context.Context, desired *schema.Document, opts applier.ApplyOptions) (*applier.Result, error) {
	return c.applier.Apply(ctx, desired, opts)
}

func (c *LocalClient) Show(ctx context.Context, names ...string) (*schema.Document, error) {
	return c.applier.Show(ctx, names...)
}

func (c *LocalClient) Commit(ctx context.Context, id string) error {
	return c.applier.Commit(ctx, id)
}

func (c *LocalClient) Rollback(ctx context.Context, id string) error {
	return c.applier.Rollback(ctx, id)
}

func (c *LocalClient) GenerateConfig(ctx context.Context, desired *schema.Document) (map[string][]string, error) {
	return c.applier.GenerateConfig(desired)
}

func (c *LocalClient) Diff(ctx context.Context, desired *schema.Document) (string, error) {
	return c.applier.Diff(ctx, desired)
}

func (c *LocalClient) History(ctx context.Context) ([]*state.ApplyRecord, error) {
	return c.applier.History()
}

func statusOf(a *applier.Applier) *StatusReply {
	reply := &StatusReply{Version: brand.Version}
	for _, p := range a.Plugins().Plugins() {
		reply.Plugins = append(reply.Plugins, PluginStatus{
			Name:         p.Name(),
			Priority:     p.Priority(),
			Supplemental: p.Supplemental(),
			Capabilities: p.Capabilities(),
		})
	}
	return reply
}
