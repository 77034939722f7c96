package ctlplane

import (
	"context"
	"errors"
	"fmt"
	"net/rpc"
	"strings"
	"sync"

	"grimm.is/hostnet/internal/applier"
	"grimm.is/hostnet/internal/errkind"
	"grimm.is/hostnet/internal/schema"
	"grimm.is/hostnet/internal/state"
)

// Client is the RPC client for communicating with the control plane
type Client struct {
	socketPath string
	client     *rpc.Client
	mu         sync.RWMutex
}

// NewClient creates a new control plane client
func NewClient(socketPath string) (*Client, error) {
	client, err := rpc.Dial("unix", socketPath)
	if err != nil {
		return nil, errkind.Wrap(errkind.Dependency, err, fmt.Sprintf("failed to connect to control plane at %s", socketPath))
	}
	return &Client{socketPath: socketPath, client: client}, nil
}

// Close closes the RPC connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// call wraps the RPC call with reconnection logic
func (c *Client) call(ctx context.Context, serviceMethod string, args any, reply any) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		if err := c.reconnect(nil); err != nil {
			return err
		}
		c.mu.RLock()
		client = c.client
		c.mu.RUnlock()
	}

	err := do(ctx, client, serviceMethod, args, reply)
	if err == nil {
		return nil
	}

	if errors.Is(err, rpc.ErrShutdown) || isNetworkError(err) {
		// Pass the failed client so concurrent callers reconnect once
		if recErr := c.reconnect(client); recErr != nil {
			return fmt.Errorf("RPC call failed (%v) and reconnection failed: %w", err, recErr)
		}
		c.mu.RLock()
		client = c.client
		c.mu.RUnlock()
		return do(ctx, client, serviceMethod, args, reply)
	}

	return err
}

// do issues one call. A cancelled context abandons the reply; the
// server still finishes the operation.
func do(ctx context.Context, client *rpc.Client, serviceMethod string, args any, reply any) error {
	call := client.Go(serviceMethod, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-call.Done:
		return call.Error
	}
}

// reconnect attempts to establish a new connection
func (c *Client) reconnect(oldClient *rpc.Client) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Someone else reconnected while we waited
	if c.client != oldClient && c.client != nil {
		return nil
	}
	if c.client != nil {
		c.client.Close()
	}

	client, err := rpc.Dial("unix", c.socketPath)
	if err != nil {
		return errkind.Wrap(errkind.Dependency, err, "failed to reconnect to control plane")
	}

	c.client = client
	return nil
}

func isNetworkError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection is shut down") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "bad file descriptor") ||
		strings.Contains(msg, "unexpected EOF") ||
		strings.Contains(msg, "use of closed network connection")
}

// Status returns the daemon version and its backends.
func (c *Client) Status(ctx context.Context) (*StatusReply, error) {
	var reply StatusReply
	if err := c.call(ctx, "Server.Status", &Empty{}, &reply); err != nil {
		return nil, err
	}
	if err := reply.Error.Err(); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Apply applies a desired document in the daemon.
func (c *Client) Apply(ctx context.Context, desired *schema.Document, opts applier.ApplyOptions) (*applier.Result, error) {
	data, err := desired.JSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode desired state: %w", err)
	}
	var reply ApplyReply
	if err := c.call(ctx, "Server.Apply", &ApplyArgs{Desired: data, Options: opts}, &reply); err != nil {
		return nil, err
	}
	res := &applier.Result{
		CheckpointID: reply.CheckpointID,
		Changed:      reply.Changed,
		Interfaces:   reply.Interfaces,
		GlobalDNS:    reply.GlobalDNS,
		RolledBack:   reply.RolledBack,
	}
	return res, reply.Error.Err()
}

// Show returns the current state, optionally filtered by interface name
// or glob pattern.
func (c *Client) Show(ctx context.Context, names ...string) (*schema.Document, error) {
	var reply ShowReply
	if err := c.call(ctx, "Server.Show", &ShowArgs{Names: names}, &reply); err != nil {
		return nil, err
	}
	if err := reply.Error.Err(); err != nil {
		return nil, err
	}
	doc, err := schema.Parse(reply.Document, schema.FormatJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode current state: %w", err)
	}
	return doc, nil
}

// Commit keeps the changes of a pending checkpoint.
func (c *Client) Commit(ctx context.Context, id string) error {
	var reply CheckpointReply
	if err := c.call(ctx, "Server.Commit", &CheckpointArgs{ID: id}, &reply); err != nil {
		return err
	}
	return reply.Error.Err()
}

// Rollback restores the state captured by a pending checkpoint.
func (c *Client) Rollback(ctx context.Context, id string) error {
	var reply CheckpointReply
	if err := c.call(ctx, "Server.Rollback", &CheckpointArgs{ID: id}, &reply); err != nil {
		return err
	}
	return reply.Error.Err()
}

// GenerateConfig renders a desired document without touching the host.
func (c *Client) GenerateConfig(ctx context.Context, desired *schema.Document) (map[string][]string, error) {
	data, err := desired.JSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode desired state: %w", err)
	}
	var reply GenerateConfigReply
	if err := c.call(ctx, "Server.GenerateConfig", &GenerateConfigArgs{Desired: data}, &reply); err != nil {
		return nil, err
	}
	if err := reply.Error.Err(); err != nil {
		return nil, err
	}
	return reply.Configs, nil
}

// Diff previews what applying desired would change.
func (c *Client) Diff(ctx context.Context, desired *schema.Document) (string, error) {
	data, err := desired.JSON()
	if err != nil {
		return "", fmt.Errorf("failed to encode desired state: %w", err)
	}
	var reply DiffReply
	if err := c.call(ctx, "Server.Diff", &DiffArgs{Desired: data}, &reply); err != nil {
		return "", err
	}
	if err := reply.Error.Err(); err != nil {
		return "", err
	}
	return reply.Diff, nil
}

// History lists recorded apply sessions, newest first.
func (c *Client) History(ctx context.Context) ([]*state.ApplyRecord, error) {
	var reply HistoryReply
	if err := c.call(ctx, "Server.History", &Empty{}, &reply); err != nil {
		return nil, err
	}
	if err := reply.Error.Err(); err != nil {
		return nil, err
	}
	records := make([]*state.ApplyRecord, len(reply.Records))
	for i := range reply.Records {
		records[i] = &reply.Records[i]
	}
	return records, nil
}
