// Package checkpoint implements the checkpoint protocol of a backend.
//
// A checkpoint is a snapshot of the state a backend manages, taken
// before changes are applied. While it is open, the changes can be
// committed (the snapshot is discarded) or rolled back (the snapshot is
// restored). An open checkpoint with a timeout rolls back on its own
// when nobody commits it in time. A backend holds at most one open
// checkpoint.
//
// Open checkpoints are journaled in the state store so that a restarted
// daemon can finish the rollback of a checkpoint it lost track of.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"grimm.is/hostnet/internal/clock"
	"grimm.is/hostnet/internal/errkind"
	"grimm.is/hostnet/internal/logging"
	"grimm.is/hostnet/internal/metrics"
	"grimm.is/hostnet/internal/schema"
	"grimm.is/hostnet/internal/state"
)

// RestoreFunc brings the backend back to a snapshot.
type RestoreFunc func(ctx context.Context, snapshot *schema.Document) error

// Checkpoint is an open checkpoint.
type Checkpoint struct {
	ID        string
	Plugin    string
	CreatedAt time.Time
	Timeout   time.Duration
	Snapshot  *schema.Document
}

// Deadline returns when the checkpoint rolls back on its own, or the
// zero time when it never does.
func (c *Checkpoint) Deadline() time.Time {
	if c.Timeout <= 0 {
		return time.Time{}
	}
	return c.CreatedAt.Add(c.Timeout)
}

// Manager tracks the open checkpoint of one backend.
type Manager struct {
	mu       sync.Mutex
	plugin   string
	restore  RestoreFunc
	clock    clock.Clock
	store    *state.CheckpointBucket
	logger   *logging.Logger
	metrics  *metrics.Registry
	onExpire func(id string, err error)

	active *Checkpoint
	timer  clock.Timer
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source driving auto-rollback.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithStore journals open checkpoints in a state bucket.
func WithStore(b *state.CheckpointBucket) Option {
	return func(m *Manager) { m.store = b }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithExpireHook registers a callback run after a checkpoint rolled
// back because its timeout elapsed.
func WithExpireHook(f func(id string, err error)) Option {
	return func(m *Manager) { m.onExpire = f }
}

// NewManager creates a checkpoint manager for the named backend.
func NewManager(plugin string, restore RestoreFunc, opts ...Option) *Manager {
	m := &Manager{
		plugin:  plugin,
		restore: restore,
		clock:   clock.RealClock{},
		metrics: metrics.Get(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.WithComponent("checkpoint")
	}
	m.logger = m.logger.With("plugin", plugin)
	return m
}

// Active returns a copy of the open checkpoint, or nil.
func (m *Manager) Active() *Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	c := *m.active
	return &c
}

// Create opens a checkpoint holding snapshot. A timeout of zero never
// rolls back on its own. It fails with a Conflict error when a
// checkpoint is already open.
func (m *Manager) Create(ctx context.Context, timeout time.Duration, snapshot *schema.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if snapshot == nil {
		return "", errkind.Internalf("checkpoint snapshot is nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return "", errkind.Conflictf("checkpoint %s is already active on %s", m.active.ID, m.plugin)
	}

	cp := &Checkpoint{
		ID:        uuid.New().String(),
		Plugin:    m.plugin,
		CreatedAt: m.clock.Now(),
		Timeout:   timeout,
		Snapshot:  snapshot.Clone(),
	}
	if err := m.persist(cp); err != nil {
		return "", err
	}

	m.active = cp
	m.arm(cp.ID, timeout)
	m.metrics.RecordCheckpoint(m.plugin, metrics.CheckpointCreate)
	m.logger.Audit("checkpoint_create", cp.ID, "timeout", timeout.String())
	return cp.ID, nil
}

// Commit discards the open checkpoint, keeping the applied changes. An
// empty id means the open one.
func (m *Manager) Commit(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, err := m.lookup(id)
	if err != nil {
		return err
	}
	m.close()
	if err := m.forget(); err != nil {
		m.logger.Warn("Failed to remove checkpoint journal", "checkpoint", cp.ID, "error", err)
	}
	m.metrics.RecordCheckpoint(m.plugin, metrics.CheckpointCommit)
	m.logger.Audit("checkpoint_commit", cp.ID)
	return nil
}

// Rollback restores the snapshot of the open checkpoint and closes it.
// An empty id means the open one. The checkpoint is closed even when
// the restore fails.
func (m *Manager) Rollback(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, err := m.lookup(id)
	if err != nil {
		return err
	}
	return m.rollbackLocked(ctx, cp, metrics.CheckpointRollback)
}

func (m *Manager) rollbackLocked(ctx context.Context, cp *Checkpoint, action string) error {
	m.close()
	err := m.restore(ctx, cp.Snapshot)
	if ferr := m.forget(); ferr != nil {
		m.logger.Warn("Failed to remove checkpoint journal", "checkpoint", cp.ID, "error", ferr)
	}
	m.metrics.RecordCheckpoint(m.plugin, action)
	m.logger.Audit("checkpoint_"+action, cp.ID, "success", err == nil)
	if err != nil {
		return fmt.Errorf("failed to roll back checkpoint %s: %w", cp.ID, err)
	}
	return nil
}

// expire is the auto-rollback of checkpoint id.
func (m *Manager) expire(id string) {
	m.mu.Lock()
	if m.active == nil || m.active.ID != id {
		// Committed or rolled back while the timer was firing.
		m.mu.Unlock()
		return
	}
	cp := m.active
	m.logger.Warn("Checkpoint timed out, rolling back", "checkpoint", id)
	err := m.rollbackLocked(context.Background(), cp, metrics.CheckpointExpire)
	hook := m.onExpire
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("Automatic rollback failed", "checkpoint", id, "error", err)
	}
	if hook != nil {
		hook(id, err)
	}
}

// Recover picks up a checkpoint journaled by a previous process. A
// checkpoint past its deadline is rolled back at once; otherwise it is
// reopened with the remaining timeout.
func (m *Manager) Recover(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	rec, err := m.store.Get(m.plugin)
	if errors.Is(err, state.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load checkpoint journal: %w", err)
	}
	snapshot, err := schema.Parse(rec.Snapshot, schema.FormatJSON)
	if err != nil {
		return fmt.Errorf("failed to decode checkpoint %s snapshot: %w", rec.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return errkind.Conflictf("checkpoint %s is already active on %s", m.active.ID, m.plugin)
	}
	cp := &Checkpoint{
		ID:        rec.ID,
		Plugin:    m.plugin,
		CreatedAt: rec.CreatedAt,
		Timeout:   rec.Timeout,
		Snapshot:  snapshot,
	}
	m.active = cp

	deadline := cp.Deadline()
	if deadline.IsZero() {
		m.metrics.RecordCheckpoint(m.plugin, metrics.CheckpointRecover)
		m.logger.Info("Recovered checkpoint without timeout", "checkpoint", cp.ID)
		return nil
	}

	remaining := deadline.Sub(m.clock.Now())
	if remaining <= 0 {
		m.logger.Warn("Recovered checkpoint is past its deadline, rolling back", "checkpoint", cp.ID)
		return m.rollbackLocked(ctx, cp, metrics.CheckpointExpire)
	}
	m.arm(cp.ID, remaining)
	m.metrics.RecordCheckpoint(m.plugin, metrics.CheckpointRecover)
	m.logger.Info("Recovered checkpoint", "checkpoint", cp.ID, "remaining", remaining.String())
	return nil
}

// lookup must be called with m.mu held.
func (m *Manager) lookup(id string) (*Checkpoint, error) {
	if m.active == nil {
		return nil, errkind.Valuef("no active checkpoint on %s", m.plugin)
	}
	if id != "" && id != m.active.ID {
		return nil, errkind.Valuef("checkpoint %s is not active on %s (active: %s)", id, m.plugin, m.active.ID)
	}
	return m.active, nil
}

// arm must be called with m.mu held.
func (m *Manager) arm(id string, d time.Duration) {
	if d <= 0 {
		return
	}
	m.timer = m.clock.AfterFunc(d, func() { m.expire(id) })
}

// close must be called with m.mu held.
func (m *Manager) close() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.active = nil
}

func (m *Manager) persist(cp *Checkpoint) error {
	if m.store == nil {
		return nil
	}
	data, err := cp.Snapshot.JSON()
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint snapshot: %w", err)
	}
	rec := &state.CheckpointRecord{
		ID:        cp.ID,
		Plugin:    cp.Plugin,
		CreatedAt: cp.CreatedAt,
		Timeout:   cp.Timeout,
		Snapshot:  data,
	}
	if err := m.store.Set(rec); err != nil {
		return fmt.Errorf("failed to journal checkpoint: %w", err)
	}
	return nil
}

func (m *Manager) forget() error {
	if m.store == nil {
		return nil
	}
	return m.store.Delete(m.plugin)
}
