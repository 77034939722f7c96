// Package applier drives one reconciliation from a desired state
// document to the host: validate, merge, compute the change-set, apply
// it under a checkpoint, verify, then commit or roll back.
//
// Anything that fails before the checkpoint is opened leaves the host
// untouched. Anything that fails after it rolls the checkpoint back
// before the error is returned.
package applier

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"grimm.is/hostnet/internal/clock"
	"grimm.is/hostnet/internal/errkind"
	"grimm.is/hostnet/internal/logging"
	"grimm.is/hostnet/internal/metrics"
	"grimm.is/hostnet/internal/monitor"
	"grimm.is/hostnet/internal/netstate"
	"grimm.is/hostnet/internal/plugin"
	"grimm.is/hostnet/internal/schema"
	"grimm.is/hostnet/internal/state"
)

// ProbeFunc checks that targets are reachable.
type ProbeFunc func(targets []string, timeout time.Duration) error

// Options configure an Applier.
type Options struct {
	// CheckpointTimeout applies when ApplyOptions.Timeout is zero.
	CheckpointTimeout time.Duration
	// VerifyRetries is the number of extra state reads verification may
	// take before reporting a mismatch.
	VerifyRetries  int
	VerifyInterval time.Duration

	ProbeTargets []string
	ProbeTimeout time.Duration
	Probe        ProbeFunc

	// History records apply sessions when set.
	History *state.HistoryBucket
	Clock   clock.Clock
	Logger  *logging.Logger
}

// ApplyOptions select the steps of one apply.
type ApplyOptions struct {
	// Verify re-reads the host after apply and compares it with the
	// desired state.
	Verify bool
	// Commit closes the checkpoint on success. Without it the checkpoint
	// stays open until Commit, Rollback or its timeout.
	Commit bool
	// Timeout of the checkpoint. Zero uses the applier default.
	Timeout time.Duration
	// Persist asks the backend to keep the change across reboots.
	Persist bool
}

// DefaultApplyOptions verifies, commits and persists.
func DefaultApplyOptions() ApplyOptions {
	return ApplyOptions{Verify: true, Commit: true, Persist: true}
}

// Result describes a finished apply.
type Result struct {
	// CheckpointID is set while the checkpoint is still open.
	CheckpointID string              `json:"checkpoint_id,omitempty"`
	ChangeSet    *netstate.ChangeSet `json:"-"`
	Changed      bool                `json:"changed"`
	Interfaces   []string            `json:"interfaces,omitempty"`
	GlobalDNS    bool                `json:"global_dns,omitempty"`
	// RolledBack is set when the change was undone after a failure.
	RolledBack bool `json:"rolled_back,omitempty"`
}

// Applier applies desired state through a plugin set. Applies are
// serialized.
type Applier struct {
	plugins *plugin.Set
	opts    Options
	logger  *logging.Logger
	clock   clock.Clock
	metrics *metrics.Registry

	mu sync.Mutex
}

// New creates an Applier.
func New(plugins *plugin.Set, opts Options) *Applier {
	a := &Applier{
		plugins: plugins,
		opts:    opts,
		logger:  opts.Logger,
		clock:   opts.Clock,
		metrics: metrics.Get(),
	}
	if a.logger == nil {
		a.logger = logging.WithComponent("applier")
	}
	if a.clock == nil {
		a.clock = clock.RealClock{}
	}
	if a.opts.Probe == nil {
		a.opts.Probe = monitor.Probe
	}
	return a
}

// Plugins returns the plugin set.
func (a *Applier) Plugins() *plugin.Set { return a.plugins }

// prepare runs every pass up to the change-set against current.
func (a *Applier) prepare(desired, current *schema.Document, genConfig bool) (*netstate.NetState, error) {
	caps := a.plugins.Capabilities()
	if err := checkCapabilities(desired, caps); err != nil {
		return nil, err
	}

	ns, err := netstate.New(desired, current, netstate.Options{
		GenConfig:        genConfig,
		GlobalDNSCapable: caps.GlobalDNS,
	})
	if err != nil {
		return nil, err
	}
	if err := ns.PreMergeValidate(); err != nil {
		return nil, err
	}
	if err := ns.Merge(); err != nil {
		return nil, err
	}
	ns.Sanitize()
	if err := ns.PostMergeValidate(); err != nil {
		return nil, err
	}
	if err := ns.GenerateMetadata(); err != nil {
		return nil, err
	}
	return ns, nil
}

// checkCapabilities rejects interface types no loaded backend supports.
func checkCapabilities(desired *schema.Document, caps plugin.Capabilities) error {
	if desired == nil {
		return nil
	}
	for _, iface := range desired.Interfaces {
		if iface.Type.IsOVS() && !caps.OVS {
			return errkind.NotImplementedf("interface %s: %s requires a backend with virtual switch support", iface.Name, iface.Type)
		}
	}
	return nil
}

// Apply brings the host to desired. When the change had to be rolled
// back, the error is returned together with a result marked RolledBack.
func (a *Applier) Apply(ctx context.Context, desired *schema.Document, opts ApplyOptions) (*Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := a.clock.Now()
	res, err := a.apply(ctx, desired, opts)

	result := metrics.ResultSuccess
	switch {
	case err != nil && res != nil && res.RolledBack:
		result = metrics.ResultRolledBack
	case err != nil:
		result = metrics.ResultFailed
	case !res.Changed:
		result = metrics.ResultNoop
	case res.CheckpointID != "":
		result = metrics.ResultPending
	}
	a.metrics.RecordApply(result, a.clock.Since(start))
	a.record(result, res, err)
	return res, err
}

func (a *Applier) apply(ctx context.Context, desired *schema.Document, opts ApplyOptions) (*Result, error) {
	current, err := a.plugins.CurrentState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query current state: %w", err)
	}
	ns, err := a.prepare(desired, current, false)
	if err != nil {
		return nil, err
	}

	cs := ns.ChangeSet()
	res := &Result{ChangeSet: cs, Interfaces: cs.Names(), GlobalDNS: ns.GlobalDNS()}
	if cs.Empty() {
		a.logger.Info("desired state already applied, nothing to do")
		return res, nil
	}
	res.Changed = true
	if ns.GlobalDNS() {
		a.metrics.DNSGlobalFallback.Inc()
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = a.opts.CheckpointTimeout
	}
	id, err := a.plugins.CreateCheckpoint(ctx, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint: %w", err)
	}
	a.logger.Info("applying desired state", "checkpoint", id, "interfaces", res.Interfaces)

	if err := a.plugins.ApplyChanges(ctx, cs, opts.Persist); err != nil {
		return a.rollbackAfter(ctx, res, id, fmt.Errorf("failed to apply changes: %w", err))
	}

	if opts.Verify {
		if err := a.verify(ctx, ns); err != nil {
			a.metrics.VerificationFailures.Inc()
			return a.rollbackAfter(ctx, res, id, err)
		}
	}

	if len(a.opts.ProbeTargets) > 0 {
		if err := a.opts.Probe(a.opts.ProbeTargets, a.opts.ProbeTimeout); err != nil {
			a.metrics.VerificationFailures.Inc()
			return a.rollbackAfter(ctx, res, id, errkind.Wrap(errkind.Verification, err, "connectivity check failed"))
		}
	}

	if !opts.Commit {
		res.CheckpointID = id
		a.logger.Info("changes applied, waiting for commit", "checkpoint", id, "timeout", timeout)
		return res, nil
	}
	if err := a.plugins.DestroyCheckpoint(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	a.logger.Info("changes applied and committed", "interfaces", res.Interfaces)
	return res, nil
}

// rollbackAfter undoes an apply that failed with cause. The rollback
// runs even when ctx is already cancelled.
func (a *Applier) rollbackAfter(ctx context.Context, res *Result, id string, cause error) (*Result, error) {
	a.logger.Warn("apply failed, rolling back", "checkpoint", id, "error", cause)
	if err := a.plugins.RollbackCheckpoint(context.WithoutCancel(ctx), id); err != nil {
		a.logger.Error("rollback failed", "checkpoint", id, "error", err)
		return nil, fmt.Errorf("%w (rollback failed: %v)", cause, err)
	}
	res.RolledBack = true
	return res, cause
}

// verify compares the host with the merged desired state, re-reading it
// up to VerifyRetries more times while only verification fails.
func (a *Applier) verify(ctx context.Context, ns *netstate.NetState) error {
	var err error
	for attempt := 0; attempt <= a.opts.VerifyRetries; attempt++ {
		if attempt > 0 {
			a.logger.Debug("verification mismatch, retrying", "attempt", attempt, "error", err)
			if serr := a.sleep(ctx, a.opts.VerifyInterval); serr != nil {
				return serr
			}
		}
		current, qerr := a.plugins.CurrentState(ctx)
		if qerr != nil {
			return fmt.Errorf("failed to query current state: %w", qerr)
		}
		err = ns.Verify(current)
		if err == nil || !errkind.Is(err, errkind.Verification) {
			return err
		}
	}
	return err
}

func (a *Applier) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	done := make(chan struct{})
	t := a.clock.AfterFunc(d, func() { close(done) })
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Commit closes an open checkpoint. An empty id commits whatever
// checkpoint is open.
func (a *Applier) Commit(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.plugins.DestroyCheckpoint(ctx, id)
	if err == nil {
		a.logger.Info("checkpoint committed", "checkpoint", id)
	}
	a.record("commit", &Result{CheckpointID: id}, err)
	return err
}

// Rollback restores the state captured by a checkpoint. An empty id
// rolls back whatever checkpoint is open.
func (a *Applier) Rollback(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.plugins.RollbackCheckpoint(ctx, id)
	if err == nil {
		a.logger.Info("checkpoint rolled back", "checkpoint", id)
	}
	a.record("rollback", &Result{CheckpointID: id}, err)
	return err
}

// Show returns the current state. With names, only matching interfaces
// are reported; names may be shell patterns.
func (a *Applier) Show(ctx context.Context, names ...string) (*schema.Document, error) {
	doc, err := a.plugins.CurrentState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query current state: %w", err)
	}
	if len(names) == 0 {
		return doc, nil
	}
	for _, n := range names {
		if _, err := path.Match(n, ""); err != nil {
			return nil, errkind.Valuef("invalid interface pattern %q", n)
		}
	}
	var kept []schema.InterfaceDoc
	for _, iface := range doc.Interfaces {
		if matchAny(names, iface.Name) {
			kept = append(kept, iface)
		}
	}
	doc.Interfaces = kept
	return doc, nil
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

// GenerateConfig renders desired as backend configuration without
// touching the host. Nothing is read from the host either, so DNS
// placement errors are returned instead of falling back to global DNS.
func (a *Applier) GenerateConfig(desired *schema.Document) (map[string][]string, error) {
	ns, err := a.prepare(desired, &schema.Document{}, true)
	if err != nil {
		return nil, err
	}
	return a.plugins.GenerateConfigurations(ns.ChangeSet())
}

// Diff returns a unified diff from the current state to what applying
// desired would produce, limited to the interfaces desired touches.
// The diff is empty when nothing would change.
func (a *Applier) Diff(ctx context.Context, desired *schema.Document) (string, error) {
	current, err := a.plugins.CurrentState(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to query current state: %w", err)
	}
	ns, err := a.prepare(desired, current, false)
	if err != nil {
		return "", err
	}
	if ns.ChangeSet().Empty() {
		return "", nil
	}

	want := ns.Dump()
	have := &schema.Document{
		Routes:     &schema.RouteSection{Config: current.ConfigRoutes()},
		RouteRules: &schema.RouteRuleSection{Config: current.ConfigRouteRules()},
		DNS:        &schema.DNSSection{Config: current.DNSConfig()},
		Extra:      current.Extra,
	}
	for _, iface := range want.Interfaces {
		if cur := current.Interface(iface.Name); cur != nil {
			have.Interfaces = append(have.Interfaces, cur.Clone())
		}
	}
	return netstate.DiffDocuments(have, want, "current", "desired")
}

// record stores an apply session in the history bucket.
func (a *Applier) record(result string, res *Result, err error) {
	if a.opts.History == nil {
		return
	}
	rec := &state.ApplyRecord{
		ID:     uuid.NewString(),
		Time:   a.clock.Now(),
		Result: result,
	}
	if res != nil {
		rec.CheckpointID = res.CheckpointID
		rec.Interfaces = res.Interfaces
	}
	if err != nil {
		rec.Error = err.Error()
		if result == "commit" || result == "rollback" {
			rec.Result = result + "_" + metrics.ResultFailed
		}
	}
	if herr := a.opts.History.Add(rec); herr != nil {
		a.logger.Warn("failed to record apply history", "error", herr)
	}
}

// History returns recorded sessions, newest first.
func (a *Applier) History() ([]*state.ApplyRecord, error) {
	if a.opts.History == nil {
		return nil, errors.New("apply history is not enabled")
	}
	return a.opts.History.List()
}
