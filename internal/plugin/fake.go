package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"grimm.is/hostnet/internal/checkpoint"
	"grimm.is/hostnet/internal/netstate"
	"grimm.is/hostnet/internal/schema"
)

// FakePlugin is an in-memory backend. Applied change-sets are written to
// its document as a kernel would report them back.
type FakePlugin struct {
	mu   sync.Mutex
	name string
	doc  *schema.Document
	caps Capabilities

	priority     int
	supplemental bool

	cp *checkpoint.Manager

	// FailApply, when set, is returned by ApplyChanges after the
	// change-set was partially applied.
	FailApply error
	// AfterApply runs with the document after every ApplyChanges, so
	// tests can simulate drift.
	AfterApply func(doc *schema.Document)

	applied []*netstate.ChangeSet
	persist []bool
}

// FakeOption configures a FakePlugin.
type FakeOption func(*FakePlugin)

// WithCapabilities sets the reported capabilities.
func WithCapabilities(c Capabilities) FakeOption {
	return func(f *FakePlugin) { f.caps = c }
}

// WithPriority sets the priority.
func WithPriority(p int) FakeOption {
	return func(f *FakePlugin) { f.priority = p }
}

// AsSupplemental marks the fake supplemental.
func AsSupplemental() FakeOption {
	return func(f *FakePlugin) { f.supplemental = true }
}

// WithCheckpointOptions configures the checkpoint manager.
func WithCheckpointOptions(opts ...checkpoint.Option) FakeOption {
	return func(f *FakePlugin) {
		f.cp = checkpoint.NewManager(f.name, f.restore, opts...)
	}
}

// NewFakePlugin creates a fake backend holding a copy of doc.
func NewFakePlugin(name string, doc *schema.Document, opts ...FakeOption) *FakePlugin {
	if doc == nil {
		doc = &schema.Document{}
	}
	f := &FakePlugin{
		name: name,
		doc:  doc.Clone(),
		caps: Capabilities{GlobalDNS: true},
	}
	f.cp = checkpoint.NewManager(name, f.restore)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FakePlugin) Name() string               { return f.name }
func (f *FakePlugin) Priority() int              { return f.priority }
func (f *FakePlugin) Supplemental() bool         { return f.supplemental }
func (f *FakePlugin) Capabilities() Capabilities { return f.caps }

// Checkpoints returns the checkpoint manager.
func (f *FakePlugin) Checkpoints() *checkpoint.Manager { return f.cp }

// Document returns a copy of the backend state.
func (f *FakePlugin) Document() *schema.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc.Clone()
}

// SetDocument replaces the backend state.
func (f *FakePlugin) SetDocument(doc *schema.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc = doc.Clone()
}

// Applied returns every change-set passed to ApplyChanges.
func (f *FakePlugin) Applied() []*netstate.ChangeSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*netstate.ChangeSet(nil), f.applied...)
}

// Persisted returns the persist flag of every ApplyChanges call.
func (f *FakePlugin) Persisted() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.persist...)
}

func (f *FakePlugin) Interfaces(ctx context.Context) ([]schema.InterfaceDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.Document().Interfaces, nil
}

func (f *FakePlugin) Routes(ctx context.Context) (*schema.RouteSection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.Document().Routes, nil
}

func (f *FakePlugin) RouteRules(ctx context.Context) (*schema.RouteRuleSection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.Document().RouteRules, nil
}

func (f *FakePlugin) DNSConfig(ctx context.Context) (*schema.DNSSection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.Document().DNS, nil
}

// ApplyChanges writes the change-set into the document: interfaces
// first, then routes, rules and DNS.
func (f *FakePlugin) ApplyChanges(ctx context.Context, cs *netstate.ChangeSet, persist bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.applied = append(f.applied, cs)
	f.persist = append(f.persist, persist)

	for _, r := range cs.Interfaces {
		f.applyIface(r)
		if f.FailApply != nil {
			return fmt.Errorf("failed to apply %s: %w", r.Name(), f.FailApply)
		}
	}
	f.applyRoutes(cs)
	f.applyRules(cs)
	if cs.DNS != nil {
		if f.doc.DNS == nil {
			f.doc.DNS = &schema.DNSSection{}
		}
		f.doc.DNS.Config = cs.DNS.Clone()
		f.doc.DNS.Running = cs.DNS.Clone()
	}

	if f.AfterApply != nil {
		f.AfterApply(f.doc)
	}
	return nil
}

func (f *FakePlugin) applyIface(r netstate.ResolvedIface) {
	doc := r.Doc.Clone()
	idx := -1
	for i := range f.doc.Interfaces {
		if f.doc.Interfaces[i].Name == doc.Name {
			idx = i
			break
		}
	}

	if doc.State == schema.StateAbsent {
		if doc.Type == schema.TypeEthernet {
			// Physical NICs cannot be deleted, only taken down.
			doc.State = schema.StateDown
		} else {
			if idx >= 0 {
				f.doc.Interfaces = append(f.doc.Interfaces[:idx], f.doc.Interfaces[idx+1:]...)
			}
			f.dropRoutesVia(doc.Name)
			return
		}
	}
	if doc.State == schema.StateDown {
		f.dropRoutesVia(doc.Name)
	}
	if idx >= 0 {
		f.doc.Interfaces[idx] = doc
		return
	}
	f.doc.Interfaces = append(f.doc.Interfaces, doc)
	sort.SliceStable(f.doc.Interfaces, func(i, j int) bool {
		return f.doc.Interfaces[i].Name < f.doc.Interfaces[j].Name
	})
}

// dropRoutesVia removes routes of a link that went away, as the kernel
// does.
func (f *FakePlugin) dropRoutesVia(name string) {
	if f.doc.Routes == nil {
		return
	}
	var kept []schema.RouteDoc
	for _, r := range f.doc.Routes.Config {
		if r.NextHopInterface != name {
			kept = append(kept, r)
		}
	}
	f.doc.Routes.Config = kept
	f.doc.Routes.Running = schema.CloneRoutes(kept)
}

func (f *FakePlugin) applyRoutes(cs *netstate.ChangeSet) {
	if len(cs.Routes) == 0 && len(cs.RemovedRoutes) == 0 {
		return
	}
	if f.doc.Routes == nil {
		f.doc.Routes = &schema.RouteSection{}
	}
	var kept []schema.RouteDoc
	for _, r := range f.doc.Routes.Config {
		if !containsRouteDoc(cs.RemovedRoutes, r) {
			kept = append(kept, r)
		}
	}
	for _, r := range cs.Routes {
		if !containsRouteDoc(kept, r) {
			kept = append(kept, r.Clone())
		}
	}
	f.doc.Routes.Config = kept
	f.doc.Routes.Running = schema.CloneRoutes(kept)
}

func (f *FakePlugin) applyRules(cs *netstate.ChangeSet) {
	if len(cs.RouteRules) == 0 && len(cs.RemovedRouteRules) == 0 {
		return
	}
	if f.doc.RouteRules == nil {
		f.doc.RouteRules = &schema.RouteRuleSection{}
	}
	var kept []schema.RouteRuleDoc
	for _, r := range f.doc.RouteRules.Config {
		if !containsRuleDoc(cs.RemovedRouteRules, r) {
			kept = append(kept, r)
		}
	}
	for _, r := range cs.RouteRules {
		if !containsRuleDoc(kept, r) {
			kept = append(kept, r.Clone())
		}
	}
	f.doc.RouteRules.Config = kept
}

func containsRouteDoc(routes []schema.RouteDoc, r schema.RouteDoc) bool {
	for _, o := range routes {
		if o.Destination == r.Destination && o.NextHopInterface == r.NextHopInterface &&
			o.NextHopAddress == r.NextHopAddress && intEqual(o.Metric, r.Metric) && intEqual(o.TableID, r.TableID) {
			return true
		}
	}
	return false
}

func containsRuleDoc(rules []schema.RouteRuleDoc, r schema.RouteRuleDoc) bool {
	for _, o := range rules {
		if o.IPFrom == r.IPFrom && o.IPTo == r.IPTo &&
			intEqual(o.Priority, r.Priority) && intEqual(o.RouteTable, r.RouteTable) {
			return true
		}
	}
	return false
}

func intEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (f *FakePlugin) CreateCheckpoint(ctx context.Context, timeout time.Duration) (string, error) {
	return f.cp.Create(ctx, timeout, f.Document())
}

func (f *FakePlugin) RollbackCheckpoint(ctx context.Context, id string) error {
	return f.cp.Rollback(ctx, id)
}

func (f *FakePlugin) DestroyCheckpoint(_ context.Context, id string) error {
	return f.cp.Commit(id)
}

func (f *FakePlugin) restore(_ context.Context, snapshot *schema.Document) error {
	f.SetDocument(snapshot)
	return nil
}
