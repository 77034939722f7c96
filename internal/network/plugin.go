package network

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"grimm.is/hostnet/internal/checkpoint"
	"grimm.is/hostnet/internal/errkind"
	"grimm.is/hostnet/internal/logging"
	"grimm.is/hostnet/internal/plugin"
	"grimm.is/hostnet/internal/schema"
)

// PluginName is the name the kernel backend registers under.
const PluginName = "netlink"

// DefaultPriority is the backend priority unless configured.
const DefaultPriority = 50

// Plugin is the kernel backend. Links, addresses, routes and rules go
// through netlink; link flags the kernel only exposes in sysfs go
// through the SystemController; DNS is written to resolv.conf.
type Plugin struct {
	nl     Netlinker
	sys    SystemController
	info   LinkInfoReader
	resolv *ResolvConf
	logger *logging.Logger

	priority  int
	opTimeout time.Duration

	cpOpts []checkpoint.Option
	cp     *checkpoint.Manager

	// mu serializes applies, including the ones a rollback issues.
	mu sync.Mutex
}

var (
	_ plugin.Plugin          = (*Plugin)(nil)
	_ plugin.ConfigGenerator = (*Plugin)(nil)
)

// Option configures a Plugin.
type Option func(*Plugin)

// WithNetlinker replaces the netlink implementation.
func WithNetlinker(nl Netlinker) Option {
	return func(p *Plugin) { p.nl = nl }
}

// WithSystemController replaces sysctl and sysfs access.
func WithSystemController(sys SystemController) Option {
	return func(p *Plugin) { p.sys = sys }
}

// WithLinkInfoReader enables ethernet link settings in reports.
func WithLinkInfoReader(r LinkInfoReader) Option {
	return func(p *Plugin) { p.info = r }
}

// WithResolvConf sets the resolver file path.
func WithResolvConf(path string) Option {
	return func(p *Plugin) { p.resolv = NewResolvConf(path) }
}

// WithPriority sets the backend priority.
func WithPriority(prio int) Option {
	return func(p *Plugin) { p.priority = prio }
}

// WithOpTimeout bounds a single apply. Zero means unbounded.
func WithOpTimeout(d time.Duration) Option {
	return func(p *Plugin) { p.opTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Plugin) { p.logger = l }
}

// WithCheckpointOptions configures the checkpoint manager.
func WithCheckpointOptions(opts ...checkpoint.Option) Option {
	return func(p *Plugin) { p.cpOpts = append(p.cpOpts, opts...) }
}

// NewPlugin creates the kernel backend.
func NewPlugin(opts ...Option) *Plugin {
	p := &Plugin{
		nl:       DefaultNetlinker,
		sys:      DefaultSystemController,
		resolv:   NewResolvConf(DefaultResolvConfPath),
		logger:   logging.WithComponent("netlink"),
		priority: DefaultPriority,
	}
	for _, opt := range opts {
		opt(p)
	}
	cpOpts := append([]checkpoint.Option{checkpoint.WithLogger(p.logger)}, p.cpOpts...)
	p.cp = checkpoint.NewManager(PluginName, p.restore, cpOpts...)
	return p
}

func (p *Plugin) Name() string       { return PluginName }
func (p *Plugin) Priority() int      { return p.priority }
func (p *Plugin) Supplemental() bool { return false }

// Capabilities of the kernel backend: resolv.conf is global, and there
// is no virtual switch or team driver support.
func (p *Plugin) Capabilities() plugin.Capabilities {
	return plugin.Capabilities{GlobalDNS: true}
}

// Checkpoints returns the checkpoint manager.
func (p *Plugin) Checkpoints() *checkpoint.Manager { return p.cp }

// Interfaces reports every link except loopback, sorted by name.
func (p *Plugin) Interfaces(ctx context.Context) ([]schema.InterfaceDoc, error) {
	links, err := p.nl.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	t := newLinkTable(links)
	docs := make([]schema.InterfaceDoc, 0, len(t.links))
	for _, l := range t.links {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := p.interfaceDoc(l, t)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", l.Attrs().Name, err)
		}
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

// Routes reports unicast routes of every table but local. Static and
// boot protocol routes form the config section.
func (p *Plugin) Routes(ctx context.Context) (*schema.RouteSection, error) {
	links, err := p.nl.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	t := newLinkTable(links)
	sec := &schema.RouteSection{}
	for _, fam := range []int{familyV4, familyV6} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		routes, err := p.nl.RouteListAll(fam)
		if err != nil {
			return nil, fmt.Errorf("failed to list routes: %w", err)
		}
		for _, r := range routes {
			doc, ok := routeDoc(r, t)
			if !ok {
				continue
			}
			sec.Running = append(sec.Running, doc)
			if isConfigRoute(r) {
				sec.Config = append(sec.Config, doc.Clone())
			}
		}
	}
	return sec, nil
}

// RouteRules reports policy rules, leaving out the kernel defaults.
func (p *Plugin) RouteRules(ctx context.Context) (*schema.RouteRuleSection, error) {
	sec := &schema.RouteRuleSection{}
	for _, fam := range []int{familyV4, familyV6} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rules, err := p.nl.RuleList(fam)
		if err != nil {
			return nil, fmt.Errorf("failed to list rules: %w", err)
		}
		for _, r := range rules {
			if doc, ok := ruleDoc(r); ok {
				sec.Config = append(sec.Config, doc)
			}
		}
	}
	return sec, nil
}

// DNSConfig reports resolv.conf as both running and configured state.
func (p *Plugin) DNSConfig(ctx context.Context) (*schema.DNSSection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg, err := p.resolv.Read()
	if err != nil {
		return nil, err
	}
	return &schema.DNSSection{Running: cfg, Config: cfg.Clone()}, nil
}

// CreateCheckpoint snapshots the current state.
func (p *Plugin) CreateCheckpoint(ctx context.Context, timeout time.Duration) (string, error) {
	snap, err := plugin.Snapshot(ctx, p)
	if err != nil {
		return "", errkind.FromOS(err, "failed to snapshot state")
	}
	id, err := p.cp.Create(ctx, timeout, snap)
	if err != nil {
		return "", errkind.FromOS(err, "failed to create checkpoint")
	}
	return id, nil
}

// RollbackCheckpoint restores the snapshot of checkpoint id.
func (p *Plugin) RollbackCheckpoint(ctx context.Context, id string) error {
	return p.cp.Rollback(ctx, id)
}

// DestroyCheckpoint commits checkpoint id.
func (p *Plugin) DestroyCheckpoint(ctx context.Context, id string) error {
	return p.cp.Commit(id)
}

func (p *Plugin) restore(ctx context.Context, snapshot *schema.Document) error {
	return plugin.Restore(ctx, p, snapshot)
}
