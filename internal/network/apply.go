package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"syscall"

	"github.com/vishvananda/netlink"

	"grimm.is/hostnet/internal/errkind"
	"grimm.is/hostnet/internal/metrics"
	"grimm.is/hostnet/internal/netstate"
	"grimm.is/hostnet/internal/scheduler"
	"grimm.is/hostnet/internal/schema"
)

// ApplyChanges turns the change-set into an operation queue and runs
// it. Kernel state never survives a reboot, so persist only affects
// logging.
func (p *Plugin) ApplyChanges(ctx context.Context, cs *netstate.ChangeSet, persist bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, err := p.Interfaces(ctx)
	if err != nil {
		return err
	}
	if err := validateChangeSet(cs, indexDocs(current), true); err != nil {
		return err
	}
	if persist {
		p.logger.Debug("kernel changes do not persist across reboots")
	}

	b := newOpBuilder(p.nl, p.sys, p.resolv.Write, current)
	q := scheduler.NewQueue("netlink-apply", p.logger)
	q.OnComplete = func(st scheduler.OpStatus) {
		metrics.Get().RecordQueueOp(b.kinds[st.Name], st.State, st.Duration)
	}
	if err := b.build(q, cs); err != nil {
		return err
	}
	p.logger.Info("applying change-set", "ops", q.Len(), "interfaces", cs.Names())
	return errkind.FromOS(q.Run(ctx, p.opTimeout), "failed to apply change-set")
}

// GenerateConfigurations renders the change-set as the commands that
// would bring an empty host to it. Keys are "ip", "sysctl", "ethtool"
// and "resolv.conf".
func (p *Plugin) GenerateConfigurations(cs *netstate.ChangeSet) (map[string][]string, error) {
	if err := validateChangeSet(cs, nil, false); err != nil {
		return nil, err
	}

	nl := &DryRunNetlinker{}
	sys := &DryRunSystemController{}
	var resolv []string
	b := newOpBuilder(nl, sys, func(cfg *schema.DNSConfigDoc) error {
		resolv = RenderResolvConf(cfg)
		return nil
	}, nil)
	b.dryRun = true

	q := scheduler.NewQueue("netlink-gen-config", p.logger)
	if err := b.build(q, cs); err != nil {
		return nil, err
	}
	if err := q.Run(context.Background(), 0); err != nil {
		return nil, err
	}

	out := make(map[string][]string)
	if len(nl.Ops) > 0 {
		out["ip"] = nl.Ops
	}
	if len(sys.Writes) > 0 {
		out["sysctl"] = sys.Writes
	}
	if len(b.ethtool) > 0 {
		out["ethtool"] = b.ethtool
	}
	if resolv != nil {
		out["resolv.conf"] = resolv
	}
	return out, nil
}

func indexDocs(docs []schema.InterfaceDoc) map[string]schema.InterfaceDoc {
	m := make(map[string]schema.InterfaceDoc, len(docs))
	for _, d := range docs {
		m[d.Name] = d
	}
	return m
}

// validateChangeSet rejects what this backend cannot do. current is nil
// when rendering offline.
func validateChangeSet(cs *netstate.ChangeSet, current map[string]schema.InterfaceDoc, live bool) error {
	for _, r := range cs.Interfaces {
		doc := r.Doc
		if doc.State == schema.StateAbsent {
			continue
		}
		if doc.Type.IsOVS() {
			return errkind.NotImplementedf("%s: %s interfaces require a virtual switch backend", doc.Name, doc.Type)
		}
		_, exists := current[doc.Name]
		if doc.Type == schema.TypeUnknown && live && !exists {
			return errkind.NotImplementedf("%s: cannot create interfaces of unknown type", doc.Name)
		}
		if doc.IPv4 != nil && isTrue(doc.IPv4.Enabled) && isTrue(doc.IPv4.DHCP) {
			return errkind.NotImplementedf("%s: DHCP requires a DHCP client backend", doc.Name)
		}
		if doc.IPv6 != nil && isTrue(doc.IPv6.Enabled) && (isTrue(doc.IPv6.DHCP) || isTrue(doc.IPv6.Autoconf)) {
			return errkind.NotImplementedf("%s: IPv6 DHCP and autoconf require a DHCP client backend", doc.Name)
		}
		if doc.Bond != nil && doc.Bond.Options != nil {
			for _, k := range doc.Bond.Options.Keys() {
				if !isBondOption(k) {
					return errkind.Valuef("bond %s: unsupported option %s", doc.Name, k)
				}
			}
		}
		if live && doc.Ethernet != nil {
			if err := ethernetUnchanged(doc, current[doc.Name].Ethernet); err != nil {
				return err
			}
		}
	}
	if cs.DNS != nil {
		for _, s := range cs.DNS.Search {
			if !validSearchDomain(s) {
				return errkind.Valuef("invalid DNS search domain %q", s)
			}
		}
	}
	return nil
}

// ethernetUnchanged rejects link setting changes; the kernel backend
// only reports them.
func ethernetUnchanged(doc schema.InterfaceDoc, cur *schema.EthernetDoc) error {
	want := doc.Ethernet
	if cur == nil {
		cur = &schema.EthernetDoc{}
	}
	if want.Speed != nil && (cur.Speed == nil || *cur.Speed != *want.Speed) {
		return errkind.NotImplementedf("%s: changing link speed is not supported", doc.Name)
	}
	if want.Duplex != "" && want.Duplex != cur.Duplex {
		return errkind.NotImplementedf("%s: changing duplex is not supported", doc.Name)
	}
	if want.AutoNegotiation != nil && (cur.AutoNegotiation == nil || *cur.AutoNegotiation != *want.AutoNegotiation) {
		return errkind.NotImplementedf("%s: changing auto-negotiation is not supported", doc.Name)
	}
	return nil
}

func isTrue(b *bool) bool { return b != nil && *b }

// opBuilder turns a change-set into queued operations. Links are looked
// up when an operation runs, so operations may refer to links created
// earlier in the same queue.
type opBuilder struct {
	nl       Netlinker
	sys      SystemController
	writeDNS func(*schema.DNSConfigDoc) error

	current map[string]schema.InterfaceDoc
	// masters maps a current slave to its master.
	masters map[string]string
	dryRun  bool

	q       *scheduler.Queue
	kinds   map[string]string
	ethtool []string
}

func newOpBuilder(nl Netlinker, sys SystemController, writeDNS func(*schema.DNSConfigDoc) error, current []schema.InterfaceDoc) *opBuilder {
	b := &opBuilder{
		nl:       nl,
		sys:      sys,
		writeDNS: writeDNS,
		current:  indexDocs(current),
		masters:  make(map[string]string),
		kinds:    make(map[string]string),
	}
	for _, d := range current {
		if d.Bond != nil {
			for _, s := range d.Bond.Slaves {
				b.masters[s] = d.Name
			}
		}
		if d.Bridge != nil {
			for _, port := range d.Bridge.Ports {
				b.masters[port.Name] = d.Name
			}
		}
	}
	return b
}

func (b *opBuilder) enqueue(kind, target string, fn scheduler.TaskFunc) error {
	name := kind + " " + target
	b.kinds[name] = strings.ReplaceAll(kind, " ", "_")
	return b.q.Enqueue(name, fn)
}

// build queues masters first, then per-interface settings, routes,
// rules and DNS.
func (b *opBuilder) build(q *scheduler.Queue, cs *netstate.ChangeSet) error {
	b.q = q
	for _, r := range cs.Interfaces {
		if !r.IsMaster() || r.Doc.State == schema.StateAbsent {
			continue
		}
		if err := b.createMaster(cs, r); err != nil {
			return err
		}
	}
	for _, r := range cs.Interfaces {
		if err := b.configure(r); err != nil {
			return err
		}
	}
	if err := b.routes(cs); err != nil {
		return err
	}
	if err := b.rules(cs); err != nil {
		return err
	}
	if cs.DNS != nil {
		dns := cs.DNS.Clone()
		if err := b.enqueue("write resolver", "config", func(ctx context.Context) error {
			return b.writeDNS(dns)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (b *opBuilder) link(name string) (netlink.Link, error) {
	link, err := b.nl.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("link %s: %w", name, err)
	}
	return link, nil
}

func isLinkNotFound(err error) bool {
	var nf netlink.LinkNotFoundError
	return errors.As(err, &nf)
}

func newMasterLink(doc schema.InterfaceDoc) netlink.Link {
	attrs := netlink.NewLinkAttrs()
	attrs.Name = doc.Name
	if doc.Type == schema.TypeBond {
		bond := netlink.NewLinkBond(attrs)
		if doc.Bond != nil {
			bond.Mode = netlink.StringToBondMode(doc.Bond.Mode)
		}
		return bond
	}
	return &netlink.Bridge{LinkAttrs: attrs}
}

// createMaster creates a missing bond or bridge. A bond whose mode
// changes is recreated and its slaves enslaved again, since the kernel
// refuses mode changes on a bond with slaves.
func (b *opBuilder) createMaster(cs *netstate.ChangeSet, r netstate.ResolvedIface) error {
	doc := r.Doc
	cur, exists := b.current[doc.Name]
	if exists && cur.Type != doc.Type {
		return errkind.Conflictf("%s exists as %s, cannot change it to %s", doc.Name, cur.Type, doc.Type)
	}

	if exists && doc.Type == schema.TypeBond && modeChanged(doc.Bond, cur.Bond) {
		if err := b.enqueue("delete link", doc.Name, func(ctx context.Context) error {
			link, err := b.link(doc.Name)
			if err != nil {
				return err
			}
			return b.nl.LinkDel(link)
		}); err != nil {
			return err
		}
		delete(b.current, doc.Name)
		for s, m := range b.masters {
			if m == doc.Name {
				delete(b.masters, s)
			}
		}
		exists = false
	}
	if exists {
		return nil
	}

	if err := b.enqueue("create link", doc.Name, func(ctx context.Context) error {
		return b.nl.LinkAdd(newMasterLink(doc))
	}); err != nil {
		return err
	}

	// Slaves outside the change-set keep their master; re-attach them.
	for _, s := range masterSlaves(doc) {
		if cs.Interface(s) != nil {
			continue
		}
		slave, ok := b.current[s]
		if !ok {
			continue
		}
		if err := b.enslave(s, doc.Name, doc.Type == schema.TypeBond, slave.State == schema.StateUp); err != nil {
			return err
		}
	}
	return nil
}

func modeChanged(want, have *schema.BondDoc) bool {
	if want == nil || have == nil || want.Mode == "" || have.Mode == "" {
		return false
	}
	return want.Mode != have.Mode
}

func masterSlaves(doc schema.InterfaceDoc) []string {
	switch {
	case doc.Bond != nil:
		return doc.Bond.Slaves
	case doc.Bridge != nil:
		var out []string
		for _, port := range doc.Bridge.Ports {
			out = append(out, port.Name)
		}
		return out
	}
	return nil
}

// enslave attaches a link to a master. Bond slaves must be down while
// they are attached; up brings the slave back afterwards.
func (b *opBuilder) enslave(slave, master string, bond, up bool) error {
	if err := b.enqueue("attach link", slave, func(ctx context.Context) error {
		s, err := b.link(slave)
		if err != nil {
			return err
		}
		m, err := b.link(master)
		if err != nil {
			return err
		}
		if bond {
			if err := b.nl.LinkSetDown(s); err != nil {
				return err
			}
		}
		if err := b.nl.LinkSetMaster(s, m); err != nil {
			return err
		}
		if bond && up {
			return b.nl.LinkSetUp(s)
		}
		return nil
	}); err != nil {
		return err
	}
	b.masters[slave] = master
	return nil
}

// configure queues the settings of one interface, its state last.
func (b *opBuilder) configure(r netstate.ResolvedIface) error {
	doc := r.Doc
	name := doc.Name
	cur, exists := b.current[name]

	if doc.State == schema.StateAbsent {
		return b.remove(doc, exists)
	}
	if doc.State == schema.StateIgnore {
		return nil
	}

	if doc.MTU != nil && (!exists || cur.MTU == nil || *cur.MTU != *doc.MTU) {
		mtu := *doc.MTU
		if err := b.enqueue("set mtu", name, func(ctx context.Context) error {
			link, err := b.link(name)
			if err != nil {
				return err
			}
			return b.nl.LinkSetMTU(link, mtu)
		}); err != nil {
			return err
		}
	}

	if doc.MACAddress != "" && !strings.EqualFold(cur.MACAddress, doc.MACAddress) {
		mac := doc.MACAddress
		if err := b.enqueue("set mac", name, func(ctx context.Context) error {
			link, err := b.link(name)
			if err != nil {
				return err
			}
			return b.nl.LinkSetHardwareAddr(link, mac)
		}); err != nil {
			return err
		}
	}

	if doc.Type == schema.TypeBond && doc.Bond != nil && doc.Bond.Options != nil {
		if err := b.bondOptions(name, doc.Bond.Options, cur.Bond); err != nil {
			return err
		}
	}

	if doc.Ethernet != nil && b.dryRun {
		b.renderEthtool(name, doc.Ethernet)
	}

	attached := false
	if want, have := r.Master, b.masters[name]; want != have || (b.dryRun && want != "") {
		if want == "" {
			if err := b.enqueue("detach link", name, func(ctx context.Context) error {
				link, err := b.link(name)
				if err != nil {
					return err
				}
				return b.nl.LinkSetNoMaster(link)
			}); err != nil {
				return err
			}
			delete(b.masters, name)
		} else {
			if err := b.enslave(name, want, r.MasterType == schema.TypeBond, false); err != nil {
				return err
			}
			attached = true
		}
	}

	if err := b.ipv6Switch(name, doc.IPv6, cur.IPv6, exists); err != nil {
		return err
	}
	if err := b.addresses(name, familyV4, doc.IPv4, cur.IPv4); err != nil {
		return err
	}
	if err := b.addresses(name, familyV6, doc.IPv6, cur.IPv6); err != nil {
		return err
	}

	if !exists || attached || cur.State != doc.State || b.dryRun {
		up := doc.State == schema.StateUp
		kind := "bring down"
		if up {
			kind = "bring up"
		}
		return b.enqueue(kind, name, func(ctx context.Context) error {
			link, err := b.link(name)
			if err != nil {
				return err
			}
			if up {
				return b.nl.LinkSetUp(link)
			}
			return b.nl.LinkSetDown(link)
		})
	}
	return nil
}

// remove deletes a software interface. Physical NICs cannot be deleted
// and are taken down instead.
func (b *opBuilder) remove(doc schema.InterfaceDoc, exists bool) error {
	name := doc.Name
	if !exists && !b.dryRun {
		return nil
	}
	if doc.Type == schema.TypeEthernet {
		return b.enqueue("bring down", name, func(ctx context.Context) error {
			link, err := b.link(name)
			if err != nil {
				return err
			}
			return b.nl.LinkSetDown(link)
		})
	}
	for s, m := range b.masters {
		if m == name {
			delete(b.masters, s)
		}
	}
	return b.enqueue("delete link", name, func(ctx context.Context) error {
		link, err := b.nl.LinkByName(name)
		if err != nil {
			if isLinkNotFound(err) {
				return nil
			}
			return fmt.Errorf("link %s: %w", name, err)
		}
		return b.nl.LinkDel(link)
	})
}

// bondOptions writes options whose value differs from current.
func (b *opBuilder) bondOptions(name string, want *schema.BondOptions, cur *schema.BondDoc) error {
	for _, k := range want.Keys() {
		v, _ := want.Get(k)
		if cur != nil {
			if have, ok := cur.Options.Get(k); ok && have == v {
				continue
			}
		}
		opt, val := k, v
		if err := b.enqueue("set bond option", name+" "+opt, func(ctx context.Context) error {
			return writeBondOption(b.sys, name, opt, val)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (b *opBuilder) renderEthtool(name string, eth *schema.EthernetDoc) {
	args := []string{"ethtool", "-s", name}
	if eth.Speed != nil {
		args = append(args, "speed", fmt.Sprint(*eth.Speed))
	}
	if eth.Duplex != "" {
		args = append(args, "duplex", eth.Duplex)
	}
	if eth.AutoNegotiation != nil {
		if *eth.AutoNegotiation {
			args = append(args, "autoneg", "on")
		} else {
			args = append(args, "autoneg", "off")
		}
	}
	if len(args) > 3 {
		b.ethtool = append(b.ethtool, strings.Join(args, " "))
	}
}

// ipv6Switch flips disable_ipv6 when the enabled flag changes.
func (b *opBuilder) ipv6Switch(name string, want, have *schema.IPConfigDoc, exists bool) error {
	if want == nil || want.Enabled == nil {
		return nil
	}
	enabled := *want.Enabled
	if exists && have != nil && have.Enabled != nil && *have.Enabled == enabled && !b.dryRun {
		return nil
	}
	kind := "disable ipv6"
	if enabled {
		kind = "enable ipv6"
	}
	return b.enqueue(kind, name, func(ctx context.Context) error {
		return setIPv6Enabled(b.sys, name, enabled)
	})
}

func addrKey(a schema.AddressDoc) string {
	return fmt.Sprintf("%s/%d", a.IP, a.PrefixLength)
}

// addresses queues removal of stale addresses before adding new ones.
// A disabled IPv6 stack drops its addresses by itself.
func (b *opBuilder) addresses(name string, family int, want, have *schema.IPConfigDoc) error {
	var wanted []schema.AddressDoc
	enabled := want != nil && isTrue(want.Enabled)
	if enabled {
		wanted = want.Address
	}
	var current []schema.AddressDoc
	if have != nil {
		current = have.Address
	}
	if family == familyV6 && want != nil && want.Enabled != nil && !enabled {
		return nil
	}

	keep := make(map[string]bool)
	for _, a := range wanted {
		keep[addrKey(a)] = true
	}
	present := make(map[string]bool)
	for _, a := range current {
		key := addrKey(a)
		present[key] = true
		if keep[key] {
			continue
		}
		if err := b.addrOp("remove address", name, key, b.nl.AddrDel); err != nil {
			return err
		}
	}
	for _, a := range wanted {
		key := addrKey(a)
		if present[key] {
			continue
		}
		if err := b.addrOp("add address", name, key, b.nl.AddrAdd); err != nil {
			return err
		}
	}
	return nil
}

func (b *opBuilder) addrOp(kind, name, cidr string, fn func(netlink.Link, *netlink.Addr) error) error {
	return b.enqueue(kind, name+" "+cidr, func(ctx context.Context) error {
		link, err := b.link(name)
		if err != nil {
			return err
		}
		addr, err := netlink.ParseAddr(cidr)
		if err != nil {
			return errkind.Valuef("invalid address %s: %v", cidr, err)
		}
		return fn(link, addr)
	})
}

func tableOf(id *int) int {
	if id == nil || *id == 0 {
		return schema.RouteTableMain
	}
	return *id
}

func routeName(r schema.RouteDoc) string {
	s := r.Destination
	if r.NextHopAddress != "" {
		s += " via " + r.NextHopAddress
	}
	if r.NextHopInterface != "" {
		s += " dev " + r.NextHopInterface
	}
	if t := tableOf(r.TableID); t != schema.RouteTableMain {
		s += fmt.Sprintf(" table %d", t)
	}
	return s
}

// toRoute converts a route. found is false when the next-hop link does
// not exist.
func (b *opBuilder) toRoute(r schema.RouteDoc) (rt *netlink.Route, found bool, err error) {
	_, dst, err := net.ParseCIDR(r.Destination)
	if err != nil {
		return nil, false, errkind.Valuef("invalid route destination %q", r.Destination)
	}
	rt = &netlink.Route{
		Dst:      dst,
		Family:   familyV4,
		Table:    tableOf(r.TableID),
		Protocol: rtprotStatic,
	}
	if dst.IP.To4() == nil {
		rt.Family = familyV6
	}
	if r.Metric != nil {
		rt.Priority = *r.Metric
	}
	if r.NextHopAddress != "" {
		rt.Gw = net.ParseIP(r.NextHopAddress)
		if rt.Gw == nil {
			return nil, false, errkind.Valuef("invalid next-hop address %q", r.NextHopAddress)
		}
	}
	if r.NextHopInterface != "" {
		link, err := b.nl.LinkByName(r.NextHopInterface)
		if err != nil {
			if isLinkNotFound(err) {
				return rt, false, nil
			}
			return nil, false, fmt.Errorf("link %s: %w", r.NextHopInterface, err)
		}
		rt.LinkIndex = link.Attrs().Index
	}
	return rt, true, nil
}

// routes queues removals, then every route of the change-set and every
// route owned by a changed interface. Address changes can make the
// kernel drop routes, so owned routes are always re-added.
func (b *opBuilder) routes(cs *netstate.ChangeSet) error {
	for _, r := range cs.RemovedRoutes {
		r := r
		if err := b.enqueue("remove route", routeName(r), func(ctx context.Context) error {
			rt, found, err := b.toRoute(r)
			if err != nil || !found {
				return err
			}
			if err := b.nl.RouteDel(rt); err != nil && !errors.Is(err, syscall.ESRCH) {
				return err
			}
			return nil
		}); err != nil {
			return err
		}
	}

	var adds []schema.RouteDoc
	seen := make(map[string]bool)
	add := func(routes []schema.RouteDoc) {
		for _, r := range routes {
			key := routeName(r)
			if r.Metric != nil {
				key += fmt.Sprintf(" metric %d", *r.Metric)
			}
			if !seen[key] {
				seen[key] = true
				adds = append(adds, r)
			}
		}
	}
	add(cs.Routes)
	for _, iface := range cs.Interfaces {
		if iface.Doc.State == schema.StateUp {
			add(iface.Routes.V4)
			add(iface.Routes.V6)
		}
	}

	for _, r := range adds {
		r := r
		if err := b.enqueue("add route", routeName(r), func(ctx context.Context) error {
			rt, found, err := b.toRoute(r)
			if err != nil {
				return err
			}
			if !found {
				return errkind.Valuef("route %s: interface %s not found", r.Destination, r.NextHopInterface)
			}
			if err := b.nl.RouteAdd(rt); err != nil && !errors.Is(err, syscall.EEXIST) {
				return err
			}
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func ipNet(p netip.Prefix) *net.IPNet {
	p = p.Masked()
	return &net.IPNet{IP: p.Addr().AsSlice(), Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen())}
}

func toRule(r schema.RouteRuleDoc) (*netlink.Rule, error) {
	rule := netlink.NewRule()
	rule.Family = familyV4
	rule.Table = tableOf(r.RouteTable)
	if r.Priority != nil {
		rule.Priority = *r.Priority
	}
	for _, side := range []struct {
		val string
		dst **net.IPNet
	}{{r.IPFrom, &rule.Src}, {r.IPTo, &rule.Dst}} {
		if side.val == "" {
			continue
		}
		p, err := schema.ParseRulePrefix(side.val)
		if err != nil {
			return nil, errkind.Valuef("invalid rule prefix %q", side.val)
		}
		if p.Addr().Is6() {
			rule.Family = familyV6
		}
		*side.dst = ipNet(p)
	}
	return rule, nil
}

func ruleName(r schema.RouteRuleDoc) string {
	from, to := r.IPFrom, r.IPTo
	if from == "" {
		from = "all"
	}
	s := "from " + from
	if to != "" {
		s += " to " + to
	}
	if r.Priority != nil {
		s += fmt.Sprintf(" priority %d", *r.Priority)
	}
	return s + fmt.Sprintf(" table %d", tableOf(r.RouteTable))
}

func (b *opBuilder) rules(cs *netstate.ChangeSet) error {
	for _, r := range cs.RemovedRouteRules {
		r := r
		if err := b.enqueue("remove rule", ruleName(r), func(ctx context.Context) error {
			rule, err := toRule(r)
			if err != nil {
				return err
			}
			if err := b.nl.RuleDel(rule); err != nil && !errors.Is(err, syscall.ENOENT) {
				return err
			}
			return nil
		}); err != nil {
			return err
		}
	}
	for _, r := range cs.RouteRules {
		r := r
		if err := b.enqueue("add rule", ruleName(r), func(ctx context.Context) error {
			rule, err := toRule(r)
			if err != nil {
				return err
			}
			if err := b.nl.RuleAdd(rule); err != nil && !errors.Is(err, syscall.EEXIST) {
				return err
			}
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}
