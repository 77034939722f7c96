package netstate

import (
	"net/netip"

	"grimm.is/hostnet/internal/errkind"
	"grimm.is/hostnet/internal/schema"
)

// DNS placement priorities. Static placements outrank servers learned
// through DHCP or autoconf.
const (
	DNSPriorityIPv4First  = 40
	DNSPriorityIPv6Second = 41
	DNSPriorityStatic     = 42
)

// FamilyRoutes are the routes owned by one interface, split by family.
type FamilyRoutes struct {
	V4 []schema.RouteDoc
	V6 []schema.RouteDoc
}

// FamilyRules are the route rules stored on one interface.
type FamilyRules struct {
	V4 []schema.RouteRuleDoc
	V6 []schema.RouteRuleDoc
}

// DNSPlacement is the resolver configuration carried by one interface
// for one family.
type DNSPlacement struct {
	Family   Family
	Servers  []string
	Search   []string
	Priority int
}

// Metadata is derived on every reconciliation pass and never part of a
// dump.
type Metadata struct {
	// Links maps a slave name to its desired master. A present zero
	// Link records an explicit detach.
	Links   map[string]Link
	Changed map[string]bool
	Routes  map[string]*FamilyRoutes
	Rules   map[string]*FamilyRules
	DNS     map[string][]DNSPlacement
}

// NewMetadata returns empty metadata.
func NewMetadata() *Metadata {
	m := &Metadata{}
	m.Strip()
	return m
}

// Strip discards all derived data.
func (m *Metadata) Strip() {
	m.Links = make(map[string]Link)
	m.Changed = make(map[string]bool)
	m.Routes = make(map[string]*FamilyRoutes)
	m.Rules = make(map[string]*FamilyRules)
	m.DNS = make(map[string][]DNSPlacement)
}

// MarkChanged forces an interface into the change-set.
func (m *Metadata) MarkChanged(name string) {
	m.Changed[name] = true
}

// masterTypes are the types link-master metadata is generated for, in
// generation order.
var masterTypes = []schema.InterfaceType{
	schema.TypeBond,
	schema.TypeOVSBridge,
	schema.TypeLinuxBridge,
}

// generateIfacesMetadata runs link-master generation for every master
// type and marks slaves whose master differs from current.
func generateIfacesMetadata(meta *Metadata, desired, current *Ifaces) {
	meta.Links = make(map[string]Link)
	for _, t := range masterTypes {
		GenerateLinkMasterMetadata(meta, desired, current, t)
	}
	for _, name := range desired.Names() {
		if desired.Get(name).Base().State == schema.StateIgnore {
			continue
		}
		want := meta.Links[name]
		have, _ := current.MasterOf(name)
		if want != have {
			meta.MarkChanged(name)
		}
	}
}

// GenerateLinkMasterMetadata stamps slaves of masters of one type with
// their desired master:
//
//	(a) every caller-specified up master stamps its slaves;
//	(b) slaves a master dropped relative to current are detached unless
//	    another master claimed them;
//	(c) masters only present in current keep their slaves, provided the
//	    caller gave neither the master's slave list nor the slave a
//	    master of its own.
//
// Merging already copied current-only slaves into desired, so every
// slave named here has a record to attach to.
func GenerateLinkMasterMetadata(meta *Metadata, desired, current *Ifaces, masterType schema.InterfaceType) {
	for _, name := range desired.Names() {
		master := desired.Get(name)
		if master.Type() != masterType || !master.IsMaster() || !desired.IsSpecified(name) {
			continue
		}
		if master.Base().State != schema.StateUp {
			continue
		}
		for _, s := range master.SlaveNames() {
			if desired.Get(s) == nil {
				continue
			}
			meta.Links[s] = Link{Master: name, MasterType: masterType}
			if !desired.IsSpecified(s) {
				log.Debug("attaching unlisted slave", "iface", s, "master", name)
			}
		}

		cur := current.Get(name)
		if master.SlaveNames() == nil || cur == nil || cur.Type() != masterType {
			continue
		}
		keep := make(map[string]bool)
		for _, s := range master.SlaveNames() {
			keep[s] = true
		}
		for _, s := range cur.SlaveNames() {
			if keep[s] || desired.Get(s) == nil {
				continue
			}
			if _, claimed := meta.Links[s]; claimed {
				continue
			}
			meta.Links[s] = Link{}
			meta.MarkChanged(s)
		}
	}

	for _, name := range current.Names() {
		cm := current.Get(name)
		if cm.Type() != masterType || !cm.IsMaster() {
			continue
		}
		dm := desired.Get(name)
		if dm == nil || dm.Base().State.IsDownOrAbsent() || desired.SlavesSpecified(name) {
			continue
		}
		for _, s := range cm.SlaveNames() {
			if desired.Get(s) == nil {
				continue
			}
			if _, has := meta.Links[s]; has {
				continue
			}
			meta.Links[s] = Link{Master: name, MasterType: masterType}
		}
	}
}

// GenerateDNSMetadata places the merged resolver configuration on
// interfaces. It does nothing unless the configuration changes.
//
// Candidates per family are, in order: the interface of the first static
// default route of that family, then the first interface (by name) with
// dynamic addressing and auto-dns disabled. At most two servers are
// supported. Servers ordered IPv4 then IPv6 get priorities 40 and 41;
// every other layout uses 42.
func GenerateDNSMetadata(meta *Metadata, desired *Ifaces, routes []schema.RouteDoc, dns *DNSState) error {
	if !dns.Changed() {
		return nil
	}
	cfg := dns.Config()
	if len(cfg.Server) == 0 && len(cfg.Search) == 0 {
		return nil
	}
	if len(cfg.Server) > 2 {
		return errkind.NotImplementedf("at most 2 DNS name servers can be stored per interface, got %d", len(cfg.Server))
	}

	v4Iface := findDNSIface(IPv4, desired, routes)
	v6Iface := findDNSIface(IPv6, desired, routes)

	families := make([]Family, len(cfg.Server))
	for i, s := range cfg.Server {
		fam, err := FamilyOf(s)
		if err != nil {
			return errkind.Valuef("invalid DNS name server %q", s)
		}
		families[i] = fam
	}

	priority := func(fam Family) int {
		if len(families) == 2 && families[0] == IPv4 && families[1] == IPv6 {
			if fam == IPv4 {
				return DNSPriorityIPv4First
			}
			return DNSPriorityIPv6Second
		}
		return DNSPriorityStatic
	}

	placed := make(map[string]map[Family]int)
	searchSaved := false
	for i, server := range cfg.Server {
		fam := families[i]
		iface := v4Iface
		if fam == IPv6 {
			iface = v6Iface
		}
		if iface == "" {
			return errkind.Valuef("failed to find a suitable interface for DNS name server %s", server)
		}

		if placed[iface] == nil {
			placed[iface] = make(map[Family]int)
		}
		idx, ok := placed[iface][fam]
		if !ok {
			p := DNSPlacement{Family: fam, Priority: priority(fam), Search: []string{}}
			if !searchSaved {
				p.Search = append(p.Search, cfg.Search...)
				searchSaved = true
			}
			meta.DNS[iface] = append(meta.DNS[iface], p)
			idx = len(meta.DNS[iface]) - 1
			placed[iface][fam] = idx
		}
		meta.DNS[iface][idx].Servers = append(meta.DNS[iface][idx].Servers, server)
		meta.MarkChanged(iface)
	}

	if !searchSaved && len(cfg.Search) > 0 {
		iface, fam := v4Iface, IPv4
		if iface == "" {
			iface, fam = v6Iface, IPv6
		}
		if iface == "" {
			return errkind.Valuef("failed to find a suitable interface for DNS search domains %v", cfg.Search)
		}
		meta.DNS[iface] = append(meta.DNS[iface], DNSPlacement{
			Family:   fam,
			Servers:  []string{},
			Search:   append([]string{}, cfg.Search...),
			Priority: DNSPriorityStatic,
		})
		meta.MarkChanged(iface)
	}
	return nil
}

func findDNSIface(fam Family, desired *Ifaces, routes []schema.RouteDoc) string {
	if name := defaultGatewayIface(fam, desired, routes); name != "" {
		return name
	}
	for _, name := range desired.Names() {
		iface := desired.Get(name)
		if iface.Base().State != schema.StateUp {
			continue
		}
		ip := iface.Base().IP(fam)
		if ip.IsDynamic() && ip.AutoDNS != nil && !*ip.AutoDNS {
			return name
		}
	}
	return ""
}

func defaultGatewayIface(fam Family, desired *Ifaces, routes []schema.RouteDoc) string {
	for _, r := range routes {
		if r.State == schema.RouteStateAbsent || r.Destination == "" {
			continue
		}
		p, err := netip.ParsePrefix(r.Destination)
		if err != nil || p.Bits() != 0 {
			continue
		}
		if (fam == IPv4) != p.Addr().Is4() {
			continue
		}
		iface := desired.Get(r.NextHopInterface)
		if iface == nil || iface.Base().State != schema.StateUp || !iface.Base().IP(fam).IsEnabled() {
			continue
		}
		return r.NextHopInterface
	}
	return ""
}

// CheckRoutes rejects caller routes whose next-hop-interface cannot
// carry them.
func CheckRoutes(desired *Ifaces, routes *RouteState) error {
	for _, r := range routes.Desired() {
		if r.State == schema.RouteStateAbsent {
			continue
		}
		iface := desired.Get(r.NextHopInterface)
		if iface == nil {
			return errkind.Valuef("route %s: next-hop-interface %s does not exist", routeString(r), r.NextHopInterface)
		}
		st := iface.Base().State
		if st.IsDownOrAbsent() {
			return errkind.Valuef("route %s: cannot use interface %s which is %s", routeString(r), r.NextHopInterface, st)
		}
		fam, _ := FamilyOf(r.Destination)
		if !iface.Base().IP(fam).IsEnabled() {
			return errkind.Valuef("route %s: %s is disabled on interface %s", routeString(r), fam, r.NextHopInterface)
		}
	}
	return nil
}

// GenerateRouteMetadata files every merged route under its
// next-hop-interface.
func GenerateRouteMetadata(meta *Metadata, desired *Ifaces, routes *RouteState) {
	for _, r := range routes.Merged() {
		fr := meta.Routes[r.NextHopInterface]
		if fr == nil {
			fr = &FamilyRoutes{}
			meta.Routes[r.NextHopInterface] = fr
		}
		if fam, _ := FamilyOf(r.Destination); fam == IPv6 {
			fr.V6 = append(fr.V6, r.Clone())
		} else {
			fr.V4 = append(fr.V4, r.Clone())
		}
	}

	for _, r := range append(routes.Added(), routes.Removed()...) {
		if iface := desired.Get(r.NextHopInterface); iface != nil && iface.Base().State != schema.StateIgnore {
			meta.MarkChanged(r.NextHopInterface)
		}
	}
}

// ruleOwner returns the interface owning a route in the rule's table
// (main when unset), or "" when no merged route lives there.
func ruleOwner(rule schema.RouteRuleDoc, routes *RouteState) (string, Family) {
	fam := ruleFamily(rule)
	table := tableOf(rule.RouteTable)
	for _, r := range routes.Merged() {
		rf, _ := FamilyOf(r.Destination)
		if rf == fam && tableOf(r.TableID) == table {
			return r.NextHopInterface, fam
		}
	}
	return "", fam
}

// CheckRouteRules rejects caller rules no merged route can own.
func CheckRouteRules(rules *RouteRuleState, routes *RouteState) error {
	for _, r := range rules.Desired() {
		if r.State == schema.RouteStateAbsent {
			continue
		}
		if name, _ := ruleOwner(r, routes); name == "" {
			return errkind.Valuef("route rule %s: no route found in table %d to attach it to", ruleString(r), tableOf(r.RouteTable))
		}
	}
	return nil
}

// GenerateRouteRuleMetadata stores each rule on the interface owning it.
// Rules without an owner are left to the change-set alone.
func GenerateRouteRuleMetadata(meta *Metadata, desired *Ifaces, rules *RouteRuleState, routes *RouteState) {
	for _, r := range rules.Merged() {
		name, fam := ruleOwner(r, routes)
		if name == "" {
			log.Debug("leaving unowned route rule untouched", "rule", ruleString(r))
			continue
		}
		fr := meta.Rules[name]
		if fr == nil {
			fr = &FamilyRules{}
			meta.Rules[name] = fr
		}
		if fam == IPv6 {
			fr.V6 = append(fr.V6, r.Clone())
		} else {
			fr.V4 = append(fr.V4, r.Clone())
		}
	}

	for _, r := range append(rules.Added(), rules.Removed()...) {
		if name, _ := ruleOwner(r, routes); name != "" {
			if iface := desired.Get(name); iface != nil && iface.Base().State != schema.StateIgnore {
				meta.MarkChanged(name)
			}
		}
	}
}
