package network

import (
	"net"
	"sort"
	"strings"

	"github.com/vishvananda/netlink"

	"grimm.is/hostnet/internal/schema"
)

// bondOptionNames are the bonding attributes reported and accepted.
// Options outside this list are rejected on apply.
var bondOptionNames = []string{
	"ad_select",
	"all_slaves_active",
	"arp_interval",
	"arp_validate",
	"downdelay",
	"fail_over_mac",
	"lacp_rate",
	"miimon",
	"min_links",
	"primary_reselect",
	"updelay",
	"use_carrier",
	"xmit_hash_policy",
}

func isBondOption(name string) bool {
	for _, o := range bondOptionNames {
		if o == name {
			return true
		}
	}
	return false
}

// interfaceType maps a kernel link kind to a document type. Software
// stand-ins for NICs are reported as ethernet.
func interfaceType(link netlink.Link) schema.InterfaceType {
	switch link.Type() {
	case "device", "veth", "dummy":
		return schema.TypeEthernet
	case "bond":
		return schema.TypeBond
	case "bridge":
		return schema.TypeLinuxBridge
	case "openvswitch":
		return schema.TypeOVSInterface
	}
	return schema.TypeUnknown
}

// linkTable indexes a link dump.
type linkTable struct {
	links  []netlink.Link
	byIdx  map[int]netlink.Link
	slaves map[int][]string
}

func newLinkTable(links []netlink.Link) *linkTable {
	t := &linkTable{byIdx: make(map[int]netlink.Link), slaves: make(map[int][]string)}
	for _, l := range links {
		attrs := l.Attrs()
		if attrs.Name == "lo" {
			continue
		}
		t.links = append(t.links, l)
		t.byIdx[attrs.Index] = l
	}
	for _, l := range t.links {
		if m := l.Attrs().MasterIndex; m > 0 {
			t.slaves[m] = append(t.slaves[m], l.Attrs().Name)
		}
	}
	for _, s := range t.slaves {
		sort.Strings(s)
	}
	return t
}

func (t *linkTable) name(index int) string {
	if l, ok := t.byIdx[index]; ok {
		return l.Attrs().Name
	}
	return ""
}

// interfaceDoc reports one link.
func (p *Plugin) interfaceDoc(link netlink.Link, t *linkTable) (schema.InterfaceDoc, error) {
	attrs := link.Attrs()
	doc := schema.InterfaceDoc{
		Name:  attrs.Name,
		Type:  interfaceType(link),
		State: schema.StateDown,
	}
	if attrs.Flags&net.FlagUp != 0 {
		doc.State = schema.StateUp
	}
	if attrs.MTU > 0 {
		doc.MTU = schema.Ptr(attrs.MTU)
	}
	mac := attrs.HardwareAddr
	// Bonding rewrites slave addresses; report the one the NIC owns.
	if m, ok := t.byIdx[attrs.MasterIndex]; ok && m.Type() == "bond" && len(attrs.PermHWAddr) > 0 {
		mac = attrs.PermHWAddr
	}
	if len(mac) > 0 {
		doc.MACAddress = strings.ToUpper(mac.String())
	}

	v4, err := p.addresses(link, familyV4)
	if err != nil {
		return doc, err
	}
	doc.IPv4 = &schema.IPConfigDoc{
		Enabled: schema.Ptr(len(v4) > 0),
		DHCP:    schema.Ptr(false),
		Address: v4,
	}

	v6, err := p.addresses(link, familyV6)
	if err != nil {
		return doc, err
	}
	enabled, ok := ipv6Enabled(p.sys, attrs.Name)
	if !ok {
		enabled = len(v6) > 0
	}
	doc.IPv6 = &schema.IPConfigDoc{
		Enabled:  schema.Ptr(enabled),
		DHCP:     schema.Ptr(false),
		Autoconf: schema.Ptr(false),
		Address:  v6,
	}

	switch doc.Type {
	case schema.TypeBond:
		doc.Bond = p.bondDoc(link, t)
	case schema.TypeLinuxBridge:
		doc.Bridge = &schema.BridgeDoc{}
		for _, s := range t.slaves[attrs.Index] {
			doc.Bridge.Ports = append(doc.Bridge.Ports, schema.BridgePortDoc{Name: s})
		}
	case schema.TypeEthernet:
		doc.Ethernet = p.ethernetDoc(attrs.Name)
	}
	return doc, nil
}

// addresses returns the permanent addresses of a link. IPv6 link-local
// addresses are kernel-managed and omitted.
func (p *Plugin) addresses(link netlink.Link, family int) ([]schema.AddressDoc, error) {
	addrs, err := p.nl.AddrList(link, family)
	if err != nil {
		return nil, err
	}
	var out []schema.AddressDoc
	for _, a := range addrs {
		if a.IPNet == nil || a.Flags&ifaFPermanent == 0 {
			continue
		}
		if family == familyV6 && a.IP.IsLinkLocalUnicast() {
			continue
		}
		ones, _ := a.Mask.Size()
		out = append(out, schema.AddressDoc{IP: a.IP.String(), PrefixLength: ones})
	}
	return out, nil
}

func (p *Plugin) bondDoc(link netlink.Link, t *linkTable) *schema.BondDoc {
	doc := &schema.BondDoc{Slaves: append([]string{}, t.slaves[link.Attrs().Index]...)}
	if bond, ok := link.(*netlink.Bond); ok && bond.Mode >= 0 && bond.Mode != netlink.BOND_MODE_UNKNOWN {
		doc.Mode = bond.Mode.String()
	}
	opts := schema.NewBondOptions()
	for _, name := range bondOptionNames {
		if v, ok := readBondOption(p.sys, link.Attrs().Name, name); ok {
			opts.Set(name, v)
		}
	}
	if opts.Len() > 0 {
		doc.Options = opts
	}
	return doc
}

// ethernetDoc reports link settings when a reader is configured.
func (p *Plugin) ethernetDoc(name string) *schema.EthernetDoc {
	if p.info == nil {
		return nil
	}
	info, err := p.info.GetLinkInfo(name)
	if err != nil || info == nil {
		p.logger.Debug("no link settings", "iface", name, "error", err)
		return nil
	}
	doc := &schema.EthernetDoc{AutoNegotiation: schema.Ptr(info.Autoneg)}
	if info.Speed > 0 {
		doc.Speed = schema.Ptr(int(info.Speed))
	}
	if info.Duplex == "full" || info.Duplex == "half" {
		doc.Duplex = info.Duplex
	}
	return doc
}

// routeDoc converts a kernel route. ok is false for routes that are not
// reported at all.
func routeDoc(r netlink.Route, t *linkTable) (doc schema.RouteDoc, ok bool) {
	if r.Table == schema.RouteTableLocal || r.Type != rtnUnicast {
		return doc, false
	}
	if r.Dst != nil && r.Dst.IP.IsMulticast() {
		return doc, false
	}
	switch {
	case r.Dst != nil:
		doc.Destination = r.Dst.String()
	case r.Family == familyV6:
		doc.Destination = "::/0"
	default:
		doc.Destination = "0.0.0.0/0"
	}
	if r.Gw != nil {
		doc.NextHopAddress = r.Gw.String()
	}
	doc.NextHopInterface = t.name(r.LinkIndex)
	doc.Metric = schema.Ptr(r.Priority)
	doc.TableID = schema.Ptr(r.Table)
	return doc, true
}

// isConfigRoute reports whether a route was configured statically, as
// opposed to one the kernel or a routing daemon installed.
func isConfigRoute(r netlink.Route) bool {
	if r.Protocol != rtprotStatic && r.Protocol != rtprotBoot {
		return false
	}
	if r.Dst != nil && r.Dst.IP.IsLinkLocalUnicast() {
		return false
	}
	return true
}

func ruleDoc(r netlink.Rule) (doc schema.RouteRuleDoc, ok bool) {
	if defaultRulePriorities[r.Priority] || r.Table == schema.RouteTableLocal {
		return doc, false
	}
	if r.Src != nil {
		doc.IPFrom = r.Src.String()
	}
	if r.Dst != nil {
		doc.IPTo = r.Dst.String()
	}
	if r.Priority >= 0 {
		doc.Priority = schema.Ptr(r.Priority)
	}
	doc.RouteTable = schema.Ptr(r.Table)
	return doc, true
}
