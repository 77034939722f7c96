package schema

import (
	"encoding/json"
	"sort"
	"strings"
)

// Document is a desired or current network state.
type Document struct {
	Interfaces []InterfaceDoc    `json:"interfaces,omitempty"`
	Routes     *RouteSection     `json:"routes,omitempty"`
	RouteRules *RouteRuleSection `json:"route-rules,omitempty"`
	DNS        *DNSSection       `json:"dns-resolver,omitempty"`
	Extra      map[string]any    `json:"-"`
}

// InterfaceDoc is one entry of the interfaces list. Fields left nil or
// empty are unset and may be filled from current state during merge.
type InterfaceDoc struct {
	Name       string         `json:"name"`
	Type       InterfaceType  `json:"type,omitempty"`
	State      InterfaceState `json:"state,omitempty"`
	MTU        *int           `json:"mtu,omitempty"`
	MACAddress string         `json:"mac-address,omitempty"`
	IPv4       *IPConfigDoc   `json:"ipv4,omitempty"`
	IPv6       *IPConfigDoc   `json:"ipv6,omitempty"`
	Bond       *BondDoc       `json:"link-aggregation,omitempty"`
	Ethernet   *EthernetDoc   `json:"ethernet,omitempty"`
	Bridge     *BridgeDoc     `json:"bridge,omitempty"`
	// Extra carries keys this package does not model, such as the
	// type-specific subtree of an unknown interface type.
	Extra map[string]any `json:"-"`
}

// IPConfigDoc is the per-family IP configuration.
type IPConfigDoc struct {
	Enabled     *bool        `json:"enabled,omitempty"`
	DHCP        *bool        `json:"dhcp,omitempty"`
	Autoconf    *bool        `json:"autoconf,omitempty"`
	Address     []AddressDoc `json:"address,omitempty"`
	AutoDNS     *bool        `json:"auto-dns,omitempty"`
	AutoGateway *bool        `json:"auto-gateway,omitempty"`
	AutoRoutes  *bool        `json:"auto-routes,omitempty"`
}

// AddressDoc is a static address with its prefix length.
type AddressDoc struct {
	IP           string `json:"ip"`
	PrefixLength int    `json:"prefix-length"`
}

// BondDoc is the link-aggregation subtree. A nil Slaves means the slave
// list was not specified; an empty one detaches every slave.
type BondDoc struct {
	Mode    string       `json:"mode,omitempty"`
	Options *BondOptions `json:"options,omitempty"`
	Slaves  []string     `json:"slaves,omitempty"`
}

// EthernetDoc holds link settings of a physical NIC.
type EthernetDoc struct {
	Speed           *int   `json:"speed,omitempty"`
	Duplex          string `json:"duplex,omitempty"`
	AutoNegotiation *bool  `json:"auto-negotiation,omitempty"`
}

// BridgeDoc is the linux-bridge and ovs-bridge subtree.
type BridgeDoc struct {
	Ports []BridgePortDoc `json:"port,omitempty"`
}

// BridgePortDoc names one bridge port.
type BridgePortDoc struct {
	Name string `json:"name"`
}

// RouteSection holds the running and configured route tables.
type RouteSection struct {
	Running []RouteDoc `json:"running,omitempty"`
	Config  []RouteDoc `json:"config,omitempty"`
}

// RouteDoc is a single route. Unset fields act as wildcards when the
// route is marked absent.
type RouteDoc struct {
	State            string `json:"state,omitempty"`
	Destination      string `json:"destination,omitempty"`
	NextHopInterface string `json:"next-hop-interface,omitempty"`
	NextHopAddress   string `json:"next-hop-address,omitempty"`
	Metric           *int   `json:"metric,omitempty"`
	TableID          *int   `json:"table-id,omitempty"`
}

// RouteRuleSection holds the configured policy routing rules.
type RouteRuleSection struct {
	Config []RouteRuleDoc `json:"config,omitempty"`
}

// RouteRuleDoc is a policy routing rule.
type RouteRuleDoc struct {
	State      string `json:"state,omitempty"`
	IPFrom     string `json:"ip-from,omitempty"`
	IPTo       string `json:"ip-to,omitempty"`
	Priority   *int   `json:"priority,omitempty"`
	RouteTable *int   `json:"route-table,omitempty"`
}

// DNSSection holds the running and configured resolver settings.
type DNSSection struct {
	Running *DNSConfigDoc `json:"running,omitempty"`
	Config  *DNSConfigDoc `json:"config,omitempty"`
}

// DNSConfigDoc is a resolver configuration. A nil list is unspecified; a
// non-nil empty list is explicitly empty.
type DNSConfigDoc struct {
	Server []string `json:"server,omitempty"`
	Search []string `json:"search,omitempty"`
}

// IsEmpty reports whether neither servers nor search domains are set.
func (c *DNSConfigDoc) IsEmpty() bool {
	return c == nil || (len(c.Server) == 0 && len(c.Search) == 0)
}

// Interface returns the named interface entry, or nil.
func (d *Document) Interface(name string) *InterfaceDoc {
	for i := range d.Interfaces {
		if d.Interfaces[i].Name == name {
			return &d.Interfaces[i]
		}
	}
	return nil
}

// ConfigRoutes returns the configured routes, or nil.
func (d *Document) ConfigRoutes() []RouteDoc {
	if d == nil || d.Routes == nil {
		return nil
	}
	return d.Routes.Config
}

// ConfigRouteRules returns the configured route rules, or nil.
func (d *Document) ConfigRouteRules() []RouteRuleDoc {
	if d == nil || d.RouteRules == nil {
		return nil
	}
	return d.RouteRules.Config
}

// DNSConfig returns the configured resolver settings, or nil.
func (d *Document) DNSConfig() *DNSConfigDoc {
	if d == nil || d.DNS == nil {
		return nil
	}
	return d.DNS.Config
}

var documentKeys = map[string]bool{
	KeyInterfaces:  true,
	KeyRoutes:      true,
	KeyRouteRules:  true,
	KeyDNSResolver: true,
}

var interfaceKeys = map[string]bool{
	KeyName:            true,
	KeyType:            true,
	KeyState:           true,
	KeyMTU:             true,
	KeyMACAddress:      true,
	KeyIPv4:            true,
	KeyIPv6:            true,
	KeyLinkAggregation: true,
	KeyEthernet:        true,
	KeyBridge:          true,
}

// MarshalJSON emits known keys in declaration order followed by Extra
// keys in sorted order.
func (d Document) MarshalJSON() ([]byte, error) {
	type plain Document
	b, err := json.Marshal(plain(d))
	if err != nil {
		return nil, err
	}
	return appendExtra(b, d.Extra)
}

// UnmarshalJSON decodes known keys and keeps the rest in Extra.
func (d *Document) UnmarshalJSON(b []byte) error {
	type plain Document
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	extra, err := collectExtra(b, documentKeys)
	if err != nil {
		return err
	}
	p.Extra = extra
	*d = Document(p)
	return nil
}

// MarshalJSON emits known keys followed by Extra keys in sorted order.
func (i InterfaceDoc) MarshalJSON() ([]byte, error) {
	type plain InterfaceDoc
	b, err := json.Marshal(plain(i))
	if err != nil {
		return nil, err
	}
	return appendExtra(b, i.Extra)
}

// UnmarshalJSON decodes known keys and keeps the rest in Extra.
func (i *InterfaceDoc) UnmarshalJSON(b []byte) error {
	type plain InterfaceDoc
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	extra, err := collectExtra(b, interfaceKeys)
	if err != nil {
		return err
	}
	p.Extra = extra
	*i = InterfaceDoc(p)
	return nil
}

func collectExtra(b []byte, known map[string]bool) (map[string]any, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	var extra map[string]any
	for k, v := range raw {
		if known[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return nil, err
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = val
	}
	return extra, nil
}

func appendExtra(b []byte, extra map[string]any) ([]byte, error) {
	if len(extra) == 0 {
		return b, nil
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.Write(b[:len(b)-1])
	first := len(b) == 2
	for _, k := range keys {
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(extra[k])
		if err != nil {
			return nil, err
		}
		if !first {
			sb.WriteByte(',')
		}
		first = false
		sb.Write(kb)
		sb.WriteByte(':')
		sb.Write(vb)
	}
	sb.WriteByte('}')
	return []byte(sb.String()), nil
}
