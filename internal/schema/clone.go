package schema

// Clone returns a deep copy of the document. Nil and empty slices are
// kept distinct.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := &Document{
		Routes:     d.Routes.Clone(),
		RouteRules: d.RouteRules.Clone(),
		DNS:        d.DNS.Clone(),
		Extra:      cloneMap(d.Extra),
	}
	if d.Interfaces != nil {
		c.Interfaces = make([]InterfaceDoc, len(d.Interfaces))
		for i := range d.Interfaces {
			c.Interfaces[i] = d.Interfaces[i].Clone()
		}
	}
	return c
}

// Clone returns a deep copy of the interface entry.
func (i InterfaceDoc) Clone() InterfaceDoc {
	c := i
	c.MTU = cloneInt(i.MTU)
	c.IPv4 = i.IPv4.Clone()
	c.IPv6 = i.IPv6.Clone()
	c.Bond = i.Bond.Clone()
	c.Ethernet = i.Ethernet.Clone()
	c.Bridge = i.Bridge.Clone()
	c.Extra = cloneMap(i.Extra)
	return c
}

// Clone returns a deep copy.
func (c *IPConfigDoc) Clone() *IPConfigDoc {
	if c == nil {
		return nil
	}
	n := &IPConfigDoc{
		Enabled:     cloneBool(c.Enabled),
		DHCP:        cloneBool(c.DHCP),
		Autoconf:    cloneBool(c.Autoconf),
		AutoDNS:     cloneBool(c.AutoDNS),
		AutoGateway: cloneBool(c.AutoGateway),
		AutoRoutes:  cloneBool(c.AutoRoutes),
	}
	if c.Address != nil {
		n.Address = append([]AddressDoc{}, c.Address...)
	}
	return n
}

// Clone returns a deep copy.
func (b *BondDoc) Clone() *BondDoc {
	if b == nil {
		return nil
	}
	return &BondDoc{
		Mode:    b.Mode,
		Options: b.Options.Clone(),
		Slaves:  cloneStrings(b.Slaves),
	}
}

// Clone returns a deep copy.
func (e *EthernetDoc) Clone() *EthernetDoc {
	if e == nil {
		return nil
	}
	return &EthernetDoc{
		Speed:           cloneInt(e.Speed),
		Duplex:          e.Duplex,
		AutoNegotiation: cloneBool(e.AutoNegotiation),
	}
}

// Clone returns a deep copy.
func (b *BridgeDoc) Clone() *BridgeDoc {
	if b == nil {
		return nil
	}
	n := &BridgeDoc{}
	if b.Ports != nil {
		n.Ports = append([]BridgePortDoc{}, b.Ports...)
	}
	return n
}

// Clone returns a deep copy.
func (s *RouteSection) Clone() *RouteSection {
	if s == nil {
		return nil
	}
	return &RouteSection{
		Running: CloneRoutes(s.Running),
		Config:  CloneRoutes(s.Config),
	}
}

// Clone returns a deep copy.
func (r RouteDoc) Clone() RouteDoc {
	c := r
	c.Metric = cloneInt(r.Metric)
	c.TableID = cloneInt(r.TableID)
	return c
}

// CloneRoutes deep-copies a route list.
func CloneRoutes(routes []RouteDoc) []RouteDoc {
	if routes == nil {
		return nil
	}
	out := make([]RouteDoc, len(routes))
	for i, r := range routes {
		out[i] = r.Clone()
	}
	return out
}

// Clone returns a deep copy.
func (s *RouteRuleSection) Clone() *RouteRuleSection {
	if s == nil {
		return nil
	}
	return &RouteRuleSection{Config: CloneRouteRules(s.Config)}
}

// Clone returns a deep copy.
func (r RouteRuleDoc) Clone() RouteRuleDoc {
	c := r
	c.Priority = cloneInt(r.Priority)
	c.RouteTable = cloneInt(r.RouteTable)
	return c
}

// CloneRouteRules deep-copies a rule list.
func CloneRouteRules(rules []RouteRuleDoc) []RouteRuleDoc {
	if rules == nil {
		return nil
	}
	out := make([]RouteRuleDoc, len(rules))
	for i, r := range rules {
		out[i] = r.Clone()
	}
	return out
}

// Clone returns a deep copy.
func (s *DNSSection) Clone() *DNSSection {
	if s == nil {
		return nil
	}
	return &DNSSection{
		Running: s.Running.Clone(),
		Config:  s.Config.Clone(),
	}
}

// Clone returns a deep copy.
func (c *DNSConfigDoc) Clone() *DNSConfigDoc {
	if c == nil {
		return nil
	}
	return &DNSConfigDoc{
		Server: cloneStrings(c.Server),
		Search: cloneStrings(c.Search),
	}
}

// Ptr returns a pointer to v. Handy for optional document fields.
func Ptr[T any](v T) *T {
	return &v
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneBool(p *bool) *bool {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	}
	return v
}
