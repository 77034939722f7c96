package schema

import (
	"fmt"
	"net/netip"
	"strings"

	"grimm.is/hostnet/internal/validation"
)

// ValidationError is a single schema violation.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

var knownStates = []string{
	string(StateUp), string(StateDown), string(StateAbsent), string(StateIgnore),
}

// Validate checks the document in isolation, before anything is merged
// with current state.
func (d *Document) Validate() ValidationErrors {
	var errs ValidationErrors
	seen := make(map[string]int)

	for i, iface := range d.Interfaces {
		field := fmt.Sprintf("%s[%d]", KeyInterfaces, i)
		if iface.Name != "" {
			field = fmt.Sprintf("%s[%s]", KeyInterfaces, iface.Name)
		}
		if prev, dup := seen[iface.Name]; dup {
			errs.add(field, "duplicate interface (first defined at index %d)", prev)
		}
		seen[iface.Name] = i
		errs = append(errs, iface.validate(field)...)
	}

	for i, r := range d.ConfigRoutes() {
		errs = append(errs, r.validate(fmt.Sprintf("%s.%s[%d]", KeyRoutes, KeyConfig, i))...)
	}
	for i, r := range d.ConfigRouteRules() {
		errs = append(errs, r.validate(fmt.Sprintf("%s.%s[%d]", KeyRouteRules, KeyConfig, i))...)
	}
	if cfg := d.DNSConfig(); cfg != nil {
		base := KeyDNSResolver + "." + KeyConfig
		for i, s := range cfg.Server {
			if _, err := netip.ParseAddr(s); err != nil {
				errs.add(fmt.Sprintf("%s.server[%d]", base, i), "invalid name server %q", s)
			}
		}
		for i, s := range cfg.Search {
			if err := validation.ValidateSearchDomain(s); err != nil {
				errs.add(fmt.Sprintf("%s.search[%d]", base, i), "%v", err)
			}
		}
	}
	return errs
}

func (i InterfaceDoc) validate(field string) ValidationErrors {
	var errs ValidationErrors

	if err := validation.ValidateInterfaceName(i.Name); err != nil {
		errs.add(field+"."+KeyName, "%v", err)
	}
	if i.State != "" {
		if err := validation.ValidateAllowlist(string(i.State), knownStates); err != nil {
			errs.add(field+"."+KeyState, "%v", err)
		}
	}
	if i.MTU != nil {
		if err := validation.ValidateMTU(*i.MTU); err != nil {
			errs.add(field+"."+KeyMTU, "%v", err)
		}
	}
	if i.MACAddress != "" {
		if err := validation.ValidateMAC(i.MACAddress); err != nil {
			errs.add(field+"."+KeyMACAddress, "%v", err)
		}
	}
	errs = append(errs, i.IPv4.validate(field+"."+KeyIPv4, false)...)
	errs = append(errs, i.IPv6.validate(field+"."+KeyIPv6, true)...)

	if i.Bond != nil {
		if i.Type != "" && i.Type != TypeBond {
			errs.add(field+"."+KeyLinkAggregation, "only valid on bond interfaces, not %s", i.Type)
		}
		if i.Bond.Mode != "" {
			if err := validation.ValidateAllowlist(i.Bond.Mode, BondModes); err != nil {
				errs.add(field+"."+KeyLinkAggregation+".mode", "%v", err)
			}
		}
		for _, s := range i.Bond.Slaves {
			if s == i.Name {
				errs.add(field+"."+KeyLinkAggregation+".slaves", "bond cannot enslave itself")
			}
		}
	}
	if i.Ethernet != nil && i.Ethernet.Duplex != "" {
		if err := validation.ValidateAllowlist(i.Ethernet.Duplex, []string{DuplexFull, DuplexHalf}); err != nil {
			errs.add(field+"."+KeyEthernet+".duplex", "%v", err)
		}
	}
	if i.Ethernet != nil && i.Ethernet.Speed != nil && *i.Ethernet.Speed <= 0 {
		errs.add(field+"."+KeyEthernet+".speed", "must be positive, got %d", *i.Ethernet.Speed)
	}
	return errs
}

func (c *IPConfigDoc) validate(field string, v6 bool) ValidationErrors {
	var errs ValidationErrors
	if c == nil {
		return errs
	}
	if !v6 && c.Autoconf != nil {
		errs.add(field+".autoconf", "autoconf is only valid for ipv6")
	}
	for j, a := range c.Address {
		af := fmt.Sprintf("%s.address[%d]", field, j)
		addr, err := netip.ParseAddr(a.IP)
		if err != nil {
			errs.add(af, "invalid IP address %q", a.IP)
			continue
		}
		if addr.Is6() != v6 || addr.Is4In6() {
			errs.add(af, "address %s does not belong to this family", a.IP)
			continue
		}
		if err := validation.ValidatePrefixLength(a.IP, a.PrefixLength); err != nil {
			errs.add(af+".prefix-length", "%v", err)
		}
	}
	return errs
}

func (r RouteDoc) validate(field string) ValidationErrors {
	var errs ValidationErrors
	absent := r.State == RouteStateAbsent
	if r.State != "" && !absent {
		errs.add(field+".state", "unknown route state %q", r.State)
	}
	if r.NextHopInterface == "" && !absent {
		errs.add(field+".next-hop-interface", "is mandatory")
	}

	var dst netip.Prefix
	if r.Destination == "" {
		if !absent {
			errs.add(field+".destination", "is mandatory")
		}
	} else if err := validation.ValidateCIDR(r.Destination); err != nil {
		errs.add(field+".destination", "%v", err)
	} else {
		dst = netip.MustParsePrefix(r.Destination)
	}

	if r.NextHopAddress != "" {
		if err := validation.ValidateIP(r.NextHopAddress); err != nil {
			errs.add(field+".next-hop-address", "%v", err)
		} else if gw := netip.MustParseAddr(r.NextHopAddress); dst.IsValid() && gw.Is4() != dst.Addr().Is4() {
			errs.add(field+".next-hop-address", "family does not match destination %s", r.Destination)
		}
	}
	if r.Metric != nil && *r.Metric < 0 {
		errs.add(field+".metric", "must not be negative")
	}
	if r.TableID != nil {
		if err := validation.ValidateRouteTable(*r.TableID); err != nil {
			errs.add(field+".table-id", "%v", err)
		}
	}
	return errs
}

func (r RouteRuleDoc) validate(field string) ValidationErrors {
	var errs ValidationErrors
	absent := r.State == RouteStateAbsent
	if r.State != "" && !absent {
		errs.add(field+".state", "unknown route rule state %q", r.State)
	}
	if r.IPFrom == "" && r.IPTo == "" && !absent {
		errs.add(field, "one of ip-from or ip-to is required")
	}

	var families []bool
	for _, kv := range [...]struct{ key, v string }{{"ip-from", r.IPFrom}, {"ip-to", r.IPTo}} {
		key, v := kv.key, kv.v
		if v == "" {
			continue
		}
		p, err := ParseRulePrefix(v)
		if err != nil {
			errs.add(field+"."+key, "invalid address or CIDR %q", v)
			continue
		}
		families = append(families, p.Addr().Is4())
	}
	if len(families) == 2 && families[0] != families[1] {
		errs.add(field, "ip-from and ip-to must be the same family")
	}
	if r.Priority != nil && *r.Priority < 0 {
		errs.add(field+".priority", "must not be negative")
	}
	if r.RouteTable != nil {
		if err := validation.ValidateRouteTable(*r.RouteTable); err != nil {
			errs.add(field+".route-table", "%v", err)
		}
	}
	return errs
}

// ParseRulePrefix accepts a bare address (host prefix) or a CIDR.
func ParseRulePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
