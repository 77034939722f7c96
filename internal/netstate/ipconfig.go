package netstate

import (
	"fmt"

	"grimm.is/hostnet/internal/schema"
)

// IPConfig is the configuration of one address family on an interface.
// Nil pointers and a nil Addresses slice mean "unset".
type IPConfig struct {
	Family      Family
	Enabled     *bool
	DHCP        *bool
	Autoconf    *bool
	Addresses   []IPAddr
	AutoDNS     *bool
	AutoGateway *bool
	AutoRoutes  *bool
}

func ipConfigFromDoc(fam Family, doc *schema.IPConfigDoc) (*IPConfig, error) {
	if doc == nil {
		return nil, nil
	}
	c := &IPConfig{
		Family:      fam,
		Enabled:     cloneBool(doc.Enabled),
		DHCP:        cloneBool(doc.DHCP),
		Autoconf:    cloneBool(doc.Autoconf),
		AutoDNS:     cloneBool(doc.AutoDNS),
		AutoGateway: cloneBool(doc.AutoGateway),
		AutoRoutes:  cloneBool(doc.AutoRoutes),
	}
	if fam == IPv4 && c.Autoconf != nil {
		return nil, fmt.Errorf("autoconf is only valid for ipv6")
	}
	if doc.Address != nil {
		c.Addresses = make([]IPAddr, 0, len(doc.Address))
		for _, a := range doc.Address {
			addr, err := ParseIPAddr(a)
			if err != nil {
				return nil, err
			}
			if addr.Family() != fam {
				return nil, fmt.Errorf("address %s is not %s", addr, fam)
			}
			c.Addresses = append(c.Addresses, addr)
		}
	}
	return c, nil
}

// Doc converts back to the document form.
func (c *IPConfig) Doc() *schema.IPConfigDoc {
	if c == nil {
		return nil
	}
	doc := &schema.IPConfigDoc{
		Enabled:     cloneBool(c.Enabled),
		DHCP:        cloneBool(c.DHCP),
		Autoconf:    cloneBool(c.Autoconf),
		AutoDNS:     cloneBool(c.AutoDNS),
		AutoGateway: cloneBool(c.AutoGateway),
		AutoRoutes:  cloneBool(c.AutoRoutes),
	}
	if c.Addresses != nil {
		doc.Address = make([]schema.AddressDoc, len(c.Addresses))
		for i, a := range c.Addresses {
			doc.Address[i] = a.Doc()
		}
	}
	return doc
}

// IsEnabled reports whether the family is enabled.
func (c *IPConfig) IsEnabled() bool {
	return c != nil && c.Enabled != nil && *c.Enabled
}

// IsDynamic reports whether addresses come from DHCP or autoconf.
func (c *IPConfig) IsDynamic() bool {
	if !c.IsEnabled() {
		return false
	}
	return isTrue(c.DHCP) || (c.Family == IPv6 && isTrue(c.Autoconf))
}

// Sanitize applies defaults and family invariants. It is idempotent.
func (c *IPConfig) Sanitize() {
	if c.Enabled == nil {
		c.Enabled = boolPtr(false)
	}
	if !*c.Enabled {
		*c = IPConfig{Family: c.Family, Enabled: c.Enabled}
		return
	}
	if c.DHCP == nil {
		c.DHCP = boolPtr(false)
	}
	if c.Family == IPv6 {
		if c.Autoconf == nil {
			c.Autoconf = boolPtr(false)
		}
	} else {
		c.Autoconf = nil
	}

	if c.IsDynamic() {
		if len(c.Addresses) > 0 {
			log.Warn("ignoring static addresses of dynamically configured family",
				"family", c.Family, "addresses", len(c.Addresses))
		}
		c.Addresses = nil
		for _, p := range []**bool{&c.AutoDNS, &c.AutoGateway, &c.AutoRoutes} {
			if *p == nil {
				*p = boolPtr(true)
			}
		}
	} else {
		c.AutoDNS, c.AutoGateway, c.AutoRoutes = nil, nil, nil
	}
	c.Addresses = normalizeAddrs(c.Addresses)
}

// MergeFrom fills every unset field from other, DHCP and autoconf
// included. Static addresses merged onto a dynamic interface are dropped
// by Sanitize; set dhcp: false to go static.
func (c *IPConfig) MergeFrom(other *IPConfig) {
	if other == nil {
		return
	}
	fillBool(&c.Enabled, other.Enabled)
	fillBool(&c.DHCP, other.DHCP)
	fillBool(&c.Autoconf, other.Autoconf)
	fillBool(&c.AutoDNS, other.AutoDNS)
	fillBool(&c.AutoGateway, other.AutoGateway)
	fillBool(&c.AutoRoutes, other.AutoRoutes)
	if c.Addresses == nil && other.Addresses != nil {
		c.Addresses = append([]IPAddr{}, other.Addresses...)
	}
}

// Clone returns a deep copy.
func (c *IPConfig) Clone() *IPConfig {
	if c == nil {
		return nil
	}
	n := &IPConfig{
		Family:      c.Family,
		Enabled:     cloneBool(c.Enabled),
		DHCP:        cloneBool(c.DHCP),
		Autoconf:    cloneBool(c.Autoconf),
		AutoDNS:     cloneBool(c.AutoDNS),
		AutoGateway: cloneBool(c.AutoGateway),
		AutoRoutes:  cloneBool(c.AutoRoutes),
	}
	if c.Addresses != nil {
		n.Addresses = append([]IPAddr{}, c.Addresses...)
	}
	return n
}

type ipKeys struct {
	Enabled     bool
	DHCP        bool
	Autoconf    bool
	Addresses   []string
	AutoDNS     *bool
	AutoGateway *bool
	AutoRoutes  *bool
}

func (c *IPConfig) verifyKeys() ipKeys {
	if !c.IsEnabled() {
		return ipKeys{}
	}
	k := ipKeys{
		Enabled:     true,
		DHCP:        isTrue(c.DHCP),
		Autoconf:    isTrue(c.Autoconf),
		AutoDNS:     cloneBool(c.AutoDNS),
		AutoGateway: cloneBool(c.AutoGateway),
		AutoRoutes:  cloneBool(c.AutoRoutes),
	}
	for _, a := range normalizeAddrs(c.Addresses) {
		k.Addresses = append(k.Addresses, a.String())
	}
	return k
}

func boolPtr(b bool) *bool {
	return &b
}

func isTrue(p *bool) bool {
	return p != nil && *p
}

func cloneBool(p *bool) *bool {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func fillBool(dst **bool, src *bool) {
	if *dst == nil && src != nil {
		*dst = cloneBool(src)
	}
}
