package netstate

import (
	"fmt"
	"net/netip"
	"sort"
	"strconv"

	"grimm.is/hostnet/internal/schema"
)

// Family is an IP address family.
type Family int

const (
	IPv4 Family = 4
	IPv6 Family = 6
)

func (f Family) String() string {
	if f == IPv6 {
		return schema.KeyIPv6
	}
	return schema.KeyIPv4
}

// FamilyOf returns the family of a bare address or CIDR string.
func FamilyOf(s string) (Family, error) {
	if p, err := schema.ParseRulePrefix(s); err == nil {
		if p.Addr().Is4() {
			return IPv4, nil
		}
		return IPv6, nil
	}
	return 0, fmt.Errorf("invalid address %q", s)
}

// IPAddr is an interface address with its prefix length.
type IPAddr struct {
	IP        netip.Addr
	PrefixLen int
}

// ParseIPAddr parses an address document entry.
func ParseIPAddr(doc schema.AddressDoc) (IPAddr, error) {
	ip, err := netip.ParseAddr(doc.IP)
	if err != nil {
		return IPAddr{}, fmt.Errorf("invalid IP address %q", doc.IP)
	}
	ip = ip.Unmap()
	if doc.PrefixLength < 0 || doc.PrefixLength > ip.BitLen() {
		return IPAddr{}, fmt.Errorf("invalid prefix length %d for %s", doc.PrefixLength, doc.IP)
	}
	return IPAddr{IP: ip.WithZone(""), PrefixLen: doc.PrefixLength}, nil
}

// String returns ip/prefix.
func (a IPAddr) String() string {
	return a.IP.String() + "/" + strconv.Itoa(a.PrefixLen)
}

// Family returns the address family.
func (a IPAddr) Family() Family {
	if a.IP.Is4() {
		return IPv4
	}
	return IPv6
}

// IsLinkLocal reports whether a is an IPv6 link-local (fe80::/10)
// address. IPv4 link-local addresses are user configurable and kept.
func (a IPAddr) IsLinkLocal() bool {
	return a.IP.Is6() && a.IP.IsLinkLocalUnicast()
}

// Less orders by address then prefix length.
func (a IPAddr) Less(b IPAddr) bool {
	if c := a.IP.Compare(b.IP); c != 0 {
		return c < 0
	}
	return a.PrefixLen < b.PrefixLen
}

// Doc converts back to the document form.
func (a IPAddr) Doc() schema.AddressDoc {
	return schema.AddressDoc{IP: a.IP.String(), PrefixLength: a.PrefixLen}
}

// normalizeAddrs sorts, deduplicates and strips IPv6 link-local entries.
// The result is non-nil.
func normalizeAddrs(addrs []IPAddr) []IPAddr {
	out := make([]IPAddr, 0, len(addrs))
	for _, a := range addrs {
		if a.IsLinkLocal() {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })

	deduped := out[:0]
	for i, a := range out {
		if i > 0 && a == out[i-1] {
			continue
		}
		deduped = append(deduped, a)
	}
	return deduped
}
