package netstate

import (
	"net/netip"
	"slices"
	"strings"

	"grimm.is/hostnet/internal/errkind"
	"grimm.is/hostnet/internal/schema"
)

// DNSState owns the desired and current resolver configuration.
type DNSState struct {
	desired   *schema.DNSConfigDoc
	current   *schema.DNSConfigDoc
	merged    *schema.DNSConfigDoc
	removeAll bool
}

// NewDNSState merges desired into current:
//
//   - an explicitly empty desired config ("config: {}") removes
//     everything;
//   - no desired config keeps current as is;
//   - a desired config giving only servers or only search domains takes
//     the other list from current;
//   - a desired config giving both is used verbatim.
func NewDNSState(desired, current *schema.DNSConfigDoc) *DNSState {
	s := &DNSState{
		desired: normalizeDNS(desired),
		current: normalizeDNS(current),
	}
	if s.current == nil {
		s.current = &schema.DNSConfigDoc{Server: []string{}, Search: []string{}}
	}
	s.Merge()
	return s
}

func normalizeDNS(c *schema.DNSConfigDoc) *schema.DNSConfigDoc {
	if c == nil {
		return nil
	}
	out := c.Clone()
	for i, srv := range out.Server {
		if a, err := netip.ParseAddr(srv); err == nil {
			out.Server[i] = a.String()
		}
	}
	return out
}

// Merge recomputes the merged configuration.
func (s *DNSState) Merge() {
	cur := s.current
	switch {
	case s.desired == nil:
		s.merged = cur.Clone()
	case s.desired.Server == nil && s.desired.Search == nil:
		s.merged = &schema.DNSConfigDoc{Server: []string{}, Search: []string{}}
	default:
		m := s.desired.Clone()
		if m.Server == nil {
			m.Server = slices.Clone(cur.Server)
		}
		if m.Search == nil {
			m.Search = slices.Clone(cur.Search)
		}
		s.merged = m
	}
	if s.merged.Server == nil {
		s.merged.Server = []string{}
	}
	if s.merged.Search == nil {
		s.merged.Search = []string{}
	}
	s.removeAll = s.desired != nil && s.merged.IsEmpty()
}

// Config returns the merged configuration. It is never nil.
func (s *DNSState) Config() *schema.DNSConfigDoc {
	return s.merged
}

// Current returns the configuration found on the system.
func (s *DNSState) Current() *schema.DNSConfigDoc {
	return s.current
}

// RemoveAll reports whether the caller asked for an empty resolver
// configuration.
func (s *DNSState) RemoveAll() bool {
	return s.removeAll
}

// Changed reports whether the merged configuration differs from current.
func (s *DNSState) Changed() bool {
	return !dnsEqual(s.merged, s.current)
}

// IsMixedFamilyServers reports whether the server families interleave,
// an ordering per-interface placement cannot express.
func (s *DNSState) IsMixedFamilyServers() bool {
	var sb strings.Builder
	for _, srv := range s.merged.Server {
		fam, err := FamilyOf(srv)
		if err != nil {
			continue
		}
		if fam == IPv6 {
			sb.WriteByte('6')
		} else {
			sb.WriteByte('4')
		}
	}
	seq := sb.String()
	return strings.Contains(seq, "464") || strings.Contains(seq, "646")
}

// Verify re-derives the resolver state from a post-apply snapshot and
// fails with a diff when servers or search domains differ.
func (s *DNSState) Verify(current *schema.DNSConfigDoc) error {
	got := normalizeDNS(current)
	if got == nil {
		got = &schema.DNSConfigDoc{}
	}
	if got.Server == nil {
		got.Server = []string{}
	}
	if got.Search == nil {
		got.Search = []string{}
	}
	if dnsEqual(s.merged, got) {
		return nil
	}
	return errkind.VerificationFailed("DNS resolver configuration does not match",
		unifiedDiff(dnsSection(s.merged), dnsSection(got)))
}

func dnsSection(c *schema.DNSConfigDoc) map[string]any {
	return map[string]any{schema.KeyDNSResolver: map[string]any{schema.KeyConfig: c}}
}

func dnsEqual(a, b *schema.DNSConfigDoc) bool {
	return slices.Equal(a.Server, b.Server) && slices.Equal(a.Search, b.Search)
}
