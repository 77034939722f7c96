package netstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/hostnet/internal/errkind"
	"grimm.is/hostnet/internal/schema"
)

func usableExcept(down ...string) func(string, Family) bool {
	return func(name string, _ Family) bool {
		for _, d := range down {
			if d == name {
				return false
			}
		}
		return true
	}
}

func TestRouteStateAbsentWildcard(t *testing.T) {
	current := []schema.RouteDoc{
		{Destination: "10.0.0.0/8", NextHopInterface: "eth0", NextHopAddress: "192.0.2.1"},
		{Destination: "10.1.0.0/16", NextHopInterface: "eth0", NextHopAddress: "192.0.2.1"},
		{Destination: "10.2.0.0/16", NextHopInterface: "eth1", NextHopAddress: "198.51.100.1"},
	}
	desired := []schema.RouteDoc{{State: schema.RouteStateAbsent, NextHopInterface: "eth0"}}

	s := NewRouteState(desired, current)
	s.Merge(usableExcept())
	assert.Len(t, s.Merged(), 1)
	assert.Len(t, s.Removed(), 2)
	assert.Empty(t, s.Added())

	missing, unexpected := s.Verify(current)
	assert.Empty(t, missing)
	assert.Len(t, unexpected, 2)

	missing, unexpected = s.Verify(current[2:])
	assert.Empty(t, missing)
	assert.Empty(t, unexpected)
}

func TestRouteStateNormalizesAndMatchesMetricWildcard(t *testing.T) {
	current := []schema.RouteDoc{
		{Destination: "2001:db8:1::/48", NextHopInterface: "eth0", NextHopAddress: "2001:db8::1", Metric: schema.Ptr(1024)},
	}
	desired := []schema.RouteDoc{
		{Destination: "2001:DB8:1::1/48", NextHopInterface: "eth0", NextHopAddress: "2001:DB8::1"},
	}
	s := NewRouteState(desired, current)
	s.Merge(usableExcept())
	assert.Empty(t, s.Added())
	assert.Empty(t, s.Removed())
	assert.Len(t, s.Merged(), 1)
}

func TestRouteStateDropsRoutesOfUnusableInterface(t *testing.T) {
	current := []schema.RouteDoc{
		{Destination: "10.0.0.0/8", NextHopInterface: "eth0"},
		{Destination: "10.2.0.0/16", NextHopInterface: "eth1"},
	}
	s := NewRouteState(nil, current)
	s.Merge(usableExcept("eth0"))
	require.Len(t, s.Removed(), 1)
	assert.Equal(t, "eth0", s.Removed()[0].NextHopInterface)
}

func TestRouteStateTableDefaultsToMain(t *testing.T) {
	current := []schema.RouteDoc{{Destination: "10.0.0.0/8", NextHopInterface: "eth0", TableID: schema.Ptr(254)}}
	desired := []schema.RouteDoc{{Destination: "10.0.0.0/8", NextHopInterface: "eth0"}}
	s := NewRouteState(desired, current)
	s.Merge(usableExcept())
	assert.Empty(t, s.Added())
	assert.Equal(t, "10.0.0.0/8 dev eth0", routeString(desired[0]))
	assert.Equal(t, "10.0.0.0/8 dev eth0 table 100",
		routeString(schema.RouteDoc{Destination: "10.0.0.0/8", NextHopInterface: "eth0", TableID: schema.Ptr(100)}))
}

func TestRouteRuleState(t *testing.T) {
	current := []schema.RouteRuleDoc{
		{IPFrom: "192.0.2.0/24", RouteTable: schema.Ptr(100), Priority: schema.Ptr(1000)},
		{IPTo: "198.51.100.0/24", RouteTable: schema.Ptr(200)},
	}
	desired := []schema.RouteRuleDoc{
		{State: schema.RouteStateAbsent, RouteTable: schema.Ptr(200)},
		{IPFrom: "203.0.113.7", RouteTable: schema.Ptr(100)},
	}
	s := NewRouteRuleState(desired, current)
	s.Merge()

	require.Len(t, s.Added(), 1)
	assert.Equal(t, "203.0.113.7/32", s.Added()[0].IPFrom)
	require.Len(t, s.Removed(), 1)
	assert.Equal(t, "198.51.100.0/24", s.Removed()[0].IPTo)
	assert.Equal(t, IPv4, ruleFamily(s.Added()[0]))
	assert.Equal(t, IPv6, ruleFamily(schema.RouteRuleDoc{IPTo: "2001:db8::/32"}))
}

func TestDNSStateMerge(t *testing.T) {
	current := &schema.DNSConfigDoc{Server: []string{"192.0.2.1"}, Search: []string{"example.com"}}
	tests := []struct {
		name      string
		desired   *schema.DNSConfigDoc
		want      *schema.DNSConfigDoc
		removeAll bool
		changed   bool
	}{
		{
			name:    "unspecified keeps current",
			desired: nil,
			want:    &schema.DNSConfigDoc{Server: []string{"192.0.2.1"}, Search: []string{"example.com"}},
		},
		{
			name:      "empty config removes all",
			desired:   &schema.DNSConfigDoc{},
			want:      &schema.DNSConfigDoc{Server: []string{}, Search: []string{}},
			removeAll: true,
			changed:   true,
		},
		{
			name:    "servers only keeps current search",
			desired: &schema.DNSConfigDoc{Server: []string{"192.0.2.2"}},
			want:    &schema.DNSConfigDoc{Server: []string{"192.0.2.2"}, Search: []string{"example.com"}},
			changed: true,
		},
		{
			name:    "search only keeps current servers",
			desired: &schema.DNSConfigDoc{Search: []string{"example.org"}},
			want:    &schema.DNSConfigDoc{Server: []string{"192.0.2.1"}, Search: []string{"example.org"}},
			changed: true,
		},
		{
			name:    "both used verbatim",
			desired: &schema.DNSConfigDoc{Server: []string{"2001:DB8::1"}, Search: []string{}},
			want:    &schema.DNSConfigDoc{Server: []string{"2001:db8::1"}, Search: []string{}},
			changed: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewDNSState(tt.desired, current)
			assert.Equal(t, tt.want, s.Config())
			assert.Equal(t, tt.removeAll, s.RemoveAll())
			assert.Equal(t, tt.changed, s.Changed())
		})
	}
}

func TestDNSStateVerify(t *testing.T) {
	s := NewDNSState(&schema.DNSConfigDoc{Server: []string{"192.0.2.2"}}, nil)
	assert.NoError(t, s.Verify(&schema.DNSConfigDoc{Server: []string{"192.0.2.2"}}))

	err := s.Verify(&schema.DNSConfigDoc{Server: []string{"192.0.2.3"}})
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Verification))
	diff := errkind.DiffOf(err)
	assert.Contains(t, diff, "+++ current")
	assert.Contains(t, diff, "192.0.2.3")
}

func TestIsMixedFamilyServers(t *testing.T) {
	tests := []struct {
		servers []string
		want    bool
	}{
		{[]string{"192.0.2.1", "2001:db8::1", "192.0.2.2"}, true},
		{[]string{"2001:db8::1", "192.0.2.1", "2001:db8::2"}, true},
		{[]string{"192.0.2.1", "2001:db8::1"}, false},
		{[]string{"192.0.2.1", "192.0.2.2", "2001:db8::1"}, false},
		{[]string{"2001:db8::1", "192.0.2.1"}, false},
		{nil, false},
	}
	for _, tt := range tests {
		s := NewDNSState(&schema.DNSConfigDoc{Server: tt.servers, Search: []string{}}, nil)
		assert.Equal(t, tt.want, s.IsMixedFamilyServers(), "%v", tt.servers)
	}
}
