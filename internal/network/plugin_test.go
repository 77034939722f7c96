package network

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"

	"grimm.is/hostnet/internal/errkind"
	"grimm.is/hostnet/internal/netstate"
	"grimm.is/hostnet/internal/scheduler"
	"grimm.is/hostnet/internal/schema"
)

func permAddr(t *testing.T, cidr string) netlink.Addr {
	t.Helper()
	a, err := netlink.ParseAddr(cidr)
	require.NoError(t, err)
	a.Flags = ifaFPermanent
	return *a
}

func addrIs(cidr string) any {
	return mock.MatchedBy(func(a *netlink.Addr) bool { return a.IPNet.String() == cidr })
}

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	require.NoError(t, err)
	return mac
}

func newTestPlugin(t *testing.T, nl Netlinker, sys SystemController) *Plugin {
	t.Helper()
	return NewPlugin(
		WithNetlinker(nl),
		WithSystemController(sys),
		WithResolvConf(filepath.Join(t.TempDir(), "resolv.conf")),
	)
}

// methodCalls lists the mutating netlink calls in order.
func methodCalls(m *mock.Mock) []string {
	var out []string
	for _, c := range m.Calls {
		switch c.Method {
		case "LinkByName", "LinkList", "AddrList", "RouteListAll", "RuleList":
			continue
		}
		out = append(out, c.Method)
	}
	return out
}

func TestInterfacesReportsLinks(t *testing.T) {
	nl := new(MockNetlinker)
	sys := new(MockSystemController)
	info := new(MockLinkInfo)

	lo := &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "lo", Index: 1, Flags: net.FlagUp}}
	eth0 := &netlink.Device{LinkAttrs: netlink.LinkAttrs{
		Name: "eth0", Index: 2, MTU: 1500, Flags: net.FlagUp,
		HardwareAddr: mustMAC(t, "52:54:00:aa:bb:cc"),
	}}
	eth1 := &netlink.Device{LinkAttrs: netlink.LinkAttrs{
		Name: "eth1", Index: 3, MTU: 1500, Flags: net.FlagUp, MasterIndex: 4,
		HardwareAddr: mustMAC(t, "52:54:00:00:00:04"),
		PermHWAddr:   mustMAC(t, "52:54:00:00:00:03"),
	}}
	bond0 := netlink.NewLinkBond(netlink.LinkAttrs{
		Name: "bond0", Index: 4, MTU: 1500, Flags: net.FlagUp,
		HardwareAddr: mustMAC(t, "52:54:00:00:00:04"),
	})
	bond0.Mode = netlink.StringToBondMode("active-backup")
	br0 := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: "br0", Index: 5, MTU: 1500}}

	nl.On("LinkList").Return([]netlink.Link{lo, eth0, eth1, bond0, br0}, nil)
	dynamic := permAddr(t, "192.0.2.99/24")
	dynamic.Flags = 0
	nl.On("AddrList", eth0, familyV4).Return([]netlink.Addr{permAddr(t, "192.0.2.10/24"), dynamic}, nil)
	nl.On("AddrList", eth0, familyV6).Return([]netlink.Addr{
		permAddr(t, "fe80::5054:ff:feaa:bbcc/64"),
		permAddr(t, "2001:db8::10/64"),
	}, nil)
	nl.On("AddrList", mock.Anything, mock.Anything).Return([]netlink.Addr{}, nil)

	sys.On("ReadSysctl", "/proc/sys/net/ipv6/conf/eth0/disable_ipv6").Return("0", nil)
	sys.On("ReadSysctl", "/sys/class/net/bond0/bonding/miimon").Return("100", nil)
	sys.On("ReadSysctl", "/sys/class/net/bond0/bonding/xmit_hash_policy").Return("layer2 0", nil)
	sys.On("ReadSysctl", mock.Anything).Return("", os.ErrNotExist)

	speed := &LinkInfo{Speed: 1000, Duplex: "full", Autoneg: true}
	info.On("GetLinkInfo", "eth0").Return(speed, nil)
	info.On("GetLinkInfo", "eth1").Return(nil, errors.New("not supported"))

	p := NewPlugin(WithNetlinker(nl), WithSystemController(sys), WithLinkInfoReader(info))
	docs, err := p.Interfaces(context.Background())
	require.NoError(t, err)

	var names []string
	for _, d := range docs {
		names = append(names, d.Name)
	}
	require.Equal(t, []string{"bond0", "br0", "eth0", "eth1"}, names)

	doc := &schema.Document{Interfaces: docs}

	e0 := doc.Interface("eth0")
	assert.Equal(t, schema.TypeEthernet, e0.Type)
	assert.Equal(t, schema.StateUp, e0.State)
	assert.Equal(t, 1500, *e0.MTU)
	assert.Equal(t, "52:54:00:AA:BB:CC", e0.MACAddress)
	assert.True(t, *e0.IPv4.Enabled)
	assert.Equal(t, []schema.AddressDoc{{IP: "192.0.2.10", PrefixLength: 24}}, e0.IPv4.Address, "dynamic addresses are not configuration")
	assert.True(t, *e0.IPv6.Enabled)
	assert.Equal(t, []schema.AddressDoc{{IP: "2001:db8::10", PrefixLength: 64}}, e0.IPv6.Address)
	require.NotNil(t, e0.Ethernet)
	assert.Equal(t, 1000, *e0.Ethernet.Speed)
	assert.Equal(t, "full", e0.Ethernet.Duplex)

	e1 := doc.Interface("eth1")
	assert.Equal(t, "52:54:00:00:00:03", e1.MACAddress, "bond slaves report their permanent address")
	assert.Nil(t, e1.Ethernet)
	assert.False(t, *e1.IPv6.Enabled)

	b0 := doc.Interface("bond0")
	assert.Equal(t, schema.TypeBond, b0.Type)
	require.NotNil(t, b0.Bond)
	assert.Equal(t, "active-backup", b0.Bond.Mode)
	assert.Equal(t, []string{"eth1"}, b0.Bond.Slaves)
	assert.Equal(t, []string{"miimon=100", "xmit_hash_policy=layer2"}, b0.Bond.Options.SortedPairs())

	br := doc.Interface("br0")
	assert.Equal(t, schema.TypeLinuxBridge, br.Type)
	assert.Equal(t, schema.StateDown, br.State)
	assert.Empty(t, br.Bridge.Ports)
}

func TestRoutesSplitsConfigAndRunning(t *testing.T) {
	nl := new(MockNetlinker)
	eth0 := &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "eth0", Index: 2}}
	nl.On("LinkList").Return([]netlink.Link{eth0}, nil)

	_, dst, _ := net.ParseCIDR("203.0.113.0/24")
	_, connected, _ := net.ParseCIDR("192.0.2.0/24")
	_, local, _ := net.ParseCIDR("192.0.2.10/32")
	nl.On("RouteListAll", familyV4).Return([]netlink.Route{
		{LinkIndex: 2, Gw: net.ParseIP("192.0.2.1"), Protocol: rtprotBoot, Table: 254, Type: rtnUnicast, Priority: 100, Family: familyV4},
		{LinkIndex: 2, Dst: dst, Gw: net.ParseIP("192.0.2.254"), Protocol: rtprotStatic, Table: 200, Type: rtnUnicast, Family: familyV4},
		{LinkIndex: 2, Dst: connected, Protocol: 2, Table: 254, Type: rtnUnicast, Family: familyV4},
		{LinkIndex: 2, Dst: local, Protocol: 2, Table: 255, Type: 2, Family: familyV4},
	}, nil)
	nl.On("RouteListAll", familyV6).Return([]netlink.Route{}, nil)

	p := newTestPlugin(t, nl, new(MockSystemController))
	sec, err := p.Routes(context.Background())
	require.NoError(t, err)

	require.Len(t, sec.Running, 3, "local table routes are never reported")
	require.Len(t, sec.Config, 2, "kernel routes are not configuration")
	assert.Equal(t, "0.0.0.0/0", sec.Config[0].Destination)
	assert.Equal(t, "eth0", sec.Config[0].NextHopInterface)
	assert.Equal(t, 100, *sec.Config[0].Metric)
	assert.Equal(t, "203.0.113.0/24", sec.Config[1].Destination)
	assert.Equal(t, 200, *sec.Config[1].TableID)
}

func TestRouteRulesSkipsDefaults(t *testing.T) {
	nl := new(MockNetlinker)
	_, src, _ := net.ParseCIDR("192.0.2.0/24")
	nl.On("RuleList", familyV4).Return([]netlink.Rule{
		{Priority: 0, Table: 255},
		{Priority: 100, Table: 200, Src: src},
		{Priority: 32766, Table: 254},
		{Priority: 32767, Table: 253},
	}, nil)
	nl.On("RuleList", familyV6).Return([]netlink.Rule{}, nil)

	p := newTestPlugin(t, nl, new(MockSystemController))
	sec, err := p.RouteRules(context.Background())
	require.NoError(t, err)
	require.Len(t, sec.Config, 1)
	assert.Equal(t, "192.0.2.0/24", sec.Config[0].IPFrom)
	assert.Equal(t, 100, *sec.Config[0].Priority)
	assert.Equal(t, 200, *sec.Config[0].RouteTable)
}

// liveEth0 sets up a single up NIC with one address.
func liveEth0(t *testing.T) (*MockNetlinker, *MockSystemController, *netlink.Device) {
	nl := new(MockNetlinker)
	sys := new(MockSystemController)
	eth0 := &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "eth0", Index: 2, MTU: 1500, Flags: net.FlagUp}}
	nl.On("LinkList").Return([]netlink.Link{eth0}, nil)
	nl.On("AddrList", eth0, familyV4).Return([]netlink.Addr{permAddr(t, "192.0.2.10/24")}, nil)
	nl.On("AddrList", eth0, familyV6).Return([]netlink.Addr{}, nil)
	nl.On("LinkByName", "eth0").Return(eth0, nil)
	sys.On("ReadSysctl", "/proc/sys/net/ipv6/conf/eth0/disable_ipv6").Return("0", nil)
	return nl, sys, eth0
}

func TestApplyChangesQueuesOps(t *testing.T) {
	nl, sys, eth0 := liveEth0(t)
	nl.On("LinkSetMTU", eth0, 9000).Return(nil).Once()
	nl.On("AddrDel", eth0, addrIs("192.0.2.10/24")).Return(nil).Once()
	nl.On("AddrAdd", eth0, addrIs("198.51.100.7/24")).Return(nil).Once()
	nl.On("RouteAdd", mock.MatchedBy(func(r *netlink.Route) bool {
		return r.Dst.String() == "203.0.113.0/24" && r.Gw.String() == "198.51.100.1" &&
			r.LinkIndex == 2 && r.Table == 254 && r.Protocol == rtprotStatic
	})).Return(nil).Once()

	route := schema.RouteDoc{
		Destination:      "203.0.113.0/24",
		NextHopInterface: "eth0",
		NextHopAddress:   "198.51.100.1",
	}
	cs := &netstate.ChangeSet{
		Interfaces: []netstate.ResolvedIface{{
			Doc: schema.InterfaceDoc{
				Name: "eth0", Type: schema.TypeEthernet, State: schema.StateUp, MTU: schema.Ptr(9000),
				IPv4: &schema.IPConfigDoc{
					Enabled: schema.Ptr(true),
					Address: []schema.AddressDoc{{IP: "198.51.100.7", PrefixLength: 24}},
				},
				IPv6: &schema.IPConfigDoc{Enabled: schema.Ptr(true)},
			},
			Routes: netstate.FamilyRoutes{V4: []schema.RouteDoc{route}},
		}},
		Routes: []schema.RouteDoc{route},
	}

	p := newTestPlugin(t, nl, sys)
	require.NoError(t, p.ApplyChanges(context.Background(), cs, true))

	assert.Equal(t, []string{"LinkSetMTU", "AddrDel", "AddrAdd", "RouteAdd"}, methodCalls(&nl.Mock),
		"owned routes are deduplicated against the change-set")
	nl.AssertExpectations(t)
}

func TestApplyChangesStopsAtFirstFailure(t *testing.T) {
	nl, sys, eth0 := liveEth0(t)
	nl.On("LinkSetMTU", eth0, 9000).Return(errors.New("device busy")).Once()

	cs := &netstate.ChangeSet{Interfaces: []netstate.ResolvedIface{{
		Doc: schema.InterfaceDoc{
			Name: "eth0", Type: schema.TypeEthernet, State: schema.StateDown, MTU: schema.Ptr(9000),
		},
	}}}

	p := newTestPlugin(t, nl, sys)
	err := p.ApplyChanges(context.Background(), cs, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to set mtu eth0")
	assert.Contains(t, err.Error(), "device busy")
	nl.AssertNotCalled(t, "LinkSetDown", mock.Anything)
}

func TestApplyChangesPermissionDenied(t *testing.T) {
	nl, sys, eth0 := liveEth0(t)
	nl.On("LinkSetMTU", eth0, 9000).Return(syscall.EPERM).Once()

	cs := &netstate.ChangeSet{Interfaces: []netstate.ResolvedIface{{
		Doc: schema.InterfaceDoc{
			Name: "eth0", Type: schema.TypeEthernet, State: schema.StateUp, MTU: schema.Ptr(9000),
		},
	}}}

	p := newTestPlugin(t, nl, sys)
	err := p.ApplyChanges(context.Background(), cs, false)
	require.Error(t, err)
	assert.Equal(t, errkind.Permission, errkind.KindOf(err))
	assert.Equal(t, 3, errkind.KindOf(err).ExitCode())
	assert.ErrorIs(t, err, syscall.EPERM)
}

func TestApplyChangesRejectsUnsupported(t *testing.T) {
	tests := []struct {
		name string
		doc  schema.InterfaceDoc
		kind errkind.Kind
	}{
		{
			name: "dhcp",
			doc: schema.InterfaceDoc{Name: "eth0", Type: schema.TypeEthernet, State: schema.StateUp,
				IPv4: &schema.IPConfigDoc{Enabled: schema.Ptr(true), DHCP: schema.Ptr(true)}},
			kind: errkind.NotImplemented,
		},
		{
			name: "autoconf",
			doc: schema.InterfaceDoc{Name: "eth0", Type: schema.TypeEthernet, State: schema.StateUp,
				IPv6: &schema.IPConfigDoc{Enabled: schema.Ptr(true), Autoconf: schema.Ptr(true)}},
			kind: errkind.NotImplemented,
		},
		{
			name: "link speed",
			doc: schema.InterfaceDoc{Name: "eth0", Type: schema.TypeEthernet, State: schema.StateUp,
				Ethernet: &schema.EthernetDoc{Speed: schema.Ptr(100)}},
			kind: errkind.NotImplemented,
		},
		{
			name: "ovs",
			doc:  schema.InterfaceDoc{Name: "ovs0", Type: schema.TypeOVSBridge, State: schema.StateUp},
			kind: errkind.NotImplemented,
		},
		{
			name: "bond option",
			doc: schema.InterfaceDoc{Name: "bond0", Type: schema.TypeBond, State: schema.StateUp,
				Bond: &schema.BondDoc{Mode: "balance-rr", Options: schema.BondOptionsFrom("tlb_dynamic_lb", "1")}},
			kind: errkind.Value,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nl, sys, _ := liveEth0(t)
			p := newTestPlugin(t, nl, sys)
			cs := &netstate.ChangeSet{Interfaces: []netstate.ResolvedIface{{Doc: tt.doc}}}
			err := p.ApplyChanges(context.Background(), cs, true)
			require.Error(t, err)
			assert.True(t, errkind.Is(err, tt.kind), "got %v", err)
			assert.Empty(t, methodCalls(&nl.Mock))
		})
	}
}

func TestApplyChangesWritesResolvConf(t *testing.T) {
	nl, sys, _ := liveEth0(t)
	p := newTestPlugin(t, nl, sys)

	cs := &netstate.ChangeSet{DNS: &schema.DNSConfigDoc{
		Server: []string{"192.0.2.53"},
		Search: []string{"example.com"},
	}}
	require.NoError(t, p.ApplyChanges(context.Background(), cs, true))

	sec, err := p.DNSConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.53"}, sec.Config.Server)
	assert.Equal(t, []string{"example.com"}, sec.Running.Search)

	cs.DNS.Search = []string{"bad domain"}
	err = p.ApplyChanges(context.Background(), cs, true)
	assert.True(t, errkind.Is(err, errkind.Value))
}

func TestGenerateConfigurations(t *testing.T) {
	route := schema.RouteDoc{
		Destination:      "0.0.0.0/0",
		NextHopInterface: "bond0",
		NextHopAddress:   "192.0.2.1",
		Metric:           schema.Ptr(100),
	}
	cs := &netstate.ChangeSet{
		Interfaces: []netstate.ResolvedIface{
			{
				Doc: schema.InterfaceDoc{
					Name: "bond0", Type: schema.TypeBond, State: schema.StateUp, MTU: schema.Ptr(9000),
					Bond: &schema.BondDoc{Mode: "802.3ad", Options: schema.BondOptionsFrom("miimon", "100"), Slaves: []string{"eth1"}},
					IPv4: &schema.IPConfigDoc{
						Enabled: schema.Ptr(true),
						Address: []schema.AddressDoc{{IP: "192.0.2.10", PrefixLength: 24}},
					},
				},
				Routes: netstate.FamilyRoutes{V4: []schema.RouteDoc{route}},
				New:    true,
			},
			{
				Doc: schema.InterfaceDoc{
					Name: "eth1", Type: schema.TypeEthernet, State: schema.StateUp,
					Ethernet: &schema.EthernetDoc{Speed: schema.Ptr(1000), Duplex: "full", AutoNegotiation: schema.Ptr(false)},
				},
				Master:     "bond0",
				MasterType: schema.TypeBond,
			},
			{
				Doc: schema.InterfaceDoc{Name: "br0", Type: schema.TypeLinuxBridge, State: schema.StateAbsent},
			},
		},
		Routes:     []schema.RouteDoc{route},
		RouteRules: []schema.RouteRuleDoc{{IPFrom: "192.0.2.0/24", Priority: schema.Ptr(100), RouteTable: schema.Ptr(200)}},
		DNS:        &schema.DNSConfigDoc{Server: []string{"192.0.2.53"}, Search: []string{"example.com"}},
	}

	p := NewPlugin(WithNetlinker(new(MockNetlinker)), WithSystemController(new(MockSystemController)))
	out, err := p.GenerateConfigurations(cs)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"ip link add bond0 type bond mode 802.3ad",
		"ip link set bond0 mtu 9000",
		"ip addr add 192.0.2.10/24 dev bond0",
		"ip link set bond0 up",
		"ip link set eth1 down",
		"ip link set eth1 master bond0",
		"ip link set eth1 up",
		"ip link del br0",
		"ip route add 0.0.0.0/0 via 192.0.2.1 dev bond0 metric 100 proto static",
		"ip rule add from 192.0.2.0/24 priority 100 table 200",
	}, out["ip"])
	assert.Equal(t, []string{"echo 100 > /sys/class/net/bond0/bonding/miimon"}, out["sysctl"])
	assert.Equal(t, []string{"ethtool -s eth1 speed 1000 duplex full autoneg off"}, out["ethtool"])
	assert.Equal(t, []string{"# Generated by hostnet", "search example.com", "nameserver 192.0.2.53"}, out["resolv.conf"])
}

func runBuilder(t *testing.T, current []schema.InterfaceDoc, cs *netstate.ChangeSet) *DryRunNetlinker {
	t.Helper()
	nl := &DryRunNetlinker{}
	b := newOpBuilder(nl, &DryRunSystemController{}, func(*schema.DNSConfigDoc) error { return nil }, current)
	q := scheduler.NewQueue("test", nil)
	require.NoError(t, b.build(q, cs))
	require.NoError(t, q.Run(context.Background(), 0))
	return nl
}

func TestBondModeChangeRecreates(t *testing.T) {
	current := []schema.InterfaceDoc{
		{Name: "bond0", Type: schema.TypeBond, State: schema.StateUp,
			Bond: &schema.BondDoc{Mode: "active-backup", Slaves: []string{"eth1", "eth2"}}},
		{Name: "eth1", Type: schema.TypeEthernet, State: schema.StateUp},
		{Name: "eth2", Type: schema.TypeEthernet, State: schema.StateUp},
	}
	cs := &netstate.ChangeSet{Interfaces: []netstate.ResolvedIface{{
		Doc: schema.InterfaceDoc{Name: "bond0", Type: schema.TypeBond, State: schema.StateUp,
			Bond: &schema.BondDoc{Mode: "802.3ad", Slaves: []string{"eth1", "eth2"}}},
	}}}

	nl := runBuilder(t, current, cs)
	assert.Equal(t, []string{
		"ip link del bond0",
		"ip link add bond0 type bond mode 802.3ad",
		"ip link set eth1 down",
		"ip link set eth1 master bond0",
		"ip link set eth1 up",
		"ip link set eth2 down",
		"ip link set eth2 master bond0",
		"ip link set eth2 up",
		"ip link set bond0 up",
	}, nl.Ops)
}

func TestDetachSlave(t *testing.T) {
	current := []schema.InterfaceDoc{
		{Name: "br0", Type: schema.TypeLinuxBridge, State: schema.StateUp,
			Bridge: &schema.BridgeDoc{Ports: []schema.BridgePortDoc{{Name: "eth1"}}}},
		{Name: "eth1", Type: schema.TypeEthernet, State: schema.StateUp},
	}
	cs := &netstate.ChangeSet{Interfaces: []netstate.ResolvedIface{{
		Doc: schema.InterfaceDoc{Name: "eth1", Type: schema.TypeEthernet, State: schema.StateUp},
	}}}

	nl := runBuilder(t, current, cs)
	assert.Equal(t, []string{"ip link set eth1 nomaster"}, nl.Ops)
}

func TestAbsentEthernetGoesDown(t *testing.T) {
	current := []schema.InterfaceDoc{{Name: "eth1", Type: schema.TypeEthernet, State: schema.StateUp}}
	cs := &netstate.ChangeSet{Interfaces: []netstate.ResolvedIface{{
		Doc: schema.InterfaceDoc{Name: "eth1", Type: schema.TypeEthernet, State: schema.StateAbsent},
	}}}

	nl := runBuilder(t, current, cs)
	assert.Equal(t, []string{"ip link set eth1 down"}, nl.Ops)
}
