package network

import (
	"github.com/stretchr/testify/mock"
	"github.com/vishvananda/netlink"
)

// result returns return value i of a mocked call, or the zero T when the
// expectation returned nil.
func result[T any](args mock.Arguments, i int) T {
	v, _ := args.Get(i).(T)
	return v
}

// MockNetlinker is a testify mock of Netlinker.
type MockNetlinker struct {
	mock.Mock
}

var _ Netlinker = (*MockNetlinker)(nil)

// Links.

func (m *MockNetlinker) LinkByName(name string) (netlink.Link, error) {
	a := m.Called(name)
	return result[netlink.Link](a, 0), a.Error(1)
}

func (m *MockNetlinker) LinkList() ([]netlink.Link, error) {
	a := m.Called()
	return result[[]netlink.Link](a, 0), a.Error(1)
}

func (m *MockNetlinker) LinkSetUp(link netlink.Link) error   { return m.Called(link).Error(0) }
func (m *MockNetlinker) LinkSetDown(link netlink.Link) error { return m.Called(link).Error(0) }
func (m *MockNetlinker) LinkAdd(link netlink.Link) error     { return m.Called(link).Error(0) }
func (m *MockNetlinker) LinkDel(link netlink.Link) error     { return m.Called(link).Error(0) }

func (m *MockNetlinker) LinkSetMTU(link netlink.Link, mtu int) error {
	return m.Called(link, mtu).Error(0)
}

func (m *MockNetlinker) LinkSetHardwareAddr(link netlink.Link, hwaddr string) error {
	return m.Called(link, hwaddr).Error(0)
}

func (m *MockNetlinker) LinkSetMaster(port, controller netlink.Link) error {
	return m.Called(port, controller).Error(0)
}

func (m *MockNetlinker) LinkSetNoMaster(link netlink.Link) error { return m.Called(link).Error(0) }

// Addresses.

func (m *MockNetlinker) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	a := m.Called(link, family)
	return result[[]netlink.Addr](a, 0), a.Error(1)
}

func (m *MockNetlinker) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	return m.Called(link, addr).Error(0)
}

func (m *MockNetlinker) AddrDel(link netlink.Link, addr *netlink.Addr) error {
	return m.Called(link, addr).Error(0)
}

// Routes and rules.

func (m *MockNetlinker) RouteListAll(family int) ([]netlink.Route, error) {
	a := m.Called(family)
	return result[[]netlink.Route](a, 0), a.Error(1)
}

func (m *MockNetlinker) RouteAdd(route *netlink.Route) error { return m.Called(route).Error(0) }
func (m *MockNetlinker) RouteDel(route *netlink.Route) error { return m.Called(route).Error(0) }

func (m *MockNetlinker) RuleList(family int) ([]netlink.Rule, error) {
	a := m.Called(family)
	return result[[]netlink.Rule](a, 0), a.Error(1)
}

func (m *MockNetlinker) RuleAdd(rule *netlink.Rule) error { return m.Called(rule).Error(0) }
func (m *MockNetlinker) RuleDel(rule *netlink.Rule) error { return m.Called(rule).Error(0) }

// MockSystemController is a testify mock of SystemController.
type MockSystemController struct {
	mock.Mock
}

var _ SystemController = (*MockSystemController)(nil)

func (m *MockSystemController) ReadSysctl(key string) (string, error) {
	a := m.Called(key)
	return a.String(0), a.Error(1)
}

func (m *MockSystemController) WriteSysctl(key, value string) error {
	return m.Called(key, value).Error(0)
}

func (m *MockSystemController) IsNotExist(err error) bool { return m.Called(err).Bool(0) }

// MockLinkInfo is a testify mock of LinkInfoReader.
type MockLinkInfo struct {
	mock.Mock
}

func (m *MockLinkInfo) GetLinkInfo(iface string) (*LinkInfo, error) {
	a := m.Called(iface)
	return result[*LinkInfo](a, 0), a.Error(1)
}
