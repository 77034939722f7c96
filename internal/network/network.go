package network

import (
	"github.com/vishvananda/netlink"
)

// Netlinker is an interface that abstracts netlink interactions.
type Netlinker interface {
	LinkByName(name string) (netlink.Link, error)
	LinkList() ([]netlink.Link, error)
	LinkSetUp(link netlink.Link) error
	LinkSetDown(link netlink.Link) error
	LinkSetMTU(link netlink.Link, mtu int) error
	LinkSetHardwareAddr(link netlink.Link, hwaddr string) error
	LinkSetMaster(slave, master netlink.Link) error
	LinkSetNoMaster(link netlink.Link) error
	LinkAdd(link netlink.Link) error
	LinkDel(link netlink.Link) error

	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)
	AddrAdd(link netlink.Link, addr *netlink.Addr) error
	AddrDel(link netlink.Link, addr *netlink.Addr) error

	// RouteListAll lists the routes of every table.
	RouteListAll(family int) ([]netlink.Route, error)
	RouteAdd(route *netlink.Route) error
	RouteDel(route *netlink.Route) error

	RuleList(family int) ([]netlink.Rule, error)
	RuleAdd(rule *netlink.Rule) error
	RuleDel(rule *netlink.Rule) error
}

// SystemController is an interface that abstracts system-level operations like sysctl.
type SystemController interface {
	ReadSysctl(path string) (string, error)
	WriteSysctl(path, value string) error
	IsNotExist(err error) bool
}

// LinkInfo contains link speed and settings.
type LinkInfo struct {
	Speed   uint32 // Mb/s, 0 when unknown
	Duplex  string // "full", "half", "unknown"
	Autoneg bool
}

// LinkInfoReader reads ethernet link settings.
type LinkInfoReader interface {
	GetLinkInfo(iface string) (*LinkInfo, error)
}

// Kernel constants shared by the backend and its dry-run rendering. The
// values are those of AF_INET, AF_INET6 and rtnetlink.h on Linux.
const (
	familyV4 = 2
	familyV6 = 10

	rtTableUnspec = 0

	rtprotBoot   = 3
	rtprotStatic = 4
	rtnUnicast   = 1

	ifaFPermanent = 0x80
)

// Default rules every kernel installs; they are never reported or
// touched.
var defaultRulePriorities = map[int]bool{0: true, 32766: true, 32767: true}
