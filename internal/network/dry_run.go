package network

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/vishvananda/netlink"
)

// DryRunSystemController records sysctl and sysfs writes as shell
// commands. Nothing can be read back.
type DryRunSystemController struct {
	mu     sync.Mutex
	Writes []string
}

func (s *DryRunSystemController) ReadSysctl(path string) (string, error) {
	return "", os.ErrNotExist
}

func (s *DryRunSystemController) WriteSysctl(path, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.HasPrefix(path, "/proc/sys/") {
		key := strings.ReplaceAll(strings.TrimPrefix(path, "/proc/sys/"), "/", ".")
		s.Writes = append(s.Writes, fmt.Sprintf("sysctl -w %s=%s", key, value))
		return nil
	}
	if strings.HasPrefix(path, "/") {
		s.Writes = append(s.Writes, fmt.Sprintf("echo %s > %s", value, path))
		return nil
	}
	s.Writes = append(s.Writes, fmt.Sprintf("sysctl -w %s=%s", path, value))
	return nil
}

func (s *DryRunSystemController) IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

// DryRunNetlinker records netlink operations as iproute2 commands.
// Every looked-up link exists; indexes are handed out on first use so
// routes can be rendered with their device.
type DryRunNetlinker struct {
	mu    sync.Mutex
	Ops   []string
	index map[string]int
	names map[int]string
}

func (n *DryRunNetlinker) log(format string, args ...any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Ops = append(n.Ops, "ip "+fmt.Sprintf(format, args...))
}

func (n *DryRunNetlinker) indexOf(name string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.index == nil {
		n.index = make(map[string]int)
		n.names = make(map[int]string)
	}
	if idx, ok := n.index[name]; ok {
		return idx
	}
	idx := len(n.index) + 1
	n.index[name] = idx
	n.names[idx] = name
	return idx
}

func (n *DryRunNetlinker) nameOf(idx int) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.names[idx]
}

func (n *DryRunNetlinker) LinkByName(name string) (netlink.Link, error) {
	return &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: name, Index: n.indexOf(name)}}, nil
}

func (n *DryRunNetlinker) LinkList() ([]netlink.Link, error) { return nil, nil }

func (n *DryRunNetlinker) LinkSetUp(link netlink.Link) error {
	n.log("link set %s up", link.Attrs().Name)
	return nil
}

func (n *DryRunNetlinker) LinkSetDown(link netlink.Link) error {
	n.log("link set %s down", link.Attrs().Name)
	return nil
}

func (n *DryRunNetlinker) LinkSetMTU(link netlink.Link, mtu int) error {
	n.log("link set %s mtu %d", link.Attrs().Name, mtu)
	return nil
}

func (n *DryRunNetlinker) LinkSetHardwareAddr(link netlink.Link, hwaddr string) error {
	n.log("link set %s address %s", link.Attrs().Name, hwaddr)
	return nil
}

func (n *DryRunNetlinker) LinkSetMaster(slave, master netlink.Link) error {
	n.log("link set %s master %s", slave.Attrs().Name, master.Attrs().Name)
	return nil
}

func (n *DryRunNetlinker) LinkSetNoMaster(link netlink.Link) error {
	n.log("link set %s nomaster", link.Attrs().Name)
	return nil
}

func (n *DryRunNetlinker) LinkAdd(link netlink.Link) error {
	n.indexOf(link.Attrs().Name)
	if bond, ok := link.(*netlink.Bond); ok {
		n.log("link add %s type bond mode %s", bond.Name, bond.Mode)
		return nil
	}
	n.log("link add %s type %s", link.Attrs().Name, link.Type())
	return nil
}

func (n *DryRunNetlinker) LinkDel(link netlink.Link) error {
	n.log("link del %s", link.Attrs().Name)
	return nil
}

func (n *DryRunNetlinker) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	return nil, nil
}

func (n *DryRunNetlinker) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	n.log("%saddr add %s dev %s", familyFlag(addr.IP.To4() == nil), addr.IPNet, link.Attrs().Name)
	return nil
}

func (n *DryRunNetlinker) AddrDel(link netlink.Link, addr *netlink.Addr) error {
	n.log("%saddr del %s dev %s", familyFlag(addr.IP.To4() == nil), addr.IPNet, link.Attrs().Name)
	return nil
}

func (n *DryRunNetlinker) RouteListAll(family int) ([]netlink.Route, error) {
	return nil, nil
}

func (n *DryRunNetlinker) RouteAdd(route *netlink.Route) error {
	n.log("%s", n.routeArgs("add", route))
	return nil
}

func (n *DryRunNetlinker) RouteDel(route *netlink.Route) error {
	n.log("%s", n.routeArgs("del", route))
	return nil
}

func (n *DryRunNetlinker) RuleList(family int) ([]netlink.Rule, error) { return nil, nil }

func (n *DryRunNetlinker) RuleAdd(rule *netlink.Rule) error {
	n.log("%s", ruleArgs("add", rule))
	return nil
}

func (n *DryRunNetlinker) RuleDel(rule *netlink.Rule) error {
	n.log("%s", ruleArgs("del", rule))
	return nil
}

func familyFlag(v6 bool) string {
	if v6 {
		return "-6 "
	}
	return ""
}

// routeArgs renders a route the way "ip route" takes it.
func (n *DryRunNetlinker) routeArgs(verb string, r *netlink.Route) string {
	args := []string{familyFlag(r.Family == familyV6) + "route", verb}
	if r.Dst != nil {
		args = append(args, r.Dst.String())
	} else {
		args = append(args, "default")
	}
	if r.Gw != nil {
		args = append(args, "via", r.Gw.String())
	}
	if name := n.nameOf(r.LinkIndex); name != "" {
		args = append(args, "dev", name)
	}
	if r.Priority > 0 {
		args = append(args, "metric", fmt.Sprint(r.Priority))
	}
	if r.Table > 0 && r.Table != 254 {
		args = append(args, "table", fmt.Sprint(r.Table))
	}
	if r.Protocol == rtprotStatic {
		args = append(args, "proto", "static")
	}
	return strings.Join(args, " ")
}

// ruleArgs renders a rule the way "ip rule" takes it.
func ruleArgs(verb string, r *netlink.Rule) string {
	args := []string{familyFlag(r.Family == familyV6) + "rule", verb}
	if r.Src != nil {
		args = append(args, "from", r.Src.String())
	} else {
		args = append(args, "from", "all")
	}
	if r.Dst != nil {
		args = append(args, "to", r.Dst.String())
	}
	if r.Priority >= 0 {
		args = append(args, "priority", fmt.Sprint(r.Priority))
	}
	if r.Table > 0 {
		args = append(args, "table", fmt.Sprint(r.Table))
	}
	return strings.Join(args, " ")
}
