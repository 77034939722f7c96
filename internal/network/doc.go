// Package network is the kernel backend: it reports and changes Linux
// network state through netlink.
//
// # Overview
//
// [Plugin] implements plugin.Plugin. Links, addresses, routes and policy
// rules are read and written with github.com/vishvananda/netlink; bonding
// options and the per-link IPv6 switch go through sysfs and procfs; the
// resolver configuration is /etc/resolv.conf.
//
// # Applying
//
// A change-set becomes an operation queue (internal/scheduler) in a fixed
// order:
//
//   - create missing bonds and bridges
//   - per interface: MTU, MAC, bond options, master, IPv6 switch,
//     addresses, then up/down or delete
//   - route removals, route additions
//   - rule removals, rule additions
//   - resolv.conf
//
// # Offline rendering
//
// GenerateConfigurations runs the same queue against [DryRunNetlinker]
// and [DryRunSystemController], which record iproute2 and sysctl command
// lines instead of touching the system.
//
// # Testing
//
// Unit tests use [MockNetlinker] and [MockSystemController]. Tests that
// need a real kernel run in a throwaway network namespace and are gated
// by HOSTNET_VM_TEST.
package network
