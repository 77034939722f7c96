package network

import (
	"fmt"
	"strings"
)

// ipv6DisablePath is the per-link switch for IPv6. Dots in interface
// names are written as slashes in dotted sysctl notation, so the
// absolute path is used.
func ipv6DisablePath(iface string) string {
	return fmt.Sprintf("/proc/sys/net/ipv6/conf/%s/disable_ipv6", iface)
}

// bondingPath is a bonding driver attribute in sysfs.
func bondingPath(bond, option string) string {
	return fmt.Sprintf("/sys/class/net/%s/bonding/%s", bond, option)
}

// ipv6Enabled reports whether IPv6 is enabled on iface. ok is false
// when the switch cannot be read, for instance when IPv6 is compiled out.
func ipv6Enabled(sys SystemController, iface string) (enabled, ok bool) {
	val, err := sys.ReadSysctl(ipv6DisablePath(iface))
	if err != nil {
		return false, false
	}
	return val == "0", true
}

// setIPv6Enabled flips the per-link IPv6 switch.
func setIPv6Enabled(sys SystemController, iface string, enabled bool) error {
	val := "1"
	if enabled {
		val = "0"
	}
	if err := sys.WriteSysctl(ipv6DisablePath(iface), val); err != nil {
		if !enabled && sys.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to set IPv6 on %s: %w", iface, err)
	}
	return nil
}

// readBondOption returns the value of a bonding attribute. Attributes
// like xmit_hash_policy read back as "layer2 0"; only the name is kept.
func readBondOption(sys SystemController, bond, option string) (string, bool) {
	val, err := sys.ReadSysctl(bondingPath(bond, option))
	if err != nil {
		return "", false
	}
	fields := strings.Fields(val)
	if len(fields) == 0 {
		return "", true
	}
	return fields[0], true
}

// writeBondOption sets a bonding attribute.
func writeBondOption(sys SystemController, bond, option, value string) error {
	if err := sys.WriteSysctl(bondingPath(bond, option), value); err != nil {
		return fmt.Errorf("failed to set bond %s option %s=%s: %w", bond, option, value, err)
	}
	return nil
}
