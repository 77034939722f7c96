// Package validation holds field-level validators for state documents.
package validation

import (
	"fmt"
	"net"
	"net/netip"
	"regexp"
	"strings"
)

var (
	// Kernel IFNAMSIZ is 16 including the terminator.
	interfaceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.@-]{1,15}$`)

	// RFC 1123 label, dot separated, optional trailing dot.
	domainRegex = regexp.MustCompile(`^([a-zA-Z0-9_]([a-zA-Z0-9_-]{0,61}[a-zA-Z0-9_])?\.)*[a-zA-Z0-9_]([a-zA-Z0-9_-]{0,61}[a-zA-Z0-9_])?\.?$`)

	// Characters that must never reach a shell or sysfs path
	dangerousChars = []string{";", "|", "&", "$", "`", "(", ")", "<", ">", "\\", "\"", "'", "\n", "\r", "/"}
)

// ValidateInterfaceName validates a network interface name
func ValidateInterfaceName(name string) error {
	if name == "" {
		return fmt.Errorf("interface name cannot be empty")
	}

	if len(name) > 15 {
		return fmt.Errorf("interface name too long (max 15 characters): %s", name)
	}

	if name == "." || name == ".." {
		return fmt.Errorf("invalid interface name: %s", name)
	}

	for _, char := range dangerousChars {
		if strings.Contains(name, char) {
			return fmt.Errorf("interface name contains dangerous character: %q", char)
		}
	}

	if !interfaceNameRegex.MatchString(name) {
		return fmt.Errorf("invalid interface name: %s (must be alphanumeric with -_.@)", name)
	}

	return nil
}

// ValidateIP validates a bare IPv4 or IPv6 address.
func ValidateIP(s string) error {
	if s == "" {
		return fmt.Errorf("IP address cannot be empty")
	}
	if _, err := netip.ParseAddr(s); err != nil {
		return fmt.Errorf("invalid IP address: %s", s)
	}
	return nil
}

// ValidateCIDR validates a prefix such as 198.51.100.0/24 or ::/0.
func ValidateCIDR(s string) error {
	if s == "" {
		return fmt.Errorf("CIDR cannot be empty")
	}
	if _, err := netip.ParsePrefix(s); err != nil {
		return fmt.Errorf("invalid CIDR: %w", err)
	}
	return nil
}

// ValidatePrefixLength checks a prefix length against the family of ip.
func ValidatePrefixLength(ip string, length int) error {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return fmt.Errorf("invalid IP address: %s", ip)
	}
	if length < 0 || length > addr.BitLen() {
		return fmt.Errorf("invalid prefix length %d for %s (must be 0-%d)", length, ip, addr.BitLen())
	}
	return nil
}

// ValidateMAC validates a 48-bit or 64-bit hardware address.
func ValidateMAC(s string) error {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return fmt.Errorf("invalid MAC address: %s", s)
	}
	if len(hw) != 6 && len(hw) != 8 && len(hw) != 20 {
		return fmt.Errorf("unsupported MAC address length: %s", s)
	}
	return nil
}

// ValidateMTU validates an MTU. Zero means unset.
func ValidateMTU(mtu int) error {
	if mtu < 0 || (mtu > 0 && mtu < 68) || mtu > 65536 {
		return fmt.Errorf("invalid MTU: %d (must be 68-65536)", mtu)
	}
	return nil
}

// ValidateSearchDomain validates a DNS search domain.
func ValidateSearchDomain(s string) error {
	if s == "" || len(s) > 253 {
		return fmt.Errorf("invalid search domain: %q", s)
	}
	if !domainRegex.MatchString(s) {
		return fmt.Errorf("invalid search domain: %s", s)
	}
	return nil
}

// ValidateRouteTable validates a routing table id. Zero means unset (main).
func ValidateRouteTable(id int) error {
	if id < 0 || int64(id) > 0xFFFFFFFF {
		return fmt.Errorf("invalid route table id: %d", id)
	}
	return nil
}

// ValidateAllowlist checks if a value is in an allowed list
func ValidateAllowlist(value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("value %q not in allowlist (%s)", value, strings.Join(allowed, ", "))
}
