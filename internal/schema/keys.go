// Package schema defines the state document exchanged between the CLI,
// the reconciliation engine, and backend plugins.
package schema

// Top-level document keys.
const (
	KeyInterfaces  = "interfaces"
	KeyRoutes      = "routes"
	KeyRouteRules  = "route-rules"
	KeyDNSResolver = "dns-resolver"
	KeyRunning     = "running"
	KeyConfig      = "config"
)

// Interface keys.
const (
	KeyName            = "name"
	KeyType            = "type"
	KeyState           = "state"
	KeyMTU             = "mtu"
	KeyMACAddress      = "mac-address"
	KeyIPv4            = "ipv4"
	KeyIPv6            = "ipv6"
	KeyLinkAggregation = "link-aggregation"
	KeyEthernet        = "ethernet"
	KeyBridge          = "bridge"
)

// InterfaceType is the variant tag of an interface record.
type InterfaceType string

const (
	TypeEthernet     InterfaceType = "ethernet"
	TypeBond         InterfaceType = "bond"
	TypeLinuxBridge  InterfaceType = "linux-bridge"
	TypeOVSBridge    InterfaceType = "ovs-bridge"
	TypeOVSInterface InterfaceType = "ovs-interface"
	TypeUnknown      InterfaceType = "unknown"
)

// IsOVS reports whether t requires virtual-switch support in the backend.
func (t InterfaceType) IsOVS() bool {
	return t == TypeOVSBridge || t == TypeOVSInterface
}

// InterfaceState is the administrative state of an interface.
type InterfaceState string

const (
	StateUp     InterfaceState = "up"
	StateDown   InterfaceState = "down"
	StateAbsent InterfaceState = "absent"
	// StateIgnore marks interfaces the engine must not touch.
	StateIgnore InterfaceState = "ignore"
)

// IsDownOrAbsent reports whether the state takes the interface out of
// service.
func (s InterfaceState) IsDownOrAbsent() bool {
	return s == StateDown || s == StateAbsent
}

// RouteStateAbsent marks a route or rule entry for removal.
const RouteStateAbsent = "absent"

// Well-known routing tables.
const (
	RouteTableMain  = 254
	RouteTableLocal = 255
)

// Bond modes accepted by the kernel bonding driver.
var BondModes = []string{
	"balance-rr",
	"active-backup",
	"balance-xor",
	"broadcast",
	"802.3ad",
	"balance-tlb",
	"balance-alb",
}

// Ethernet duplex values.
const (
	DuplexFull = "full"
	DuplexHalf = "half"
)
