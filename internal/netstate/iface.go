package netstate

import (
	"fmt"
	"reflect"
	"strings"

	"grimm.is/hostnet/internal/errkind"
	"grimm.is/hostnet/internal/logging"
	"grimm.is/hostnet/internal/schema"
)

// Interface is one interface record. Variants are selected by type tag;
// unrecognized types use UnknownIface, which carries the raw record.
type Interface interface {
	Name() string
	Type() schema.InterfaceType
	Base() *BaseIface
	// Dump returns the canonical record. Relationship metadata is never
	// part of a dump.
	Dump() schema.InterfaceDoc
	// Sanitize applies defaults then type-specific invariants.
	Sanitize()
	// MergeConfig fills every field left unset from other, recursing
	// into IP configuration.
	MergeConfig(other Interface)
	// PreMergeValidate cross-checks the record against the rest of the
	// desired document before anything is merged.
	PreMergeValidate(desired *Ifaces) error
	// SlaveNames returns the declared slaves of a master, nil when the
	// list is unspecified or the interface is not a master.
	SlaveNames() []string
	IsMaster() bool
	// VerifyKeys is the change-detection identity.
	VerifyKeys() any
	Clone() Interface
}

// BaseIface holds the fields shared by every variant.
type BaseIface struct {
	IfName     string
	IfType     schema.InterfaceType
	State      schema.InterfaceState
	MTU        *int
	MACAddress string
	IPv4       *IPConfig
	IPv6       *IPConfig
	// Extra keeps record keys no variant models.
	Extra map[string]any
}

var log = logging.WithComponent("netstate")

// FromDoc builds the variant matching doc.Type.
func FromDoc(doc schema.InterfaceDoc) (Interface, error) {
	base, err := baseFromDoc(doc)
	if err != nil {
		return nil, errkind.Valuef("interface %s: %v", doc.Name, err)
	}

	switch doc.Type {
	case schema.TypeEthernet:
		return newEthernet(base, doc.Ethernet), nil
	case schema.TypeBond:
		return newBond(base, doc.Bond), nil
	case schema.TypeLinuxBridge, schema.TypeOVSBridge:
		return newBridge(base, doc.Bridge), nil
	case "", schema.TypeOVSInterface, schema.TypeUnknown:
		return newUnknown(base, doc), nil
	default:
		log.Warn("unknown interface type, handling as generic interface", "iface", doc.Name, "type", doc.Type)
		return newUnknown(base, doc), nil
	}
}

func baseFromDoc(doc schema.InterfaceDoc) (BaseIface, error) {
	b := BaseIface{
		IfName:     doc.Name,
		IfType:     doc.Type,
		State:      doc.State,
		MTU:        cloneInt(doc.MTU),
		MACAddress: doc.MACAddress,
		Extra:      cloneExtra(doc.Extra),
	}
	var err error
	if b.IPv4, err = ipConfigFromDoc(IPv4, doc.IPv4); err != nil {
		return b, err
	}
	if b.IPv6, err = ipConfigFromDoc(IPv6, doc.IPv6); err != nil {
		return b, err
	}
	return b, nil
}

// Name returns the interface name.
func (b *BaseIface) Name() string { return b.IfName }

// Type returns the interface type.
func (b *BaseIface) Type() schema.InterfaceType { return b.IfType }

// Base returns the shared fields.
func (b *BaseIface) Base() *BaseIface { return b }

// SlaveNames is nil for non-master variants.
func (b *BaseIface) SlaveNames() []string { return nil }

// IsMaster is false for non-master variants.
func (b *BaseIface) IsMaster() bool { return false }

// IP returns the configuration of one family.
func (b *BaseIface) IP(fam Family) *IPConfig {
	if fam == IPv6 {
		return b.IPv6
	}
	return b.IPv4
}

func (b *BaseIface) defaults() {
	if b.State == "" {
		b.State = schema.StateUp
	}
	if b.IPv4 == nil {
		b.IPv4 = &IPConfig{Family: IPv4}
	}
	if b.IPv6 == nil {
		b.IPv6 = &IPConfig{Family: IPv6}
	}
}

func (b *BaseIface) sanitize() {
	b.defaults()
	b.MACAddress = strings.ToUpper(b.MACAddress)
	b.IPv4.Sanitize()
	b.IPv6.Sanitize()
}

func (b *BaseIface) mergeFrom(o *BaseIface) {
	if b.IfType == "" {
		b.IfType = o.IfType
	}
	if b.State == "" {
		b.State = o.State
	}
	if b.MTU == nil {
		b.MTU = cloneInt(o.MTU)
	}
	if b.MACAddress == "" {
		b.MACAddress = o.MACAddress
	}
	if b.IPv4 == nil {
		b.IPv4 = o.IPv4.Clone()
	} else {
		b.IPv4.MergeFrom(o.IPv4)
	}
	if b.IPv6 == nil {
		b.IPv6 = o.IPv6.Clone()
	} else {
		b.IPv6.MergeFrom(o.IPv6)
	}
	for k, v := range o.Extra {
		if _, ok := b.Extra[k]; !ok {
			if b.Extra == nil {
				b.Extra = make(map[string]any)
			}
			b.Extra[k] = cloneValue(v)
		}
	}
}

func (b *BaseIface) dump() schema.InterfaceDoc {
	return schema.InterfaceDoc{
		Name:       b.IfName,
		Type:       b.IfType,
		State:      b.State,
		MTU:        cloneInt(b.MTU),
		MACAddress: b.MACAddress,
		IPv4:       b.IPv4.Doc(),
		IPv6:       b.IPv6.Doc(),
		Extra:      cloneExtra(b.Extra),
	}
}

func (b *BaseIface) clone() BaseIface {
	c := *b
	c.MTU = cloneInt(b.MTU)
	c.IPv4 = b.IPv4.Clone()
	c.IPv6 = b.IPv6.Clone()
	c.Extra = cloneExtra(b.Extra)
	return c
}

type downKeys struct {
	Name  string
	Type  schema.InterfaceType
	State schema.InterfaceState
}

type baseKeys struct {
	Name  string
	Type  schema.InterfaceType
	State schema.InterfaceState
	MTU   *int
	MAC   string
	IPv4  ipKeys
	IPv6  ipKeys
	Extra map[string]any
}

// isDown reports whether only name, type and state take part in
// verification.
func (b *BaseIface) isDown() bool {
	return b.State == schema.StateDown || b.State == schema.StateAbsent
}

func (b *BaseIface) downKeys() downKeys {
	return downKeys{Name: b.IfName, Type: b.IfType, State: b.State}
}

func (b *BaseIface) baseKeys() baseKeys {
	k := baseKeys{
		Name:  b.IfName,
		Type:  b.IfType,
		State: b.State,
		MTU:   cloneInt(b.MTU),
		MAC:   strings.ToUpper(b.MACAddress),
		IPv4:  b.IPv4.verifyKeys(),
		IPv6:  b.IPv6.verifyKeys(),
	}
	if len(b.Extra) > 0 {
		k.Extra = b.Extra
	}
	return k
}

// Equal reports whether a and b have identical verify keys.
func Equal(a, b Interface) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(a.VerifyKeys(), b.VerifyKeys())
}

// retype rebuilds a typeless desired record as the type found in
// current state.
func retype(iface Interface, t schema.InterfaceType) (Interface, error) {
	u, ok := iface.(*UnknownIface)
	if !ok || u.IfType != "" {
		return iface, nil
	}
	doc := u.Raw.Clone()
	doc.Type = t
	n, err := FromDoc(doc)
	if err != nil {
		return nil, err
	}
	// Keep state already resolved on the typeless record.
	n.Base().State = u.State
	return n, nil
}

func describe(iface Interface) string {
	return fmt.Sprintf("%s (%s)", iface.Name(), iface.Type())
}

func cloneExtra(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if x == nil {
			return x
		}
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	}
	return v
}
