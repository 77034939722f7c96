package netstate

import (
	"sort"

	"grimm.is/hostnet/internal/errkind"
	"grimm.is/hostnet/internal/schema"
)

// BridgeIface is a linux-bridge or ovs-bridge master.
type BridgeIface struct {
	BaseIface
	// Ports is nil when the port list was not specified.
	Ports []string
}

func newBridge(base BaseIface, doc *schema.BridgeDoc) *BridgeIface {
	b := &BridgeIface{BaseIface: base}
	if doc != nil && doc.Ports != nil {
		b.Ports = make([]string, 0, len(doc.Ports))
		for _, p := range doc.Ports {
			b.Ports = append(b.Ports, p.Name)
		}
	}
	return b
}

// Dump returns the canonical record.
func (b *BridgeIface) Dump() schema.InterfaceDoc {
	doc := b.dump()
	if b.Ports != nil {
		doc.Bridge = &schema.BridgeDoc{Ports: make([]schema.BridgePortDoc, 0, len(b.Ports))}
		for _, p := range b.Ports {
			doc.Bridge.Ports = append(doc.Bridge.Ports, schema.BridgePortDoc{Name: p})
		}
	}
	return doc
}

// Sanitize deduplicates ports.
func (b *BridgeIface) Sanitize() {
	b.sanitize()
	if b.Ports == nil {
		return
	}
	seen := make(map[string]bool, len(b.Ports))
	out := make([]string, 0, len(b.Ports))
	for _, p := range b.Ports {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	b.Ports = out
}

// MergeConfig fills unset fields from other.
func (b *BridgeIface) MergeConfig(other Interface) {
	b.mergeFrom(other.Base())
	if o, ok := other.(*BridgeIface); ok && b.Ports == nil && o.Ports != nil {
		b.Ports = append([]string{}, o.Ports...)
	}
}

// PreMergeValidate rejects ports that the same document takes down.
func (b *BridgeIface) PreMergeValidate(desired *Ifaces) error {
	if b.State.IsDownOrAbsent() {
		return nil
	}
	for _, p := range b.Ports {
		port := desired.Get(p)
		if port == nil {
			continue
		}
		if st := port.Base().State; st.IsDownOrAbsent() {
			return errkind.Valuef("%s %s: port %s is %s, ports of an active bridge must be up", b.IfType, b.IfName, p, st)
		}
	}
	return nil
}

// SlaveNames returns the bridge ports.
func (b *BridgeIface) SlaveNames() []string { return b.Ports }

// IsMaster is true for bridges.
func (b *BridgeIface) IsMaster() bool { return true }

type bridgeKeys struct {
	baseKeys
	Ports []string
}

// VerifyKeys compares ports as a set.
func (b *BridgeIface) VerifyKeys() any {
	if b.isDown() {
		return b.downKeys()
	}
	k := bridgeKeys{baseKeys: b.baseKeys()}
	if len(b.Ports) > 0 {
		k.Ports = append([]string{}, b.Ports...)
		sort.Strings(k.Ports)
	}
	return k
}

// Clone returns a deep copy.
func (b *BridgeIface) Clone() Interface {
	c := &BridgeIface{BaseIface: b.clone()}
	if b.Ports != nil {
		c.Ports = append([]string{}, b.Ports...)
	}
	return c
}
