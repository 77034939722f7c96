package netstate

import "grimm.is/hostnet/internal/schema"

// EthernetIface is a physical NIC.
type EthernetIface struct {
	BaseIface
	Speed   *int
	Duplex  string
	AutoNeg *bool
}

func newEthernet(base BaseIface, doc *schema.EthernetDoc) *EthernetIface {
	e := &EthernetIface{BaseIface: base}
	if doc != nil {
		e.Speed = cloneInt(doc.Speed)
		e.Duplex = doc.Duplex
		e.AutoNeg = cloneBool(doc.AutoNegotiation)
	}
	return e
}

// Dump returns the canonical record.
func (e *EthernetIface) Dump() schema.InterfaceDoc {
	doc := e.dump()
	if e.Speed != nil || e.Duplex != "" || e.AutoNeg != nil {
		doc.Ethernet = &schema.EthernetDoc{
			Speed:           cloneInt(e.Speed),
			Duplex:          e.Duplex,
			AutoNegotiation: cloneBool(e.AutoNeg),
		}
	}
	return doc
}

// Sanitize drops speed and duplex when auto-negotiation is on; the link
// partner decides them.
func (e *EthernetIface) Sanitize() {
	e.sanitize()
	if isTrue(e.AutoNeg) {
		e.Speed = nil
		e.Duplex = ""
	}
}

// MergeConfig fills unset fields from other.
func (e *EthernetIface) MergeConfig(other Interface) {
	e.mergeFrom(other.Base())
	o, ok := other.(*EthernetIface)
	if !ok {
		return
	}
	if e.AutoNeg == nil {
		e.AutoNeg = cloneBool(o.AutoNeg)
	}
	if isTrue(e.AutoNeg) {
		return
	}
	if e.Speed == nil {
		e.Speed = cloneInt(o.Speed)
	}
	if e.Duplex == "" {
		e.Duplex = o.Duplex
	}
}

// PreMergeValidate has no ethernet-specific checks.
func (e *EthernetIface) PreMergeValidate(*Ifaces) error { return nil }

type ethernetKeys struct {
	baseKeys
	Speed   *int
	Duplex  string
	AutoNeg *bool
}

// VerifyKeys returns the change-detection identity.
func (e *EthernetIface) VerifyKeys() any {
	if e.isDown() {
		return e.downKeys()
	}
	return ethernetKeys{
		baseKeys: e.baseKeys(),
		Speed:    cloneInt(e.Speed),
		Duplex:   e.Duplex,
		AutoNeg:  cloneBool(e.AutoNeg),
	}
}

// Clone returns a deep copy.
func (e *EthernetIface) Clone() Interface {
	return &EthernetIface{
		BaseIface: e.clone(),
		Speed:     cloneInt(e.Speed),
		Duplex:    e.Duplex,
		AutoNeg:   cloneBool(e.AutoNeg),
	}
}
