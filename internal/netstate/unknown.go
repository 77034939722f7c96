package netstate

import "grimm.is/hostnet/internal/schema"

// UnknownIface is an interface whose type has no dedicated variant, or a
// desired record that omitted its type. Raw keeps the record as given so
// it can be re-parsed once the type is known.
type UnknownIface struct {
	BaseIface
	Raw schema.InterfaceDoc
}

func newUnknown(base BaseIface, raw schema.InterfaceDoc) *UnknownIface {
	return &UnknownIface{BaseIface: base, Raw: raw.Clone()}
}

// Dump returns the canonical record; unmodelled keys are passed through.
func (u *UnknownIface) Dump() schema.InterfaceDoc {
	doc := u.dump()
	// Subtrees of known keys given on a typeless record survive until
	// retyping.
	doc.Bond = u.Raw.Bond.Clone()
	doc.Ethernet = u.Raw.Ethernet.Clone()
	doc.Bridge = u.Raw.Bridge.Clone()
	return doc
}

// Sanitize applies base defaults.
func (u *UnknownIface) Sanitize() {
	u.sanitize()
}

// MergeConfig fills unset fields from other.
func (u *UnknownIface) MergeConfig(other Interface) {
	u.mergeFrom(other.Base())
}

// PreMergeValidate has no generic checks.
func (u *UnknownIface) PreMergeValidate(*Ifaces) error { return nil }

// VerifyKeys returns the change-detection identity.
func (u *UnknownIface) VerifyKeys() any {
	if u.isDown() {
		return u.downKeys()
	}
	return u.baseKeys()
}

// Clone returns a deep copy.
func (u *UnknownIface) Clone() Interface {
	return &UnknownIface{BaseIface: u.clone(), Raw: u.Raw.Clone()}
}
