package netstate

import (
	"sort"

	"grimm.is/hostnet/internal/errkind"
	"grimm.is/hostnet/internal/schema"
)

// BondIface is a kernel bonding master.
type BondIface struct {
	BaseIface
	Mode    string
	Options *schema.BondOptions
	// Slaves is nil when the slave list was not specified.
	Slaves []string
}

func newBond(base BaseIface, doc *schema.BondDoc) *BondIface {
	b := &BondIface{BaseIface: base}
	if doc != nil {
		b.Mode = doc.Mode
		b.Options = doc.Options.Clone()
		if doc.Slaves != nil {
			b.Slaves = append([]string{}, doc.Slaves...)
		}
	}
	return b
}

// Dump returns the canonical record.
func (b *BondIface) Dump() schema.InterfaceDoc {
	doc := b.dump()
	doc.Bond = &schema.BondDoc{
		Mode:    b.Mode,
		Options: b.Options.Clone(),
	}
	if b.Slaves != nil {
		doc.Bond.Slaves = append([]string{}, b.Slaves...)
	}
	return doc
}

// Sanitize deduplicates the slave list and drops a redundant "mode"
// option.
func (b *BondIface) Sanitize() {
	b.sanitize()
	if b.Slaves != nil {
		seen := make(map[string]bool, len(b.Slaves))
		out := make([]string, 0, len(b.Slaves))
		for _, s := range b.Slaves {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
		b.Slaves = out
	}
	if m, ok := b.Options.Get("mode"); ok {
		if b.Mode == "" {
			b.Mode = m
		}
		b.Options.Delete("mode")
	}
}

// MergeConfig fills unset fields from other. Options are merged per key
// only when both sides run the same mode; a mode change resets options
// to the desired ones.
func (b *BondIface) MergeConfig(other Interface) {
	b.mergeFrom(other.Base())
	o, ok := other.(*BondIface)
	if !ok {
		return
	}
	if b.Slaves == nil && o.Slaves != nil {
		b.Slaves = append([]string{}, o.Slaves...)
	}
	if b.Mode == "" {
		b.Mode = o.Mode
		if b.Options == nil {
			b.Options = o.Options.Clone()
			return
		}
	}
	if b.Mode != o.Mode || o.Options == nil {
		return
	}
	if b.Options == nil {
		b.Options = o.Options.Clone()
		return
	}
	for _, k := range o.Options.Keys() {
		if _, set := b.Options.Get(k); !set {
			v, _ := o.Options.Get(k)
			b.Options.Set(k, v)
		}
	}
}

// PreMergeValidate rejects slaves that the same document takes down.
func (b *BondIface) PreMergeValidate(desired *Ifaces) error {
	if b.State.IsDownOrAbsent() {
		return nil
	}
	for _, s := range b.Slaves {
		slave := desired.Get(s)
		if slave == nil {
			continue
		}
		if st := slave.Base().State; st.IsDownOrAbsent() {
			return errkind.Valuef("bond %s: slave %s is %s, slaves of an active bond must be up", b.IfName, s, st)
		}
	}
	return nil
}

// SlaveNames returns the declared slaves.
func (b *BondIface) SlaveNames() []string { return b.Slaves }

// IsMaster is true for bonds.
func (b *BondIface) IsMaster() bool { return true }

type bondKeys struct {
	baseKeys
	Mode    string
	Options []string
	Slaves  []string
}

// VerifyKeys compares options and slaves independent of their order.
func (b *BondIface) VerifyKeys() any {
	if b.isDown() {
		return b.downKeys()
	}
	k := bondKeys{
		baseKeys: b.baseKeys(),
		Mode:     b.Mode,
		Options:  b.Options.SortedPairs(),
	}
	if len(b.Slaves) > 0 {
		k.Slaves = append([]string{}, b.Slaves...)
		sort.Strings(k.Slaves)
	}
	return k
}

// Clone returns a deep copy.
func (b *BondIface) Clone() Interface {
	c := &BondIface{
		BaseIface: b.clone(),
		Mode:      b.Mode,
		Options:   b.Options.Clone(),
	}
	if b.Slaves != nil {
		c.Slaves = append([]string{}, b.Slaves...)
	}
	return c
}
