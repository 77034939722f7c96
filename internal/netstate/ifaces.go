package netstate

import (
	"sort"

	"grimm.is/hostnet/internal/errkind"
	"grimm.is/hostnet/internal/schema"
)

// Link is the derived master relationship of a slave interface. The zero
// value means "no master".
type Link struct {
	Master     string
	MasterType schema.InterfaceType
}

// Ifaces is a name-indexed set of interfaces from one snapshot. The
// master/slave relationship is kept in a separate index, never on the
// records themselves.
type Ifaces struct {
	byName map[string]Interface
	// specified holds names that came from the caller's document, as
	// opposed to ones copied in from current state.
	specified map[string]bool
	// userSlaves holds masters whose slave list the caller gave.
	userSlaves map[string]bool
	links      map[string]Link
}

// NewIfaces builds a collection from document records.
func NewIfaces(docs []schema.InterfaceDoc) (*Ifaces, error) {
	ifs := &Ifaces{
		byName:     make(map[string]Interface, len(docs)),
		specified:  make(map[string]bool, len(docs)),
		userSlaves: make(map[string]bool),
		links:      make(map[string]Link),
	}
	for _, doc := range docs {
		if _, dup := ifs.byName[doc.Name]; dup {
			return nil, errkind.Valuef("interface %s is defined more than once", doc.Name)
		}
		iface, err := FromDoc(doc)
		if err != nil {
			return nil, err
		}
		ifs.byName[doc.Name] = iface
		ifs.specified[doc.Name] = true
		if iface.SlaveNames() != nil {
			ifs.userSlaves[doc.Name] = true
		}
	}
	return ifs, nil
}

// Get returns the named interface or nil.
func (ifs *Ifaces) Get(name string) Interface {
	return ifs.byName[name]
}

// Len returns the number of interfaces.
func (ifs *Ifaces) Len() int {
	return len(ifs.byName)
}

// Names returns interface names in sorted order.
func (ifs *Ifaces) Names() []string {
	names := make([]string, 0, len(ifs.byName))
	for n := range ifs.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IsSpecified reports whether the caller's document named the interface.
func (ifs *Ifaces) IsSpecified(name string) bool {
	return ifs.specified[name]
}

// SlavesSpecified reports whether the caller gave the master's slave list.
func (ifs *Ifaces) SlavesSpecified(master string) bool {
	return ifs.userSlaves[master]
}

func (ifs *Ifaces) set(iface Interface) {
	ifs.byName[iface.Name()] = iface
}

// Remove deletes an interface from the collection.
func (ifs *Ifaces) Remove(name string) {
	delete(ifs.byName, name)
	delete(ifs.specified, name)
	delete(ifs.userSlaves, name)
	delete(ifs.links, name)
}

// Clone returns a deep copy, including the relationship index.
func (ifs *Ifaces) Clone() *Ifaces {
	c := &Ifaces{
		byName:     make(map[string]Interface, len(ifs.byName)),
		specified:  make(map[string]bool, len(ifs.specified)),
		userSlaves: make(map[string]bool, len(ifs.userSlaves)),
		links:      make(map[string]Link, len(ifs.links)),
	}
	for n, iface := range ifs.byName {
		c.byName[n] = iface.Clone()
	}
	for n := range ifs.specified {
		c.specified[n] = true
	}
	for n := range ifs.userSlaves {
		c.userSlaves[n] = true
	}
	for n, l := range ifs.links {
		c.links[n] = l
	}
	return c
}

// PreMergeValidate runs every record's own cross-checks against the
// caller's document.
func (ifs *Ifaces) PreMergeValidate() error {
	for _, name := range ifs.Names() {
		if err := ifs.byName[name].PreMergeValidate(ifs); err != nil {
			return err
		}
	}
	return nil
}

// MergeConfig copies interfaces only present in current into the
// collection and fills unset fields of the others from current.
func (ifs *Ifaces) MergeConfig(current *Ifaces) error {
	for _, name := range current.Names() {
		cur := current.Get(name)
		d, ok := ifs.byName[name]
		if !ok {
			ifs.set(cur.Clone())
			continue
		}

		if d.Type() == "" {
			retyped, err := retype(d, cur.Type())
			if err != nil {
				return err
			}
			d = retyped
			ifs.set(d)
			if d.SlaveNames() != nil {
				ifs.userSlaves[name] = true
			}
		} else if d.Type() != cur.Type() && d.Base().State != schema.StateAbsent {
			return errkind.Valuef("interface %s exists as %s, cannot change its type to %s",
				name, cur.Type(), d.Type())
		}
		d.MergeConfig(cur)
	}
	ifs.releaseClaimedSlaves()
	return nil
}

// releaseClaimedSlaves drops slaves from slave lists inherited from
// current when a master the caller gave a slave list claims them.
func (ifs *Ifaces) releaseClaimedSlaves() {
	claimed := make(map[string]string)
	for name := range ifs.userSlaves {
		master := ifs.byName[name]
		if master == nil || master.Base().State.IsDownOrAbsent() {
			continue
		}
		for _, s := range master.SlaveNames() {
			claimed[s] = name
		}
	}
	if len(claimed) == 0 {
		return
	}

	for _, name := range ifs.Names() {
		master := ifs.byName[name]
		if ifs.userSlaves[name] || !master.IsMaster() || master.SlaveNames() == nil {
			continue
		}
		kept := []string{}
		for _, s := range master.SlaveNames() {
			if owner, ok := claimed[s]; ok {
				log.Info("releasing slave claimed by another master", "iface", s, "from", name, "to", owner)
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == len(master.SlaveNames()) {
			continue
		}
		switch m := master.(type) {
		case *BondIface:
			m.Slaves = kept
		case *BridgeIface:
			m.Ports = kept
		}
	}
}

// Sanitize sanitizes every record, then forces the declared slaves of
// every up master up.
func (ifs *Ifaces) Sanitize() {
	ifs.sanitizeRecords()
	for _, name := range ifs.Names() {
		master := ifs.byName[name]
		if !master.IsMaster() || master.Base().State != schema.StateUp {
			continue
		}
		for _, s := range master.SlaveNames() {
			slave := ifs.byName[s]
			if slave == nil {
				continue
			}
			b := slave.Base()
			if b.State != schema.StateAbsent && b.State != schema.StateIgnore && b.State != schema.StateUp {
				log.Info("bringing up slave of active master", "iface", s, "master", name, "was", b.State)
				b.State = schema.StateUp
			}
		}
	}
}

// sanitizeRecords sanitizes each record in isolation. Current state uses
// only this, since it must describe the system as it is.
func (ifs *Ifaces) sanitizeRecords() {
	for _, iface := range ifs.byName {
		iface.Sanitize()
	}
}

// UpdateSlaveIfaces rebuilds the relationship index: every link is
// cleared first, then each up master stamps its declared slaves. A
// slave's master is only known once every master has been read.
func (ifs *Ifaces) UpdateSlaveIfaces() {
	ifs.links = make(map[string]Link)
	for _, name := range ifs.Names() {
		master := ifs.byName[name]
		if !master.IsMaster() || master.Base().State != schema.StateUp {
			continue
		}
		for _, s := range master.SlaveNames() {
			ifs.links[s] = Link{Master: name, MasterType: master.Type()}
		}
	}
}

// MasterOf returns the master of a slave per the relationship index.
func (ifs *Ifaces) MasterOf(name string) (Link, bool) {
	l, ok := ifs.links[name]
	return l, ok
}

// PostMergeValidate checks the merged collection now that every master
// and slave is resolved. With requireExisting, physical interfaces must
// already exist in current.
func (ifs *Ifaces) PostMergeValidate(current *Ifaces, requireExisting bool) error {
	claimed := make(map[string]string)
	for _, name := range ifs.Names() {
		iface := ifs.byName[name]
		b := iface.Base()
		if b.State == schema.StateAbsent || b.State == schema.StateIgnore {
			continue
		}
		cur := current.Get(name)
		if iface.Type() == "" {
			return errkind.Valuef("interface %s does not exist and has no type", name)
		}
		if requireExisting && cur == nil && iface.Type() == schema.TypeEthernet {
			return errkind.Valuef("ethernet interface %s not found on the system", name)
		}
		if bond, ok := iface.(*BondIface); ok && cur == nil && bond.Mode == "" {
			return errkind.Valuef("bond %s: mode is required when creating a bond", name)
		}

		if !iface.IsMaster() || b.State != schema.StateUp {
			continue
		}
		for _, s := range iface.SlaveNames() {
			if s == name {
				return errkind.Valuef("%s cannot be its own slave", describe(iface))
			}
			slave := ifs.byName[s]
			if slave == nil || slave.Base().State == schema.StateAbsent {
				return errkind.Valuef("%s: slave %s does not exist", describe(iface), s)
			}
			if slave.IsMaster() && slave.Type() == iface.Type() && iface.Type() == schema.TypeBond {
				return errkind.Valuef("bond %s: cannot enslave bond %s", name, s)
			}
			if other, dup := claimed[s]; dup {
				return errkind.Valuef("interface %s is a slave of both %s and %s", s, other, name)
			}
			claimed[s] = name
		}
	}
	return nil
}

// IsChanged reports whether the named desired interface differs from its
// current counterpart. Ignored interfaces never change.
func (ifs *Ifaces) IsChanged(name string, current *Ifaces) bool {
	d := ifs.byName[name]
	if d == nil || d.Base().State == schema.StateIgnore {
		return false
	}
	cur := current.Get(name)
	if d.Base().State == schema.StateAbsent {
		return cur != nil && !isRemovedEthernet(cur)
	}
	if cur == nil {
		return true
	}
	return !Equal(d, cur)
}

// isRemovedEthernet reports whether a physical NIC already satisfies
// "absent": it cannot be deleted, only taken down.
func isRemovedEthernet(cur Interface) bool {
	return cur.Type() == schema.TypeEthernet && cur.Base().State == schema.StateDown
}

// RemoveUnchangedIfaces drops every interface whose verify keys equal
// its current counterpart, unless pinned.
func (ifs *Ifaces) RemoveUnchangedIfaces(current *Ifaces, pinned map[string]bool) {
	for _, name := range ifs.Names() {
		if pinned[name] && ifs.byName[name].Base().State != schema.StateIgnore {
			continue
		}
		if !ifs.IsChanged(name, current) {
			ifs.Remove(name)
		}
	}
}

// Ordered returns interfaces with masters first, each group sorted by
// name.
func (ifs *Ifaces) Ordered() []Interface {
	var masters, others []Interface
	for _, name := range ifs.Names() {
		iface := ifs.byName[name]
		if iface.IsMaster() {
			masters = append(masters, iface)
		} else {
			others = append(others, iface)
		}
	}
	return append(masters, others...)
}

// Docs dumps every interface in name order.
func (ifs *Ifaces) Docs() []schema.InterfaceDoc {
	docs := make([]schema.InterfaceDoc, 0, len(ifs.byName))
	for _, name := range ifs.Names() {
		docs = append(docs, ifs.byName[name].Dump())
	}
	return docs
}

// ifaceMismatch is one failed interface verification.
type ifaceMismatch struct {
	Name    string
	Desired *schema.InterfaceDoc
	Current *schema.InterfaceDoc
}

// Verify compares the named desired interfaces against a freshly queried
// current collection. Fields current state cannot report are taken from
// desired and vice versa before comparing.
func (ifs *Ifaces) Verify(current *Ifaces, names []string) []ifaceMismatch {
	var out []ifaceMismatch
	for _, name := range names {
		d := ifs.byName[name]
		if d == nil || d.Base().State == schema.StateIgnore {
			continue
		}
		cur := current.Get(name)
		dd := d.Dump()

		if d.Base().State == schema.StateAbsent {
			if cur != nil && !isRemovedEthernet(cur) {
				cd := cur.Dump()
				out = append(out, ifaceMismatch{Name: name, Desired: &dd, Current: &cd})
			}
			continue
		}
		if cur == nil {
			out = append(out, ifaceMismatch{Name: name, Desired: &dd})
			continue
		}

		want := d.Clone()
		want.MergeConfig(cur)
		want.Sanitize()
		got := cur.Clone()
		got.MergeConfig(d)
		got.Sanitize()
		if !Equal(want, got) {
			wd, gd := want.Dump(), got.Dump()
			out = append(out, ifaceMismatch{Name: name, Desired: &wd, Current: &gd})
		}
	}
	return out
}
