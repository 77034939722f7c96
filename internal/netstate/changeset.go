package netstate

import (
	"grimm.is/hostnet/internal/schema"
)

// ResolvedIface is one interface of a change-set with its metadata
// resolved into plain fields a backend can consume.
type ResolvedIface struct {
	Doc        schema.InterfaceDoc
	Master     string
	MasterType schema.InterfaceType
	// Routes and Rules are every merged route and rule owned by the
	// interface, not only the changed ones.
	Routes FamilyRoutes
	Rules  FamilyRules
	DNS    []DNSPlacement
	// New is set when the interface does not exist yet.
	New bool
}

// Name returns the interface name.
func (r *ResolvedIface) Name() string { return r.Doc.Name }

// IsMaster reports whether the record is a bond or bridge.
func (r *ResolvedIface) IsMaster() bool {
	switch r.Doc.Type {
	case schema.TypeBond, schema.TypeLinuxBridge, schema.TypeOVSBridge:
		return true
	}
	return false
}

// ChangeSet is the minimal, fully resolved difference between desired
// and current state. Interfaces are ordered masters first.
type ChangeSet struct {
	Interfaces        []ResolvedIface
	Routes            []schema.RouteDoc
	RemovedRoutes     []schema.RouteDoc
	RouteRules        []schema.RouteRuleDoc
	RemovedRouteRules []schema.RouteRuleDoc
	// DNS is the whole resolver configuration to write, nil when
	// unchanged.
	DNS *schema.DNSConfigDoc
	// GlobalDNS is set when DNS could not be placed on interfaces and
	// must be written system-wide.
	GlobalDNS bool
}

// Empty reports whether there is nothing to apply.
func (c *ChangeSet) Empty() bool {
	return c == nil || (len(c.Interfaces) == 0 &&
		len(c.Routes) == 0 && len(c.RemovedRoutes) == 0 &&
		len(c.RouteRules) == 0 && len(c.RemovedRouteRules) == 0 &&
		c.DNS == nil)
}

// Interface returns the named record or nil.
func (c *ChangeSet) Interface(name string) *ResolvedIface {
	for i := range c.Interfaces {
		if c.Interfaces[i].Doc.Name == name {
			return &c.Interfaces[i]
		}
	}
	return nil
}

// Names returns the changed interface names in apply order.
func (c *ChangeSet) Names() []string {
	names := make([]string, 0, len(c.Interfaces))
	for _, r := range c.Interfaces {
		names = append(names, r.Doc.Name)
	}
	return names
}
