package plugin

import (
	"context"
	"fmt"

	"grimm.is/hostnet/internal/logging"
	"grimm.is/hostnet/internal/netstate"
	"grimm.is/hostnet/internal/schema"
)

// Snapshot returns the current document of a single backend.
func Snapshot(ctx context.Context, p Plugin) (*schema.Document, error) {
	set := &Set{plugins: []Plugin{p}, logger: logging.WithComponent("plugin")}
	return set.CurrentState(ctx)
}

// Restore drives a backend back to snapshot, the state captured when a
// checkpoint was created. Software interfaces, routes and rules created
// since are removed. Physical NICs are left alone when they appeared
// after the snapshot.
func Restore(ctx context.Context, p Plugin, snapshot *schema.Document) error {
	current, err := Snapshot(ctx, p)
	if err != nil {
		return err
	}
	desired := restoreTarget(snapshot, current)

	ns, err := netstate.New(desired, current, netstate.Options{
		GlobalDNSCapable: p.Capabilities().GlobalDNS,
		Restore:          true,
	})
	if err != nil {
		return fmt.Errorf("failed to build restore state: %w", err)
	}
	if err := ns.PreMergeValidate(); err != nil {
		return fmt.Errorf("snapshot is not applicable: %w", err)
	}
	if err := ns.Merge(); err != nil {
		return fmt.Errorf("failed to merge snapshot: %w", err)
	}
	ns.Sanitize()
	if err := ns.PostMergeValidate(); err != nil {
		return fmt.Errorf("snapshot is not applicable: %w", err)
	}
	if err := ns.GenerateMetadata(); err != nil {
		return fmt.Errorf("failed to resolve snapshot: %w", err)
	}
	cs := ns.ChangeSet()
	if cs.Empty() {
		return nil
	}
	return p.ApplyChanges(ctx, cs, true)
}

// restoreTarget is snapshot plus absent entries for everything current
// has that snapshot does not.
func restoreTarget(snapshot, current *schema.Document) *schema.Document {
	desired := snapshot.Clone()
	desired.Extra = nil

	for _, cur := range current.Interfaces {
		if desired.Interface(cur.Name) != nil {
			continue
		}
		switch cur.Type {
		case schema.TypeBond, schema.TypeLinuxBridge, schema.TypeOVSBridge, schema.TypeOVSInterface:
			desired.Interfaces = append(desired.Interfaces, schema.InterfaceDoc{
				Name:  cur.Name,
				Type:  cur.Type,
				State: schema.StateAbsent,
			})
		}
	}

	if desired.Routes != nil {
		desired.Routes.Running = nil
	}
	for _, r := range current.ConfigRoutes() {
		if hasRoute(snapshot.ConfigRoutes(), r) {
			continue
		}
		if desired.Routes == nil {
			desired.Routes = &schema.RouteSection{}
		}
		gone := r.Clone()
		gone.State = schema.RouteStateAbsent
		desired.Routes.Config = append(desired.Routes.Config, gone)
	}

	for _, r := range current.ConfigRouteRules() {
		if hasRule(snapshot.ConfigRouteRules(), r) {
			continue
		}
		if desired.RouteRules == nil {
			desired.RouteRules = &schema.RouteRuleSection{}
		}
		gone := r.Clone()
		gone.State = schema.RouteStateAbsent
		desired.RouteRules.Config = append(desired.RouteRules.Config, gone)
	}

	// An empty config removes every server and search domain.
	dns := snapshot.DNSConfig()
	if dns == nil {
		dns = &schema.DNSConfigDoc{}
	}
	desired.DNS = &schema.DNSSection{Config: dns.Clone()}
	return desired
}

func hasRoute(routes []schema.RouteDoc, r schema.RouteDoc) bool {
	for _, x := range routes {
		if x.Destination == r.Destination &&
			x.NextHopInterface == r.NextHopInterface &&
			x.NextHopAddress == r.NextHopAddress &&
			tableOf(x.TableID) == tableOf(r.TableID) &&
			intEqual(x.Metric, r.Metric) {
			return true
		}
	}
	return false
}

func hasRule(rules []schema.RouteRuleDoc, r schema.RouteRuleDoc) bool {
	for _, x := range rules {
		if x.IPFrom == r.IPFrom && x.IPTo == r.IPTo &&
			tableOf(x.RouteTable) == tableOf(r.RouteTable) &&
			intEqual(x.Priority, r.Priority) {
			return true
		}
	}
	return false
}

func tableOf(id *int) int {
	if id == nil || *id == 0 {
		return schema.RouteTableMain
	}
	return *id
}

