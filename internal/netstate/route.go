package netstate

import (
	"fmt"
	"net/netip"
	"strings"

	"grimm.is/hostnet/internal/schema"
)

// RouteState owns the desired and current static routes and their merge.
type RouteState struct {
	desired []schema.RouteDoc
	current []schema.RouteDoc
	merged  []schema.RouteDoc
}

// NewRouteState normalizes both route lists. Until Merge runs, the merged
// list equals current.
func NewRouteState(desired, current []schema.RouteDoc) *RouteState {
	s := &RouteState{
		desired: normalizeRoutes(desired),
		current: normalizeRoutes(current),
	}
	s.merged = schema.CloneRoutes(s.current)
	return s
}

func normalizeRoutes(routes []schema.RouteDoc) []schema.RouteDoc {
	out := make([]schema.RouteDoc, 0, len(routes))
	for _, r := range routes {
		r = r.Clone()
		if p, err := netip.ParsePrefix(r.Destination); err == nil {
			r.Destination = p.Masked().String()
		}
		if a, err := netip.ParseAddr(r.NextHopAddress); err == nil {
			r.NextHopAddress = a.String()
		}
		out = append(out, r)
	}
	return out
}

// Merge keeps current routes unless an absent entry matches them or
// usable rejects their interface, then appends desired routes not
// already present.
func (s *RouteState) Merge(usable func(iface string, fam Family) bool) {
	var absent []schema.RouteDoc
	for _, r := range s.desired {
		if r.State == schema.RouteStateAbsent {
			absent = append(absent, r)
		}
	}

	merged := make([]schema.RouteDoc, 0, len(s.current)+len(s.desired))
	for _, r := range s.current {
		if matchesAnyRoute(absent, r) {
			continue
		}
		fam, _ := FamilyOf(r.Destination)
		if !usable(r.NextHopInterface, fam) {
			log.Debug("dropping route of unusable interface", "route", routeString(r))
			continue
		}
		merged = append(merged, r)
	}
	for _, r := range s.desired {
		if r.State == schema.RouteStateAbsent || containsRoute(merged, r) {
			continue
		}
		merged = append(merged, r.Clone())
	}
	s.merged = merged
}

// Desired returns the caller's routes, absent entries included.
func (s *RouteState) Desired() []schema.RouteDoc { return s.desired }

// Current returns the routes found on the system.
func (s *RouteState) Current() []schema.RouteDoc { return s.current }

// Merged returns the resulting route table.
func (s *RouteState) Merged() []schema.RouteDoc { return s.merged }

// Added returns merged routes missing from current.
func (s *RouteState) Added() []schema.RouteDoc {
	var out []schema.RouteDoc
	for _, r := range s.merged {
		if !containsRoute(s.current, r) {
			out = append(out, r.Clone())
		}
	}
	return out
}

// Removed returns current routes missing from the merged table.
func (s *RouteState) Removed() []schema.RouteDoc {
	var out []schema.RouteDoc
	for _, r := range s.current {
		if !containsRoute(s.merged, r) {
			out = append(out, r.Clone())
		}
	}
	return out
}

// Verify checks that every merged route exists in current and no absent
// entry matches a current route. It returns the offending routes.
func (s *RouteState) Verify(current []schema.RouteDoc) (missing, unexpected []schema.RouteDoc) {
	cur := normalizeRoutes(current)
	for _, r := range s.merged {
		if !containsRoute(cur, r) {
			missing = append(missing, r)
		}
	}
	for _, a := range s.desired {
		if a.State != schema.RouteStateAbsent {
			continue
		}
		for _, r := range cur {
			if routeMatchesAbsent(a, r) {
				unexpected = append(unexpected, r)
			}
		}
	}
	return missing, unexpected
}

func tableOf(id *int) int {
	if id == nil || *id == 0 {
		return schema.RouteTableMain
	}
	return *id
}

// optionalEqual treats an unset value as matching anything.
func optionalEqual(a, b *int) bool {
	return a == nil || b == nil || *a == *b
}

func routeEqual(a, b schema.RouteDoc) bool {
	return a.Destination == b.Destination &&
		a.NextHopInterface == b.NextHopInterface &&
		a.NextHopAddress == b.NextHopAddress &&
		tableOf(a.TableID) == tableOf(b.TableID) &&
		optionalEqual(a.Metric, b.Metric)
}

func containsRoute(routes []schema.RouteDoc, r schema.RouteDoc) bool {
	for _, x := range routes {
		if routeEqual(x, r) {
			return true
		}
	}
	return false
}

// routeMatchesAbsent compares only the fields the absent entry sets.
func routeMatchesAbsent(absent, r schema.RouteDoc) bool {
	if absent.Destination != "" && absent.Destination != r.Destination {
		return false
	}
	if absent.NextHopInterface != "" && absent.NextHopInterface != r.NextHopInterface {
		return false
	}
	if absent.NextHopAddress != "" && absent.NextHopAddress != r.NextHopAddress {
		return false
	}
	if absent.Metric != nil && (r.Metric == nil || *absent.Metric != *r.Metric) {
		return false
	}
	if absent.TableID != nil && tableOf(absent.TableID) != tableOf(r.TableID) {
		return false
	}
	return true
}

func matchesAnyRoute(absent []schema.RouteDoc, r schema.RouteDoc) bool {
	for _, a := range absent {
		if routeMatchesAbsent(a, r) {
			return true
		}
	}
	return false
}

func routeString(r schema.RouteDoc) string {
	var sb strings.Builder
	sb.WriteString(r.Destination)
	if r.NextHopAddress != "" {
		sb.WriteString(" via " + r.NextHopAddress)
	}
	if r.NextHopInterface != "" {
		sb.WriteString(" dev " + r.NextHopInterface)
	}
	if r.Metric != nil {
		fmt.Fprintf(&sb, " metric %d", *r.Metric)
	}
	if t := tableOf(r.TableID); t != schema.RouteTableMain {
		fmt.Fprintf(&sb, " table %d", t)
	}
	return strings.TrimSpace(sb.String())
}
