package netstate

import (
	"fmt"
	"strings"

	"grimm.is/hostnet/internal/schema"
)

// RouteRuleState owns the desired and current policy routing rules.
type RouteRuleState struct {
	desired []schema.RouteRuleDoc
	current []schema.RouteRuleDoc
	merged  []schema.RouteRuleDoc
}

// NewRouteRuleState normalizes both rule lists.
func NewRouteRuleState(desired, current []schema.RouteRuleDoc) *RouteRuleState {
	s := &RouteRuleState{
		desired: normalizeRules(desired),
		current: normalizeRules(current),
	}
	s.merged = schema.CloneRouteRules(s.current)
	return s
}

func normalizeRules(rules []schema.RouteRuleDoc) []schema.RouteRuleDoc {
	out := make([]schema.RouteRuleDoc, 0, len(rules))
	for _, r := range rules {
		r = r.Clone()
		if p, err := schema.ParseRulePrefix(r.IPFrom); err == nil {
			r.IPFrom = p.Masked().String()
		}
		if p, err := schema.ParseRulePrefix(r.IPTo); err == nil {
			r.IPTo = p.Masked().String()
		}
		out = append(out, r)
	}
	return out
}

// Merge drops current rules matched by absent entries and appends
// desired rules not already present.
func (s *RouteRuleState) Merge() {
	var absent []schema.RouteRuleDoc
	for _, r := range s.desired {
		if r.State == schema.RouteStateAbsent {
			absent = append(absent, r)
		}
	}
	merged := make([]schema.RouteRuleDoc, 0, len(s.current)+len(s.desired))
	for _, r := range s.current {
		if matchesAnyRule(absent, r) {
			continue
		}
		merged = append(merged, r)
	}
	for _, r := range s.desired {
		if r.State == schema.RouteStateAbsent || containsRule(merged, r) {
			continue
		}
		merged = append(merged, r.Clone())
	}
	s.merged = merged
}

// Desired returns the caller's rules, absent entries included.
func (s *RouteRuleState) Desired() []schema.RouteRuleDoc { return s.desired }

// Merged returns the resulting rule list.
func (s *RouteRuleState) Merged() []schema.RouteRuleDoc { return s.merged }

// Added returns merged rules missing from current.
func (s *RouteRuleState) Added() []schema.RouteRuleDoc {
	var out []schema.RouteRuleDoc
	for _, r := range s.merged {
		if !containsRule(s.current, r) {
			out = append(out, r.Clone())
		}
	}
	return out
}

// Removed returns current rules missing from the merged list.
func (s *RouteRuleState) Removed() []schema.RouteRuleDoc {
	var out []schema.RouteRuleDoc
	for _, r := range s.current {
		if !containsRule(s.merged, r) {
			out = append(out, r.Clone())
		}
	}
	return out
}

// Verify returns merged rules missing from current and current rules
// matched by an absent entry.
func (s *RouteRuleState) Verify(current []schema.RouteRuleDoc) (missing, unexpected []schema.RouteRuleDoc) {
	cur := normalizeRules(current)
	for _, r := range s.merged {
		if !containsRule(cur, r) {
			missing = append(missing, r)
		}
	}
	for _, a := range s.desired {
		if a.State != schema.RouteStateAbsent {
			continue
		}
		for _, r := range cur {
			if ruleMatchesAbsent(a, r) {
				unexpected = append(unexpected, r)
			}
		}
	}
	return missing, unexpected
}

func ruleFamily(r schema.RouteRuleDoc) Family {
	for _, s := range []string{r.IPFrom, r.IPTo} {
		if s == "" {
			continue
		}
		if fam, err := FamilyOf(s); err == nil {
			return fam
		}
	}
	return IPv4
}

func ruleEqual(a, b schema.RouteRuleDoc) bool {
	return a.IPFrom == b.IPFrom &&
		a.IPTo == b.IPTo &&
		tableOf(a.RouteTable) == tableOf(b.RouteTable) &&
		optionalEqual(a.Priority, b.Priority)
}

func containsRule(rules []schema.RouteRuleDoc, r schema.RouteRuleDoc) bool {
	for _, x := range rules {
		if ruleEqual(x, r) {
			return true
		}
	}
	return false
}

func ruleMatchesAbsent(absent, r schema.RouteRuleDoc) bool {
	if absent.IPFrom != "" && absent.IPFrom != r.IPFrom {
		return false
	}
	if absent.IPTo != "" && absent.IPTo != r.IPTo {
		return false
	}
	if absent.Priority != nil && (r.Priority == nil || *absent.Priority != *r.Priority) {
		return false
	}
	if absent.RouteTable != nil && tableOf(absent.RouteTable) != tableOf(r.RouteTable) {
		return false
	}
	return true
}

func matchesAnyRule(absent []schema.RouteRuleDoc, r schema.RouteRuleDoc) bool {
	for _, a := range absent {
		if ruleMatchesAbsent(a, r) {
			return true
		}
	}
	return false
}

func ruleString(r schema.RouteRuleDoc) string {
	var sb strings.Builder
	if r.IPFrom != "" {
		sb.WriteString("from " + r.IPFrom + " ")
	}
	if r.IPTo != "" {
		sb.WriteString("to " + r.IPTo + " ")
	}
	if r.Priority != nil {
		fmt.Fprintf(&sb, "priority %d ", *r.Priority)
	}
	fmt.Fprintf(&sb, "table %d", tableOf(r.RouteTable))
	return sb.String()
}
