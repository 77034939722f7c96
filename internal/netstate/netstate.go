// Package netstate is the reconciliation engine: it merges a desired
// state document with the current one, derives the cross-entity metadata
// backends need, computes the minimal change-set, and verifies the
// result after apply.
package netstate

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"grimm.is/hostnet/internal/errkind"
	"grimm.is/hostnet/internal/schema"
)

// Options tune a reconciliation pass.
type Options struct {
	// GenConfig is set for offline configuration generation. DNS
	// placement errors are returned instead of falling back to global
	// DNS.
	GenConfig bool
	// GlobalDNSCapable is set when the backend can write system-wide
	// resolver configuration.
	GlobalDNSCapable bool
	// RequireExisting rejects ethernet interfaces missing from current.
	RequireExisting bool
	// Restore is set when desired is a snapshot of earlier kernel state.
	// Routes and route rules the kernel held are accepted as they are,
	// without the admission checks applied to caller input.
	Restore bool
}

// NetState composes interfaces, routes, route rules and DNS of one
// reconciliation pass. Call the passes in order: PreMergeValidate,
// Merge, Sanitize, PostMergeValidate, GenerateMetadata, then ChangeSet.
type NetState struct {
	opts    Options
	desired *Ifaces
	current *Ifaces
	routes  *RouteState
	rules   *RouteRuleState
	dns     *DNSState
	meta    *Metadata
	extra   map[string]any
	doc     *schema.Document

	globalDNS bool
}

// New builds a pass from a desired and a current document. Neither
// document is modified.
func New(desired, current *schema.Document, opts Options) (*NetState, error) {
	if desired == nil {
		desired = &schema.Document{}
	}
	if current == nil {
		current = &schema.Document{}
	}
	cur, err := currentIfaces(current)
	if err != nil {
		return nil, fmt.Errorf("failed to load current interfaces: %w", err)
	}
	want, err := NewIfaces(desired.Interfaces)
	if err != nil {
		return nil, err
	}
	return &NetState{
		opts:    opts,
		desired: want,
		current: cur,
		routes:  NewRouteState(desired.ConfigRoutes(), current.ConfigRoutes()),
		rules:   NewRouteRuleState(desired.ConfigRouteRules(), current.ConfigRouteRules()),
		dns:     NewDNSState(desired.DNSConfig(), currentDNS(current)),
		meta:    NewMetadata(),
		extra:   cloneExtra(desired.Extra),
		doc:     desired.Clone(),
	}, nil
}

func currentIfaces(doc *schema.Document) (*Ifaces, error) {
	ifs, err := NewIfaces(doc.Interfaces)
	if err != nil {
		return nil, err
	}
	ifs.sanitizeRecords()
	ifs.UpdateSlaveIfaces()
	return ifs, nil
}

func currentDNS(doc *schema.Document) *schema.DNSConfigDoc {
	if c := doc.DNSConfig(); c != nil {
		return c
	}
	if doc.DNS != nil {
		return doc.DNS.Running
	}
	return nil
}

// Desired returns the desired interface collection.
func (n *NetState) Desired() *Ifaces { return n.desired }

// Current returns the current interface collection.
func (n *NetState) Current() *Ifaces { return n.current }

// Metadata returns the derived metadata of the last GenerateMetadata.
func (n *NetState) Metadata() *Metadata { return n.meta }

// DNS returns the resolver state.
func (n *NetState) DNS() *DNSState { return n.dns }

// GlobalDNS reports whether DNS fell back to system-wide configuration.
func (n *NetState) GlobalDNS() bool { return n.globalDNS }

// PreMergeValidate checks the desired document in isolation.
func (n *NetState) PreMergeValidate() error {
	if errs := n.doc.Validate(); errs.HasErrors() {
		return errkind.Wrap(errkind.Value, errs, "invalid desired state")
	}
	return n.desired.PreMergeValidate()
}

// Merge fills the desired interfaces from current. Routes and rules are
// merged by Sanitize, once interface states are final.
func (n *NetState) Merge() error {
	return n.desired.MergeConfig(n.current)
}

// Sanitize normalizes the desired interfaces, resolves their
// relationships and merges routes and route rules.
func (n *NetState) Sanitize() {
	n.desired.Sanitize()
	n.desired.UpdateSlaveIfaces()
	n.routes.Merge(n.routeUsable)
	n.rules.Merge()
}

// routeUsable reports whether a current route may stay. Routes of
// interfaces going down or away are dropped, and so are routes of a
// family the caller disabled.
func (n *NetState) routeUsable(name string, fam Family) bool {
	iface := n.desired.Get(name)
	if iface == nil {
		return false
	}
	b := iface.Base()
	if b.State.IsDownOrAbsent() {
		return false
	}
	if n.opts.Restore {
		return true
	}
	if n.desired.IsSpecified(name) && b.State != schema.StateIgnore && !b.IP(fam).IsEnabled() {
		return false
	}
	return true
}

// PostMergeValidate checks the merged interfaces.
func (n *NetState) PostMergeValidate() error {
	return n.desired.PostMergeValidate(n.current, n.opts.RequireExisting)
}

// GenerateMetadata runs the metadata passes: interface links, DNS,
// routes, route rules, then interface links again since DNS and route
// placement can mark more interfaces changed.
func (n *NetState) GenerateMetadata() error {
	n.meta.Strip()
	n.globalDNS = false

	generateIfacesMetadata(n.meta, n.desired, n.current)
	if err := n.generateDNSMetadata(); err != nil {
		return err
	}
	if !n.opts.Restore {
		if err := CheckRoutes(n.desired, n.routes); err != nil {
			return err
		}
		if err := CheckRouteRules(n.rules, n.routes); err != nil {
			return err
		}
	}
	GenerateRouteMetadata(n.meta, n.desired, n.routes)
	GenerateRouteRuleMetadata(n.meta, n.desired, n.rules, n.routes)
	generateIfacesMetadata(n.meta, n.desired, n.current)
	return nil
}

func (n *NetState) generateDNSMetadata() error {
	err := GenerateDNSMetadata(n.meta, n.desired, n.routes.Merged(), n.dns)
	if err == nil {
		return nil
	}
	kind := errkind.KindOf(err)
	if n.opts.GenConfig || !n.opts.GlobalDNSCapable || (kind != errkind.Value && kind != errkind.NotImplemented) {
		return err
	}
	for name := range n.meta.DNS {
		delete(n.meta.DNS, name)
	}
	n.globalDNS = true
	log.Warn("using global DNS, all per-interface DNS settings will be ignored",
		"reason", err, "mixed_family", n.dns.IsMixedFamilyServers())
	return nil
}

// ChangeSet returns the minimal change-set. Interfaces are kept when
// their verify keys differ from current or metadata marked them changed.
func (n *NetState) ChangeSet() *ChangeSet {
	changed := n.desired.Clone()
	changed.RemoveUnchangedIfaces(n.current, n.meta.Changed)

	cs := &ChangeSet{
		Routes:            n.routes.Added(),
		RemovedRoutes:     n.routes.Removed(),
		RouteRules:        n.rules.Added(),
		RemovedRouteRules: n.rules.Removed(),
		GlobalDNS:         n.globalDNS,
	}
	if n.dns.Changed() {
		cs.DNS = n.dns.Config().Clone()
	}

	for _, iface := range changed.Ordered() {
		name := iface.Name()
		link := n.meta.Links[name]
		r := ResolvedIface{
			Doc:        iface.Dump(),
			Master:     link.Master,
			MasterType: link.MasterType,
			DNS:        append([]DNSPlacement(nil), n.meta.DNS[name]...),
			New:        n.current.Get(name) == nil,
		}
		if fr := n.meta.Routes[name]; fr != nil {
			r.Routes = FamilyRoutes{V4: schema.CloneRoutes(fr.V4), V6: schema.CloneRoutes(fr.V6)}
		}
		if fr := n.meta.Rules[name]; fr != nil {
			r.Rules = FamilyRules{V4: schema.CloneRouteRules(fr.V4), V6: schema.CloneRouteRules(fr.V6)}
		}
		cs.Interfaces = append(cs.Interfaces, r)
	}
	return cs
}

// verifyNames are the interfaces verification covers: every one the
// caller named plus every one metadata marked changed.
func (n *NetState) verifyNames() []string {
	var names []string
	for _, name := range n.desired.Names() {
		if n.desired.IsSpecified(name) || n.meta.Changed[name] {
			names = append(names, name)
		}
	}
	return names
}

// Verify compares a post-apply snapshot with the merged desired state
// and returns a Verification error with a unified diff on mismatch.
func (n *NetState) Verify(current *schema.Document) error {
	cur, err := currentIfaces(current)
	if err != nil {
		return fmt.Errorf("failed to load current interfaces: %w", err)
	}

	var problems []string
	var diffs []string

	mismatches := n.desired.Verify(cur, n.verifyNames())
	if len(mismatches) > 0 {
		var want, got []any
		for _, m := range mismatches {
			problems = append(problems, "interface "+m.Name)
			want = append(want, m.Desired)
			if m.Current != nil {
				got = append(got, m.Current)
			}
		}
		diffs = append(diffs, unifiedDiff(
			map[string]any{schema.KeyInterfaces: want},
			map[string]any{schema.KeyInterfaces: got}))
	}

	for _, name := range n.verifyNames() {
		want, ok := n.meta.Links[name]
		if !ok || n.desired.Get(name).Base().State.IsDownOrAbsent() {
			continue
		}
		have, _ := cur.MasterOf(name)
		if want != have {
			problems = append(problems, fmt.Sprintf("interface %s master %q, found %q", name, want.Master, have.Master))
			diffs = append(diffs, unifiedDiff(
				map[string]any{"name": name, "master": want.Master},
				map[string]any{"name": name, "master": have.Master}))
		}
	}

	missing, unexpected := n.routes.Verify(current.ConfigRoutes())
	for _, r := range missing {
		problems = append(problems, "missing route "+routeString(r))
	}
	for _, r := range unexpected {
		problems = append(problems, "unexpected route "+routeString(r))
	}
	if len(missing)+len(unexpected) > 0 {
		diffs = append(diffs, unifiedDiff(
			map[string]any{schema.KeyRoutes: n.routes.Merged()},
			map[string]any{schema.KeyRoutes: normalizeRoutes(current.ConfigRoutes())}))
	}

	missingRules, unexpectedRules := n.rules.Verify(current.ConfigRouteRules())
	for _, r := range missingRules {
		problems = append(problems, "missing route rule "+ruleString(r))
	}
	for _, r := range unexpectedRules {
		problems = append(problems, "unexpected route rule "+ruleString(r))
	}
	if len(missingRules)+len(unexpectedRules) > 0 {
		diffs = append(diffs, unifiedDiff(
			map[string]any{schema.KeyRouteRules: n.rules.Merged()},
			map[string]any{schema.KeyRouteRules: normalizeRules(current.ConfigRouteRules())}))
	}

	if err := n.dns.Verify(currentDNS(current)); err != nil {
		problems = append(problems, "dns-resolver")
		diffs = append(diffs, errkind.DiffOf(err))
	}

	for _, key := range slices.Sorted(maps.Keys(n.extra)) {
		if !reflect.DeepEqual(n.extra[key], current.Extra[key]) {
			problems = append(problems, "key "+key)
			diffs = append(diffs, unifiedDiff(
				map[string]any{key: n.extra[key]},
				map[string]any{key: current.Extra[key]}))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errkind.VerificationFailed(
		"current state does not match desired state: "+strings.Join(problems, ", "),
		strings.Join(diffs, ""))
}

// Dump returns the merged desired document without metadata.
func (n *NetState) Dump() *schema.Document {
	doc := &schema.Document{
		Interfaces: n.desired.Docs(),
		Routes:     &schema.RouteSection{Config: schema.CloneRoutes(n.routes.Merged())},
		RouteRules: &schema.RouteRuleSection{Config: schema.CloneRouteRules(n.rules.Merged())},
		DNS:        &schema.DNSSection{Config: n.dns.Config().Clone()},
		Extra:      cloneExtra(n.extra),
	}
	return doc
}
