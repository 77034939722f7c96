package plugin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"grimm.is/hostnet/internal/errkind"
	"grimm.is/hostnet/internal/logging"
	"grimm.is/hostnet/internal/netstate"
	"grimm.is/hostnet/internal/schema"
)

// Set is the ordered collection of loaded backends.
type Set struct {
	plugins []Plugin
	logger  *logging.Logger
}

// NewSet orders plugins by descending priority. At least one of them
// must not be supplemental.
func NewSet(plugins ...Plugin) (*Set, error) {
	sorted := append([]Plugin(nil), plugins...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})

	seen := make(map[string]bool)
	primary := false
	for _, p := range sorted {
		if seen[p.Name()] {
			return nil, errkind.Internalf("plugin %s loaded twice", p.Name())
		}
		seen[p.Name()] = true
		if !p.Supplemental() {
			primary = true
		}
	}
	if !primary {
		return nil, errkind.Dependencyf("no backend plugin loaded")
	}
	return &Set{plugins: sorted, logger: logging.WithComponent("plugin")}, nil
}

// Plugins returns the backends in priority order.
func (s *Set) Plugins() []Plugin {
	return append([]Plugin(nil), s.plugins...)
}

// Primary returns the backend that applies changes.
func (s *Set) Primary() Plugin {
	for _, p := range s.plugins {
		if !p.Supplemental() {
			return p
		}
	}
	return nil
}

// Get returns the named backend or nil.
func (s *Set) Get(name string) Plugin {
	for _, p := range s.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// Capabilities returns the capabilities of the primary backend.
func (s *Set) Capabilities() Capabilities {
	return s.Primary().Capabilities()
}

type ifaceKey struct {
	name string
	typ  schema.InterfaceType
}

// CurrentState assembles the current document. Interfaces reported by
// several backends under the same name and type are merged, with values
// of the higher priority backend winning. Supplemental backends never
// add interfaces. Routes, rules and DNS come from the first backend
// reporting them.
func (s *Set) CurrentState(ctx context.Context) (*schema.Document, error) {
	merged := make(map[ifaceKey]netstate.Interface)
	var order []ifaceKey

	for _, p := range s.plugins {
		docs, err := p.Interfaces(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s interfaces: %w", p.Name(), err)
		}
		for _, doc := range docs {
			iface, err := netstate.FromDoc(doc)
			if err != nil {
				return nil, fmt.Errorf("plugin %s reported an invalid interface: %w", p.Name(), err)
			}
			key := ifaceKey{name: doc.Name, typ: doc.Type}
			existing, ok := merged[key]
			if ok {
				existing.MergeConfig(iface)
				continue
			}
			if p.Supplemental() {
				s.logger.Debug("supplemental plugin reported unknown interface", "plugin", p.Name(), "iface", doc.Name)
				continue
			}
			merged[key] = iface
			order = append(order, key)
		}
	}

	doc := &schema.Document{}
	for _, key := range order {
		doc.Interfaces = append(doc.Interfaces, merged[key].Dump())
	}

	for _, p := range s.plugins {
		if doc.Routes == nil {
			routes, err := p.Routes(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to query %s routes: %w", p.Name(), err)
			}
			doc.Routes = routes
		}
		if doc.RouteRules == nil {
			rules, err := p.RouteRules(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to query %s route rules: %w", p.Name(), err)
			}
			doc.RouteRules = rules
		}
		if doc.DNS == nil {
			dns, err := p.DNSConfig(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to query %s DNS: %w", p.Name(), err)
			}
			doc.DNS = dns
		}
	}
	return doc, nil
}

// ApplyChanges hands the change-set to the primary backend.
func (s *Set) ApplyChanges(ctx context.Context, cs *netstate.ChangeSet, persist bool) error {
	p := s.Primary()
	s.logger.Info("applying changes", "plugin", p.Name(), "interfaces", cs.Names(), "persist", persist)
	return p.ApplyChanges(ctx, cs, persist)
}

// GenerateConfigurations renders the change-set with every backend that
// can do so offline.
func (s *Set) GenerateConfigurations(cs *netstate.ChangeSet) (map[string][]string, error) {
	out := make(map[string][]string)
	found := false
	for _, p := range s.plugins {
		gen, ok := p.(ConfigGenerator)
		if !ok {
			continue
		}
		found = true
		files, err := gen.GenerateConfigurations(cs)
		if err != nil {
			return nil, fmt.Errorf("plugin %s failed to generate configuration: %w", p.Name(), err)
		}
		for k, v := range files {
			out[k] = append(out[k], v...)
		}
	}
	if !found {
		return nil, errkind.NotImplementedf("no loaded plugin can generate configuration")
	}
	return out, nil
}

// checkpointSep joins the per-backend parts of a composite checkpoint ID.
const checkpointSep = ","

// CreateCheckpoint opens a checkpoint on every non-supplemental backend
// and returns a composite ID. When one backend fails, the checkpoints
// already opened are rolled back.
func (s *Set) CreateCheckpoint(ctx context.Context, timeout time.Duration) (string, error) {
	var parts []string
	for _, p := range s.plugins {
		if p.Supplemental() {
			continue
		}
		id, err := p.CreateCheckpoint(ctx, timeout)
		if err != nil {
			s.undoCheckpoints(ctx, parts)
			return "", fmt.Errorf("failed to create %s checkpoint: %w", p.Name(), err)
		}
		parts = append(parts, p.Name()+"/"+id)
	}
	return strings.Join(parts, checkpointSep), nil
}

func (s *Set) undoCheckpoints(ctx context.Context, parts []string) {
	for _, part := range parts {
		name, id, _ := strings.Cut(part, "/")
		if err := s.Get(name).RollbackCheckpoint(ctx, id); err != nil {
			s.logger.Error("failed to roll back checkpoint", "plugin", name, "checkpoint", id, "error", err)
		}
	}
}

// splitCheckpoint maps a composite ID to per-backend IDs. An empty ID
// maps every non-supplemental backend to its active checkpoint.
func (s *Set) splitCheckpoint(id string) (map[string]string, error) {
	ids := make(map[string]string)
	if id == "" {
		for _, p := range s.plugins {
			if !p.Supplemental() {
				ids[p.Name()] = ""
			}
		}
		return ids, nil
	}
	for _, part := range strings.Split(id, checkpointSep) {
		name, pid, ok := strings.Cut(part, "/")
		if !ok || pid == "" {
			return nil, errkind.Valuef("malformed checkpoint ID %q", part)
		}
		if s.Get(name) == nil {
			return nil, errkind.Valuef("checkpoint %q belongs to unknown plugin %s", part, name)
		}
		ids[name] = pid
	}
	return ids, nil
}

// RollbackCheckpoint rolls back every part of a composite checkpoint.
// All parts are attempted; the first error is returned.
func (s *Set) RollbackCheckpoint(ctx context.Context, id string) error {
	return s.eachCheckpoint(id, func(p Plugin, pid string) error {
		return p.RollbackCheckpoint(ctx, pid)
	})
}

// DestroyCheckpoint commits every part of a composite checkpoint.
func (s *Set) DestroyCheckpoint(ctx context.Context, id string) error {
	return s.eachCheckpoint(id, func(p Plugin, pid string) error {
		return p.DestroyCheckpoint(ctx, pid)
	})
}

func (s *Set) eachCheckpoint(id string, fn func(Plugin, string) error) error {
	ids, err := s.splitCheckpoint(id)
	if err != nil {
		return err
	}
	var first error
	for _, p := range s.plugins {
		pid, ok := ids[p.Name()]
		if !ok {
			continue
		}
		if err := fn(p, pid); err != nil {
			s.logger.Error("checkpoint operation failed", "plugin", p.Name(), "checkpoint", pid, "error", err)
			if first == nil {
				first = fmt.Errorf("plugin %s: %w", p.Name(), err)
			}
		}
	}
	return first
}
