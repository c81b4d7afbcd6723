// Package ifname is the interface layer the gearbox engine collaborates
// with: it names sub-interfaces, translates between interface names and
// hardware handles, provides layer-default tributary mappings and keeps the
// set of modules excluded from reconciliation.
package ifname

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"gearboxd/internal/errors"
	"gearboxd/internal/hardware"
)

// Named is implemented by hardware objects that carry their own name
type Named interface {
	Name() string
}

// ComponentConnection describes which input reference and DPLL a module
// reference clock feeds
type ComponentConnection struct {
	InputReference string `json:"input-reference" yaml:"input_reference"`
	DPLL           string `json:"dpll" yaml:"dpll"`
}

// ClockKey identifies a reference clock slot of a module
type ClockKey struct {
	Module string
	Clock  string
}

// Registry translates interface names to handles and back. Names are
// unique; each name maps to exactly one cached handle.
type Registry struct {
	platform hardware.Platform
	cache    *hardware.HandleCache
	logger   *slog.Logger

	mu      sync.RWMutex
	byName  map[string]uint64
	byOID   map[uint64]string
	ignored map[string]struct{}
	clocks  map[ClockKey]ComponentConnection
}

// New creates a registry over a platform and a handle cache
func New(platform hardware.Platform, cache *hardware.HandleCache, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		platform: platform,
		cache:    cache,
		logger:   logger.With("component", "ifname"),
		byName:   make(map[string]uint64),
		byOID:    make(map[uint64]string),
		ignored:  make(map[string]struct{}),
		clocks:   make(map[ClockKey]ComponentConnection),
	}
}

// Cache returns the handle cache the registry populates
func (r *Registry) Cache() *hardware.HandleCache {
	return r.cache
}

// SetReferenceClock records component-connection metadata for a clock slot
func (r *Registry) SetReferenceClock(key ClockKey, cc ComponentConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clocks[key] = cc
}

// ReferenceClock returns component-connection metadata for a clock slot
func (r *Registry) ReferenceClock(module, clock string) (ComponentConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cc, ok := r.clocks[ClockKey{Module: module, Clock: clock}]
	return cc, ok
}

// Populate discovers a module's sub-interfaces, caches their handles and
// names them
func (r *Registry) Populate(ctx context.Context, location string) (hardware.Module, error) {
	m, err := r.platform.GetModule(ctx, location)
	if err != nil {
		return nil, errors.Wrap(err, "ifname", "Populate", "get module "+location)
	}
	r.cache.AddModule(m)

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, obj := range m.NetIfs() {
		r.nameLocked(location, hardware.SideLine, i, obj)
	}
	for i, obj := range m.HostIfs() {
		r.nameLocked(location, hardware.SideClient, i, obj)
	}
	return m, nil
}

func (r *Registry) nameLocked(location string, side hardware.Side, index int, obj hardware.Object) {
	name := fmt.Sprintf("%s/%s%d", location, side, index+1)
	if n, ok := obj.(Named); ok && n.Name() != "" {
		name = n.Name()
	}
	if prev, ok := r.byName[name]; ok && prev != obj.OID() {
		r.logger.Warn("duplicate interface name, keeping first", "name", name,
			"oid", hardware.FormatOID(obj.OID()), "existing", hardware.FormatOID(prev))
		return
	}
	r.byName[name] = obj.OID()
	r.byOID[obj.OID()] = name
}

// ListModules returns the present modules that are not ignored
func (r *Registry) ListModules(ctx context.Context) ([]string, error) {
	all, err := r.platform.ListModules(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "ifname", "ListModules", "list modules")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	locs := make([]string, 0, len(all))
	for _, loc := range all {
		if _, skip := r.ignored[loc]; !skip {
			locs = append(locs, loc)
		}
	}
	return locs, nil
}

// Ignore excludes a module from reconciliation and apply targeting for the
// rest of the process lifetime
func (r *Registry) Ignore(location string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ignored[location] = struct{}{}
}

// Ignored reports whether a module has been excluded
func (r *Registry) Ignored(location string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ignored[location]
	return ok
}

// ObjectByName resolves an interface name to its hardware object
func (r *Registry) ObjectByName(name string) (hardware.Object, error) {
	r.mu.RLock()
	oid, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("interface %s: %w", name, errors.ErrNotFound)
	}
	h, ok := r.cache.Lookup(oid)
	if !ok {
		return nil, fmt.Errorf("interface %s: handle %s not cached: %w", name, hardware.FormatOID(oid), errors.ErrNotFound)
	}
	return h.Object, nil
}

// NameByOID translates a rendered handle of one of m's sub-interfaces back
// to its name. Unassigned and unknown handles report false, as do handles
// of other modules.
func (r *Registry) NameByOID(m hardware.Module, value string) (string, bool) {
	h, ok := r.handle(value)
	if !ok || h.Location != m.Location() {
		return "", false
	}
	return r.name(h)
}

// InterfaceName translates a rendered handle of any cached sub-interface
// back to its name
func (r *Registry) InterfaceName(value string) (string, bool) {
	h, ok := r.handle(value)
	if !ok {
		return "", false
	}
	return r.name(h)
}

func (r *Registry) handle(value string) (hardware.Handle, bool) {
	oid, err := hardware.ParseOID(value)
	if err != nil || oid == 0 {
		return hardware.Handle{}, false
	}
	return r.cache.Lookup(oid)
}

func (r *Registry) name(h hardware.Handle) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byOID[h.Object.OID()]
	return name, ok
}

// DefaultMapping returns the layer-default tributary mapping of a module:
// the n-th line interface carries the n-th client interface.
func (r *Registry) DefaultMapping(m hardware.Module) (string, error) {
	netifs, hostifs := m.NetIfs(), m.HostIfs()
	mapping := make([]map[string][]string, 0, len(netifs))
	for i := 0; i < len(netifs) && i < len(hostifs); i++ {
		mapping = append(mapping, map[string][]string{
			hardware.FormatOID(netifs[i].OID()): {hardware.FormatOID(hostifs[i].OID())},
		})
	}
	data, err := json.Marshal(mapping)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
