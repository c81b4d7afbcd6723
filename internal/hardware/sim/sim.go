// Package sim provides an in-process hardware-control layer that behaves
// like a set of transport modules. It backs the development server and the
// engine tests.
package sim

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"gearboxd/internal/errors"
	"gearboxd/internal/hardware"
)

// InterfaceSpec describes one sub-interface in an inventory file
type InterfaceSpec struct {
	Name string `yaml:"name"`
	OID  uint64 `yaml:"oid"`
}

// ModuleSpec describes one module in an inventory file
type ModuleSpec struct {
	Location   string          `yaml:"location"`
	OID        uint64          `yaml:"oid"`
	ClockSlots int             `yaml:"clock_slots"`
	OperStatus []string        `yaml:"oper_status"`
	NetIfs     []InterfaceSpec `yaml:"netifs"`
	HostIfs    []InterfaceSpec `yaml:"hostifs"`
}

// Inventory is the top-level inventory document
type Inventory struct {
	Modules []ModuleSpec `yaml:"modules"`
}

// LoadInventory reads an inventory file
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("parse inventory: %w", err)
	}
	return &inv, nil
}

// Platform is a simulated hardware-control layer
type Platform struct {
	mu      sync.RWMutex
	modules map[string]*Module
	handles map[uint64]string
}

// New builds a platform from an inventory
func New(inv *Inventory) (*Platform, error) {
	p := &Platform{
		modules: make(map[string]*Module),
		handles: make(map[uint64]string),
	}
	if _, err := p.Insert(inv); err != nil {
		return nil, err
	}
	return p, nil
}

// Insert adds the inventory modules the platform does not know yet, as if
// they had been plugged in. Known locations keep their state. The whole
// inventory is rejected when a new module reuses a handle.
func (p *Platform) Insert(inv *Inventory) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[uint64]string, len(p.handles))
	for oid, what := range p.handles {
		seen[oid] = what
	}
	claim := func(oid uint64, what string) error {
		if oid == 0 {
			return fmt.Errorf("%s: zero handle", what)
		}
		if prev, ok := seen[oid]; ok {
			return fmt.Errorf("%s: handle 0x%x already used by %s", what, oid, prev)
		}
		seen[oid] = what
		return nil
	}

	added := make(map[string]*Module)
	var order []string
	for _, spec := range inv.Modules {
		if spec.Location == "" {
			return nil, fmt.Errorf("module without location")
		}
		if _, dup := added[spec.Location]; dup {
			return nil, fmt.Errorf("duplicate module %s", spec.Location)
		}
		if _, known := p.modules[spec.Location]; known {
			continue
		}
		if err := claim(spec.OID, spec.Location); err != nil {
			return nil, err
		}
		m := newModule(spec)
		for _, s := range spec.NetIfs {
			if err := claim(s.OID, spec.Location+"/"+s.Name); err != nil {
				return nil, err
			}
			m.netifs = append(m.netifs, newInterface(s))
		}
		for _, s := range spec.HostIfs {
			if err := claim(s.OID, spec.Location+"/"+s.Name); err != nil {
				return nil, err
			}
			m.hostifs = append(m.hostifs, newInterface(s))
		}
		added[spec.Location] = m
		order = append(order, spec.Location)
	}

	for loc, m := range added {
		p.modules[loc] = m
	}
	p.handles = seen
	return order, nil
}

// ListModules implements hardware.Platform
func (p *Platform) ListModules(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	locs := make([]string, 0, len(p.modules))
	for loc := range p.modules {
		locs = append(locs, loc)
	}
	sort.Strings(locs)
	return locs, nil
}

// GetModule implements hardware.Platform
func (p *Platform) GetModule(ctx context.Context, location string) (hardware.Module, error) {
	m, err := p.Module(location)
	if err != nil {
		return nil, err
	}
	return m, ctx.Err()
}

// Module returns the concrete simulated module
func (p *Platform) Module(location string) (*Module, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.modules[location]
	if !ok {
		return nil, fmt.Errorf("module %s: %w", location, errors.ErrNotFound)
	}
	return m, nil
}

// object holds attributes and records writes
type object struct {
	oid uint64

	mu      sync.Mutex
	attrs   map[string]string
	writes  map[string]int
	failGet map[string]error
	failSet map[string]error
}

func newObject(oid uint64) *object {
	return &object{
		oid:     oid,
		attrs:   make(map[string]string),
		writes:  make(map[string]int),
		failGet: make(map[string]error),
		failSet: make(map[string]error),
	}
}

func (o *object) OID() uint64 { return o.oid }

func (o *object) Get(ctx context.Context, attr string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.failGet[attr]; err != nil {
		return "", err
	}
	v, ok := o.attrs[attr]
	if !ok {
		return "", fmt.Errorf("attribute %s: %w", attr, errors.ErrNotFound)
	}
	return v, nil
}

func (o *object) set(ctx context.Context, attr, value string, check func(string, string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.failSet[attr]; err != nil {
		return err
	}
	if check != nil {
		if err := check(attr, value); err != nil {
			return err
		}
	}
	o.attrs[attr] = value
	o.writes[attr]++
	return nil
}

// Writes returns how many times an attribute was written
func (o *object) Writes(attr string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writes[attr]
}

// Attr returns the current raw value of an attribute
func (o *object) Attr(attr string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attrs[attr]
}

// FailGet makes reads of attr fail with err; nil clears
func (o *object) FailGet(attr string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failGet[attr] = err
}

// FailSet makes writes of attr fail with err; nil clears
func (o *object) FailSet(attr string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failSet[attr] = err
}

// Interface is a simulated sub-interface
type Interface struct {
	*object
	name string
}

func newInterface(s InterfaceSpec) *Interface {
	return &Interface{object: newObject(s.OID), name: s.Name}
}

// Name returns the interface name from the inventory
func (i *Interface) Name() string { return i.name }

// Set implements hardware.Object
func (i *Interface) Set(ctx context.Context, attr, value string) error {
	return i.set(ctx, attr, value, nil)
}

// Module is a simulated transport module
type Module struct {
	*object
	location string
	slots    int
	netifs   []hardware.Object
	hostifs  []hardware.Object

	// oper-status values returned by successive reads; the last one sticks
	operSeq []string
	reads   int
}

func newModule(spec ModuleSpec) *Module {
	m := &Module{
		object:   newObject(spec.OID),
		location: spec.Location,
		slots:    spec.ClockSlots,
		operSeq:  spec.OperStatus,
	}
	if len(m.operSeq) == 0 {
		m.operSeq = []string{hardware.OperStatusReady}
	}
	slots := make([]string, spec.ClockSlots)
	for i := range slots {
		slots[i] = hardware.NullOID
	}
	m.attrs[hardware.AttrAdminStatus] = "down"
	m.attrs[hardware.AttrTributaryMapping] = "[]"
	m.attrs[hardware.AttrRefClockAssign] = strings.Join(slots, ",")
	return m
}

// Location implements hardware.Module
func (m *Module) Location() string { return m.location }

// NetIfs implements hardware.Module
func (m *Module) NetIfs() []hardware.Object { return m.netifs }

// HostIfs implements hardware.Module
func (m *Module) HostIfs() []hardware.Object { return m.hostifs }

// Get implements hardware.Object. oper-status walks the configured
// sequence.
func (m *Module) Get(ctx context.Context, attr string) (string, error) {
	if attr != hardware.AttrOperStatus {
		return m.object.Get(ctx, attr)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failGet[attr]; err != nil {
		return "", err
	}
	i := m.reads
	if i >= len(m.operSeq) {
		i = len(m.operSeq) - 1
	}
	m.reads++
	return m.operSeq[i], nil
}

// OperReads returns how many times oper-status was read
func (m *Module) OperReads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// SetOperStatus replaces the oper-status sequence
func (m *Module) SetOperStatus(seq ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operSeq = seq
	m.reads = 0
}

// Set implements hardware.Object with the value checks a real module
// performs
func (m *Module) Set(ctx context.Context, attr, value string) error {
	return m.set(ctx, attr, value, m.check)
}

func (m *Module) check(attr, value string) error {
	switch attr {
	case hardware.AttrAdminStatus:
		if value != "up" && value != "down" {
			return fmt.Errorf("admin-status %q: %w", value, errors.ErrInvalidValue)
		}
	case hardware.AttrTributaryMapping:
		if !gjson.Valid(value) || !gjson.Parse(value).IsArray() {
			return fmt.Errorf("tributary-mapping %q: %w", value, errors.ErrInvalidValue)
		}
	case hardware.AttrRefClockAssign:
		if n := len(strings.Split(value, ",")); n != m.slots {
			return fmt.Errorf("pgmrclk-assignment has %d slots, want %d: %w", n, m.slots, errors.ErrInvalidValue)
		}
	case hardware.AttrOperStatus:
		return fmt.Errorf("oper-status is read-only: %w", errors.ErrInvalidValue)
	}
	return nil
}
