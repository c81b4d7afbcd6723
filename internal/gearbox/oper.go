package gearbox

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"gearboxd/internal/errors"
	"gearboxd/internal/hardware"
	"gearboxd/internal/ifname"
	"gearboxd/internal/xpath"
)

// Document is the operational state tree returned by Query
type Document struct {
	Gearboxes Gearboxes `json:"gearbox:gearboxes"`
}

type Gearboxes struct {
	Gearbox []Gearbox `json:"gearbox"`
}

type Gearbox struct {
	Name        string           `json:"name"`
	Config      GearboxConfig    `json:"config"`
	State       *GearboxState    `json:"state,omitempty"`
	Connections *Connections     `json:"connections,omitempty"`
	Clocks      *ReferenceClocks `json:"synce-reference-clocks,omitempty"`
}

type GearboxConfig struct {
	Name string `json:"name"`
}

type GearboxState struct {
	AdminStatus              string `json:"admin-status"`
	OperStatus               string `json:"oper-status"`
	EnableFlexibleConnection bool   `json:"enable-flexible-connection"`
}

type Connections struct {
	Connection []Connection `json:"connection"`
}

type Connection struct {
	ClientInterface string `json:"client-interface"`
	LineInterface   string `json:"line-interface"`
}

type ReferenceClocks struct {
	Clock []ReferenceClock `json:"synce-reference-clock"`
}

type ReferenceClock struct {
	Name   string      `json:"name"`
	Config ClockConfig `json:"config"`
	State  ClockState  `json:"state"`
}

type ClockConfig struct {
	Name string `json:"name"`
}

type ClockState struct {
	Name                string                      `json:"name"`
	ReferenceInterface  string                      `json:"reference-interface,omitempty"`
	ComponentConnection *ifname.ComponentConnection `json:"component-connection,omitempty"`
}

// Query assembles operational state for the modules a path selects. A
// path without a gearbox key selects every listed module. A path ending
// at a gearbox's name leaf returns names only, without reading hardware.
func (s *Server) Query(ctx context.Context, path string) (*Document, error) {
	start := time.Now()
	defer func() {
		s.metrics.QueryDuration.Observe(time.Since(start).Seconds())
	}()

	var p xpath.Path
	if path != "" && path != "/" {
		var err error
		if p, err = xpath.Parse(path); err != nil {
			return nil, errors.WrapInvalid(err, "gearbox", "Query", "parse query path")
		}
		if p[0].Prefix != "" && p[0].Prefix != SchemaModule {
			return nil, fmt.Errorf("%s: foreign module %q: %w", path, p[0].Prefix, errors.ErrUnsupportedPath)
		}
	}

	listed, err := s.ifs.ListModules(ctx)
	if err != nil {
		return nil, errors.WrapFatal(err, "gearbox", "Query", "list modules")
	}
	names := listed
	if len(p) > elemGearbox && len(p[elemGearbox].Keys) > 0 {
		name, ok := p[elemGearbox].Key("name")
		if !ok {
			return nil, errors.Invalidf("%s: gearbox is keyed by name", path)
		}
		found := false
		for _, loc := range listed {
			if loc == name {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("gearbox %s: %w", name, errors.ErrNotFound)
		}
		names = []string{name}
	}
	shallow := len(p) == elemGearbox+2 && p[elemGearbox+1].Name == "name"

	gearboxes := make([]Gearbox, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		gearboxes[i] = Gearbox{Name: name, Config: GearboxConfig{Name: name}}
		if shallow {
			continue
		}
		i := i
		g.Go(func() error {
			return s.readModule(gctx, &gearboxes[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Document{Gearboxes: Gearboxes{Gearbox: gearboxes}}, nil
}

// readModule fills in state, connections and reference clocks of one
// gearbox from hardware
func (s *Server) readModule(ctx context.Context, gb *Gearbox) error {
	m, err := s.platform.GetModule(ctx, gb.Name)
	if err != nil {
		return errors.WrapFatal(err, "gearbox", "Query", "get module "+gb.Name)
	}

	attrs := []string{
		hardware.AttrAdminStatus,
		hardware.AttrOperStatus,
		hardware.AttrTributaryMapping,
		hardware.AttrRefClockAssign,
	}
	values := make([]string, len(attrs))
	g, gctx := errgroup.WithContext(ctx)
	for i, attr := range attrs {
		i, attr := i, attr
		g.Go(func() error {
			v, err := m.Get(gctx, attr)
			if err != nil {
				return errors.WrapFatal(err, "gearbox", "Query", "read "+attr+" of "+gb.Name)
			}
			values[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	base := ModulePath(gb.Name)
	running, err := s.store.Running(ctx, base)
	if err != nil {
		return errors.WrapFatal(err, "gearbox", "Query", "read running configuration")
	}

	state := &GearboxState{
		AdminStatus:              "DOWN",
		OperStatus:               "DOWN",
		EnableFlexibleConnection: running.Bool(base+"/config/enable-flexible-connection", false),
	}
	if values[0] == "up" {
		state.AdminStatus = "UP"
	}
	if values[1] == hardware.OperStatusReady {
		state.OperStatus = "UP"
	}
	gb.State = state
	gb.Connections = &Connections{Connection: s.connections(m, values[2])}
	gb.Clocks = &ReferenceClocks{Clock: s.referenceClocks(m, values[3])}
	return nil
}

// connections translates a hardware tributary mapping back to interface
// names. Entries that do not translate are logged and dropped.
func (s *Server) connections(m hardware.Module, raw string) []Connection {
	conns := []Connection{}
	if !gjson.Valid(raw) {
		s.logger.Warn("Invalid tributary-mapping", "module", m.Location(), "value", raw)
		return conns
	}
	for _, item := range gjson.Parse(raw).Array() {
		entry := item.Map()
		if len(entry) != 1 {
			s.logger.Warn("Invalid tributary-mapping item", "module", m.Location(), "item", item.Raw)
			continue
		}
		for netif, hostifs := range entry {
			line, ok := s.ifs.NameByOID(m, netif)
			if !ok {
				s.logger.Warn("Unknown line interface handle", "module", m.Location(), "oid", netif)
				continue
			}
			for _, h := range hostifs.Array() {
				client, ok := s.ifs.NameByOID(m, h.String())
				if !ok {
					s.logger.Warn("Unknown client interface handle", "module", m.Location(), "oid", h.String())
					continue
				}
				conns = append(conns, Connection{ClientInterface: client, LineInterface: line})
			}
		}
	}
	return conns
}

// referenceClocks lists every reference clock slot of a module
func (s *Server) referenceClocks(m hardware.Module, raw string) []ReferenceClock {
	slots := splitAssignment(raw)
	clocks := make([]ReferenceClock, 0, len(slots))
	for i, v := range slots {
		name := strconv.Itoa(i)
		clock := ReferenceClock{
			Name:   name,
			Config: ClockConfig{Name: name},
			State:  ClockState{Name: name},
		}
		// a slot may reference an interface of another module
		if ifn, ok := s.ifs.InterfaceName(strings.TrimSpace(v)); ok {
			clock.State.ReferenceInterface = ifn
		}
		if cc, ok := s.ifs.ReferenceClock(m.Location(), name); ok {
			clock.State.ComponentConnection = &cc
		}
		clocks = append(clocks, clock)
	}
	return clocks
}
