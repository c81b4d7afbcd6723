package gearbox

import (
	"fmt"
	"strings"

	"gearboxd/internal/datastore"
	"gearboxd/internal/errors"
	"gearboxd/internal/xpath"
)

// SchemaModule is the module prefix of every configuration path the engine
// handles
const SchemaModule = "gearbox"

// Factory builds the handler for one change
type Factory func(s *Server, c datastore.Change, p xpath.Path) Handler

type dispatchNode struct {
	factory  Factory
	subtree  bool
	children map[string]*dispatchNode
}

// Dispatch maps configuration path shapes to handler factories. It is
// built once at startup and read-only afterwards.
type Dispatch struct {
	module string
	root   *dispatchNode
}

// NewDispatch returns the dispatch table for the gearbox schema
func NewDispatch() *Dispatch {
	d := &Dispatch{module: SchemaModule, root: &dispatchNode{}}

	d.Handle("gearboxes/gearbox", newGearboxEntry)
	d.Handle("gearboxes/gearbox/name", newLeafHandler)
	d.Handle("gearboxes/gearbox/config/name", newLeafHandler)
	d.Handle("gearboxes/gearbox/config/admin-status", newAdminStatusHandler)
	d.Handle("gearboxes/gearbox/config/enable-flexible-connection", newMappingTrigger)

	d.Handle("gearboxes/gearbox/connections/connection", newMappingTrigger)
	d.Handle("gearboxes/gearbox/connections/connection/client-interface", newMappingTrigger)
	d.Handle("gearboxes/gearbox/connections/connection/line-interface", newMappingTrigger)
	d.HandleSubtree("gearboxes/gearbox/connections/connection/config", newMappingTrigger)

	d.Handle("gearboxes/gearbox/synce-reference-clocks/synce-reference-clock", newReferenceClockEntry)
	d.Handle("gearboxes/gearbox/synce-reference-clocks/synce-reference-clock/name", newReferenceClockNameHandler)
	d.Handle("gearboxes/gearbox/synce-reference-clocks/synce-reference-clock/config/name", newNoOp)
	d.Handle("gearboxes/gearbox/synce-reference-clocks/synce-reference-clock/config/reference-interface", newReferenceInterfaceHandler)

	return d
}

// Handle registers a factory for an exact path shape, given as
// slash-separated node names
func (d *Dispatch) Handle(shape string, f Factory) {
	d.node(shape).factory = f
}

// HandleSubtree registers a factory for a node and everything below it
func (d *Dispatch) HandleSubtree(shape string, f Factory) {
	n := d.node(shape)
	n.factory = f
	n.subtree = true
}

func (d *Dispatch) node(shape string) *dispatchNode {
	n := d.root
	for _, name := range strings.Split(strings.Trim(shape, "/"), "/") {
		if n.children == nil {
			n.children = make(map[string]*dispatchNode)
		}
		child, ok := n.children[name]
		if !ok {
			child = &dispatchNode{}
			n.children[name] = child
		}
		n = child
	}
	return n
}

// Lookup resolves the factory for a path. The deepest matching node wins,
// so an exact registration takes precedence over a subtree registration
// above it.
func (d *Dispatch) Lookup(p xpath.Path) (Factory, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("empty path: %w", errors.ErrUnsupportedPath)
	}
	if p[0].Prefix != "" && p[0].Prefix != d.module {
		return nil, fmt.Errorf("%s: foreign module %q: %w", p, p[0].Prefix, errors.ErrUnsupportedPath)
	}

	n := d.root
	for _, e := range p {
		child, ok := n.children[e.Name]
		if !ok {
			if n.subtree && n.factory != nil {
				return n.factory, nil
			}
			return nil, fmt.Errorf("%s: no handler for %q: %w", p, e.Name, errors.ErrUnsupportedPath)
		}
		n = child
	}
	if n.factory == nil {
		return nil, fmt.Errorf("%s: no handler for container: %w", p, errors.ErrUnsupportedPath)
	}
	return n.factory, nil
}
