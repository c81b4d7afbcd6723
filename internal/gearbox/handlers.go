package gearbox

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gearboxd/internal/datastore"
	"gearboxd/internal/errors"
	"gearboxd/internal/hardware"
	"gearboxd/internal/xpath"
)

// Handler processes one configuration change. Init and Validate must not
// write to hardware; Apply does, and Revert undoes Apply.
type Handler interface {
	Init(ctx context.Context, tx *TxCache) error
	Validate(ctx context.Context, tx *TxCache) error
	Apply(ctx context.Context, tx *TxCache) error
	Revert(ctx context.Context, tx *TxCache) error
}

// Path element positions below /gearboxes
const (
	elemGearbox = 1
	elemClock   = 3
)

// noOp is used for structural nodes that need no hardware action
type noOp struct{}

func newNoOp(*Server, datastore.Change, xpath.Path) Handler { return noOp{} }

func (noOp) Init(context.Context, *TxCache) error { return nil }
func (noOp) Validate(context.Context, *TxCache) error { return nil }
func (noOp) Apply(context.Context, *TxCache) error { return nil }
func (noOp) Revert(context.Context, *TxCache) error { return nil }

// leafHandler resolves the target module and stages nothing. It backs the
// module key leaves and is embedded by every module-scoped handler.
type leafHandler struct {
	srv      *Server
	change   datastore.Change
	path     xpath.Path
	location string
	module   hardware.Module
}

func newLeafHandler(s *Server, c datastore.Change, p xpath.Path) Handler {
	return &leafHandler{srv: s, change: c, path: p}
}

// Init resolves the module named by the gearbox list key
func (h *leafHandler) Init(ctx context.Context, _ *TxCache) error {
	if len(h.path) <= elemGearbox {
		return errors.Invalidf("%s: missing gearbox entry", h.change.Path)
	}
	name, ok := h.path[elemGearbox].Key("name")
	if !ok || name == "" {
		return errors.Invalidf("%s: missing gearbox name", h.change.Path)
	}
	h.location = name

	modules, err := h.srv.ifs.ListModules(ctx)
	if err != nil {
		return errors.WrapFatal(err, "gearbox", "Init", "list modules")
	}
	found := false
	for _, m := range modules {
		if m == name {
			found = true
			break
		}
	}
	if !found {
		return errors.Invalidf("invalid gearbox name: %s", name)
	}

	m, err := h.srv.platform.GetModule(ctx, name)
	if err != nil {
		return errors.WrapInvalid(err, "gearbox", "Init", "get module "+name)
	}
	h.module = m
	return nil
}

func (h *leafHandler) Validate(context.Context, *TxCache) error { return nil }
func (h *leafHandler) Apply(context.Context, *TxCache) error { return nil }
func (h *leafHandler) Revert(context.Context, *TxCache) error { return nil }

// clockIndex parses the synce-reference-clock list key and checks it
// against the module's slot count
func (h *leafHandler) clockIndex(ctx context.Context) (int, error) {
	if len(h.path) <= elemClock {
		return 0, errors.Invalidf("%s: missing reference clock entry", h.change.Path)
	}
	key, ok := h.path[elemClock].Key("name")
	if !ok {
		return 0, errors.Invalidf("%s: missing reference clock name", h.change.Path)
	}
	index, err := strconv.Atoi(key)
	if err != nil || index < 0 {
		return 0, errors.Invalidf("invalid reference clock name: %s", key)
	}

	raw, err := h.module.Get(ctx, hardware.AttrRefClockAssign)
	if err != nil {
		return 0, errors.WrapFatal(err, "gearbox", "Init", "read "+hardware.AttrRefClockAssign)
	}
	if index >= len(splitAssignment(raw)) {
		return 0, errors.WrapInvalid(
			fmt.Errorf("reference clock %d of %s: %w", index, h.location, errors.ErrOutOfRange),
			"gearbox", "Init", "check reference clock name")
	}
	return index, nil
}

// splitAssignment splits a pgmrclk-assignment value into its slots
func splitAssignment(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// attrHandler writes one module attribute from one leaf
type attrHandler struct {
	leafHandler
	attr     string
	def      string
	toHW     func(string) string
	value    string
	original string
	applied  bool
}

func newAdminStatusHandler(s *Server, c datastore.Change, p xpath.Path) Handler {
	return &attrHandler{
		leafHandler: leafHandler{srv: s, change: c, path: p},
		attr:        hardware.AttrAdminStatus,
		def:         "UP",
		toHW: func(v string) string {
			if v == "UP" {
				return "up"
			}
			return "down"
		},
	}
}

// Validate stages the hardware value; a deleted leaf falls back to its
// schema default
func (h *attrHandler) Validate(context.Context, *TxCache) error {
	v := h.change.Value
	if h.change.Kind == datastore.Deleted {
		v = h.def
	}
	h.value = h.toHW(v)
	return nil
}

func (h *attrHandler) Apply(ctx context.Context, _ *TxCache) error {
	orig, err := h.module.Get(ctx, h.attr)
	if err != nil {
		return errors.WrapFatal(err, "gearbox", "Apply", "read "+h.attr)
	}
	if err := h.module.Set(ctx, h.attr, h.value); err != nil {
		return errors.WrapFatal(err, "gearbox", "Apply", "set "+h.attr)
	}
	h.srv.metrics.HardwareWrites.WithLabelValues(h.attr).Inc()
	h.original, h.applied = orig, true
	return nil
}

func (h *attrHandler) Revert(ctx context.Context, _ *TxCache) error {
	if !h.applied {
		return nil
	}
	return h.module.Set(ctx, h.attr, h.original)
}

// mappingTrigger requests a tributary mapping recompute after apply
type mappingTrigger struct {
	leafHandler
}

func newMappingTrigger(s *Server, c datastore.Change, p xpath.Path) Handler {
	return &mappingTrigger{leafHandler{srv: s, change: c, path: p}}
}

func (h *mappingTrigger) Validate(_ context.Context, tx *TxCache) error {
	tx.requestMapping(h.location)
	return nil
}

// referenceClockNameHandler checks that a reference clock entry names an
// existing slot
type referenceClockNameHandler struct {
	leafHandler
}

func newReferenceClockNameHandler(s *Server, c datastore.Change, p xpath.Path) Handler {
	return &referenceClockNameHandler{leafHandler{srv: s, change: c, path: p}}
}

func (h *referenceClockNameHandler) Init(ctx context.Context, tx *TxCache) error {
	if err := h.leafHandler.Init(ctx, tx); err != nil {
		return err
	}
	_, err := h.clockIndex(ctx)
	return err
}

// newReferenceClockEntry handles the list entry itself: deleting an entry
// unassigns its slot, creating one only checks the slot exists
func newReferenceClockEntry(s *Server, c datastore.Change, p xpath.Path) Handler {
	if c.Kind == datastore.Deleted {
		return newReferenceInterfaceHandler(s, c, p)
	}
	return newReferenceClockNameHandler(s, c, p)
}

// referenceInterfaceHandler assigns an interface to one reference clock
// slot. Edits to several slots of one module in a transaction compose
// through the transaction cache and reach hardware as a single write.
type referenceInterfaceHandler struct {
	leafHandler
	index int
}

func newReferenceInterfaceHandler(s *Server, c datastore.Change, p xpath.Path) Handler {
	return &referenceInterfaceHandler{leafHandler: leafHandler{srv: s, change: c, path: p}}
}

func (h *referenceInterfaceHandler) Init(ctx context.Context, tx *TxCache) error {
	if err := h.leafHandler.Init(ctx, tx); err != nil {
		return err
	}
	index, err := h.clockIndex(ctx)
	h.index = index
	return err
}

func (h *referenceInterfaceHandler) Validate(ctx context.Context, tx *TxCache) error {
	assignment, err := h.stagedAssignment(ctx, tx)
	if err != nil {
		return err
	}
	if h.index >= len(assignment) {
		return errors.WrapInvalid(
			fmt.Errorf("reference clock %d of %s: %w", h.index, h.location, errors.ErrOutOfRange),
			"gearbox", "Validate", "stage reference clock")
	}

	if h.change.Kind == datastore.Deleted {
		assignment[h.index] = hardware.NullOID
	} else {
		obj, err := h.srv.ifs.ObjectByName(h.change.Value)
		if err != nil {
			return errors.WrapInvalid(err, "gearbox", "Validate", "resolve reference interface")
		}
		assignment[h.index] = hardware.FormatOID(obj.OID())
	}
	tx.setAssignment(h.location, assignment)
	return nil
}

func (h *referenceInterfaceHandler) Apply(ctx context.Context, tx *TxCache) error {
	return h.applyAssignment(ctx, tx)
}

func (h *referenceInterfaceHandler) Revert(ctx context.Context, tx *TxCache) error {
	return h.revertAssignment(ctx, tx)
}

// stagedAssignment returns the module's assignment as staged so far in the
// transaction, or as read from hardware
func (h *leafHandler) stagedAssignment(ctx context.Context, tx *TxCache) ([]string, error) {
	if assignment, ok := tx.assignment(h.location); ok {
		return assignment, nil
	}
	raw, err := h.module.Get(ctx, hardware.AttrRefClockAssign)
	if err != nil {
		return nil, errors.WrapFatal(err, "gearbox", "Validate", "read "+hardware.AttrRefClockAssign)
	}
	// another handler may have staged an assignment while we were reading
	if staged, ok := tx.assignment(h.location); ok {
		return staged, nil
	}
	return splitAssignment(raw), nil
}

// applyAssignment writes the composed assignment once per module
func (h *leafHandler) applyAssignment(ctx context.Context, tx *TxCache) error {
	if !tx.Once(keyAssignApplied + h.location) {
		return nil
	}
	assignment, ok := tx.assignment(h.location)
	if !ok {
		return nil
	}
	orig, err := h.module.Get(ctx, hardware.AttrRefClockAssign)
	if err != nil {
		return errors.WrapFatal(err, "gearbox", "Apply", "read "+hardware.AttrRefClockAssign)
	}
	if err := h.module.Set(ctx, hardware.AttrRefClockAssign, strings.Join(assignment, ",")); err != nil {
		return errors.WrapFatal(err, "gearbox", "Apply", "set "+hardware.AttrRefClockAssign)
	}
	h.srv.metrics.HardwareWrites.WithLabelValues(hardware.AttrRefClockAssign).Inc()
	tx.Set(keyAssignOriginal+h.location, orig)
	return nil
}

func (h *leafHandler) revertAssignment(ctx context.Context, tx *TxCache) error {
	v, ok := tx.Get(keyAssignOriginal + h.location)
	if !ok || !tx.Once(keyAssignReverted+h.location) {
		return nil
	}
	return h.module.Set(ctx, hardware.AttrRefClockAssign, v.(string))
}

// gearboxEntryHandler returns a module to its defaults when its whole
// gearbox entry is deleted: admin-status up, the default tributary mapping
// and every reference clock slot unassigned.
type gearboxEntryHandler struct {
	attrHandler
}

// newGearboxEntry handles the gearbox list entry. Creating an entry only
// resolves the module.
func newGearboxEntry(s *Server, c datastore.Change, p xpath.Path) Handler {
	if c.Kind != datastore.Deleted {
		return newLeafHandler(s, c, p)
	}
	admin := newAdminStatusHandler(s, c, p).(*attrHandler)
	return &gearboxEntryHandler{attrHandler: *admin}
}

func (h *gearboxEntryHandler) Validate(ctx context.Context, tx *TxCache) error {
	if err := h.attrHandler.Validate(ctx, tx); err != nil {
		return err
	}
	tx.requestMapping(h.location)

	assignment, err := h.stagedAssignment(ctx, tx)
	if err != nil {
		return err
	}
	if len(assignment) == 0 {
		return nil
	}
	for i := range assignment {
		assignment[i] = hardware.NullOID
	}
	tx.setAssignment(h.location, assignment)
	return nil
}

func (h *gearboxEntryHandler) Apply(ctx context.Context, tx *TxCache) error {
	if err := h.attrHandler.Apply(ctx, tx); err != nil {
		return err
	}
	return h.applyAssignment(ctx, tx)
}

func (h *gearboxEntryHandler) Revert(ctx context.Context, tx *TxCache) error {
	if err := h.revertAssignment(ctx, tx); err != nil {
		return err
	}
	return h.attrHandler.Revert(ctx, tx)
}
