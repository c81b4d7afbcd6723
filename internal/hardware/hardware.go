// Package hardware defines the narrow capability interfaces the engine
// needs from the hardware-control layer, and the process-wide cache of
// sub-interface handles.
//
// Attribute values cross this boundary as strings, the way the control
// layer serializes them; the engine never reflects over attribute maps.
package hardware

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gearboxd/internal/errors"
)

// Attribute names understood by transport modules
const (
	AttrAdminStatus      = "admin-status"
	AttrOperStatus       = "oper-status"
	AttrTributaryMapping = "tributary-mapping"
	AttrRefClockAssign   = "pgmrclk-assignment"
)

// Values of the oper-status attribute the engine acts on
const (
	OperStatusReady   = "ready"
	OperStatusUnknown = "unknown"
)

// NullOID is the handle value of an unassigned slot
const NullOID = "oid:0x0"

// Object is anything addressable by a handle with named attributes
type Object interface {
	// OID returns the process-lifetime stable handle
	OID() uint64
	// Get reads a named attribute
	Get(ctx context.Context, attr string) (string, error)
	// Set writes a named attribute
	Set(ctx context.Context, attr, value string) error
}

// Module is a transport unit with line-side and client-side sub-interfaces
type Module interface {
	Object
	// Location is the stable, externally assigned module name
	Location() string
	// NetIfs returns the line (network) side sub-interfaces
	NetIfs() []Object
	// HostIfs returns the client (host) side sub-interfaces
	HostIfs() []Object
}

// Platform discovers modules
type Platform interface {
	// ListModules returns the location names of all present modules
	ListModules(ctx context.Context) ([]string, error)
	// GetModule returns the module at a location
	GetModule(ctx context.Context, location string) (Module, error)
}

// FormatOID renders a handle the way the control layer expects it in
// attribute values
func FormatOID(oid uint64) string {
	if oid == 0 {
		return NullOID
	}
	return fmt.Sprintf("oid:0x%08x", oid)
}

// ParseOID parses a handle rendered by FormatOID
func ParseOID(s string) (uint64, error) {
	hex, ok := strings.CutPrefix(strings.TrimSpace(s), "oid:0x")
	if !ok {
		return 0, fmt.Errorf("handle %q: %w", s, errors.ErrInvalidValue)
	}
	oid, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("handle %q: %w", s, errors.ErrInvalidValue)
	}
	return oid, nil
}
