package hardware

import (
	"sync"
)

// Side tells which side of a module a sub-interface is on
type Side int

const (
	SideLine Side = iota
	SideClient
)

func (s Side) String() string {
	if s == SideClient {
		return "client"
	}
	return "line"
}

// Handle is a cached sub-interface
type Handle struct {
	Object   Object
	Location string
	Side     Side
	Index    int
}

// HandleCache maps numeric handles to live sub-interface objects. It is
// populated during reconciliation; per-module keys are disjoint, so modules
// can be populated concurrently.
type HandleCache struct {
	mu      sync.RWMutex
	handles map[uint64]Handle
}

// NewHandleCache creates an empty cache
func NewHandleCache() *HandleCache {
	return &HandleCache{handles: make(map[uint64]Handle)}
}

// AddModule records every sub-interface of a module
func (c *HandleCache) AddModule(m Module) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, obj := range m.NetIfs() {
		c.handles[obj.OID()] = Handle{Object: obj, Location: m.Location(), Side: SideLine, Index: i}
	}
	for i, obj := range m.HostIfs() {
		c.handles[obj.OID()] = Handle{Object: obj, Location: m.Location(), Side: SideClient, Index: i}
	}
}

// Lookup returns the handle for an OID
func (c *HandleCache) Lookup(oid uint64) (Handle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handles[oid]
	return h, ok
}

// Len returns the number of cached handles
func (c *HandleCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}
