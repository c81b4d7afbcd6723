package gearbox

import (
	"sync"

	"github.com/google/uuid"

	"gearboxd/internal/datastore"
)

// Well-known transaction cache keys
const (
	keyUpdateMapping    = "update-tributary-mapping"
	keyMappingModules   = "update-tributary-mapping/modules"
	keyConfig           = "cache"
	keyAssignmentPrefix = "current-pgmrclk-assignment/"
	keyAssignApplied    = "applied-pgmrclk-assignment/"
	keyAssignOriginal   = "original-pgmrclk-assignment/"
	keyAssignReverted   = "reverted-pgmrclk-assignment/"
)

// TxCache is scratch space shared by every handler of one commit. It is
// created by Validate and dropped after Apply or Abort.
type TxCache struct {
	id string

	mu     sync.Mutex
	values map[string]any
}

// NewTxCache creates an empty cache with a fresh transaction ID
func NewTxCache() *TxCache {
	return &TxCache{
		id:     uuid.NewString(),
		values: make(map[string]any),
	}
}

// ID returns the transaction ID
func (c *TxCache) ID() string { return c.id }

// Get returns a cached value
func (c *TxCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

// Set stores a value
func (c *TxCache) Set(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = v
}

// Flag reports whether a boolean key is set
func (c *TxCache) Flag(key string) bool {
	v, _ := c.Get(key)
	b, _ := v.(bool)
	return b
}

// Once returns true the first time it is called for key
func (c *TxCache) Once(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, done := c.values[key]; done {
		return false
	}
	c.values[key] = true
	return true
}

// Config returns the running configuration with this transaction's changes
// applied
func (c *TxCache) Config() datastore.Tree {
	v, _ := c.Get(keyConfig)
	t, _ := v.(datastore.Tree)
	return t
}

// requestMapping marks a module's tributary mapping for recomputation.
// Setting it more than once has no further effect.
func (c *TxCache) requestMapping(location string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[keyUpdateMapping] = true
	mods, _ := c.values[keyMappingModules].([]string)
	for _, m := range mods {
		if m == location {
			return
		}
	}
	c.values[keyMappingModules] = append(mods, location)
}

// mappingModules returns the modules whose mapping must be recomputed, in
// request order
func (c *TxCache) mappingModules() []string {
	v, _ := c.Get(keyMappingModules)
	mods, _ := v.([]string)
	return append([]string(nil), mods...)
}

// assignment returns the staged reference clock assignment of a module
func (c *TxCache) assignment(location string) ([]string, bool) {
	v, ok := c.Get(keyAssignmentPrefix + location)
	if !ok {
		return nil, false
	}
	a, _ := v.([]string)
	return append([]string(nil), a...), true
}

func (c *TxCache) setAssignment(location string, a []string) {
	c.Set(keyAssignmentPrefix+location, append([]string(nil), a...))
}
