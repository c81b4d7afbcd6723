package datastore

import (
	"context"
	"sync"
)

// MemoryBackend keeps the running configuration in process memory only
type MemoryBackend struct {
	mu   sync.Mutex
	tree Tree
}

// NewMemoryBackend creates a backend seeded with initial configuration
func NewMemoryBackend(initial Tree) *MemoryBackend {
	if initial == nil {
		initial = make(Tree)
	}
	return &MemoryBackend{tree: initial.Clone()}
}

// Load implements Backend
func (m *MemoryBackend) Load(ctx context.Context) (Tree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tree.Clone(), ctx.Err()
}

// Store implements Backend
func (m *MemoryBackend) Store(ctx context.Context, changes []Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Apply(changes)
	return nil
}

// Close implements Backend
func (m *MemoryBackend) Close() error { return nil }
