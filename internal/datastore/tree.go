package datastore

import (
	"sort"
	"strings"

	"gearboxd/internal/xpath"
)

// Kind is the kind of a configuration change
type Kind string

const (
	Created  Kind = "created"
	Modified Kind = "modified"
	Deleted  Kind = "deleted"
)

// Valid reports whether k is a known change kind
func (k Kind) Valid() bool {
	return k == Created || k == Modified || k == Deleted
}

// Change is one changed node of a commit
type Change struct {
	Path  string `json:"path" yaml:"path"`
	Kind  Kind   `json:"kind" yaml:"kind"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
}

// Tree is configuration data keyed by canonical leaf path
type Tree map[string]string

// Clone returns a copy of t
func (t Tree) Clone() Tree {
	c := make(Tree, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}

// Get returns the value of a leaf, or def when absent
func (t Tree) Get(path, def string) string {
	if v, ok := t[path]; ok {
		return v
	}
	return def
}

// Bool returns the value of a boolean leaf, or def when absent
func (t Tree) Bool(path string, def bool) bool {
	v, ok := t[path]
	if !ok {
		return def
	}
	return v == "true"
}

// Subtree returns the leaves at or below prefix
func (t Tree) Subtree(prefix string) Tree {
	if prefix == "" || prefix == "/" {
		return t.Clone()
	}
	sub := make(Tree)
	for k, v := range t {
		if under(k, prefix) {
			sub[k] = v
		}
	}
	return sub
}

// Apply applies changes in order. Changes to list entries and containers
// carry no value and only matter when deleted: deleting a node removes
// every leaf below it.
func (t Tree) Apply(changes []Change) {
	for _, c := range changes {
		if c.Kind == Deleted {
			for k := range t {
				if under(k, c.Path) {
					delete(t, k)
				}
			}
			continue
		}
		if isLeaf(c.Path) {
			t[c.Path] = c.Value
		}
	}
}

// ListEntries returns the canonical paths of the entries of a keyed list,
// e.g. every connection[...] below .../connections/connection. Entries
// are sorted by path.
func (t Tree) ListEntries(list string) []string {
	lp, err := xpath.Parse(list)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	var entries []string
	for k := range t {
		if !strings.HasPrefix(k, list) {
			continue
		}
		p, err := xpath.Parse(k)
		if err != nil || len(p) <= len(lp) || !p.HasPrefix(lp) || len(p[len(lp)-1].Keys) == 0 {
			continue
		}
		entry := p[:len(lp)].String()
		if _, dup := seen[entry]; dup {
			continue
		}
		seen[entry] = struct{}{}
		entries = append(entries, entry)
	}
	sort.Strings(entries)
	return entries
}

// under reports whether path is node or a descendant of node
func under(path, node string) bool {
	if !strings.HasPrefix(path, node) {
		return false
	}
	rest := path[len(node):]
	return rest == "" || rest[0] == '/' || rest[0] == '['
}

// isLeaf reports whether a canonical path addresses a leaf rather than a
// list entry
func isLeaf(path string) bool {
	p, err := xpath.Parse(path)
	if err != nil || len(p) == 0 {
		return false
	}
	return len(p[len(p)-1].Keys) == 0
}
