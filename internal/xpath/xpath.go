// Package xpath parses and formats the schema-instance paths used to
// address configuration and state nodes, e.g.
//
//	/gearbox:gearboxes/gearbox[name='piu1']/config/admin-status
//
// Only the subset needed for keyed lists is supported: node names with an
// optional module prefix and any number of [key='value'] predicates.
package xpath

import (
	"fmt"
	"strings"

	"gearboxd/internal/errors"
)

// Key is a single list-key predicate
type Key struct {
	Name  string
	Value string
}

// Elem is one step of a path
type Elem struct {
	Prefix string
	Name   string
	Keys   []Key
}

// Key returns the value of the named key predicate
func (e Elem) Key(name string) (string, bool) {
	for _, k := range e.Keys {
		if k.Name == name {
			return k.Value, true
		}
	}
	return "", false
}

// Path is a parsed absolute path
type Path []Elem

// Parse splits an absolute path into its elements
func Parse(s string) (Path, error) {
	if !strings.HasPrefix(s, "/") {
		return nil, fmt.Errorf("%q: %w", s, errors.ErrMalformedPath)
	}

	var (
		path  Path
		start = 1
		depth int
		quote byte
	)
	for i := 1; i <= len(s); i++ {
		if i < len(s) {
			c := s[i]
			switch {
			case quote != 0:
				if c == quote {
					quote = 0
				}
				continue
			case c == '\'' || c == '"':
				quote = c
				continue
			case c == '[':
				depth++
				continue
			case c == ']':
				depth--
				continue
			case c != '/' || depth > 0:
				continue
			}
		}
		if quote != 0 || depth != 0 {
			return nil, fmt.Errorf("%q: unbalanced predicate: %w", s, errors.ErrMalformedPath)
		}
		elem, err := parseElem(s[start:i])
		if err != nil {
			return nil, fmt.Errorf("%q: %w", s, err)
		}
		path = append(path, elem)
		start = i + 1
	}
	return path, nil
}

// MustParse is Parse for static paths
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

func parseElem(s string) (Elem, error) {
	var e Elem
	name := s
	if i := strings.IndexByte(s, '['); i >= 0 {
		name = s[:i]
		keys, err := parseKeys(s[i:])
		if err != nil {
			return e, err
		}
		e.Keys = keys
	}
	if p, n, ok := strings.Cut(name, ":"); ok {
		e.Prefix, name = p, n
	}
	if name == "" {
		return e, fmt.Errorf("empty node name: %w", errors.ErrMalformedPath)
	}
	e.Name = name
	return e, nil
}

func parseKeys(s string) ([]Key, error) {
	var keys []Key
	for len(s) > 0 {
		if s[0] != '[' {
			return nil, fmt.Errorf("expected '[' in %q: %w", s, errors.ErrMalformedPath)
		}
		eq := strings.IndexByte(s, '=')
		if eq < 0 || eq+1 >= len(s) {
			return nil, fmt.Errorf("missing '=' in %q: %w", s, errors.ErrMalformedPath)
		}
		name := strings.TrimSpace(s[1:eq])
		q := s[eq+1]
		if q != '\'' && q != '"' {
			return nil, fmt.Errorf("unquoted key value in %q: %w", s, errors.ErrMalformedPath)
		}
		end := strings.IndexByte(s[eq+2:], q)
		if end < 0 {
			return nil, fmt.Errorf("unterminated key value in %q: %w", s, errors.ErrMalformedPath)
		}
		value := s[eq+2 : eq+2+end]
		rest := s[eq+2+end+1:]
		if !strings.HasPrefix(rest, "]") {
			return nil, fmt.Errorf("expected ']' in %q: %w", s, errors.ErrMalformedPath)
		}
		keys = append(keys, Key{Name: name, Value: value})
		s = rest[1:]
	}
	return keys, nil
}

// String formats the path in canonical form
func (p Path) String() string {
	var b strings.Builder
	for _, e := range p {
		b.WriteByte('/')
		if e.Prefix != "" {
			b.WriteString(e.Prefix)
			b.WriteByte(':')
		}
		b.WriteString(e.Name)
		for _, k := range e.Keys {
			q := "'"
			if strings.Contains(k.Value, "'") {
				q = `"`
			}
			fmt.Fprintf(&b, "[%s=%s%s%s]", k.Name, q, k.Value, q)
		}
	}
	return b.String()
}

// Names returns the element names without prefixes or keys
func (p Path) Names() []string {
	names := make([]string, len(p))
	for i, e := range p {
		names[i] = e.Name
	}
	return names
}

// HasPrefix reports whether p starts with the elements of prefix. Keys on
// prefix elements must match; a prefix element without keys matches any.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i, e := range prefix {
		if e.Name != p[i].Name {
			return false
		}
		for _, k := range e.Keys {
			if v, ok := p[i].Key(k.Name); !ok || v != k.Value {
				return false
			}
		}
	}
	return true
}
