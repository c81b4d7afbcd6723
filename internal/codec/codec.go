// Package codec reads change batches and writes running configuration in
// JSON or YAML.
package codec

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gearboxd/internal/datastore"
	"gearboxd/internal/errors"
)

// Codec reads and writes one format
type Codec interface {
	Format() string
	ContentType() string
	// DecodeChanges parses a {"changes": [...]} document
	DecodeChanges(r io.Reader) ([]datastore.Change, error)
	// EncodeTree writes running configuration as a path to value map
	EncodeTree(w io.Writer, t datastore.Tree) error
}

// ChangeSet is the document DecodeChanges accepts
type ChangeSet struct {
	Changes []datastore.Change `json:"changes" yaml:"changes"`
}

// ForFormat returns the codec for a format name
func ForFormat(format string) (Codec, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return NewJSONCodec(), nil
	case "yaml", "yml":
		return NewYAMLCodec(), nil
	default:
		return nil, errors.Invalidf("unsupported format %q", format)
	}
}

// ForContentType picks a codec from a Content-Type header, JSON unless the
// header names YAML
func ForContentType(contentType string) Codec {
	if strings.Contains(strings.ToLower(contentType), "yaml") {
		return NewYAMLCodec()
	}
	return NewJSONCodec()
}

// ForPath picks a codec from a file extension, JSON unless it is .yaml or
// .yml
func ForPath(path string) Codec {
	c, err := ForFormat(strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return NewJSONCodec()
	}
	return c
}

func checkChanges(changes []datastore.Change) error {
	for i, c := range changes {
		if !c.Kind.Valid() {
			return fmt.Errorf("change %d: unknown kind %q: %w", i, c.Kind, errors.ErrInvalidValue)
		}
	}
	return nil
}
