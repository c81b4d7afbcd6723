package codec

import (
	"encoding/json"
	"io"

	"gearboxd/internal/datastore"
	"gearboxd/internal/errors"
)

// JSONCodec handles JSON documents
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Format returns the codec format identifier
func (c *JSONCodec) Format() string {
	return "json"
}

// ContentType returns the MIME type
func (c *JSONCodec) ContentType() string {
	return "application/json"
}

// DecodeChanges implements Codec
func (c *JSONCodec) DecodeChanges(r io.Reader) ([]datastore.Change, error) {
	var cs ChangeSet
	if err := json.NewDecoder(r).Decode(&cs); err != nil {
		return nil, errors.WrapInvalid(err, "codec", "DecodeChanges", "parse JSON")
	}
	if err := checkChanges(cs.Changes); err != nil {
		return nil, err
	}
	return cs.Changes, nil
}

// EncodeTree implements Codec. Keys come out sorted.
func (c *JSONCodec) EncodeTree(w io.Writer, t datastore.Tree) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}
