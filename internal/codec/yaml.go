package codec

import (
	"io"

	"gopkg.in/yaml.v3"

	"gearboxd/internal/datastore"
	"gearboxd/internal/errors"
)

// YAMLCodec handles YAML documents
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return "yaml"
}

// ContentType returns the MIME type
func (c *YAMLCodec) ContentType() string {
	return "application/yaml"
}

// DecodeChanges implements Codec
func (c *YAMLCodec) DecodeChanges(r io.Reader) ([]datastore.Change, error) {
	var cs ChangeSet
	if err := yaml.NewDecoder(r).Decode(&cs); err != nil {
		return nil, errors.WrapInvalid(err, "codec", "DecodeChanges", "parse YAML")
	}
	if err := checkChanges(cs.Changes); err != nil {
		return nil, err
	}
	return cs.Changes, nil
}

// EncodeTree implements Codec
func (c *YAMLCodec) EncodeTree(w io.Writer, t datastore.Tree) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]string(t)); err != nil {
		return err
	}
	return enc.Close()
}
