package store

import (
	"fmt"

	"sendmer/pkg/codec"
	"sendmer/pkg/types"
	"sendmer/pkg/utils"
)

// MaxCollectionSize bounds the collection blob a receiver accepts
const MaxCollectionSize = 32 << 20

// Entry is one file of a collection. For a directory, Name is the
// '/'-separated path below the directory; for a single file it is the file
// name.
type Entry struct {
	Name string     `cbor:"1,keyasint"`
	Hash types.Hash `cbor:"2,keyasint"`
	Size int64      `cbor:"3,keyasint"`
}

// Collection describes published content. Name is the file or directory name
// the receiver installs under.
type Collection struct {
	Name    string     `cbor:"1,keyasint"`
	Kind    types.Kind `cbor:"2,keyasint"`
	Entries []Entry    `cbor:"3,keyasint"`
}

// TotalSize is the sum of all entry sizes
func (c *Collection) TotalSize() int64 {
	var n int64
	for _, e := range c.Entries {
		n += e.Size
	}
	return n
}

// Names lists entry paths as the receiver will lay them out
func (c *Collection) Names() []string {
	names := make([]string, 0, len(c.Entries))
	for _, e := range c.Entries {
		names = append(names, c.Path(e))
	}
	return names
}

// Path is the '/'-separated path of e relative to the install base
func (c *Collection) Path(e Entry) string {
	if c.Kind == types.KindFile {
		return e.Name
	}
	return c.Name + "/" + e.Name
}

// Validate checks the structural rules a received collection must follow
// before anything is written to disk.
func (c *Collection) Validate() error {
	if err := utils.ValidateName(c.Name); err != nil {
		return fmt.Errorf("invalid collection name: %w", err)
	}
	switch c.Kind {
	case types.KindFile:
		if len(c.Entries) != 1 || c.Entries[0].Name != c.Name {
			return fmt.Errorf("file collection must hold exactly the file %q", c.Name)
		}
	case types.KindDirectory:
	default:
		return fmt.Errorf("unknown collection kind %d", c.Kind)
	}

	seen := make(map[string]struct{}, len(c.Entries))
	for _, e := range c.Entries {
		if err := utils.ValidateRelativePath(e.Name); err != nil {
			return fmt.Errorf("invalid entry %q: %w", e.Name, err)
		}
		if e.Size < 0 {
			return fmt.Errorf("entry %q has negative size", e.Name)
		}
		if _, dup := seen[e.Name]; dup {
			return fmt.Errorf("duplicate entry %q", e.Name)
		}
		seen[e.Name] = struct{}{}
	}
	return nil
}

// Marshal encodes the collection deterministically
func (c *Collection) Marshal() ([]byte, error) {
	data, err := codec.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode collection: %w", err)
	}
	return data, nil
}

// UnmarshalCollection decodes and validates a collection blob
func UnmarshalCollection(data []byte) (*Collection, error) {
	var c Collection
	if err := codec.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode collection: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
