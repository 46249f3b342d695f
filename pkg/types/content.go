package types

import (
	"encoding/hex"
	"fmt"
)

// HashSize is the length in bytes of a content hash
const HashSize = 32

// Hash is a BLAKE3 digest naming a blob
type Hash [HashSize]byte

// String returns the lowercase hex form of the hash
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 8 hex characters, for log lines
func (h Hash) Short() string {
	return h.String()[:8]
}

// IsZero reports whether h is the zero hash
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash parses the hex form produced by Hash.String
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("failed to decode hash %q: %w", s, err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("hash %q has %d bytes, want %d", s, len(b), HashSize)
	}
	copy(h[:], b)
	return h, nil
}

// HashFromBytes copies a digest slice into a Hash
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("hash has %d bytes, want %d", len(b), HashSize)
	}
	copy(h[:], b)
	return h, nil
}

// Kind tags published content as a single file or a directory tree
type Kind uint8

const (
	KindFile Kind = iota + 1
	KindDirectory
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	return k == KindFile || k == KindDirectory
}

// ContentID identifies published content: the hash of its collection blob
// together with the kind of the source it was imported from.
type ContentID struct {
	Hash Hash
	Kind Kind
}

func (c ContentID) String() string {
	return fmt.Sprintf("%s:%s", c.Kind, c.Hash)
}
