// Package ticket encodes the token a receiver uses to locate and verify
// published content.
//
// A token is the literal prefix "sendmer" followed by the unpadded, lowercase
// base32 form of a deterministic CBOR map keyed by small integers. Decode only
// accepts the spelling Encode would produce, so Encode(Decode(s)) == s for
// every accepted token. Later versions add fields behind a new version number.
package ticket

import (
	"encoding/base32"
	"fmt"
	"strings"

	"sendmer/pkg/codec"
	"sendmer/pkg/types"
)

// Prefix starts every encoded ticket
const Prefix = "sendmer"

// Version is the payload version written by Encode. Decode accepts every
// version up to and including it.
const Version = 1

var encoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// PeerAddr is the advisory reachability information for one publishing node
type PeerAddr struct {
	NodeID string
	Direct []string
	Relay  string
}

// Ticket names published content and where to fetch it from
type Ticket struct {
	Content types.ContentID
	Peers   []PeerAddr
}

type wirePeer struct {
	ID     string   `cbor:"1,keyasint"`
	Direct []string `cbor:"2,keyasint,omitempty"`
	Relay  string   `cbor:"3,keyasint,omitempty"`
}

type wireTicket struct {
	Version uint8      `cbor:"0,keyasint"`
	Hash    []byte     `cbor:"1,keyasint"`
	Kind    uint8      `cbor:"2,keyasint"`
	Peers   []wirePeer `cbor:"3,keyasint"`
}

// New returns a ticket for content reachable through peers
func New(content types.ContentID, peers ...PeerAddr) Ticket {
	return Ticket{Content: content, Peers: peers}
}

// String returns the encoded token
func (t Ticket) String() string {
	return Encode(t)
}

// Encode serializes t into a token. Encoding is deterministic.
func Encode(t Ticket) string {
	w := wireTicket{
		Version: Version,
		Hash:    t.Content.Hash[:],
		Kind:    uint8(t.Content.Kind),
		Peers:   make([]wirePeer, 0, len(t.Peers)),
	}
	for _, p := range t.Peers {
		w.Peers = append(w.Peers, wirePeer{ID: p.NodeID, Direct: p.Direct, Relay: p.Relay})
	}

	payload, err := codec.Marshal(w)
	if err != nil {
		// Only strings, byte slices and small integers are encoded.
		panic("ticket: failed to marshal payload: " + err.Error())
	}
	return Prefix + encoding.EncodeToString(payload)
}

// Decode parses a token produced by Encode. Every failure wraps
// types.ErrMalformedTicket.
func Decode(s string) (Ticket, error) {
	var t Ticket

	body, ok := strings.CutPrefix(s, Prefix)
	if !ok {
		return t, malformed("missing %q prefix", Prefix)
	}
	if body == "" {
		return t, malformed("empty payload")
	}

	payload, err := encoding.DecodeString(body)
	if err != nil {
		return t, malformed("invalid encoding: %v", err)
	}
	// trailing bits would make a second spelling of the same payload
	if encoding.EncodeToString(payload) != body {
		return t, malformed("non-canonical encoding")
	}

	var w wireTicket
	if err := codec.Unmarshal(payload, &w); err != nil {
		return t, malformed("invalid payload: %v", err)
	}
	if w.Version == 0 || w.Version > Version {
		return t, malformed("unsupported version %d", w.Version)
	}

	hash, err := types.HashFromBytes(w.Hash)
	if err != nil {
		return t, malformed("%v", err)
	}
	kind := types.Kind(w.Kind)
	if !kind.Valid() {
		return t, malformed("unknown content kind %d", w.Kind)
	}
	if len(w.Peers) == 0 {
		return t, malformed("no peer addresses")
	}

	t.Content = types.ContentID{Hash: hash, Kind: kind}
	t.Peers = make([]PeerAddr, 0, len(w.Peers))
	for _, p := range w.Peers {
		if p.ID == "" {
			return Ticket{}, malformed("peer without node id")
		}
		t.Peers = append(t.Peers, PeerAddr{NodeID: p.ID, Direct: p.Direct, Relay: p.Relay})
	}
	if Encode(t) != s {
		return Ticket{}, malformed("non-canonical payload")
	}
	return t, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrMalformedTicket, fmt.Sprintf(format, args...))
}
