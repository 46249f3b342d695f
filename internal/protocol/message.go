// Package protocol moves blobs between a store that serves them and a store
// that downloads them.
//
// A connection carries a sequence of CBOR items. The getter writes a Request,
// the server answers with a Response and, for MSG_BLOB, streams Chunk frames
// until Size-Offset raw bytes have been delivered or a chunk marks the source
// as changed. Several requests can be
// made on one connection, one at a time.
package protocol

import (
	"errors"

	"sendmer/pkg/types"
)

// MessageType represents the type of a protocol message
type MessageType string

const (
	// Requests
	MSG_GET MessageType = "GET"

	// Responses
	MSG_BLOB      MessageType = "BLOB"
	MSG_NOT_FOUND MessageType = "NOT_FOUND"
	MSG_CHANGED   MessageType = "CHANGED"
	MSG_ERROR     MessageType = "ERROR"
)

// maxChunkSize bounds the decompressed size of a single chunk frame
const maxChunkSize = 4 << 20

var (
	// ErrNotFound means the peer does not have the requested blob
	ErrNotFound = errors.New("blob not found on peer")
	// ErrProtocol means the peer sent something this side cannot interpret
	ErrProtocol = errors.New("protocol violation")
)

// Request asks for the bytes of Hash starting at Offset
type Request struct {
	Type     MessageType `cbor:"1,keyasint"`
	Hash     types.Hash  `cbor:"2,keyasint"`
	Offset   int64       `cbor:"3,keyasint,omitempty"`
	Compress bool        `cbor:"4,keyasint,omitempty"`
}

// Response announces the total size of a blob, or why it cannot be sent
type Response struct {
	Type  MessageType `cbor:"1,keyasint"`
	Size  int64       `cbor:"2,keyasint,omitempty"`
	Error string      `cbor:"3,keyasint,omitempty"`
}

// Chunk carries blob bytes. When Raw is non-zero, Data is an LZ4 block that
// decompresses to Raw bytes. A chunk with Changed set ends the blob early:
// the source shrank while it was being read.
type Chunk struct {
	Data    []byte `cbor:"1,keyasint"`
	Raw     int    `cbor:"2,keyasint,omitempty"`
	Changed bool   `cbor:"3,keyasint,omitempty"`
}
