// Package transport provides the peer nodes content is served from and the
// connections receivers open to them.
package transport

import (
	"context"
	"errors"
	"io"

	"sendmer/pkg/ticket"
)

// ErrClosed is returned by Accept once a node has been closed
var ErrClosed = errors.New("node closed")

// Conn is a reliable, ordered byte stream to a peer
type Conn interface {
	io.ReadWriteCloser
	// Peer describes the remote side for logs and events
	Peer() string
}

// Node is a running endpoint that accepts connections for published content
type Node interface {
	// ID is the stable identifier receivers dial
	ID() string
	// Addr returns the node id together with advisory address hints
	Addr() ticket.PeerAddr
	// Accept waits for the next inbound connection
	Accept(ctx context.Context) (Conn, error)
	// Close stops accepting and tears down every connection the node owns
	Close() error
}

// Network starts nodes and dials them. Dial failures wrap
// types.ErrPeerUnreachable once the implementation has given up.
type Network interface {
	Start(ctx context.Context) (Node, error)
	Dial(ctx context.Context, addr ticket.PeerAddr) (Conn, error)
}
