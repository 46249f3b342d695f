package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"sendmer/pkg/ticket"
	"sendmer/pkg/types"

	"github.com/google/uuid"
)

// MemoryNetwork connects nodes living in the same process over net.Pipe
type MemoryNetwork struct {
	mu    sync.Mutex
	nodes map[string]*memoryNode
}

// NewMemoryNetwork returns an empty network
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{nodes: make(map[string]*memoryNode)}
}

type memoryNode struct {
	net    *MemoryNetwork
	id     string
	accept chan Conn
	done   chan struct{}

	mu        sync.Mutex
	conns     []net.Conn
	closeOnce sync.Once
}

type pipeConn struct {
	net.Conn
	peer string
}

func (c *pipeConn) Peer() string { return c.peer }

// Start registers a new node
func (m *MemoryNetwork) Start(ctx context.Context) (Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := &memoryNode{
		net:    m,
		id:     uuid.NewString(),
		accept: make(chan Conn),
		done:   make(chan struct{}),
	}
	m.mu.Lock()
	m.nodes[n.id] = n
	m.mu.Unlock()
	return n, nil
}

// Dial connects to the node named in addr
func (m *MemoryNetwork) Dial(ctx context.Context, addr ticket.PeerAddr) (Conn, error) {
	m.mu.Lock()
	n, ok := m.nodes[addr.NodeID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no node %s", types.ErrPeerUnreachable, addr.NodeID)
	}

	client, server := net.Pipe()
	dialer := "memory:" + uuid.NewString()[:8]
	select {
	case n.accept <- &pipeConn{Conn: server, peer: dialer}:
		n.track(server)
		return &pipeConn{Conn: client, peer: "memory:" + n.id}, nil
	case <-n.done:
		client.Close()
		server.Close()
		return nil, fmt.Errorf("%w: node %s closed", types.ErrPeerUnreachable, addr.NodeID)
	case <-ctx.Done():
		client.Close()
		server.Close()
		return nil, ctx.Err()
	}
}

func (n *memoryNode) ID() string { return n.id }

func (n *memoryNode) Addr() ticket.PeerAddr {
	return ticket.PeerAddr{NodeID: n.id}
}

func (n *memoryNode) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-n.accept:
		return c, nil
	case <-n.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (n *memoryNode) track(c net.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	select {
	case <-n.done:
		c.Close()
	default:
		n.conns = append(n.conns, c)
	}
}

func (n *memoryNode) Close() error {
	n.closeOnce.Do(func() {
		n.net.mu.Lock()
		delete(n.net.nodes, n.id)
		n.net.mu.Unlock()

		n.mu.Lock()
		close(n.done)
		for _, c := range n.conns {
			c.Close()
		}
		n.conns = nil
		n.mu.Unlock()
	})
	return nil
}
