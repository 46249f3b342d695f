package transport

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"sendmer/pkg/ticket"
	"sendmer/pkg/types"
)

func TestMemoryNetworkDialAccept(t *testing.T) {
	network := NewMemoryNetwork()
	ctx := context.Background()

	node, err := network.Start(ctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer node.Close()

	if node.Addr().NodeID != node.ID() {
		t.Fatalf("Addr().NodeID = %q, want %q", node.Addr().NodeID, node.ID())
	}

	accepted := make(chan Conn, 1)
	go func() {
		c, err := node.Accept(ctx)
		if err != nil {
			t.Errorf("Accept() error = %v", err)
			return
		}
		accepted <- c
	}()

	client, err := network.Dial(ctx, node.Addr())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()
	server := <-accepted

	go func() {
		client.Write([]byte("hello"))
	}()
	buf := make([]byte, 5)
	if _, err := io.ReadFull(server, buf); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("read %q, want %q", buf, "hello")
	}
	if client.Peer() == "" || server.Peer() == "" {
		t.Error("Peer() should describe the remote side")
	}
}

func TestMemoryNetworkDialUnknownNode(t *testing.T) {
	network := NewMemoryNetwork()
	_, err := network.Dial(context.Background(), ticket.PeerAddr{NodeID: "missing"})
	if !errors.Is(err, types.ErrPeerUnreachable) {
		t.Fatalf("Dial() error = %v, want ErrPeerUnreachable", err)
	}
}

func TestMemoryNodeClose(t *testing.T) {
	network := NewMemoryNetwork()
	ctx := context.Background()
	node, err := network.Start(ctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	accepted := make(chan Conn, 1)
	go func() {
		c, err := node.Accept(ctx)
		if err == nil {
			accepted <- c
		}
	}()
	client, err := network.Dial(ctx, node.Addr())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	<-accepted

	if err := node.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := node.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if _, err := node.Accept(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Accept() after Close error = %v, want ErrClosed", err)
	}
	if _, err := network.Dial(ctx, node.Addr()); !errors.Is(err, types.ErrPeerUnreachable) {
		t.Errorf("Dial() after Close error = %v, want ErrPeerUnreachable", err)
	}

	pc, ok := client.(*pipeConn)
	if !ok {
		t.Fatalf("Dial() returned %T, want *pipeConn", client)
	}
	pc.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := pc.Read(make([]byte, 1)); err == nil {
		t.Error("Read() on a conn of a closed node should fail")
	}
}

func TestMemoryNetworkDialCancelled(t *testing.T) {
	network := NewMemoryNetwork()
	node, err := network.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer node.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := network.Dial(ctx, node.Addr()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Dial() without Accept error = %v, want deadline exceeded", err)
	}
}
