package protocol

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sendmer/internal/store"
	"sendmer/pkg/logging"
	"sendmer/pkg/types"
)

type fixture struct {
	src     *store.Store
	dst     *store.Store
	content *store.ImportResult
	data    []byte
	path    string
	dials   atomic.Int32
	wg      sync.WaitGroup
}

func newFixture(t *testing.T, data []byte) *fixture {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := store.Open(filepath.Join(dir, "src"), logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	dst, err := store.Open(filepath.Join(dir, "dst"), logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	res, err := src.Import(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{src: src, dst: dst, content: res, data: data, path: path}
}

// dialer serves each new connection from f.src. wrap, when set, decorates the
// client end of the n-th connection.
func (f *fixture) dialer(t *testing.T, hooks Hooks, wrap func(n int32, c net.Conn) net.Conn) Dialer {
	server := NewServer(f.src, 4096, hooks, logging.Discard())
	t.Cleanup(f.wg.Wait)
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		n := f.dials.Add(1)
		client, srv := net.Pipe()
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			server.Serve(context.Background(), srv)
		}()
		if wrap != nil {
			return wrap(n, client), nil
		}
		return client, nil
	}
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(b)
	return b
}

func fetchAll(ctx context.Context, g *Getter, f *fixture) error {
	if err := g.Fetch(ctx, f.content.Content.Hash, -1, store.MaxCollectionSize, nil); err != nil {
		return err
	}
	e := f.content.Collection.Entries[0]
	return g.Fetch(ctx, e.Hash, e.Size, 0, nil)
}

func TestFetch(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "lz4"
		}
		t.Run(name, func(t *testing.T) {
			data := append(bytes.Repeat([]byte("compressible "), 4000), randomBytes(20000)...)
			f := newFixture(t, data)

			var completed atomic.Int32
			hooks := Hooks{OnComplete: func(types.Hash, int64) { completed.Add(1) }}
			g := NewGetter(f.dst, f.dialer(t, hooks, nil), GetterOptions{Compress: compress, Retries: 2, Backoff: time.Millisecond}, logging.Discard())
			defer g.Close()

			if err := fetchAll(context.Background(), g, f); err != nil {
				t.Fatalf("fetch: %v", err)
			}
			e := f.content.Collection.Entries[0]
			got, err := f.dst.Bytes(e.Hash, 1<<30)
			if err != nil || !bytes.Equal(got, data) {
				t.Fatalf("downloaded content differs: %v", err)
			}
			if f.dials.Load() != 1 {
				t.Fatalf("dialed %d times, want 1", f.dials.Load())
			}
			g.Close()
			f.wg.Wait()
			if completed.Load() != 2 {
				t.Fatalf("server completed %d blobs, want 2", completed.Load())
			}
		})
	}
}

func TestFetchProgressMonotonic(t *testing.T) {
	f := newFixture(t, randomBytes(50000))
	g := NewGetter(f.dst, f.dialer(t, Hooks{}, nil), GetterOptions{}, logging.Discard())
	defer g.Close()

	e := f.content.Collection.Entries[0]
	var last int64 = -1
	err := g.Fetch(context.Background(), e.Hash, e.Size, 0, func(done, total int64) {
		if done < last {
			t.Errorf("progress went backwards: %d after %d", done, last)
		}
		if total != e.Size {
			t.Errorf("total = %d, want %d", total, e.Size)
		}
		last = done
	})
	if err != nil {
		t.Fatal(err)
	}
	if last != e.Size {
		t.Fatalf("final progress = %d, want %d", last, e.Size)
	}
}

// breakingConn fails reads once limit bytes have been read
type breakingConn struct {
	net.Conn
	limit int
	read  int
}

func (c *breakingConn) Read(p []byte) (int, error) {
	if c.read >= c.limit {
		c.Conn.Close()
		return 0, io.ErrUnexpectedEOF
	}
	if len(p) > c.limit-c.read {
		p = p[:c.limit-c.read]
	}
	n, err := c.Conn.Read(p)
	c.read += n
	return n, err
}

func TestFetchResumesAfterBrokenStream(t *testing.T) {
	data := randomBytes(200000)
	f := newFixture(t, data)
	wrap := func(n int32, c net.Conn) net.Conn {
		if n == 1 {
			return &breakingConn{Conn: c, limit: 60000}
		}
		return c
	}

	var offsets []int64
	var mu sync.Mutex
	hooks := Hooks{OnRequest: func(_ types.Hash, offset, _ int64) {
		mu.Lock()
		offsets = append(offsets, offset)
		mu.Unlock()
	}}

	g := NewGetter(f.dst, f.dialer(t, hooks, wrap), GetterOptions{Retries: 3, Backoff: time.Millisecond}, logging.Discard())
	defer g.Close()

	e := f.content.Collection.Entries[0]
	if err := g.Fetch(context.Background(), e.Hash, e.Size, 0, nil); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	got, err := f.dst.Bytes(e.Hash, 1<<30)
	if err != nil || !bytes.Equal(got, data) {
		t.Fatalf("resumed content differs: %v", err)
	}
	if f.dials.Load() != 2 {
		t.Fatalf("dialed %d times, want 2", f.dials.Load())
	}
	g.Close()
	f.wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	if len(offsets) != 2 || offsets[0] != 0 || offsets[1] == 0 {
		t.Fatalf("request offsets = %v, want a resumed second request", offsets)
	}
}

func TestFetchVerificationFailure(t *testing.T) {
	data := randomBytes(10000)
	f := newFixture(t, data)

	tampered := append([]byte(nil), data...)
	tampered[5000] ^= 0xff
	if err := os.WriteFile(f.path, tampered, 0o644); err != nil {
		t.Fatal(err)
	}

	g := NewGetter(f.dst, f.dialer(t, Hooks{}, nil), GetterOptions{Retries: 3, Backoff: time.Millisecond}, logging.Discard())
	defer g.Close()

	e := f.content.Collection.Entries[0]
	err := g.Fetch(context.Background(), e.Hash, e.Size, 0, nil)
	if !errors.Is(err, types.ErrTransferVerificationFailed) {
		t.Fatalf("Fetch error = %v, want ErrTransferVerificationFailed", err)
	}
	if f.dst.Has(e.Hash) {
		t.Fatal("tampered blob was stored")
	}
	if f.dials.Load() != 1 {
		t.Fatalf("verification failure was retried (%d dials)", f.dials.Load())
	}
}

func TestFetchSourceTruncated(t *testing.T) {
	data := randomBytes(50000)
	f := newFixture(t, data)
	if err := os.Truncate(f.path, 20000); err != nil {
		t.Fatal(err)
	}

	g := NewGetter(f.dst, f.dialer(t, Hooks{}, nil), GetterOptions{Retries: 3, Backoff: time.Millisecond}, logging.Discard())
	defer g.Close()

	e := f.content.Collection.Entries[0]
	err := g.Fetch(context.Background(), e.Hash, e.Size, 0, nil)
	if !errors.Is(err, types.ErrTransferVerificationFailed) {
		t.Fatalf("Fetch error = %v, want ErrTransferVerificationFailed", err)
	}
	if errors.Is(err, types.ErrPeerUnreachable) {
		t.Fatalf("Fetch error = %v, should not report the peer as unreachable", err)
	}
	if f.dials.Load() != 1 {
		t.Fatalf("changed source was retried (%d dials)", f.dials.Load())
	}
}

func TestFetchSourceShrinksWhileSending(t *testing.T) {
	data := randomBytes(50000)
	f := newFixture(t, data)
	e := f.content.Collection.Entries[0]

	hooks := Hooks{OnRequest: func(h types.Hash, _, _ int64) {
		if h == e.Hash {
			if err := os.Truncate(f.path, 1000); err != nil {
				t.Error(err)
			}
		}
	}}
	g := NewGetter(f.dst, f.dialer(t, hooks, nil), GetterOptions{Retries: 3, Backoff: time.Millisecond}, logging.Discard())
	defer g.Close()

	err := g.Fetch(context.Background(), e.Hash, e.Size, 0, nil)
	if !errors.Is(err, types.ErrTransferVerificationFailed) {
		t.Fatalf("Fetch error = %v, want ErrTransferVerificationFailed", err)
	}
	if f.dst.Has(e.Hash) {
		t.Fatal("short blob was stored")
	}
	if f.dials.Load() != 1 {
		t.Fatalf("changed source was retried (%d dials)", f.dials.Load())
	}

	// the connection stays usable for the next request
	if err := g.Fetch(context.Background(), f.content.Content.Hash, -1, store.MaxCollectionSize, nil); err != nil {
		t.Fatalf("Fetch after changed blob: %v", err)
	}
}

func TestFetchNotFound(t *testing.T) {
	f := newFixture(t, []byte("x"))
	g := NewGetter(f.dst, f.dialer(t, Hooks{}, nil), GetterOptions{}, logging.Discard())
	defer g.Close()

	err := g.Fetch(context.Background(), types.Hash{9, 9, 9}, -1, 0, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Fetch error = %v, want ErrNotFound", err)
	}
}

func TestFetchPeerUnreachable(t *testing.T) {
	dst, err := store.Open(t.TempDir(), logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	var dials int
	dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
		dials++
		return nil, errors.New("connection refused")
	}

	g := NewGetter(dst, dial, GetterOptions{Retries: 3, Backoff: time.Millisecond}, logging.Discard())
	err = g.Fetch(context.Background(), types.Hash{1}, 10, 0, nil)
	if !errors.Is(err, types.ErrPeerUnreachable) {
		t.Fatalf("Fetch error = %v, want ErrPeerUnreachable", err)
	}
	if dials != 4 {
		t.Fatalf("dialed %d times, want 4", dials)
	}
}

func TestFetchCancelled(t *testing.T) {
	f := newFixture(t, randomBytes(100000))
	ctx, cancel := context.WithCancel(context.Background())

	g := NewGetter(f.dst, f.dialer(t, Hooks{}, nil), GetterOptions{Retries: 3, Backoff: time.Millisecond}, logging.Discard())
	defer g.Close()

	e := f.content.Collection.Entries[0]
	err := g.Fetch(ctx, e.Hash, e.Size, 0, func(done, total int64) {
		if done > 0 {
			cancel()
		}
	})
	if !errors.Is(err, types.ErrCancelled) {
		t.Fatalf("Fetch error = %v, want ErrCancelled", err)
	}
	if f.dst.Has(e.Hash) {
		t.Fatal("cancelled blob was committed")
	}
}
