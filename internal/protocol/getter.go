package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"sendmer/internal/store"
	"sendmer/pkg/codec"
	"sendmer/pkg/types"

	"github.com/pierrec/lz4/v4"
	"github.com/sirupsen/logrus"
)

// Dialer opens a new connection to the serving peer
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// GetterOptions tunes retries and compression
type GetterOptions struct {
	Compress bool
	Retries  int
	Backoff  time.Duration
}

// Getter downloads blobs into a store over connections from a Dialer. It
// keeps one connection open across blobs and redials when it breaks. Not
// safe for concurrent use.
type Getter struct {
	store  *store.Store
	dial   Dialer
	opts   GetterOptions
	logger logrus.FieldLogger

	conn io.ReadWriteCloser
	enc  *codec.Encoder
	dec  *codec.Decoder
}

// connError marks failures of the connection itself, which are worth a
// redial. Everything else is final.
type connError struct{ err error }

func (e *connError) Error() string { return e.err.Error() }
func (e *connError) Unwrap() error { return e.err }

// NewGetter returns a getter writing into st
func NewGetter(st *store.Store, dial Dialer, opts GetterOptions, logger logrus.FieldLogger) *Getter {
	return &Getter{
		store:  st,
		dial:   dial,
		opts:   opts,
		logger: logger.WithField("component", "getter"),
	}
}

// Connect dials the peer unless a connection is already open
func (g *Getter) Connect(ctx context.Context) error {
	if g.conn != nil {
		return nil
	}
	conn, err := g.dial(ctx)
	if err != nil {
		return &connError{err: err}
	}
	g.conn = conn
	g.enc = codec.NewEncoder(conn)
	g.dec = codec.NewDecoder(conn)
	return nil
}

// Close closes the current connection, if any
func (g *Getter) Close() error {
	if g.conn == nil {
		return nil
	}
	err := g.conn.Close()
	g.conn, g.enc, g.dec = nil, nil, nil
	return err
}

// Fetch downloads h into the store. size is the expected size, or -1 when
// unknown; limit, when positive, caps the accepted size. onProgress receives
// the number of bytes held so far and the total, in non-decreasing order.
//
// Broken connections are redialed up to Retries times with a linear backoff,
// resuming from the bytes already written. When all attempts fail the error
// wraps types.ErrPeerUnreachable; a cancelled ctx yields types.ErrCancelled.
func (g *Getter) Fetch(ctx context.Context, h types.Hash, size, limit int64, onProgress func(done, total int64)) error {
	if onProgress == nil {
		onProgress = func(int64, int64) {}
	}
	if have, ok := g.store.Size(h); ok {
		onProgress(have, have)
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= g.opts.Retries; attempt++ {
		if attempt > 0 {
			g.logger.WithError(lastErr).Warnf("transfer interrupted, retrying (%d/%d)", attempt, g.opts.Retries)
			select {
			case <-time.After(time.Duration(attempt) * g.opts.Backoff):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", types.ErrCancelled, ctx.Err())
			}
		}

		err := g.fetchOnce(ctx, h, size, limit, onProgress)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			g.Close()
			return fmt.Errorf("%w: %v", types.ErrCancelled, ctx.Err())
		}
		var ce *connError
		if !errors.As(err, &ce) {
			return err
		}
		g.Close()
		lastErr = err
	}
	return fmt.Errorf("%w: %v", types.ErrPeerUnreachable, lastErr)
}

func (g *Getter) fetchOnce(ctx context.Context, h types.Hash, size, limit int64, onProgress func(done, total int64)) error {
	if err := g.Connect(ctx); err != nil {
		return err
	}
	conn := g.conn
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	p, err := g.store.Partial(h)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			p.Close()
		}
	}()

	if size >= 0 && p.Offset() > size {
		p.Abort()
		if p, err = g.store.Partial(h); err != nil {
			return err
		}
	}
	offset := p.Offset()

	if err := g.enc.Encode(Request{Type: MSG_GET, Hash: h, Offset: offset, Compress: g.opts.Compress}); err != nil {
		return &connError{err: fmt.Errorf("failed to send request: %w", err)}
	}
	var resp Response
	if err := g.dec.Decode(&resp); err != nil {
		return &connError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	switch resp.Type {
	case MSG_BLOB:
	case MSG_NOT_FOUND:
		return fmt.Errorf("%w: %s", ErrNotFound, h.Short())
	case MSG_CHANGED:
		p.Abort()
		committed = true
		return changedError(h)
	case MSG_ERROR:
		return fmt.Errorf("peer refused blob %s: %s", h.Short(), resp.Error)
	default:
		return fmt.Errorf("%w: unexpected response %q", ErrProtocol, resp.Type)
	}

	if size >= 0 && resp.Size != size {
		p.Abort()
		committed = true
		return fmt.Errorf("%w: peer offers %d bytes for blob %s, want %d",
			types.ErrTransferVerificationFailed, resp.Size, h.Short(), size)
	}
	if limit > 0 && resp.Size > limit {
		return fmt.Errorf("blob %s is %d bytes, limit is %d", h.Short(), resp.Size, limit)
	}

	onProgress(offset, resp.Size)

	var raw []byte
	for p.Offset() < resp.Size {
		if err := ctx.Err(); err != nil {
			return err
		}

		var chunk Chunk
		if err := g.dec.Decode(&chunk); err != nil {
			return &connError{err: fmt.Errorf("failed to read chunk: %w", err)}
		}
		if chunk.Changed {
			p.Abort()
			committed = true
			return changedError(h)
		}

		data := chunk.Data
		if chunk.Raw > 0 {
			if chunk.Raw > maxChunkSize {
				return fmt.Errorf("%w: chunk of %d bytes", ErrProtocol, chunk.Raw)
			}
			if cap(raw) < chunk.Raw {
				raw = make([]byte, chunk.Raw)
			}
			n, err := lz4.UncompressBlock(chunk.Data, raw[:chunk.Raw])
			if err != nil || n != chunk.Raw {
				return fmt.Errorf("%w: corrupt compressed chunk", ErrProtocol)
			}
			data = raw[:n]
		}
		if int64(len(data)) > resp.Size-p.Offset() {
			return fmt.Errorf("%w: chunk overruns blob %s", ErrProtocol, h.Short())
		}

		if _, err := p.Write(data); err != nil {
			return fmt.Errorf("failed to write blob %s: %w", h.Short(), err)
		}
		onProgress(p.Offset(), resp.Size)
	}

	committed = true
	return p.Commit(resp.Size)
}

func changedError(h types.Hash) error {
	return fmt.Errorf("%w: blob %s changed on the peer since import", types.ErrTransferVerificationFailed, h.Short())
}
