package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"

	"sendmer/internal/store"
	"sendmer/pkg/codec"
	"sendmer/pkg/types"

	"github.com/pierrec/lz4/v4"
	"github.com/sirupsen/logrus"
)

// Hooks observe what a Server sends. Any of them may be nil.
type Hooks struct {
	OnRequest  func(h types.Hash, offset, size int64)
	OnProgress func(h types.Hash, sent, size int64)
	OnComplete func(h types.Hash, size int64)
}

// Server answers blob requests from a store
type Server struct {
	store     *store.Store
	chunkSize int
	hooks     Hooks
	logger    logrus.FieldLogger
}

// NewServer returns a server reading blobs from st in chunkSize pieces
func NewServer(st *store.Store, chunkSize int, hooks Hooks, logger logrus.FieldLogger) *Server {
	if chunkSize <= 0 || chunkSize > maxChunkSize {
		chunkSize = 64 * 1024
	}
	return &Server{
		store:     st,
		chunkSize: chunkSize,
		hooks:     hooks,
		logger:    logger.WithField("component", "server"),
	}
}

// Serve handles requests on conn until the peer closes it or ctx is done.
// conn is closed on return.
func (s *Server) Serve(ctx context.Context, conn io.ReadWriteCloser) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	dec := codec.NewDecoder(conn)
	enc := codec.NewEncoder(conn)

	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read request: %w", err)
		}

		if req.Type != MSG_GET {
			enc.Encode(Response{Type: MSG_ERROR, Error: fmt.Sprintf("unsupported request %q", req.Type)})
			return fmt.Errorf("%w: unsupported request %q", ErrProtocol, req.Type)
		}
		if err := s.sendBlob(ctx, enc, req); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *Server) sendBlob(ctx context.Context, enc *codec.Encoder, req Request) error {
	log := s.logger.WithField("hash", req.Hash.Short())

	f, size, err := s.store.Open(req.Hash)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug("requested blob not found")
		return enc.Encode(Response{Type: MSG_NOT_FOUND})
	}
	if errors.Is(err, store.ErrChanged) {
		log.WithError(err).Warn("refusing changed source")
		return enc.Encode(Response{Type: MSG_CHANGED})
	}
	if err != nil {
		log.WithError(err).Warn("failed to open blob")
		return enc.Encode(Response{Type: MSG_ERROR, Error: "blob unavailable"})
	}
	defer f.Close()

	if req.Offset < 0 || req.Offset > size {
		return enc.Encode(Response{Type: MSG_ERROR, Error: fmt.Sprintf("offset %d out of range", req.Offset)})
	}
	if _, err := f.Seek(req.Offset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek blob %s: %w", req.Hash.Short(), err)
	}

	if err := enc.Encode(Response{Type: MSG_BLOB, Size: size}); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	if s.hooks.OnRequest != nil {
		s.hooks.OnRequest(req.Hash, req.Offset, size)
	}
	log.Debugf("sending blob from offset %d of %d", req.Offset, size)

	buf := make([]byte, s.chunkSize)
	var zbuf []byte
	if req.Compress {
		zbuf = make([]byte, lz4.CompressBlockBound(s.chunkSize))
	}

	sent := req.Offset
	for sent < size {
		if err := ctx.Err(); err != nil {
			return err
		}

		n := int(min(int64(len(buf)), size-sent))
		if _, err := io.ReadFull(f, buf[:n]); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("failed to read blob %s: %w", req.Hash.Short(), err)
			}
			log.Warnf("source shrank after %d of %d bytes", sent, size)
			if err := enc.Encode(Chunk{Changed: true}); err != nil {
				return fmt.Errorf("failed to write chunk: %w", err)
			}
			return nil
		}

		chunk := Chunk{Data: buf[:n]}
		if req.Compress {
			if c, err := lz4.CompressBlock(buf[:n], zbuf, nil); err == nil && c > 0 && c < n {
				chunk = Chunk{Data: zbuf[:c], Raw: n}
			}
		}
		if err := enc.Encode(chunk); err != nil {
			return fmt.Errorf("failed to write chunk: %w", err)
		}

		sent += int64(n)
		if s.hooks.OnProgress != nil {
			s.hooks.OnProgress(req.Hash, sent, size)
		}
	}

	if s.hooks.OnComplete != nil {
		s.hooks.OnComplete(req.Hash, size)
	}
	return nil
}
