package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"sendmer/internal/config"
	"sendmer/internal/lifecycle"
	"sendmer/internal/protocol"
	"sendmer/internal/reporter"
	"sendmer/internal/staging"
	"sendmer/internal/store"
	"sendmer/internal/transport"
	"sendmer/pkg/ticket"
	"sendmer/pkg/types"
	"sendmer/pkg/utils"

	"github.com/sirupsen/logrus"
)

// ReceiverOptions configures a fetch
type ReceiverOptions struct {
	NoProgress      bool   // suppress per-item progress events
	DestinationBase string // directory the content is installed in; defaults to the working directory
	WorkDir         string // where the staging area is created; defaults to DestinationBase
}

// ReceiverApp downloads published content
type ReceiverApp struct {
	config  *config.Config
	network transport.Network
	logger  logrus.FieldLogger
}

// NewReceiverApp creates a new receiver application
func NewReceiverApp(cfg *config.Config, network transport.Network, logger logrus.FieldLogger) *ReceiverApp {
	return &ReceiverApp{
		config:  cfg,
		network: network,
		logger:  logger.WithField("role", types.RoleReceiver),
	}
}

// fetchSession is the state of one Fetch call
type fetchSession struct {
	app  *ReceiverApp
	opts ReceiverOptions
	rep  *reporter.Reporter
	lc   *lifecycle.Controller
	area *staging.Area

	peer  string
	items int
	bytes int64
}

// Fetch downloads the content named by ticketStr and installs it under the
// destination base. The staging directory it works in is removed before
// Fetch returns, whatever the outcome. Exactly one terminal event is emitted.
func (r *ReceiverApp) Fetch(ctx context.Context, ticketStr string, opts ReceiverOptions, rep *reporter.Reporter) types.Outcome {
	sess := &fetchSession{
		app:  r,
		opts: opts,
		rep:  rep,
		lc:   lifecycle.New(ctx),
	}
	if err := sess.lc.Start(); err != nil {
		return sess.fail(ctx, err)
	}

	path, err := sess.run(ticketStr)
	if err != nil {
		return sess.fail(ctx, err)
	}

	sess.lc.Finish(lifecycle.Completed)
	rep.Emit(types.Event{
		Kind:       types.EventCompleted,
		TotalItems: sess.items,
		TotalBytes: sess.bytes,
		Path:       path,
	})
	r.logger.WithField("path", path).Info("download installed")
	return types.Success(path, sess.items, sess.bytes)
}

func (s *fetchSession) fail(ctx context.Context, err error) types.Outcome {
	if s.area != nil {
		if derr := s.area.Discard(); derr != nil {
			s.app.logger.WithError(derr).Warn("failed to remove staging directory")
		}
	}

	if ctx.Err() != nil && !errors.Is(err, types.ErrCancelled) {
		err = fmt.Errorf("%w: %v", types.ErrCancelled, err)
	}
	out := types.Failure(err, s.items, s.bytes)
	if out.Status == types.StatusCancelled {
		s.lc.Finish(lifecycle.Cancelled)
		s.rep.Emit(types.Event{Kind: types.EventCancelled})
		s.app.logger.Info("download cancelled")
	} else {
		s.lc.Finish(lifecycle.Failed)
		s.rep.Emit(types.Event{Kind: types.EventFailed, Err: err})
		s.app.logger.WithError(err).Warn("download failed")
	}
	return out
}

func (s *fetchSession) run(ticketStr string) (string, error) {
	ctx := s.lc.Context()
	cfg := s.app.config

	tk, err := ticket.Decode(ticketStr)
	if err != nil {
		return "", err
	}
	base := s.opts.DestinationBase
	if base == "" {
		base = "."
	}
	base, err = utils.ResolveDestinationBase(base)
	if err != nil {
		return "", err
	}
	workDir := s.opts.WorkDir
	if workDir == "" {
		workDir = base
	}

	s.area, err = staging.Acquire(workDir, "recv")
	if err != nil {
		return "", err
	}
	defer func() {
		if err := s.area.Discard(); err != nil {
			s.app.logger.WithError(err).Warn("failed to remove staging directory")
		}
	}()

	st, err := store.Open(s.area.Join("store"), s.app.logger)
	if err != nil {
		return "", err
	}

	getter := protocol.NewGetter(st, s.dialer(tk), protocol.GetterOptions{
		Compress: cfg.Transfer.Compress,
		Retries:  cfg.Transfer.Retries,
		Backoff:  cfg.Transfer.RetryBackoff,
	}, s.app.logger)
	defer getter.Close()

	s.app.logger.WithField("content", tk.Content.Hash.Short()).Info("fetching collection")
	if err := getter.Fetch(ctx, tk.Content.Hash, -1, store.MaxCollectionSize, nil); err != nil {
		return "", err
	}
	data, err := st.Bytes(tk.Content.Hash, store.MaxCollectionSize)
	if err != nil {
		return "", err
	}
	c, err := store.UnmarshalCollection(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrTransferVerificationFailed, err)
	}
	if c.Kind != tk.Content.Kind {
		return "", fmt.Errorf("%w: ticket names a %s but content is a %s",
			types.ErrTransferVerificationFailed, tk.Content.Kind, c.Kind)
	}

	s.rep.Emit(types.Event{Kind: types.EventStarted, TotalItems: len(c.Entries), TotalBytes: c.TotalSize()})
	s.rep.Emit(types.Event{Kind: types.EventConnected, Peer: s.peer})
	s.rep.Emit(types.Event{Kind: types.EventManifest, Names: c.Names()})

	dest := filepath.Join(base, c.Name)
	if _, err := os.Lstat(dest); err == nil {
		return "", fmt.Errorf("%w: %s", types.ErrDestinationExists, dest)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to check destination: %w", err)
	}

	speed := newSpeedMeter()
	for _, e := range c.Entries {
		name := c.Path(e)
		var onProgress func(done, total int64)
		if !s.opts.NoProgress {
			onProgress = func(done, total int64) {
				s.rep.Emit(types.Event{
					Kind:  types.EventItemProgress,
					Item:  name,
					Bytes: done,
					Total: total,
					Speed: speed.observe(name, done),
				})
			}
		}
		if err := getter.Fetch(ctx, e.Hash, e.Size, 0, onProgress); err != nil {
			return "", fmt.Errorf("failed to fetch %s: %w", name, err)
		}
		s.items++
		s.bytes += e.Size
		s.rep.Emit(types.Event{Kind: types.EventItemComplete, Item: name, Total: e.Size})
	}
	getter.Close()

	outDir := s.area.Join("out")
	if _, err := st.Export(ctx, c, outDir); err != nil {
		return "", err
	}
	if err := s.area.Retire(ctx, filepath.Join("out", c.Name), dest); err != nil {
		return "", err
	}
	return dest, nil
}

// dialer tries each peer in the ticket in order and remembers which one
// answered.
func (s *fetchSession) dialer(tk ticket.Ticket) protocol.Dialer {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		var lastErr error
		for _, peer := range tk.Peers {
			conn, err := s.app.network.Dial(ctx, peer)
			if err == nil {
				if s.peer == "" {
					s.peer = conn.Peer()
				}
				return conn, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.app.logger.WithError(err).WithField("node", peer.NodeID).Debug("dial failed")
			lastErr = err
		}
		if !errors.Is(lastErr, types.ErrPeerUnreachable) {
			lastErr = fmt.Errorf("%w: %v", types.ErrPeerUnreachable, lastErr)
		}
		return nil, lastErr
	}
}
