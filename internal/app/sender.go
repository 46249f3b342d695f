package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sendmer/internal/config"
	"sendmer/internal/lifecycle"
	"sendmer/internal/protocol"
	"sendmer/internal/reporter"
	"sendmer/internal/staging"
	"sendmer/internal/store"
	"sendmer/internal/transport"
	"sendmer/pkg/ticket"
	"sendmer/pkg/types"

	"github.com/sirupsen/logrus"
)

// shutdownGrace is how long Stop waits for in-flight connections
const shutdownGrace = 2 * time.Second

// SenderOptions configures a publish
type SenderOptions struct {
	NoProgress  bool            // suppress per-item progress events
	StagingRoot string          // where the store area is created; defaults to the working directory
	AddrMode    ticket.AddrMode // which address hints the ticket carries
}

// SenderApp publishes local content on a network
type SenderApp struct {
	config  *config.Config
	network transport.Network
	logger  logrus.FieldLogger
}

// NewSenderApp creates a new sender application
func NewSenderApp(cfg *config.Config, network transport.Network, logger logrus.FieldLogger) *SenderApp {
	return &SenderApp{
		config:  cfg,
		network: network,
		logger:  logger.WithField("role", types.RoleSender),
	}
}

// Share is content being served. It stays up until Stop is called or the
// context given to Publish is cancelled.
type Share struct {
	ticket   ticket.Ticket
	result   *store.ImportResult
	source   string
	opts     SenderOptions
	imported time.Duration
	speed    *speedMeter

	node   transport.Node
	area   *staging.Area
	server *protocol.Server
	names  map[types.Hash]string
	rep    *reporter.Reporter
	lc     *lifecycle.Controller
	logger logrus.FieldLogger

	wg       sync.WaitGroup
	unwatch  func() bool
	stopOnce sync.Once
	stopErr  error
}

// Publish imports source, starts a node and begins serving. It returns once
// the ticket is ready. Cancelling ctx during setup cleans up, emits Cancelled
// and returns an error wrapping types.ErrCancelled; cancelling it later stops
// the share.
func (s *SenderApp) Publish(ctx context.Context, source string, opts SenderOptions, rep *reporter.Reporter) (*Share, error) {
	lc := lifecycle.New(ctx)
	if err := lc.Start(); err != nil {
		return nil, err
	}

	var area *staging.Area
	var node transport.Node
	fail := func(err error) (*Share, error) {
		if node != nil {
			node.Close()
		}
		if area != nil {
			if derr := area.Discard(); derr != nil {
				s.logger.WithError(derr).Warn("failed to remove staging directory")
			}
		}
		if ctx.Err() != nil {
			if !errors.Is(err, types.ErrCancelled) {
				err = fmt.Errorf("%w: %v", types.ErrCancelled, err)
			}
			lc.Finish(lifecycle.Cancelled)
			rep.Emit(types.Event{Kind: types.EventCancelled})
			return nil, err
		}
		lc.Finish(lifecycle.Failed)
		rep.Emit(types.Event{Kind: types.EventFailed, Err: err})
		return nil, err
	}

	abs, err := filepath.Abs(source)
	if err != nil {
		return fail(fmt.Errorf("failed to resolve %s: %w", source, err))
	}
	if _, err := os.Stat(abs); errors.Is(err, fs.ErrNotExist) {
		return fail(fmt.Errorf("%w: %s", types.ErrSourceNotFound, source))
	}

	area, err = staging.Acquire(opts.StagingRoot, "send")
	if err != nil {
		return fail(err)
	}
	st, err := store.Open(area.Join("store"), s.logger)
	if err != nil {
		return fail(err)
	}

	s.logger.WithField("path", abs).Info("importing content")
	begin := time.Now()
	result, err := st.Import(lc.Context(), abs)
	if err != nil {
		return fail(err)
	}
	imported := time.Since(begin)
	rep.Emit(types.Event{
		Kind:       types.EventStarted,
		TotalItems: len(result.Collection.Entries),
		TotalBytes: result.Size,
	})

	node, err = s.network.Start(lc.Context())
	if err != nil {
		return fail(fmt.Errorf("failed to start node: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	share := &Share{
		ticket:   ticket.New(result.Content, node.Addr().Filter(opts.AddrMode)),
		result:   result,
		source:   abs,
		opts:     opts,
		imported: imported,
		speed:    newSpeedMeter(),
		node:     node,
		area:     area,
		names:    make(map[types.Hash]string, len(result.Collection.Entries)),
		rep:      rep,
		lc:       lc,
		logger:   s.logger.WithField("node", node.ID()),
	}
	for _, e := range result.Collection.Entries {
		if _, ok := share.names[e.Hash]; !ok {
			share.names[e.Hash] = result.Collection.Path(e)
		}
	}
	share.server = protocol.NewServer(st, s.config.Transfer.ChunkSize, share.hooks(), share.logger)
	share.wg.Add(1)
	go share.acceptLoop()

	share.unwatch = context.AfterFunc(ctx, func() {
		share.shutdown(context.Background(), lifecycle.Cancelled)
	})

	share.logger.WithFields(logrus.Fields{
		"content": result.Content.Hash.Short(),
		"files":   len(result.Collection.Entries),
		"bytes":   result.Size,
		"took":    imported,
	}).Info("share ready")
	return share, nil
}

func (sh *Share) hooks() protocol.Hooks {
	hooks := protocol.Hooks{
		OnComplete: func(h types.Hash, size int64) {
			if name, ok := sh.names[h]; ok {
				sh.rep.Emit(types.Event{Kind: types.EventItemComplete, Item: name, Total: size})
			}
		},
	}
	if !sh.opts.NoProgress {
		hooks.OnRequest = func(h types.Hash, offset, _ int64) {
			if name, ok := sh.names[h]; ok {
				sh.speed.reset(name, offset)
			}
		}
		hooks.OnProgress = func(h types.Hash, sent, size int64) {
			if name, ok := sh.names[h]; ok {
				sh.rep.Emit(types.Event{
					Kind:  types.EventItemProgress,
					Item:  name,
					Bytes: sent,
					Total: size,
					Speed: sh.speed.observe(name, sent),
				})
			}
		}
	}
	return hooks
}

func (sh *Share) acceptLoop() {
	defer sh.wg.Done()

	ctx := sh.lc.Context()
	for {
		conn, err := sh.node.Accept(ctx)
		if err != nil {
			if !errors.Is(err, transport.ErrClosed) && ctx.Err() == nil {
				sh.logger.WithError(err).Warn("accept failed")
			}
			return
		}

		sh.rep.Emit(types.Event{Kind: types.EventConnected, Peer: conn.Peer()})
		sh.logger.WithField("peer", conn.Peer()).Info("receiver connected")

		sh.wg.Add(1)
		go func() {
			defer sh.wg.Done()
			if err := sh.server.Serve(ctx, conn); err != nil {
				sh.logger.WithError(err).WithField("peer", conn.Peer()).Warn("connection ended with error")
			}
		}()
	}
}

// Ticket returns the ticket receivers use to fetch the content
func (sh *Share) Ticket() ticket.Ticket { return sh.ticket }

// Content is the published content id
func (sh *Share) Content() types.ContentID { return sh.result.Content }

// Size is the total number of bytes published
func (sh *Share) Size() int64 { return sh.result.Size }

// Items is the number of files published
func (sh *Share) Items() int { return len(sh.result.Collection.Entries) }

// Kind tells whether a file or a directory was published
func (sh *Share) Kind() types.Kind { return sh.result.Content.Kind }

// Collection lists the published files
func (sh *Share) Collection() *store.Collection { return sh.result.Collection }

// ImportTime is how long hashing the source took
func (sh *Share) ImportTime() time.Duration { return sh.imported }

// Done is closed once the share has shut down
func (sh *Share) Done() <-chan struct{} { return sh.lc.Done() }

// Stop shuts the node down, giving open connections a short grace period,
// and removes the store area. It emits Completed and is safe to call more
// than once.
func (sh *Share) Stop(ctx context.Context) error {
	sh.unwatch()
	return sh.shutdown(ctx, lifecycle.Completed)
}

func (sh *Share) shutdown(ctx context.Context, state lifecycle.State) error {
	sh.stopOnce.Do(func() {
		closeErr := sh.node.Close()

		drained := make(chan struct{})
		go func() {
			sh.wg.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(shutdownGrace):
			sh.logger.Warn("connections still open after grace period, closing")
		case <-ctx.Done():
		}
		sh.lc.Cancel()
		<-drained

		discardErr := sh.area.Discard()
		sh.stopErr = errors.Join(closeErr, discardErr)
		if sh.stopErr != nil {
			sh.logger.WithError(sh.stopErr).Warn("share shut down with errors")
		}

		sh.lc.Finish(state)
		sh.logger.WithField("state", sh.lc.State()).Info("share stopped")
		if state == lifecycle.Cancelled {
			sh.rep.Emit(types.Event{Kind: types.EventCancelled})
			return
		}
		sh.rep.Emit(types.Event{
			Kind:       types.EventCompleted,
			TotalItems: sh.Items(),
			TotalBytes: sh.Size(),
			Path:       sh.source,
		})
	})
	return sh.stopErr
}
