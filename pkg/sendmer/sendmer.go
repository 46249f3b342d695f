// Package sendmer is the embedding API: publish a file or directory and get
// a ticket, or download the content a ticket names.
package sendmer

import (
	"context"
	"errors"

	"sendmer/internal/app"
	"sendmer/internal/config"
	"sendmer/internal/reporter"
	"sendmer/internal/transport"
	"sendmer/pkg/logging"
	"sendmer/pkg/ticket"
	"sendmer/pkg/types"

	"github.com/sirupsen/logrus"
)

// Network is the peer network content is served on and fetched over
type Network = transport.Network

// ErrNoNetwork is reported when options carry no Network
var ErrNoNetwork = errors.New("sendmer: no network configured")

// Config tunes transfers, the WebRTC network and signalling
type Config = config.Config

// DefaultConfig returns the configuration used when none is given
func DefaultConfig() *Config {
	return config.NewDefaultConfig()
}

// NewMemoryNetwork returns an in-process network. Shares and downloads using
// the same instance can reach each other.
func NewMemoryNetwork() *transport.MemoryNetwork {
	return transport.NewMemoryNetwork()
}

// SendOptions configures StartShare
type SendOptions struct {
	Network     Network            // required
	Config      *Config            // defaults to DefaultConfig()
	Logger      logrus.FieldLogger // defaults to a discarding logger
	NoProgress  bool
	StagingRoot string
	AddrMode    ticket.AddrMode
}

// ReceiveOptions configures Download
type ReceiveOptions struct {
	Network         Network // required
	Config          *Config
	Logger          logrus.FieldLogger
	NoProgress      bool
	DestinationBase string
	WorkDir         string
}

// Share is content being served
type Share = app.Share

// StartShare publishes path and returns once the ticket is ready. Events, if
// not nil, receives the share's events and is closed after the terminal one.
func StartShare(ctx context.Context, path string, opts SendOptions, events chan<- types.Event) (*Share, error) {
	cfg, logger := defaults(opts.Config, opts.Logger)
	rep, _ := forward(types.RoleSender, cfg, events)
	if opts.Network == nil {
		rep.Emit(types.Event{Kind: types.EventFailed, Err: ErrNoNetwork})
		return nil, ErrNoNetwork
	}

	sender := app.NewSenderApp(cfg, opts.Network, logger)
	return sender.Publish(ctx, path, app.SenderOptions{
		NoProgress:  opts.NoProgress,
		StagingRoot: opts.StagingRoot,
		AddrMode:    opts.AddrMode,
	}, rep)
}

// Download fetches the content named by tk and installs it under
// opts.DestinationBase. Events, if not nil, receives the download's events
// and is closed before Download returns.
func Download(ctx context.Context, tk string, opts ReceiveOptions, events chan<- types.Event) types.Outcome {
	cfg, logger := defaults(opts.Config, opts.Logger)
	rep, forwarded := forward(types.RoleReceiver, cfg, events)
	if opts.Network == nil {
		rep.Emit(types.Event{Kind: types.EventFailed, Err: ErrNoNetwork})
		<-forwarded
		return types.Failure(ErrNoNetwork, 0, 0)
	}

	receiver := app.NewReceiverApp(cfg, opts.Network, logger)
	out := receiver.Fetch(ctx, tk, app.ReceiverOptions{
		NoProgress:      opts.NoProgress,
		DestinationBase: opts.DestinationBase,
		WorkDir:         opts.WorkDir,
	}, rep)
	<-forwarded
	return out
}

func defaults(cfg *config.Config, logger logrus.FieldLogger) (*config.Config, logrus.FieldLogger) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return cfg, logger
}

// forward copies a reporter's stream into events. The returned channel is
// closed once events has been closed.
func forward(role types.Role, cfg *config.Config, events chan<- types.Event) (*reporter.Reporter, <-chan struct{}) {
	done := make(chan struct{})
	if events == nil {
		close(done)
		return nil, done
	}
	rep := reporter.New(role, cfg.Transfer.ProgressQueue)
	go func() {
		defer close(done)
		defer close(events)
		for ev := range rep.Events() {
			events <- ev
		}
	}()
	return rep, done
}
