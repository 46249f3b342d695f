package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sendmer/internal/config"
	"sendmer/internal/signalling"
	"sendmer/pkg/ticket"
	"sendmer/pkg/types"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

const dataChannelLabel = "sendmer"

// WebRTCNetwork connects nodes over WebRTC data channels. Session
// descriptions travel through a Signaler, so a node is reachable by its id
// alone; address hints in tickets only seed ICE.
type WebRTCNetwork struct {
	cfg      *config.Config
	signaler signalling.Signaler
	sdp      *signalling.SDPHandler
	api      *webrtc.API
	logger   logrus.FieldLogger
}

// NewWebRTCNetwork returns a network using signaler for rendezvous
func NewWebRTCNetwork(cfg *config.Config, signaler signalling.Signaler, logger logrus.FieldLogger) *WebRTCNetwork {
	se := webrtc.SettingEngine{}
	se.DetachDataChannels()

	return &WebRTCNetwork{
		cfg:      cfg,
		signaler: signaler,
		sdp:      &signalling.SDPHandler{GatherTimeout: cfg.WebRTC.ICEGatherTimeout},
		api:      webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		logger:   logger.WithField("component", "webrtc"),
	}
}

type webrtcNode struct {
	net    *WebRTCNetwork
	id     string
	addr   ticket.PeerAddr
	accept chan Conn
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	peers     map[*webrtc.PeerConnection]struct{}
	closeOnce sync.Once
}

// Start registers a fresh node id with the signaler and begins answering
// offers addressed to it.
func (w *WebRTCNetwork) Start(ctx context.Context) (Node, error) {
	id := uuid.NewString()
	if err := w.signaler.Register(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to register node: %w", err)
	}

	addr := ticket.PeerAddr{NodeID: id}
	if !w.cfg.STUN.Disabled && w.cfg.STUN.Server != "" {
		direct, err := DiscoverAddr(ctx, w.cfg.STUN.Server, w.cfg.STUN.Timeout)
		if err != nil {
			w.logger.WithError(err).Debug("STUN discovery failed, ticket carries no direct address")
		} else {
			addr.Direct = []string{direct}
		}
	}
	if relay, ok := w.cfg.RelayServer(); ok {
		addr.Relay = relay.URLs[0]
	}

	nodeCtx, cancel := context.WithCancel(context.Background())
	n := &webrtcNode{
		net:    w,
		id:     id,
		addr:   addr,
		accept: make(chan Conn),
		ctx:    nodeCtx,
		cancel: cancel,
		peers:  make(map[*webrtc.PeerConnection]struct{}),
	}

	n.wg.Add(1)
	go n.pollOffers()

	w.logger.WithFields(logrus.Fields{"node": id, "direct": addr.Direct, "relay": addr.Relay}).Debug("node started")
	return n, nil
}

func (n *webrtcNode) ID() string            { return n.id }
func (n *webrtcNode) Addr() ticket.PeerAddr { return n.addr }

func (n *webrtcNode) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-n.accept:
		return c, nil
	case <-n.ctx.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (n *webrtcNode) Close() error {
	var err error
	n.closeOnce.Do(func() {
		n.cancel()

		n.mu.Lock()
		for pc := range n.peers {
			pc.Close()
		}
		n.peers = nil
		n.mu.Unlock()

		n.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = n.net.signaler.Clear(ctx, n.id)
	})
	return err
}

func (n *webrtcNode) pollOffers() {
	defer n.wg.Done()

	interval := n.net.cfg.WebRTC.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		offers, err := n.net.signaler.PollOffers(n.ctx, n.id)
		if err != nil && n.ctx.Err() == nil {
			n.net.logger.WithError(err).Warn("failed to poll offers")
		}
		for _, offer := range offers {
			n.wg.Add(1)
			go func(offer signalling.Offer) {
				defer n.wg.Done()
				if err := n.answer(offer); err != nil && n.ctx.Err() == nil {
					n.net.logger.WithError(err).WithField("dial", offer.DialID).Warn("failed to answer offer")
				}
			}(offer)
		}

		select {
		case <-ticker.C:
		case <-n.ctx.Done():
			return
		}
	}
}

func (n *webrtcNode) answer(offer signalling.Offer) error {
	pc, err := n.net.api.NewPeerConnection(webrtc.Configuration{ICEServers: n.net.cfg.ICEServers()})
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}
	if !n.track(pc) {
		pc.Close()
		return ErrClosed
	}

	wc := n.net.cfg.WebRTC
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		n.net.handleConnectionStateChange(pc, state, "publisher")
		if state == webrtc.PeerConnectionStateClosed || state == webrtc.PeerConnectionStateFailed {
			n.untrack(pc)
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != dataChannelLabel {
			return
		}
		dc.OnOpen(func() {
			raw, err := dc.Detach()
			if err != nil {
				n.net.logger.WithError(err).Warn("failed to detach data channel")
				pc.Close()
				return
			}
			conn := newDataChannelConn(dc, raw, pc, remotePeer(pc, offer.DialID), wc.MaxMessageSize, wc.BufferedAmountLowThreshold, wc.MaxBufferedAmount)
			select {
			case n.accept <- conn:
			case <-n.ctx.Done():
				conn.Close()
			}
		})
	})

	answer, err := n.net.sdp.Answer(n.ctx, pc, offer.SDP)
	if err != nil {
		pc.Close()
		return err
	}
	if err := n.net.signaler.PublishAnswer(n.ctx, n.id, offer.DialID, answer); err != nil {
		pc.Close()
		return fmt.Errorf("failed to publish answer: %w", err)
	}
	return nil
}

func (n *webrtcNode) track(pc *webrtc.PeerConnection) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.peers == nil {
		return false
	}
	n.peers[pc] = struct{}{}
	return true
}

func (n *webrtcNode) untrack(pc *webrtc.PeerConnection) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.peers, pc)
}

// Dial offers a connection to the node in addr and waits for the data
// channel to open.
func (w *WebRTCNetwork) Dial(ctx context.Context, addr ticket.PeerAddr) (Conn, error) {
	ok, err := w.signaler.Registered(ctx, addr.NodeID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrPeerUnreachable, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %v", types.ErrPeerUnreachable, signalling.ErrNodeNotFound)
	}

	servers := w.cfg.ICEServers()
	if _, configured := w.cfg.RelayServer(); !configured && w.cfg.Relay.Mode != config.RelayDisabled && addr.Relay != "" {
		servers = append(servers, webrtc.ICEServer{URLs: []string{addr.Relay}})
	}

	pc, err := w.api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	conn, err := w.connect(ctx, pc, addr.NodeID)
	if err != nil {
		pc.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", types.ErrPeerUnreachable, err)
	}
	return conn, nil
}

func (w *WebRTCNetwork) connect(ctx context.Context, pc *webrtc.PeerConnection, nodeID string) (Conn, error) {
	failed := make(chan struct{}, 1)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		w.handleConnectionStateChange(pc, state, "receiver")
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			select {
			case failed <- struct{}{}:
			default:
			}
		}
	})

	ordered := true
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}
	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })

	timeout := w.cfg.WebRTC.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	offer, err := w.sdp.Offer(ctx, pc)
	if err != nil {
		return nil, err
	}
	dialID := uuid.NewString()
	if err := w.signaler.PublishOffer(ctx, nodeID, dialID, offer); err != nil {
		return nil, fmt.Errorf("failed to publish offer: %w", err)
	}
	answer, err := w.signaler.WaitForAnswer(ctx, nodeID, dialID)
	if err != nil {
		return nil, fmt.Errorf("failed to get answer: %w", err)
	}
	if err := w.sdp.SetRemote(pc, answer); err != nil {
		return nil, err
	}

	select {
	case <-opened:
	case <-failed:
		return nil, errors.New("peer connection failed")
	case <-ctx.Done():
		return nil, fmt.Errorf("data channel did not open: %w", ctx.Err())
	}

	raw, err := dc.Detach()
	if err != nil {
		return nil, fmt.Errorf("failed to detach data channel: %w", err)
	}
	wc := w.cfg.WebRTC
	return newDataChannelConn(dc, raw, pc, remotePeer(pc, dialID), wc.MaxMessageSize, wc.BufferedAmountLowThreshold, wc.MaxBufferedAmount), nil
}

func (w *WebRTCNetwork) handleConnectionStateChange(pc *webrtc.PeerConnection, state webrtc.PeerConnectionState, role string) {
	w.logger.WithField("role", role).Debugf("peer connection state changed: %s", state)

	if state == webrtc.PeerConnectionStateFailed {
		w.logger.WithField("role", role).Warn("peer connection failed")
		pc.Close()
	}
}

// remotePeer names the remote side by its selected ICE candidate
func remotePeer(pc *webrtc.PeerConnection, fallback string) string {
	sctp := pc.SCTP()
	if sctp == nil || sctp.Transport() == nil || sctp.Transport().ICETransport() == nil {
		return fallback
	}
	pair, err := sctp.Transport().ICETransport().GetSelectedCandidatePair()
	if err != nil || pair == nil || pair.Remote == nil {
		return fallback
	}
	return fmt.Sprintf("%s:%d", pair.Remote.Address, pair.Remote.Port)
}

var _ Conn = (*dataChannelConn)(nil)
