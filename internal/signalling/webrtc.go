package signalling

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
)

// SDPHandler runs the local half of the offer/answer exchange and produces
// the encoded descriptions a Signaler carries.
type SDPHandler struct {
	// GatherTimeout bounds ICE candidate gathering
	GatherTimeout time.Duration
}

// Offer creates an offer, waits for ICE gathering and returns the encoded
// local description.
func (h *SDPHandler) Offer(ctx context.Context, peerConn *webrtc.PeerConnection) (string, error) {
	offer, err := peerConn.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	return h.finish(ctx, peerConn, offer)
}

// Answer applies an encoded remote offer and returns the encoded answer
func (h *SDPHandler) Answer(ctx context.Context, peerConn *webrtc.PeerConnection, encodedOffer string) (string, error) {
	if err := h.SetRemote(peerConn, encodedOffer); err != nil {
		return "", err
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	return h.finish(ctx, peerConn, answer)
}

// SetRemote decodes and applies a remote description
func (h *SDPHandler) SetRemote(peerConn *webrtc.PeerConnection, encoded string) error {
	desc, err := DecodeDescription(encoded)
	if err != nil {
		return fmt.Errorf("failed to decode session description: %w", err)
	}
	if err := peerConn.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

func (h *SDPHandler) finish(ctx context.Context, peerConn *webrtc.PeerConnection, desc webrtc.SessionDescription) (string, error) {
	gatherComplete := webrtc.GatheringCompletePromise(peerConn)

	if err := peerConn.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	if err := h.waitForICEGathering(ctx, gatherComplete); err != nil {
		return "", fmt.Errorf("failed to wait for ICE gathering: %w", err)
	}

	local := peerConn.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("local description is nil after ICE gathering")
	}
	return EncodeDescription(*local)
}

func (h *SDPHandler) waitForICEGathering(ctx context.Context, done <-chan struct{}) error {
	timeout := h.GatherTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("ICE gathering timed out after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
