// Package signalling exchanges WebRTC session descriptions between a dialing
// receiver and a listening publisher.
//
// The model is vanilla ICE: candidates are gathered before an SDP is
// published, so one offer and one answer are enough to connect. A publisher
// registers its node id, then polls for offers addressed to it; a receiver
// writes an offer under the publisher's id with a fresh dial id and waits for
// the matching answer.
package signalling

import (
	"context"
	"errors"
)

// ErrNodeNotFound means no node with the given id is registered
var ErrNodeNotFound = errors.New("node not registered")

// Offer is an SDP offer waiting for a node to answer it
type Offer struct {
	DialID  string `json:"dialId"`
	SDP     string `json:"sdp"`
	Created int64  `json:"created"`
}

// Signaler defines the storage operations the rendezvous needs
type Signaler interface {
	// Register announces a listening node
	Register(ctx context.Context, nodeID string) error
	// Registered reports whether nodeID is currently announced
	Registered(ctx context.Context, nodeID string) (bool, error)
	// PublishOffer stores an offer for nodeID under dialID
	PublishOffer(ctx context.Context, nodeID, dialID, sdp string) error
	// PollOffers returns and removes the offers pending for nodeID
	PollOffers(ctx context.Context, nodeID string) ([]Offer, error)
	// PublishAnswer stores the answer to dialID
	PublishAnswer(ctx context.Context, nodeID, dialID, sdp string) error
	// WaitForAnswer polls until the answer to dialID appears, then removes it
	WaitForAnswer(ctx context.Context, nodeID, dialID string) (string, error)
	// Clear removes everything stored for nodeID
	Clear(ctx context.Context, nodeID string) error
}
