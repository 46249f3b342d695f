package signalling

import (
	"context"
	"sync"
	"time"
)

// MemorySignaler keeps rendezvous records in process memory. It lets two
// nodes in the same process connect without a database.
type MemorySignaler struct {
	pollInterval time.Duration

	mu      sync.Mutex
	nodes   map[string]bool
	offers  map[string]map[string]Offer
	answers map[string]string
}

// NewMemorySignaler returns an empty signaler
func NewMemorySignaler(pollInterval time.Duration) *MemorySignaler {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Millisecond
	}
	return &MemorySignaler{
		pollInterval: pollInterval,
		nodes:        make(map[string]bool),
		offers:       make(map[string]map[string]Offer),
		answers:      make(map[string]string),
	}
}

func (m *MemorySignaler) Register(_ context.Context, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[nodeID] = true
	return nil
}

func (m *MemorySignaler) Registered(_ context.Context, nodeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nodes[nodeID], nil
}

func (m *MemorySignaler) PublishOffer(_ context.Context, nodeID, dialID, sdp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offers[nodeID] == nil {
		m.offers[nodeID] = make(map[string]Offer)
	}
	m.offers[nodeID][dialID] = Offer{DialID: dialID, SDP: sdp, Created: time.Now().Unix()}
	return nil
}

func (m *MemorySignaler) PollOffers(_ context.Context, nodeID string) ([]Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := m.offers[nodeID]
	delete(m.offers, nodeID)

	offers := make([]Offer, 0, len(pending))
	for _, o := range pending {
		offers = append(offers, o)
	}
	return offers, nil
}

func (m *MemorySignaler) PublishAnswer(_ context.Context, nodeID, dialID, sdp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers[nodeID+"/"+dialID] = sdp
	return nil
}

func (m *MemorySignaler) WaitForAnswer(ctx context.Context, nodeID, dialID string) (string, error) {
	key := nodeID + "/" + dialID
	for {
		m.mu.Lock()
		sdp, ok := m.answers[key]
		if ok {
			delete(m.answers, key)
		}
		m.mu.Unlock()
		if ok {
			return sdp, nil
		}

		select {
		case <-time.After(m.pollInterval):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (m *MemorySignaler) Clear(_ context.Context, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, nodeID)
	delete(m.offers, nodeID)
	prefix := nodeID + "/"
	for key := range m.answers {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(m.answers, key)
		}
	}
	return nil
}
