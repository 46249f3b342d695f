package ticket

import (
	"fmt"
	"strings"
)

// AddrMode selects which address hints a ticket carries
type AddrMode int

const (
	// AddrRelayAndAddresses keeps every hint
	AddrRelayAndAddresses AddrMode = iota
	// AddrID keeps only the node id; the signalling service resolves the rest
	AddrID
	// AddrRelay keeps the node id and the relay hint
	AddrRelay
	// AddrAddresses keeps the node id and the direct addresses
	AddrAddresses
)

func (m AddrMode) String() string {
	switch m {
	case AddrID:
		return "id"
	case AddrRelay:
		return "relay"
	case AddrAddresses:
		return "addresses"
	default:
		return "relay-and-addresses"
	}
}

// ParseAddrMode parses the --ticket-type flag value
func ParseAddrMode(s string) (AddrMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "relay-and-addresses":
		return AddrRelayAndAddresses, nil
	case "id":
		return AddrID, nil
	case "relay":
		return AddrRelay, nil
	case "addresses":
		return AddrAddresses, nil
	default:
		return 0, fmt.Errorf("unknown ticket type %q (want id, relay, addresses or relay-and-addresses)", s)
	}
}

// Filter returns a copy of p holding only the hints mode allows
func (p PeerAddr) Filter(mode AddrMode) PeerAddr {
	out := PeerAddr{NodeID: p.NodeID}
	if (mode == AddrRelay || mode == AddrRelayAndAddresses) && p.Relay != "" {
		out.Relay = p.Relay
	}
	if (mode == AddrAddresses || mode == AddrRelayAndAddresses) && len(p.Direct) > 0 {
		out.Direct = append([]string(nil), p.Direct...)
	}
	return out
}
