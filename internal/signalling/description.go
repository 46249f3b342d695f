package signalling

import (
	"encoding/base64"
	"errors"
	"fmt"

	"sendmer/pkg/codec"

	"github.com/pierrec/lz4/v4"
	"github.com/pion/webrtc/v4"
)

// maxSDPSize bounds a decompressed session description
const maxSDPSize = 1 << 20

var errEmptyDescription = errors.New("session description is empty")

// wireDescription is a session description as stored by a Signaler. SDP is
// an LZ4 block when Raw is non-zero; gathered candidates repeat a lot.
type wireDescription struct {
	Type string `cbor:"1,keyasint"`
	SDP  []byte `cbor:"2,keyasint"`
	Raw  int    `cbor:"3,keyasint,omitempty"`
}

// EncodeDescription packs desc into a URL-safe string
func EncodeDescription(desc webrtc.SessionDescription) (string, error) {
	w := wireDescription{Type: desc.Type.String(), SDP: []byte(desc.SDP)}

	buf := make([]byte, lz4.CompressBlockBound(len(w.SDP)))
	if n, err := lz4.CompressBlock(w.SDP, buf, nil); err == nil && n > 0 && n < len(w.SDP) {
		w.Raw = len(w.SDP)
		w.SDP = buf[:n]
	}

	data, err := codec.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session description: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeDescription reverses EncodeDescription
func DecodeDescription(encoded string) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if encoded == "" {
		return desc, errEmptyDescription
	}

	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return desc, fmt.Errorf("failed to decode base64: %w", err)
	}
	var w wireDescription
	if err := codec.Unmarshal(data, &w); err != nil {
		return desc, fmt.Errorf("failed to unmarshal session description: %w", err)
	}

	sdp := w.SDP
	if w.Raw > 0 {
		if w.Raw > maxSDPSize {
			return desc, fmt.Errorf("session description of %d bytes is too large", w.Raw)
		}
		sdp = make([]byte, w.Raw)
		n, err := lz4.UncompressBlock(w.SDP, sdp)
		if err != nil || n != w.Raw {
			return desc, fmt.Errorf("corrupt compressed session description")
		}
	}

	desc.Type = webrtc.NewSDPType(w.Type)
	if desc.Type == webrtc.SDPTypeUnknown {
		return desc, fmt.Errorf("unknown session description type %q", w.Type)
	}
	desc.SDP = string(sdp)
	return desc, nil
}
