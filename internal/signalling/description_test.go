package signalling

import (
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestDescriptionRoundTrip(t *testing.T) {
	candidate := "a=candidate:1 1 udp 2130706431 192.0.2.10 50000 typ host\r\n"
	cases := map[string]webrtc.SessionDescription{
		"offer":  {Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n" + strings.Repeat(candidate, 40)},
		"answer": {Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\n"},
	}
	for name, want := range cases {
		t.Run(name, func(t *testing.T) {
			encoded, err := EncodeDescription(want)
			if err != nil {
				t.Fatalf("EncodeDescription: %v", err)
			}
			if strings.ContainsAny(encoded, "+/=") {
				t.Fatalf("encoding is not URL safe: %s", encoded)
			}
			got, err := DecodeDescription(encoded)
			if err != nil {
				t.Fatalf("DecodeDescription: %v", err)
			}
			if got.Type != want.Type || got.SDP != want.SDP {
				t.Fatalf("round trip = %+v, want %+v", got, want)
			}
		})
	}
}

func TestDescriptionCompressesCandidates(t *testing.T) {
	sdp := "v=0\r\n" + strings.Repeat("a=candidate:1 1 udp 2130706431 192.0.2.10 50000 typ host\r\n", 40)
	encoded, err := EncodeDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
	if err != nil {
		t.Fatal(err)
	}
	if len(encoded) >= len(sdp) {
		t.Fatalf("encoded %d bytes for a %d byte description", len(encoded), len(sdp))
	}
}

func TestDecodeDescriptionInvalid(t *testing.T) {
	for name, in := range map[string]string{
		"empty":      "",
		"not base64": "***",
		"not cbor":   "bm90IGNib3I",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeDescription(in); err == nil {
				t.Fatalf("DecodeDescription(%q) succeeded", in)
			}
		})
	}
}
