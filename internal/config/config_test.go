package config

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if err := cfg.ValidateSignalling(); !errors.Is(err, ErrInvalidFirebaseConfig) {
		t.Fatalf("ValidateSignalling on defaults = %v, want ErrInvalidFirebaseConfig", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"buffer", func(c *Config) { c.WebRTC.BufferedAmountLowThreshold = c.WebRTC.MaxBufferedAmount }, ErrInvalidBufferConfig},
		{"message size", func(c *Config) { c.WebRTC.MaxMessageSize = 0 }, ErrInvalidMessageSize},
		{"chunk size", func(c *Config) { c.Transfer.ChunkSize = -1 }, ErrInvalidChunkSize},
		{"retries", func(c *Config) { c.Transfer.Retries = -1 }, ErrInvalidRetries},
		{"relay mode", func(c *Config) { c.Relay.Mode = "sometimes" }, ErrInvalidRelayMode},
		{"custom relay", func(c *Config) { c.Relay.Mode = RelayCustom }, ErrMissingRelayURL},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestLoadOverrides(t *testing.T) {
	v := viper.New()
	v.Set("transfer.chunk_size", 4096)
	v.Set("transfer.retry_backoff", "1s")
	v.Set("relay.mode", " Custom ")
	v.Set("relay.url", "turn:relay.example.net:3478")
	v.Set("firebase.project_id", "demo")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transfer.ChunkSize != 4096 {
		t.Errorf("chunk size = %d, want 4096", cfg.Transfer.ChunkSize)
	}
	if cfg.Transfer.RetryBackoff != time.Second {
		t.Errorf("retry backoff = %v, want 1s", cfg.Transfer.RetryBackoff)
	}
	if cfg.Transfer.Retries != 3 {
		t.Errorf("retries default = %d, want 3", cfg.Transfer.Retries)
	}
	if cfg.Relay.Mode != RelayCustom {
		t.Errorf("relay mode = %q, want %q", cfg.Relay.Mode, RelayCustom)
	}
	if cfg.Firebase.ProjectID != "demo" {
		t.Errorf("project id = %q", cfg.Firebase.ProjectID)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	servers := cfg.ICEServers()
	if len(servers) != 2 || servers[1].URLs[0] != "turn:relay.example.net:3478" {
		t.Fatalf("ICE servers = %+v, want STUN plus relay", servers)
	}
}

func TestRelayDisabledDropsRelay(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Relay.Mode = RelayDisabled
	cfg.Relay.URL = "turn:relay.example.net:3478"
	if _, ok := cfg.RelayServer(); ok {
		t.Fatal("relay server returned while disabled")
	}
	if got := len(cfg.ICEServers()); got != 1 {
		t.Fatalf("ICE servers = %d, want 1", got)
	}
}
