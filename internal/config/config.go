package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"
)

var (
	ErrInvalidBufferConfig        = errors.New("buffered amount low threshold must be less than max buffered amount")
	ErrInvalidMessageSize         = errors.New("max message size must be greater than 0")
	ErrInvalidChunkSize           = errors.New("chunk size must be greater than 0")
	ErrInvalidRetries             = errors.New("retries must not be negative")
	ErrInvalidRelayMode           = errors.New("relay mode must be one of default, disabled or custom")
	ErrMissingRelayURL            = errors.New("custom relay mode requires relay.url")
	ErrInvalidFirebaseConfig      = errors.New("Firebase credentials path must be set")
	ErrInvalidFirebaseProjectID   = errors.New("Firebase project ID must be set")
	ErrInvalidFirebaseDatabaseURL = errors.New("Firebase database URL must be set")
)

// Relay modes
const (
	RelayDefault  = "default"
	RelayDisabled = "disabled"
	RelayCustom   = "custom"
)

// Config holds all application configuration
type Config struct {
	WebRTC   WebRTCConfig   `mapstructure:"webrtc"`
	Firebase FirebaseConfig `mapstructure:"firebase"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Relay    RelayConfig    `mapstructure:"relay"`
	STUN     STUNConfig     `mapstructure:"stun"`
	Ticket   TicketConfig   `mapstructure:"ticket"`
}

// WebRTCConfig holds WebRTC-specific configuration
type WebRTCConfig struct {
	ICEServers                 []string      `mapstructure:"ice_servers"`
	BufferedAmountLowThreshold uint64        `mapstructure:"buffered_amount_low_threshold"`
	MaxBufferedAmount          uint64        `mapstructure:"max_buffered_amount"`
	MaxMessageSize             int           `mapstructure:"max_message_size"`
	ICEGatherTimeout           time.Duration `mapstructure:"ice_gather_timeout"`
	ConnectTimeout             time.Duration `mapstructure:"connect_timeout"`
	PollInterval               time.Duration `mapstructure:"poll_interval"`
}

// FirebaseConfig holds Firebase client configuration
type FirebaseConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	DatabaseURL     string `mapstructure:"database_url"`
	CredentialsPath string `mapstructure:"credentials_path"`
}

// TransferConfig tunes the blob protocol
type TransferConfig struct {
	ChunkSize     int           `mapstructure:"chunk_size"`
	Compress      bool          `mapstructure:"compress"`
	Retries       int           `mapstructure:"retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	ProgressQueue int           `mapstructure:"progress_queue"`
}

// RelayConfig selects the TURN relay advertised in tickets and used when dialing
type RelayConfig struct {
	Mode       string `mapstructure:"mode"`
	URL        string `mapstructure:"url"`
	Username   string `mapstructure:"username"`
	Credential string `mapstructure:"credential"`
}

// STUNConfig controls discovery of direct address hints
type STUNConfig struct {
	Server   string        `mapstructure:"server"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Disabled bool          `mapstructure:"disabled"`
}

// TicketConfig controls which hints go into tickets
type TicketConfig struct {
	Type string `mapstructure:"type"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		WebRTC: WebRTCConfig{
			ICEServers:                 []string{"stun:stun.l.google.com:19302"},
			BufferedAmountLowThreshold: 512 * 1024,  // 512 KB
			MaxBufferedAmount:          1024 * 1024, // 1 MB
			MaxMessageSize:             16 * 1024,
			ICEGatherTimeout:           15 * time.Second,
			ConnectTimeout:             30 * time.Second,
			PollInterval:               time.Second,
		},
		Transfer: TransferConfig{
			ChunkSize:     64 * 1024,
			Compress:      true,
			Retries:       3,
			RetryBackoff:  250 * time.Millisecond,
			ProgressQueue: 64,
		},
		Relay: RelayConfig{
			Mode: RelayDefault,
		},
		STUN: STUNConfig{
			Server:  "stun.l.google.com:19302",
			Timeout: 3 * time.Second,
		},
		Ticket: TicketConfig{
			Type: "relay-and-addresses",
		},
	}
}

// Load builds a Config from v, using NewDefaultConfig for every key v does
// not set. v is usually the global viper instance after flags, environment
// and the config file have been bound.
func Load(v *viper.Viper) (*Config, error) {
	def := NewDefaultConfig()

	v.SetDefault("webrtc.ice_servers", def.WebRTC.ICEServers)
	v.SetDefault("webrtc.buffered_amount_low_threshold", def.WebRTC.BufferedAmountLowThreshold)
	v.SetDefault("webrtc.max_buffered_amount", def.WebRTC.MaxBufferedAmount)
	v.SetDefault("webrtc.max_message_size", def.WebRTC.MaxMessageSize)
	v.SetDefault("webrtc.ice_gather_timeout", def.WebRTC.ICEGatherTimeout)
	v.SetDefault("webrtc.connect_timeout", def.WebRTC.ConnectTimeout)
	v.SetDefault("webrtc.poll_interval", def.WebRTC.PollInterval)

	v.SetDefault("firebase.project_id", "")
	v.SetDefault("firebase.database_url", "")
	v.SetDefault("firebase.credentials_path", "")

	v.SetDefault("transfer.chunk_size", def.Transfer.ChunkSize)
	v.SetDefault("transfer.compress", def.Transfer.Compress)
	v.SetDefault("transfer.retries", def.Transfer.Retries)
	v.SetDefault("transfer.retry_backoff", def.Transfer.RetryBackoff)
	v.SetDefault("transfer.progress_queue", def.Transfer.ProgressQueue)

	v.SetDefault("relay.mode", def.Relay.Mode)
	v.SetDefault("relay.url", "")
	v.SetDefault("relay.username", "")
	v.SetDefault("relay.credential", "")

	v.SetDefault("stun.server", def.STUN.Server)
	v.SetDefault("stun.timeout", def.STUN.Timeout)
	v.SetDefault("stun.disabled", def.STUN.Disabled)

	v.SetDefault("ticket.type", def.Ticket.Type)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Relay.Mode = strings.ToLower(strings.TrimSpace(cfg.Relay.Mode))
	return &cfg, nil
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.WebRTC.BufferedAmountLowThreshold >= c.WebRTC.MaxBufferedAmount {
		return ErrInvalidBufferConfig
	}
	if c.WebRTC.MaxMessageSize <= 0 {
		return ErrInvalidMessageSize
	}
	if c.Transfer.ChunkSize <= 0 {
		return ErrInvalidChunkSize
	}
	if c.Transfer.Retries < 0 {
		return ErrInvalidRetries
	}
	switch c.Relay.Mode {
	case RelayDefault, RelayDisabled:
	case RelayCustom:
		if c.Relay.URL == "" {
			return ErrMissingRelayURL
		}
	default:
		return ErrInvalidRelayMode
	}
	return nil
}

// ValidateSignalling checks the settings needed to reach the Firebase
// rendezvous. Only the WebRTC network needs them.
func (c *Config) ValidateSignalling() error {
	if c.Firebase.CredentialsPath == "" {
		return ErrInvalidFirebaseConfig
	}
	if c.Firebase.ProjectID == "" {
		return ErrInvalidFirebaseProjectID
	}
	if c.Firebase.DatabaseURL == "" {
		return ErrInvalidFirebaseDatabaseURL
	}
	return nil
}

// ICEServers returns the configured STUN servers plus the relay, unless
// relaying is disabled.
func (c *Config) ICEServers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(c.WebRTC.ICEServers)+1)
	for _, url := range c.WebRTC.ICEServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	if relay, ok := c.RelayServer(); ok {
		servers = append(servers, relay)
	}
	return servers
}

// RelayServer returns the configured TURN server, if relaying is enabled
// and one is set.
func (c *Config) RelayServer() (webrtc.ICEServer, bool) {
	if c.Relay.Mode == RelayDisabled || c.Relay.URL == "" {
		return webrtc.ICEServer{}, false
	}
	server := webrtc.ICEServer{URLs: []string{c.Relay.URL}}
	if c.Relay.Username != "" {
		server.Username = c.Relay.Username
		server.Credential = c.Relay.Credential
	}
	return server, true
}
