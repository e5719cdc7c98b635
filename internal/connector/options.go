package connector

import (
	"time"

	"github.com/rs/zerolog"

	"menu-remote/internal/menu"
	"menu-remote/internal/protocol"
)

// Config holds the timing of one connector.
type Config struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// HeartbeatTimeout is how long the peer may stay silent before the
	// connection is dropped.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	AckTimeout       time.Duration `yaml:"ack_timeout"`
	// JoinTimeout bounds the wait for the device to answer our join.
	JoinTimeout    time.Duration `yaml:"join_timeout"`
	AuthFailWait   time.Duration `yaml:"auth_fail_wait"`
	Reconnect      Backoff       `yaml:"reconnect"`
	ReadBufferSize int           `yaml:"read_buffer_size"`
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 1500 * time.Millisecond,
		HeartbeatTimeout:  4500 * time.Millisecond,
		WriteTimeout:      2 * time.Second,
		AckTimeout:        5 * time.Second,
		JoinTimeout:       5 * time.Second,
		AuthFailWait:      2 * time.Second,
		Reconnect:         Backoff{Initial: 500 * time.Millisecond, Max: 10 * time.Second, Multiplier: 2, Jitter: 0.2},
		ReadBufferSize:    1024,
	}
}

// WithDefaults fills every zero field from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 3 * c.HeartbeatInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = d.AckTimeout
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = c.AckTimeout
	}
	if c.AuthFailWait <= 0 {
		c.AuthFailWait = d.AuthFailWait
	}
	if c.Reconnect.Initial <= 0 {
		c.Reconnect.Initial = d.Reconnect.Initial
	}
	if c.Reconnect.Max <= 0 {
		c.Reconnect.Max = d.Reconnect.Max
	}
	if c.Reconnect.Multiplier < 1 {
		c.Reconnect.Multiplier = d.Reconnect.Multiplier
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	return c
}

// Identity is how this endpoint introduces itself in a join.
type Identity struct {
	Name     string `yaml:"name"`
	UUID     string `yaml:"uuid"`
	Version  int    `yaml:"-"`
	Platform string `yaml:"-"`
}

// Options are the collaborators of a Connector. Transport and Tree are
// required; everything else has a default.
type Options struct {
	Name      string
	Transport Transport
	Codec     protocol.Codec
	Tree      *menu.Tree
	Identity  Identity
	Config    Config
	Clock     Clock
	Logger    zerolog.Logger
	Listener  Listener
	// Pairing sends a pairing request instead of a join.
	Pairing bool
}
