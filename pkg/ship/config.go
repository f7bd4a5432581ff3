package ship

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/shipproto/ship-go/pkg/log"
	"github.com/shipproto/ship-go/pkg/trust"
	"github.com/shipproto/ship-go/pkg/version"
	"github.com/shipproto/ship-go/pkg/wire"
)

// Default timing values.
const (
	DefaultModeInitTimeout      = 10 * time.Second
	DefaultHelloMaxWait         = 120 * time.Second
	DefaultHelloPeerWait        = 30 * time.Second
	DefaultHelloProlongInterval = 15 * time.Second
	DefaultTrustPollInterval    = time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultGateTimeout          = 10 * time.Second
	DefaultReceiveBuffer        = 64
)

// Transport is the authenticated duplex channel a connection runs on.
// ReceiveFrame delivers exactly one whole frame per call.
type Transport interface {
	SendFrame(data []byte) error
	ReceiveFrame(ctx context.Context) ([]byte, error)
	Close() error
}

// Config configures a Connection.
type Config struct {
	// Role is fixed for the lifetime of the connection.
	Role Role

	// ID identifies the connection in logs. A UUID is generated if empty.
	ID string

	// PeerID is the authenticated peer identity passed to the trust policy.
	PeerID string

	// RemoteAddr is informational, passed to the trust policy and logs.
	RemoteAddr string

	// Trust decides whether the peer is trusted. It may be shared between
	// connections and is re-invoked every TrustPollInterval while undecided.
	Trust trust.Policy

	// Formats lists the supported message formats, most preferred first.
	// The initiator proposes them in this order.
	Formats []wire.Format

	// GateLevel is the access gate this side requires. Zero means GateNone.
	GateLevel wire.GateLevel

	// ModeInitTimeout bounds the mode-init exchange.
	ModeInitTimeout time.Duration

	// HelloMaxWait bounds the whole trust negotiation. It is never extended.
	HelloMaxWait time.Duration

	// HelloPeerWait bounds the wait for the peer's decision. It restarts on
	// every prolongation request from the peer.
	HelloPeerWait time.Duration

	// HelloProlongInterval is how often a prolongation request is sent
	// while the local decision is pending. Must be below HelloPeerWait.
	HelloProlongInterval time.Duration

	// TrustPollInterval is how often the trust policy is re-invoked while undecided.
	TrustPollInterval time.Duration

	// HandshakeTimeout bounds the format handshake.
	HandshakeTimeout time.Duration

	// GateTimeout bounds the wait for the peer's gate announcement.
	GateTimeout time.Duration

	// ReceiveBuffer is the capacity of the Receive channel. When it is
	// full the connection stops reading from the transport.
	ReceiveBuffer int

	// Clock drives all deadlines. Defaults to the wall clock.
	Clock clock.Clock

	// Logger is the operational logger. Defaults to slog.Default().
	Logger *slog.Logger

	// ProtocolLogger receives protocol capture events. Optional.
	ProtocolLogger log.Logger
}

// DefaultConfig returns a configuration with default timing and formats.
// Role and Trust must still be set.
func DefaultConfig() Config {
	return Config{
		Formats:              version.DefaultFormats(),
		GateLevel:            wire.GateNone,
		ModeInitTimeout:      DefaultModeInitTimeout,
		HelloMaxWait:         DefaultHelloMaxWait,
		HelloPeerWait:        DefaultHelloPeerWait,
		HelloProlongInterval: DefaultHelloProlongInterval,
		TrustPollInterval:    DefaultTrustPollInterval,
		HandshakeTimeout:     DefaultHandshakeTimeout,
		GateTimeout:          DefaultGateTimeout,
		ReceiveBuffer:        DefaultReceiveBuffer,
	}
}

// applyDefaults fills zero values from DefaultConfig.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if len(c.Formats) == 0 {
		c.Formats = d.Formats
	}
	if c.GateLevel == 0 {
		c.GateLevel = d.GateLevel
	}
	setDuration(&c.ModeInitTimeout, d.ModeInitTimeout)
	setDuration(&c.HelloMaxWait, d.HelloMaxWait)
	setDuration(&c.HelloPeerWait, d.HelloPeerWait)
	setDuration(&c.HelloProlongInterval, d.HelloProlongInterval)
	setDuration(&c.TrustPollInterval, d.TrustPollInterval)
	setDuration(&c.HandshakeTimeout, d.HandshakeTimeout)
	setDuration(&c.GateTimeout, d.GateTimeout)
	if c.ReceiveBuffer <= 0 {
		c.ReceiveBuffer = d.ReceiveBuffer
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v <= 0 {
		*v = def
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	if c.Role != RoleInitiator && c.Role != RoleResponder {
		return fmt.Errorf("%w: role %s", ErrInvalidConfig, c.Role)
	}
	if c.Trust == nil {
		return fmt.Errorf("%w: trust policy is required", ErrInvalidConfig)
	}
	if len(c.Formats) > wire.MaxFormats {
		return fmt.Errorf("%w: %d formats exceeds %d", ErrInvalidConfig, len(c.Formats), wire.MaxFormats)
	}
	for _, f := range c.Formats {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("%w: format %v: %w", ErrInvalidConfig, f, err)
		}
	}
	if c.HelloProlongInterval >= c.HelloPeerWait {
		return fmt.Errorf("%w: prolong interval %v must be below peer wait %v",
			ErrInvalidConfig, c.HelloProlongInterval, c.HelloPeerWait)
	}
	if c.HelloPeerWait > c.HelloMaxWait {
		return fmt.Errorf("%w: peer wait %v exceeds max wait %v", ErrInvalidConfig, c.HelloPeerWait, c.HelloMaxWait)
	}
	return nil
}
