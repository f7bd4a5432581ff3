package transport

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Keep-alive defaults.
const (
	DefaultPingInterval   = 30 * time.Second
	DefaultPongTimeout    = 5 * time.Second
	DefaultMaxMissedPongs = 3

	// MaxDetectionDelay is DetectionDelay of the defaults.
	MaxDetectionDelay = 65 * time.Second
)

// KeepAliveConfig configures websocket liveness checks.
type KeepAliveConfig struct {
	// PingInterval is the interval between pings.
	PingInterval time.Duration

	// PongTimeout is how long a ping may stay unanswered.
	PongTimeout time.Duration

	// MaxMissedPongs consecutive misses declare the peer dead.
	MaxMissedPongs int

	// Clock drives the ping ticker and pong deadlines. Defaults to the wall clock.
	Clock clock.Clock
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		MaxMissedPongs: DefaultMaxMissedPongs,
	}
}

// DetectionDelay is the longest time a dead peer goes unnoticed.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.PingInterval*time.Duration(c.MaxMissedPongs-1) + c.PongTimeout
}

// KeepAliveStats is a snapshot of a KeepAlive.
type KeepAliveStats struct {
	Sent     uint32
	Missed   int
	LastPing time.Time
	LastPong time.Time
	RTT      time.Duration
}

// KeepAlive sends a numbered ping every PingInterval and expects the pong
// carrying the same number within PongTimeout. A failed send counts as a
// miss. After MaxMissedPongs consecutive misses onDead runs once and the
// monitor ends. A new ping is only sent once the previous one is settled.
type KeepAlive struct {
	cfg      KeepAliveConfig
	clock    clock.Clock
	sendPing func(seq uint32) error
	onDead   func()
	pongs    chan uint32

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	onPong  func(seq uint32, rtt time.Duration)
	stats   KeepAliveStats
}

// NewKeepAlive creates a monitor. Zero config values take the defaults.
func NewKeepAlive(cfg KeepAliveConfig, sendPing func(seq uint32) error, onDead func()) *KeepAlive {
	d := DefaultKeepAliveConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = d.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = d.PongTimeout
	}
	if cfg.MaxMissedPongs <= 0 {
		cfg.MaxMissedPongs = d.MaxMissedPongs
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &KeepAlive{
		cfg:      cfg,
		clock:    clk,
		sendPing: sendPing,
		onDead:   onDead,
		pongs:    make(chan uint32, 4),
	}
}

// OnPong registers fn, called with the round trip time of each matching pong.
func (ka *KeepAlive) OnPong(fn func(seq uint32, rtt time.Duration)) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	ka.onPong = fn
}

// Start sends the first ping and starts the monitor.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if ka.running {
		return
	}
	ka.running = true
	ka.stop = make(chan struct{})
	go ka.loop(ctx, ka.stop)
}

// Stop ends the monitor without calling onDead.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if !ka.running {
		return
	}
	ka.running = false
	close(ka.stop)
}

// IsRunning reports whether the monitor is active.
func (ka *KeepAlive) IsRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// PongReceived reports a pong carrying seq.
func (ka *KeepAlive) PongReceived(seq uint32) {
	select {
	case ka.pongs <- seq:
	default:
	}
}

// Stats returns a snapshot of the monitor.
func (ka *KeepAlive) Stats() KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.stats
}

func (ka *KeepAlive) loop(ctx context.Context, stop <-chan struct{}) {
	ticker := ka.clock.Ticker(ka.cfg.PingInterval)
	defer ticker.Stop()

	var (
		seq, pending uint32
		sentAt       time.Time
		deadline     *clock.Timer
		deadlineC    <-chan time.Time
		missed       int
	)
	defer func() {
		if deadline != nil {
			deadline.Stop()
		}
	}()

	// miss records a miss and reports whether the peer is dead.
	miss := func() bool {
		pending, deadlineC = 0, nil
		missed++
		ka.mu.Lock()
		ka.stats.Missed = missed
		ka.mu.Unlock()
		return missed >= ka.cfg.MaxMissedPongs
	}

	ping := func() bool {
		seq++
		sentAt = ka.clock.Now()
		if err := ka.sendPing(seq); err != nil {
			return miss()
		}
		pending = seq
		deadline = ka.clock.Timer(ka.cfg.PongTimeout)
		deadlineC = deadline.C

		ka.mu.Lock()
		ka.stats.Sent = seq
		ka.stats.LastPing = sentAt
		ka.mu.Unlock()
		return false
	}

	dead := ping()
	for !dead {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if pending == 0 {
				dead = ping()
			}
		case <-deadlineC:
			if pending != 0 {
				dead = miss()
			}
		case got := <-ka.pongs:
			if pending == 0 || got != pending {
				continue
			}
			pending, deadlineC, missed = 0, nil, 0
			deadline.Stop()
			now := ka.clock.Now()
			rtt := now.Sub(sentAt)

			ka.mu.Lock()
			ka.stats.Missed = 0
			ka.stats.LastPong = now
			ka.stats.RTT = rtt
			fn := ka.onPong
			ka.mu.Unlock()
			if fn != nil {
				fn(got, rtt)
			}
		}
	}

	ka.mu.Lock()
	ka.running = false
	ka.mu.Unlock()
	if ka.onDead != nil {
		ka.onDead()
	}
}
