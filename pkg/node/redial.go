package node

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/shipproto/ship-go/pkg/ship"
)

// Backoff defaults.
const (
	InitialBackoff    = 1 * time.Second
	MaxBackoff        = 60 * time.Second
	BackoffMultiplier = 2.0
	JitterFactor      = 0.25

	// DialTimeout bounds a single dial attempt of a Redialer.
	DialTimeout = 30 * time.Second
)

// BackoffConfig allows customizing backoff parameters. Zero values take
// the defaults, except Jitter where zero disables jitter.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// DefaultBackoffConfig returns the default backoff parameters.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    InitialBackoff,
		Max:        MaxBackoff,
		Multiplier: BackoffMultiplier,
		Jitter:     JitterFactor,
	}
}

// Backoff calculates exponential backoff delays with jitter.
type Backoff struct {
	mu sync.Mutex

	current  time.Duration
	attempts int
	cfg      BackoffConfig
}

// NewBackoff creates a backoff calculator.
func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = InitialBackoff
	}
	if cfg.Max <= 0 {
		cfg.Max = MaxBackoff
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = BackoffMultiplier
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	return &Backoff{current: cfg.Initial, cfg: cfg}
}

// Next returns the next delay (with jitter) and advances the backoff.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.current
	if b.cfg.Jitter > 0 {
		delay += time.Duration(float64(delay) * b.cfg.Jitter * rand.Float64())
	}

	b.attempts++
	b.current = min(time.Duration(float64(b.current)*b.cfg.Multiplier), b.cfg.Max)
	return delay
}

// Reset restores the initial delay.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.cfg.Initial
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the next base delay without jitter.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// DialFunc opens one connection.
type DialFunc func(ctx context.Context) (*ship.Connection, error)

// Redialer keeps one peer connected. After a failed attempt or a closed
// connection it waits a backoff delay and dials again. The backoff is
// reset once a connection reached the data phase.
type Redialer struct {
	dial    DialFunc
	backoff *Backoff
	clock   clock.Clock
	logger  *slog.Logger

	mu        sync.Mutex
	current   *ship.Connection
	onAttempt func(attempt int, delay time.Duration)
}

// Redialer returns a Redialer for address. Run starts it.
func (n *Node) Redialer(address, expectedSKI string, cfg BackoffConfig) *Redialer {
	dial := func(ctx context.Context) (*ship.Connection, error) {
		return n.Connect(ctx, address, expectedSKI)
	}
	return newRedialer(dial, NewBackoff(cfg), n.config.Clock, n.logger.With("addr", address))
}

func newRedialer(dial DialFunc, backoff *Backoff, clk clock.Clock, logger *slog.Logger) *Redialer {
	return &Redialer{dial: dial, backoff: backoff, clock: clk, logger: logger}
}

// OnAttempt registers fn, called whenever a redial is scheduled.
func (r *Redialer) OnAttempt(fn func(attempt int, delay time.Duration)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAttempt = fn
}

// Connection returns the running connection, or nil between attempts.
func (r *Redialer) Connection() *ship.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *Redialer) setCurrent(c *ship.Connection) {
	r.mu.Lock()
	r.current = c
	r.mu.Unlock()
}

// Run dials until ctx is done. It returns early when the node stopped or
// has no identity.
func (r *Redialer) Run(ctx context.Context) error {
	for {
		err := r.once(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrNotStarted) || errors.Is(err, ErrNoIdentity) {
			return err
		}

		delay := r.backoff.Next()
		r.logger.Debug("redial scheduled", "attempt", r.backoff.Attempts(), "delay", delay, "error", err)

		timer := r.clock.Timer(delay)
		r.mu.Lock()
		hook := r.onAttempt
		r.mu.Unlock()
		if hook != nil {
			hook(r.backoff.Attempts(), delay)
		}

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// once dials and waits for the connection to end. It returns the dial
// error or the connection's terminal error.
func (r *Redialer) once(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	c, err := r.dial(dialCtx)
	cancel()
	if err != nil {
		return err
	}

	r.setCurrent(c)
	defer r.setCurrent(nil)

	select {
	case <-c.Done():
	case <-ctx.Done():
		c.Abort()
		<-c.Done()
	}

	select {
	case <-c.Ready():
		r.backoff.Reset()
	default:
	}
	return c.Err()
}
