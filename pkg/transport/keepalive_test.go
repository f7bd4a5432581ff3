package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventually = 2 * time.Second

func TestKeepAliveConfig(t *testing.T) {
	config := DefaultKeepAliveConfig()

	assert.Equal(t, DefaultPingInterval, config.PingInterval)
	assert.Equal(t, DefaultPongTimeout, config.PongTimeout)
	assert.Equal(t, DefaultMaxMissedPongs, config.MaxMissedPongs)
	assert.Equal(t, MaxDetectionDelay, config.DetectionDelay())

	custom := KeepAliveConfig{PingInterval: 10 * time.Second, PongTimeout: 2 * time.Second, MaxMissedPongs: 3}
	assert.Equal(t, 22*time.Second, custom.DetectionDelay())
}

// kaHarness runs a KeepAlive with interval 10s, pong timeout 2s and two
// allowed misses on a mock clock.
type kaHarness struct {
	ctx  context.Context
	ka   *KeepAlive
	clk  *clock.Mock
	dead atomic.Bool
	fail atomic.Bool
}

func newKAHarness(t *testing.T) *kaHarness {
	t.Helper()
	h := &kaHarness{clk: clock.NewMock()}
	h.ka = NewKeepAlive(KeepAliveConfig{
		PingInterval:   10 * time.Second,
		PongTimeout:    2 * time.Second,
		MaxMissedPongs: 2,
		Clock:          h.clk,
	}, func(uint32) error {
		if h.fail.Load() {
			return errors.New("broken pipe")
		}
		return nil
	}, func() { h.dead.Store(true) })

	var cancel context.CancelFunc
	h.ctx, cancel = context.WithCancel(context.Background())
	t.Cleanup(func() {
		h.ka.Stop()
		cancel()
	})
	return h
}

func (h *kaHarness) start() { h.ka.Start(h.ctx) }

func (h *kaHarness) waitSent(t *testing.T, n uint32) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ka.Stats().Sent == n }, eventually, time.Millisecond,
		"waiting for ping %d", n)
}

func (h *kaHarness) waitMissed(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ka.Stats().Missed == n }, eventually, time.Millisecond,
		"waiting for %d missed pongs", n)
}

func TestKeepAliveAnsweredPingsKeepRunning(t *testing.T) {
	h := newKAHarness(t)
	h.start()

	for i := uint32(1); i <= 4; i++ {
		h.waitSent(t, i)
		h.clk.Add(time.Second)
		h.ka.PongReceived(i)
		require.Eventually(t, func() bool { return h.ka.Stats().LastPong.Equal(h.clk.Now()) }, eventually, time.Millisecond)
		h.clk.Add(9 * time.Second)
	}
	assert.False(t, h.dead.Load())
	assert.True(t, h.ka.IsRunning())
}

func TestKeepAliveDeadAfterMissedPongs(t *testing.T) {
	h := newKAHarness(t)
	h.start()

	h.waitSent(t, 1)
	h.clk.Add(2 * time.Second)
	h.waitMissed(t, 1)
	assert.False(t, h.dead.Load())

	h.clk.Add(8 * time.Second)
	h.waitSent(t, 2)
	h.clk.Add(2 * time.Second)

	require.Eventually(t, h.dead.Load, eventually, time.Millisecond)
	require.Eventually(t, func() bool { return !h.ka.IsRunning() }, eventually, time.Millisecond)
}

func TestKeepAlivePongResetsMisses(t *testing.T) {
	h := newKAHarness(t)
	h.start()

	h.waitSent(t, 1)
	h.clk.Add(2 * time.Second)
	h.waitMissed(t, 1)

	h.clk.Add(8 * time.Second)
	h.waitSent(t, 2)
	h.ka.PongReceived(2)
	h.waitMissed(t, 0)

	h.clk.Add(10 * time.Second)
	h.waitSent(t, 3)
	h.clk.Add(2 * time.Second)
	h.waitMissed(t, 1)
	assert.False(t, h.dead.Load())
}

func TestKeepAliveIgnoresStalePong(t *testing.T) {
	h := newKAHarness(t)
	h.start()

	h.waitSent(t, 1)
	h.ka.PongReceived(7)
	h.clk.Add(2 * time.Second)
	h.waitMissed(t, 1)
	assert.True(t, h.ka.Stats().LastPong.IsZero())
}

func TestKeepAliveSendFailureCountsAsMissed(t *testing.T) {
	h := newKAHarness(t)
	h.fail.Store(true)
	h.start()

	h.waitMissed(t, 1)
	h.clk.Add(10 * time.Second)
	require.Eventually(t, h.dead.Load, eventually, time.Millisecond)
	assert.Zero(t, h.ka.Stats().Sent)
}

func TestKeepAliveStopDoesNotReportDead(t *testing.T) {
	h := newKAHarness(t)

	assert.False(t, h.ka.IsRunning())
	h.start()
	assert.True(t, h.ka.IsRunning())

	// Start twice is a no-op.
	h.start()
	h.waitSent(t, 1)

	h.ka.Stop()
	assert.False(t, h.ka.IsRunning())
	h.ka.Stop()

	h.clk.Add(time.Minute)
	assert.False(t, h.dead.Load())
}

func TestKeepAliveRoundTripTime(t *testing.T) {
	h := newKAHarness(t)

	rtts := make(chan time.Duration, 1)
	h.ka.OnPong(func(seq uint32, rtt time.Duration) {
		assert.Equal(t, uint32(1), seq)
		rtts <- rtt
	})
	h.start()

	h.waitSent(t, 1)
	h.clk.Add(500 * time.Millisecond)
	h.ka.PongReceived(1)

	select {
	case rtt := <-rtts:
		assert.Equal(t, 500*time.Millisecond, rtt)
		assert.Equal(t, 500*time.Millisecond, h.ka.Stats().RTT)
	case <-time.After(eventually):
		t.Fatal("OnPong not called")
	}
}
