package node

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipproto/ship-go/pkg/ship"
)

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff(DefaultBackoffConfig())

		expected := []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			32 * time.Second,
			60 * time.Second,
			60 * time.Second,
		}
		for i, exp := range expected {
			base := b.Current()
			delay := b.Next()
			if base != exp {
				t.Errorf("attempt %d: base = %v, want %v", i, base, exp)
			}
			if delay < base || delay > base+time.Duration(float64(base)*JitterFactor) {
				t.Errorf("attempt %d: delay %v outside jitter range of %v", i, delay, base)
			}
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff(DefaultBackoffConfig())
		for i := 0; i < 5; i++ {
			b.Next()
		}
		if b.Attempts() != 5 {
			t.Errorf("Attempts() = %d, want 5", b.Attempts())
		}

		b.Reset()
		if b.Current() != InitialBackoff {
			t.Errorf("Current() = %v after reset, want %v", b.Current(), InitialBackoff)
		}
		if b.Attempts() != 0 {
			t.Errorf("Attempts() = %d after reset, want 0", b.Attempts())
		}
	})

	t.Run("CustomConfig", func(t *testing.T) {
		b := NewBackoff(BackoffConfig{
			Initial: 100 * time.Millisecond,
			Max:     500 * time.Millisecond,
		})

		expected := []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			500 * time.Millisecond,
			500 * time.Millisecond,
		}
		for i, exp := range expected {
			if got := b.Next(); got != exp {
				t.Errorf("attempt %d: got %v, want %v", i, got, exp)
			}
		}
	})
}

type attempt struct {
	n     int
	delay time.Duration
}

func startRedialer(t *testing.T, dial DialFunc, clk *clock.Mock) (chan attempt, context.CancelFunc, chan error) {
	t.Helper()
	r := newRedialer(dial, NewBackoff(BackoffConfig{Initial: time.Second}), clk, slog.Default())

	attempts := make(chan attempt, 16)
	r.OnAttempt(func(n int, delay time.Duration) {
		attempts <- attempt{n, delay}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(cancel)
	return attempts, cancel, done
}

func nextAttempt(t *testing.T, attempts chan attempt) attempt {
	t.Helper()
	select {
	case a := <-attempts:
		return a
	case <-time.After(waitFor):
		t.Fatal("no redial scheduled")
		return attempt{}
	}
}

func TestRedialerBacksOffOnFailure(t *testing.T) {
	clk := clock.NewMock()
	var dials atomic.Int32
	dial := func(context.Context) (*ship.Connection, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	}

	attempts, cancel, done := startRedialer(t, dial, clk)

	for i, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		a := nextAttempt(t, attempts)
		assert.Equal(t, i+1, a.n)
		assert.Equal(t, want, a.delay)
		assert.Equal(t, int32(i+1), dials.Load())
		clk.Add(want)
	}

	nextAttempt(t, attempts)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}
}

func TestRedialerResetsAfterDataPhase(t *testing.T) {
	clk := clock.NewMock()
	a, _ := newTestNode(t, Config{})
	b, _ := newTestNode(t, Config{})

	peers := make(chan *ship.Connection, 4)
	var dials atomic.Int32
	dial := func(context.Context) (*ship.Connection, error) {
		if dials.Add(1) == 1 {
			return nil, errors.New("connection refused")
		}
		ca, cb := attachPair(t, a, b)
		peers <- cb
		return ca, nil
	}

	attempts, cancel, _ := startRedialer(t, dial, clk)

	first := nextAttempt(t, attempts)
	assert.Equal(t, time.Second, first.delay)
	clk.Add(time.Second)

	// The peer ends a connection that reached the data phase.
	var cb *ship.Connection
	select {
	case cb = <-peers:
	case <-time.After(waitFor):
		t.Fatal("no redial")
	}
	waitReady(t, cb)
	require.NoError(t, cb.Close())

	second := nextAttempt(t, attempts)
	assert.Equal(t, 1, second.n)
	assert.Equal(t, time.Second, second.delay)
	cancel()
}

func TestRedialerStopsWithoutIdentity(t *testing.T) {
	n, _ := newTestNode(t, Config{})
	r := n.Redialer("127.0.0.1:1", "", DefaultBackoffConfig())

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoIdentity)
	assert.Nil(t, r.Connection())
}

func TestRedialerAbortsOnCancel(t *testing.T) {
	clk := clock.NewMock()
	a, _ := newTestNode(t, Config{})
	b, _ := newTestNode(t, Config{})

	conns := make(chan *ship.Connection, 1)
	dial := func(context.Context) (*ship.Connection, error) {
		ca, _ := attachPair(t, a, b)
		conns <- ca
		return ca, nil
	}

	_, cancel, done := startRedialer(t, dial, clk)
	ca := <-conns
	waitReady(t, ca)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}
	assert.ErrorIs(t, ca.Err(), ship.ErrAborted)
}
