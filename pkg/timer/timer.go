package timer

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Purpose names a deadline.
type Purpose string

// Expiry reports that the deadline armed as Generation for Purpose elapsed.
type Expiry struct {
	Purpose    Purpose
	Generation uint64
}

type entry struct {
	generation uint64
	start      time.Time
	duration   time.Duration
	fired      bool
	timer      *clock.Timer
}

// Manager holds the armed deadlines of one owner.
type Manager struct {
	mu sync.Mutex

	clock      clock.Clock
	timers     map[Purpose]*entry
	generation uint64
	stopped    bool

	onExpiry func(Expiry)
}

// NewManager creates a manager on clk. A nil clock uses the wall clock.
// onExpiry is called outside the lock on the clock's goroutine.
func NewManager(clk clock.Clock, onExpiry func(Expiry)) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		clock:    clk,
		timers:   make(map[Purpose]*entry),
		onExpiry: onExpiry,
	}
}

// Arm starts a deadline for p, replacing any deadline already armed for p.
// It returns the generation of the new deadline.
func (m *Manager) Arm(p Purpose, d time.Duration) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return 0
	}
	if existing, ok := m.timers[p]; ok {
		existing.timer.Stop()
	}

	m.generation++
	gen := m.generation
	e := &entry{
		generation: gen,
		start:      m.clock.Now(),
		duration:   d,
	}
	e.timer = m.clock.AfterFunc(d, func() {
		m.fire(p, gen)
	})
	m.timers[p] = e
	return gen
}

// Cancel disarms p. It reports whether a deadline was armed.
func (m *Manager) Cancel(p Purpose) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.timers[p]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(m.timers, p)
	return true
}

// CancelAll disarms every deadline.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for p, e := range m.timers {
		e.timer.Stop()
		delete(m.timers, p)
	}
}

// Stop disarms every deadline and refuses further Arm calls.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	m.CancelAll()
}

// Claim consumes an expiry. It returns false if the deadline was cancelled
// or re-armed since it fired.
func (m *Manager) Claim(x Expiry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.timers[x.Purpose]
	if !ok || e.generation != x.Generation {
		return false
	}
	delete(m.timers, x.Purpose)
	return true
}

// Active reports whether a deadline is armed for p. A deadline that fired
// but was not claimed yet still counts as armed.
func (m *Manager) Active(p Purpose) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[p]
	return ok
}

// Remaining returns the time left before p fires, or 0 if not armed.
func (m *Manager) Remaining(p Purpose) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.timers[p]
	if !ok || e.fired {
		return 0
	}
	left := e.duration - m.clock.Since(e.start)
	if left < 0 {
		return 0
	}
	return left
}

// Count returns the number of armed deadlines.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Manager) fire(p Purpose, gen uint64) {
	m.mu.Lock()
	e, ok := m.timers[p]
	if !ok || e.generation != gen {
		m.mu.Unlock()
		return
	}
	e.fired = true
	callback := m.onExpiry
	m.mu.Unlock()

	if callback != nil {
		callback(Expiry{Purpose: p, Generation: gen})
	}
}
