package node

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/shipproto/ship-go/pkg/ship"
)

type tracked struct {
	conn  *ship.Connection
	added time.Time
}

// connTracker tracks running connections by ID.
type connTracker struct {
	clock clock.Clock

	mu    sync.Mutex
	conns map[string]tracked
}

func newConnTracker(clk clock.Clock) *connTracker {
	return &connTracker{
		clock: clk,
		conns: make(map[string]tracked),
	}
}

// Add registers a connection with the current time.
func (ct *connTracker) Add(c *ship.Connection) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.conns[c.ID()] = tracked{conn: c, added: ct.clock.Now()}
}

// Remove deregisters a connection. Safe to call on absent connections.
func (ct *connTracker) Remove(id string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	delete(ct.conns, id)
}

// Get returns the connection with id.
func (ct *connTracker) Get(id string) (*ship.Connection, bool) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	t, ok := ct.conns[id]
	return t.conn, ok
}

// List returns a snapshot ordered by start time.
func (ct *connTracker) List() []ConnectionInfo {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	infos := make([]ConnectionInfo, 0, len(ct.conns))
	for _, t := range ct.conns {
		infos = append(infos, ConnectionInfo{
			ID:         t.conn.ID(),
			PeerID:     t.conn.PeerID(),
			RemoteAddr: t.conn.RemoteAddr(),
			Role:       t.conn.Role(),
			Phase:      t.conn.Status(),
			Since:      t.added,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Since.Equal(infos[j].Since) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].Since.Before(infos[j].Since)
	})
	return infos
}

// AbortStale aborts connections that have not reached the data phase
// within maxAge. Returns the number of connections aborted.
func (ct *connTracker) AbortStale(maxAge time.Duration) int {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	cutoff := ct.clock.Now().Add(-maxAge)
	aborted := 0
	for _, t := range ct.conns {
		if t.added.Before(cutoff) && t.conn.Status() < ship.PhaseData {
			t.conn.Abort()
			aborted++
		}
	}
	return aborted
}

// AbortAll aborts every tracked connection. Entries are removed by their
// owners once the connections are done.
func (ct *connTracker) AbortAll() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	for _, t := range ct.conns {
		t.conn.Abort()
	}
	return len(ct.conns)
}

// Len returns the number of tracked connections.
func (ct *connTracker) Len() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return len(ct.conns)
}
