package node

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/shipproto/ship-go/pkg/ship"
	"github.com/shipproto/ship-go/pkg/transport"
	"github.com/shipproto/ship-go/pkg/trust"
)

func newTrackedConn(t *testing.T, id string) *ship.Connection {
	t.Helper()
	p, _ := transport.Pipe()
	cfg := ship.DefaultConfig()
	cfg.Role = ship.RoleInitiator
	cfg.ID = id
	cfg.Trust = trust.AllowAll()
	c, err := ship.New(p, cfg)
	if err != nil {
		t.Fatalf("ship.New: %v", err)
	}
	return c
}

func TestConnTracker_AddAndRemove(t *testing.T) {
	ct := newConnTracker(clock.NewMock())
	c := newTrackedConn(t, "c1")

	ct.Add(c)
	if ct.Len() != 1 {
		t.Errorf("Len after Add: expected 1, got %d", ct.Len())
	}
	if got, ok := ct.Get("c1"); !ok || got != c {
		t.Error("Get did not return the added connection")
	}

	ct.Remove("c1")
	if ct.Len() != 0 {
		t.Errorf("Len after Remove: expected 0, got %d", ct.Len())
	}

	// Removing an absent connection is a no-op.
	ct.Remove("c1")
}

func TestConnTracker_ListOrdersByStart(t *testing.T) {
	clk := clock.NewMock()
	ct := newConnTracker(clk)

	// Same timestamp orders by ID.
	ct.Add(newTrackedConn(t, "second"))
	ct.Add(newTrackedConn(t, "first"))
	clk.Add(time.Second)
	ct.Add(newTrackedConn(t, "third"))

	infos := ct.List()
	if len(infos) != 3 {
		t.Fatalf("List: expected 3, got %d", len(infos))
	}
	for i, want := range []string{"first", "second", "third"} {
		if infos[i].ID != want {
			t.Errorf("List[%d] = %s, want %s", i, infos[i].ID, want)
		}
	}
	if infos[0].Phase != ship.PhaseModeInit {
		t.Errorf("Phase = %s, want MODE_INIT", infos[0].Phase)
	}
}

func TestConnTracker_AbortStale(t *testing.T) {
	clk := clock.NewMock()
	ct := newConnTracker(clk)

	stale := newTrackedConn(t, "stale")
	ct.Add(stale)
	clk.Add(time.Minute)
	fresh := newTrackedConn(t, "fresh")
	ct.Add(fresh)

	if n := ct.AbortStale(30 * time.Second); n != 1 {
		t.Errorf("AbortStale: expected 1, got %d", n)
	}

	// Aborted connections finish immediately once run.
	if err := stale.Run(t.Context()); err == nil {
		t.Error("stale connection should end with an error")
	}
	select {
	case <-fresh.Done():
		t.Error("fresh connection should not be aborted")
	default:
	}
}

func TestConnTracker_AbortAll(t *testing.T) {
	ct := newConnTracker(clock.NewMock())
	a, b := newTrackedConn(t, "a"), newTrackedConn(t, "b")
	ct.Add(a)
	ct.Add(b)

	if n := ct.AbortAll(); n != 2 {
		t.Errorf("AbortAll: expected 2, got %d", n)
	}
	for _, c := range []*ship.Connection{a, b} {
		if err := c.Run(t.Context()); err == nil {
			t.Errorf("%s should end with an error", c.ID())
		}
	}
}
