package trust

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shipproto/ship-go/pkg/persistence"
)

// ErrUnknownPeer is returned when deciding a peer ID that is empty.
var ErrUnknownPeer = errors.New("unknown peer")

type record struct {
	peer      Peer
	decision  Decision
	name      string
	decidedAt time.Time
}

// Store is an operator-driven trust policy.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record

	onPending func(Peer)
	state     *persistence.TrustStateStore
	logger    *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPersistence saves every decision to state.
func WithPersistence(state *persistence.TrustStateStore) StoreOption {
	return func(s *Store) { s.state = state }
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		records: make(map[string]*record),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnPending registers fn to be called once for each peer that is evaluated
// without a decision. fn runs outside the store lock.
func (s *Store) OnPending(fn func(Peer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPending = fn
}

// Evaluate implements Policy.
func (s *Store) Evaluate(p Peer) Decision {
	id := NormalizeID(p.ID)
	if id == "" {
		return Rejected
	}

	s.mu.RLock()
	r, ok := s.records[id]
	if ok {
		d := r.decision
		s.mu.RUnlock()
		return d
	}
	s.mu.RUnlock()

	s.mu.Lock()
	if r, ok := s.records[id]; ok {
		s.mu.Unlock()
		return r.decision
	}
	p.ID = id
	s.records[id] = &record{peer: p, decision: Undecided}
	callback := s.onPending
	s.mu.Unlock()

	s.logger.Info("trust decision pending", "peer", id, "addr", p.Addr)
	if callback != nil {
		callback(p)
	}
	return Undecided
}

// Approve trusts the peer.
func (s *Store) Approve(id string) error {
	return s.decide(id, Approved)
}

// Reject refuses the peer.
func (s *Store) Reject(id string) error {
	return s.decide(id, Rejected)
}

// Name attaches an operator label to a peer.
func (s *Store) Name(id, name string) error {
	id = NormalizeID(id)
	s.mu.Lock()
	r, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}
	r.name = name
	s.mu.Unlock()
	return s.save()
}

func (s *Store) decide(id string, d Decision) error {
	id = NormalizeID(id)
	if id == "" {
		return ErrUnknownPeer
	}

	s.mu.Lock()
	r, ok := s.records[id]
	if !ok {
		r = &record{peer: Peer{ID: id}}
		s.records[id] = r
	}
	r.decision = d
	r.decidedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("trust decision", "peer", id, "decision", d.String())
	return s.save()
}

// Forget drops any decision about the peer. The next evaluation is pending again.
func (s *Store) Forget(id string) error {
	id = NormalizeID(id)
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return s.save()
}

// Decision returns the current decision for id.
func (s *Store) Decision(id string) Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.records[NormalizeID(id)]; ok {
		return r.decision
	}
	return Undecided
}

// Pending returns the peers awaiting a decision, sorted by ID.
func (s *Store) Pending() []Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Peer
	for _, r := range s.records {
		if r.decision == Undecided {
			out = append(out, r.peer)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Decisions returns a snapshot of all decided peers.
func (s *Store) Decisions() map[string]Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Decision, len(s.records))
	for id, r := range s.records {
		if r.decision != Undecided {
			out[id] = r.decision
		}
	}
	return out
}

// Load replaces decided records with the persisted state. Pending peers are kept.
func (s *Store) Load() error {
	if s.state == nil {
		return nil
	}
	state, err := s.state.Load()
	if err != nil {
		return fmt.Errorf("load trust state: %w", err)
	}
	if state == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pr := range state.Peers {
		d, ok := ParseDecision(pr.Decision)
		if !ok || d == Undecided {
			s.logger.Warn("ignoring trust record", "peer", pr.ID, "decision", pr.Decision)
			continue
		}
		id := NormalizeID(pr.ID)
		s.records[id] = &record{
			peer:      Peer{ID: id},
			decision:  d,
			name:      pr.Name,
			decidedAt: pr.DecidedAt,
		}
	}
	return nil
}

func (s *Store) save() error {
	if s.state == nil {
		return nil
	}

	s.mu.RLock()
	state := &persistence.TrustState{}
	for id, r := range s.records {
		if r.decision == Undecided {
			continue
		}
		state.Peers = append(state.Peers, persistence.PeerRecord{
			ID:        id,
			Decision:  r.decision.String(),
			Name:      r.name,
			DecidedAt: r.decidedAt,
		})
	}
	s.mu.RUnlock()

	sort.Slice(state.Peers, func(i, j int) bool { return state.Peers[i].ID < state.Peers[j].ID })
	if err := s.state.Save(state); err != nil {
		return fmt.Errorf("save trust state: %w", err)
	}
	return nil
}

// Compile-time interface satisfaction check.
var _ Policy = (*Store)(nil)
