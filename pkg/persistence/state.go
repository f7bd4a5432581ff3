package persistence

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// TrustState contains the operator's trust decisions.
type TrustState struct {
	// Version is the state file format version.
	Version int `yaml:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `yaml:"saved_at"`

	// Peers holds one record per decided peer.
	Peers []PeerRecord `yaml:"peers,omitempty"`
}

// PeerRecord is a persisted trust decision for one peer identity.
type PeerRecord struct {
	// ID is the normalized peer identity (certificate SKI, hex).
	ID string `yaml:"id"`

	// Decision is "approved" or "rejected".
	Decision string `yaml:"decision"`

	// Name is an optional operator label.
	Name string `yaml:"name,omitempty"`

	// DecidedAt is when the decision was made.
	DecidedAt time.Time `yaml:"decided_at"`
}

// TrustStateStore manages persistence of trust state to a YAML file.
type TrustStateStore struct {
	mu   sync.Mutex
	path string
}

// NewTrustStateStore creates a new trust state store.
func NewTrustStateStore(path string) *TrustStateStore {
	return &TrustStateStore{path: path}
}

// Path returns the file path of the store.
func (s *TrustStateStore) Path() string {
	return s.path
}

// Save persists the trust state to disk. The file is replaced atomically.
func (s *TrustStateStore) Save(state *TrustState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	state.SavedAt = time.Now()

	data, err := yaml.Marshal(state)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load reads the trust state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *TrustStateStore) Load() (*TrustState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &TrustState{}
	if err := yaml.Unmarshal(data, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Clear removes the state file.
func (s *TrustStateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
