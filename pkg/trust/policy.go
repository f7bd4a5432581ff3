package trust

import (
	"strings"
)

// Decision is the outcome of a trust evaluation.
type Decision uint8

const (
	// Undecided means no decision is available yet.
	Undecided Decision = iota
	// Approved means the peer is trusted.
	Approved
	// Rejected means the peer must not be trusted.
	Rejected
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case Undecided:
		return "undecided"
	case Approved:
		return "approved"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ParseDecision parses the output of Decision.String.
func ParseDecision(s string) (Decision, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "undecided":
		return Undecided, true
	case "approved":
		return Approved, true
	case "rejected":
		return Rejected, true
	default:
		return Undecided, false
	}
}

// Peer identifies the remote side of a connection.
type Peer struct {
	// ID is the peer identity, normally the hex SKI of its certificate.
	ID string

	// Addr is the remote address, informational only.
	Addr string
}

// Policy evaluates trust for a peer.
type Policy interface {
	Evaluate(p Peer) Decision
}

// PolicyFunc adapts a function to a Policy.
type PolicyFunc func(p Peer) Decision

// Evaluate calls f(p).
func (f PolicyFunc) Evaluate(p Peer) Decision {
	return f(p)
}

// AllowAll approves every peer.
func AllowAll() Policy {
	return PolicyFunc(func(Peer) Decision { return Approved })
}

// DenyAll rejects every peer.
func DenyAll() Policy {
	return PolicyFunc(func(Peer) Decision { return Rejected })
}

// NormalizeID returns the canonical form of a peer identity: lower-case hex
// without separators.
func NormalizeID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range strings.ToLower(id) {
		switch r {
		case ':', '-', ' ':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
