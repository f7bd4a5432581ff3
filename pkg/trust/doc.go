// Package trust decides whether a peer identity may be trusted.
//
// A connection consults a Policy once when it enters trust negotiation and
// then re-invokes it on a fixed cadence while the answer is Undecided, so a
// human decision that arrives later is picked up without the connection
// ever blocking on it.
//
// Store is the operator-driven Policy: unknown peers are recorded as pending
// and announced through OnPending; an operator then calls Approve or Reject.
// Decisions can be persisted with a persistence.TrustStateStore.
//
// Policies are shared between connections and must be safe for concurrent use.
package trust
