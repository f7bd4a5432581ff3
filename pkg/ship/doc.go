// Package ship implements the SHIP connection lifecycle.
//
// A Connection takes an already authenticated duplex transport through a
// fixed sequence of phases:
//
//	ModeInit -> Hello -> Handshake -> Gate -> Data -> Closed
//
// ModeInit confirms both peers speak the protocol. Hello lets each side
// approve or reject trusting the other, with a bounded prolongation loop
// while an operator decision is pending. Handshake agrees on the message
// format. Gate checks that no further authorization is required. Data
// relays opaque application payloads until either side closes.
//
// # Concurrency
//
// Each Connection runs one event loop. Frame arrival, timer expiry, local
// sends and close requests are all serialized onto it, so no two phase
// transitions of a connection ever run concurrently. Independent
// connections share nothing except their configured trust policy.
//
// # Errors
//
// Every failure is fatal to the connection and is reported once as an
// *Error carrying the phase and a Kind. Use errors.Is with the Err*
// sentinels to classify it:
//
//	if errors.Is(err, ship.ErrTrustRejected) { ... }
//
// A graceful close in the Data phase terminates with a nil error.
package ship
