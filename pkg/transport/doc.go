// Package transport provides the authenticated channels SHIP connections run on.
//
// Every channel carries whole frames and implements Conn:
//   - StreamConn: length-prefixed frames over a TLS byte stream
//   - WSConn: one binary WebSocket message per frame over TLS
//   - PipeConn: an in-memory pair for tests and local wiring
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│      SHIP frames               │
//	├───────────────┬────────────────┤
//	│ Length prefix │ WebSocket      │
//	├───────────────┴────────────────┤
//	│         TLS (mutual)           │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// # TLS
//
// Both sides present self-signed certificates. No chain is verified; the
// peer is identified by the Subject Key Identifier of its leaf certificate
// and trusted or rejected during hello. A dialer may pin the SKI it
// expects, for example one learned through discovery. ALPN is "ship/1".
//
// # Keep-Alive
//
// WebSocket connections can monitor liveness with ping/pong control
// frames carrying a sequence number:
//   - Ping interval: 30 seconds
//   - Pong timeout: 5 seconds
//   - Max missed pongs: 3
package transport
