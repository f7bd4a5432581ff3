// Package wire defines the frame format exchanged between two SHIP peers.
//
// Every frame is a single type tag byte followed by a payload:
//
//	[tag:1][payload:*]
//
// Mode-init frames carry no payload. Data frames carry opaque application
// bytes. Negotiation frames (Hello, Handshake, Gate, Close) carry a small
// CBOR (RFC 8949) document with integer keys.
//
// # Tags
//
//	0x00 ModeInit           protocol presence announcement
//	0x01 ModeInitAck        acknowledgement of ModeInit
//	0x10 Hello              trust decision + prolongation flag
//	0x20 HandshakePropose   ordered list of formats
//	0x21 HandshakeSelect    the single selected format
//	0x22 HandshakeError     handshake abort with reason code
//	0x30 Gate               required access-gate level
//	0x3F Close              graceful close (optional reason)
//	0x80 Data               application payload
//
// The codec never buffers beyond one complete frame. Reassembly of frames
// from a byte stream is done by the transport.
package wire
