// Package log provides structured protocol capture for SHIP connections.
//
// It is separate from operational logging (slog): protocol capture records
// every frame, phase change and terminal error of a connection as an Event
// so that a connection attempt can be replayed and inspected afterwards.
//
// # Basic Usage
//
//	// Console during development
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Binary capture file
//	fl, _ := log.NewFileLogger("/var/log/ship/node.shiplog")
//	cfg.ProtocolLogger = fl
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Event Types
//
//   - FrameEvent: raw frame bytes at the transport
//   - MessageEvent: a decoded frame at one of the protocol layers
//   - StateChangeEvent: phase and trust transitions
//   - ControlMsgEvent: transport keepalive ping/pong and close
//   - ErrorEventData: terminal connection errors
//
// # File Format
//
// Capture files are a stream of CBOR-encoded events. Reader iterates over
// them with an optional Filter.
package log
