// Package discovery implements mDNS/DNS-SD discovery for SHIP nodes.
//
// Nodes advertise a single service type, _ship._tcp, one instance per node.
// The instance name is user-configurable and carries no identity; peers are
// identified by the ski TXT record, which must match the Subject Key
// Identifier of the certificate presented during the TLS handshake.
//
// # TXT Records
//
//   - txtvers: TXT record version, currently 1
//   - id: unique node identifier (brand-model-serial style, free text)
//   - path: websocket path, e.g. /ship/
//   - ski: certificate Subject Key Identifier, 40 hex characters
//   - register: "true" when the node accepts automatic registration
//   - brand, model, type: optional descriptive fields
//
// Discovery only produces candidates. Whether a discovered node is trusted
// is decided during the hello exchange of a connection.
package discovery
