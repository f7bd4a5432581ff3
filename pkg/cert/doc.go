// Package cert manages the local node identity.
//
// A SHIP node is identified by a self-signed ECDSA P-256 certificate. Its
// Subject Key Identifier (SKI) is the node's stable identity: peers record
// trust decisions against the SKI rather than against a CA chain.
package cert
