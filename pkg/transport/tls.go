package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shipproto/ship-go/pkg/cert"
	"github.com/shipproto/ship-go/pkg/trust"
	"github.com/shipproto/ship-go/pkg/version"
)

// DefaultPort is the default SHIP port.
const DefaultPort = 4712

// TLS verification errors.
var (
	ErrNoCertificate = errors.New("no certificate presented")
	ErrSKIMismatch   = errors.New("peer SKI mismatch")
	ErrCertExpired   = errors.New("peer certificate outside validity period")
)

// TLSConfig holds configuration for SHIP TLS connections.
//
// Nodes use self-signed certificates, so no chain is verified. The peer is
// identified by the Subject Key Identifier of its leaf certificate and the
// trust decision happens during hello.
type TLSConfig struct {
	// Certificate is the TLS certificate for this endpoint.
	Certificate tls.Certificate

	// ExpectedSKI pins the peer certificate. Empty accepts any certificate.
	ExpectedSKI string

	// ServerName is sent as SNI by clients.
	ServerName string

	// Now overrides the clock used for the validity check.
	Now func() time.Time
}

// NewServerTLSConfig creates a TLS configuration for the listening side.
func NewServerTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}
	if len(cfg.Certificate.Certificate) == 0 {
		return nil, fmt.Errorf("server certificate is required")
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,

		// Any client certificate is accepted here and checked in
		// VerifyPeerCertificate.
		ClientAuth: tls.RequireAnyClientCert,

		Certificates: []tls.Certificate{cfg.Certificate},
		NextProtos:   version.SupportedALPNProtocols(),
		CurvePreferences: []tls.CurveID{
			tls.CurveP256,
			tls.X25519,
		},
		SessionTicketsDisabled: true,
		VerifyPeerCertificate:  verifyPeer(cfg),
	}, nil
}

// NewClientTLSConfig creates a TLS configuration for the dialing side.
func NewClientTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}
	if len(cfg.Certificate.Certificate) == 0 {
		return nil, fmt.Errorf("client certificate is required")
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cfg.Certificate},
		ServerName:   cfg.ServerName,
		NextProtos:   version.SupportedALPNProtocols(),
		CurvePreferences: []tls.CurveID{
			tls.CurveP256,
			tls.X25519,
		},
		SessionTicketsDisabled: true,

		// Self-signed peers: the chain check is replaced by verifyPeer.
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: verifyPeer(cfg),
	}, nil
}

// verifyPeer checks the leaf certificate's validity period and, when
// configured, its SKI.
func verifyPeer(cfg *TLSConfig) func([][]byte, [][]*x509.Certificate) error {
	expected := trust.NormalizeID(cfg.ExpectedSKI)
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return ErrNoCertificate
		}
		leaf, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("failed to parse certificate: %w", err)
		}

		t := now()
		if t.Before(leaf.NotBefore) || t.After(leaf.NotAfter) {
			return ErrCertExpired
		}

		if expected != "" {
			if got := cert.SKI(leaf); got != expected {
				return fmt.Errorf("%w: expected %s, got %s", ErrSKIMismatch, expected, got)
			}
		}
		return nil
	}
}

// VerifyALPN checks that the negotiated ALPN protocol is a supported SHIP version.
func VerifyALPN(state tls.ConnectionState) error {
	if _, err := version.MajorFromALPN(state.NegotiatedProtocol); err != nil {
		return err
	}
	if !slices.Contains(version.SupportedALPNProtocols(), state.NegotiatedProtocol) {
		return fmt.Errorf("ALPN protocol %q is not supported", state.NegotiatedProtocol)
	}
	return nil
}

// VerifyConnection performs the post-handshake checks on a SHIP connection
// and returns the peer's SKI.
func VerifyConnection(state tls.ConnectionState) (string, error) {
	if err := VerifyALPN(state); err != nil {
		return "", err
	}
	return cert.PeerSKI(state)
}
