package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"
)

// IdentityValidity is the validity period of generated identities.
const IdentityValidity = 20 * 365 * 24 * time.Hour

// ErrNoPeerCertificate is returned when a TLS peer presented no certificate.
var ErrNoPeerCertificate = errors.New("peer presented no certificate")

// Identity is the local node certificate and key.
type Identity struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
}

// GenerateIdentity creates a self-signed P-256 identity for commonName.
// The certificate carries a SubjectKeyId derived from the public key and
// is valid for both client and server authentication.
func GenerateIdentity(commonName string) (*Identity, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	ski, err := subjectKeyID(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(IdentityValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		SubjectKeyId:          ski,
		AuthorityKeyId:        ski,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	c, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return &Identity{Certificate: c, PrivateKey: key}, nil
}

// LoadOrCreateIdentity loads the identity from certPath and keyPath. When
// neither file exists a new identity is generated and saved there.
func LoadOrCreateIdentity(certPath, keyPath, commonName string) (*Identity, error) {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	if !os.IsNotExist(certErr) || !os.IsNotExist(keyErr) {
		return LoadIdentity(certPath, keyPath)
	}

	id, err := GenerateIdentity(commonName)
	if err != nil {
		return nil, err
	}
	if err := id.Save(certPath, keyPath); err != nil {
		return nil, err
	}
	return id, nil
}

// TLSCertificate returns the identity as a tls.Certificate.
func (id *Identity) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{id.Certificate.Raw},
		PrivateKey:  id.PrivateKey,
		Leaf:        id.Certificate,
	}
}

// SKI returns the identity's Subject Key Identifier as lower-case hex.
func (id *Identity) SKI() string {
	return SKI(id.Certificate)
}

// SKI returns the certificate's Subject Key Identifier as lower-case hex.
// Certificates without the extension get the SHA-1 of the public key.
func SKI(c *x509.Certificate) string {
	if len(c.SubjectKeyId) > 0 {
		return hex.EncodeToString(c.SubjectKeyId)
	}
	sum := sha1.Sum(c.RawSubjectPublicKeyInfo)
	return hex.EncodeToString(sum[:])
}

// PeerSKI returns the SKI of the leaf certificate in a TLS connection state.
func PeerSKI(state tls.ConnectionState) (string, error) {
	if len(state.PeerCertificates) == 0 {
		return "", ErrNoPeerCertificate
	}
	return SKI(state.PeerCertificates[0]), nil
}

// FormatSKI renders a hex SKI in colon-separated groups for display.
func FormatSKI(ski string) string {
	ski = strings.ToLower(ski)
	var b strings.Builder
	for i := 0; i < len(ski); i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		end := i + 2
		if end > len(ski) {
			end = len(ski)
		}
		b.WriteString(ski[i:end])
	}
	return b.String()
}

func subjectKeyID(pub *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	sum := sha1.Sum(der)
	return sum[:], nil
}
