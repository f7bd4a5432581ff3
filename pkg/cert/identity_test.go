package cert

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateIdentity(t *testing.T) {
	id, err := GenerateIdentity("node-a")
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %v", err)
	}
	if id.Certificate.Subject.CommonName != "node-a" {
		t.Errorf("CommonName = %q", id.Certificate.Subject.CommonName)
	}
	if len(id.Certificate.SubjectKeyId) != 20 {
		t.Errorf("SubjectKeyId length = %d, want 20", len(id.Certificate.SubjectKeyId))
	}
	if len(id.SKI()) != 40 {
		t.Errorf("SKI() = %q, want 40 hex chars", id.SKI())
	}

	pool := x509.NewCertPool()
	pool.AddCert(id.Certificate)
	if _, err := id.Certificate.Verify(x509.VerifyOptions{
		Roots:     pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}); err != nil {
		t.Errorf("self-signed certificate does not verify: %v", err)
	}
}

func TestPEMRoundTrip(t *testing.T) {
	id, err := GenerateIdentity("pem")
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %v", err)
	}

	c, err := DecodeCertPEM(EncodeCertPEM(id.Certificate))
	if err != nil {
		t.Fatalf("DecodeCertPEM failed: %v", err)
	}
	if !bytes.Equal(c.Raw, id.Certificate.Raw) {
		t.Error("certificate changed in round trip")
	}

	keyPEM, err := EncodeKeyPEM(id.PrivateKey)
	if err != nil {
		t.Fatalf("EncodeKeyPEM failed: %v", err)
	}
	k, err := DecodeKeyPEM(keyPEM)
	if err != nil {
		t.Fatalf("DecodeKeyPEM failed: %v", err)
	}
	if !k.Equal(id.PrivateKey) {
		t.Error("key changed in round trip")
	}

	if _, err := DecodeCertPEM([]byte("garbage")); err != ErrInvalidPEM {
		t.Errorf("DecodeCertPEM(garbage) = %v, want ErrInvalidPEM", err)
	}
	if _, err := DecodeKeyPEM(EncodeCertPEM(id.Certificate)); err != ErrInvalidPEM {
		t.Errorf("DecodeKeyPEM(cert) = %v, want ErrInvalidPEM", err)
	}
}

func TestLoadOrCreateIdentity(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "node.crt")
	keyPath := filepath.Join(dir, "node.key")

	first, err := LoadOrCreateIdentity(certPath, keyPath, "node")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("key not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key mode = %v, want 0600", info.Mode().Perm())
	}

	second, err := LoadOrCreateIdentity(certPath, keyPath, "node")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if first.SKI() != second.SKI() {
		t.Errorf("SKI changed across load: %s vs %s", first.SKI(), second.SKI())
	}

	if err := os.Remove(keyPath); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateIdentity(certPath, keyPath, "node"); err == nil {
		t.Error("expected error with certificate but no key")
	}
}

func TestPeerSKI(t *testing.T) {
	id, err := GenerateIdentity("peer")
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %v", err)
	}

	ski, err := PeerSKI(tls.ConnectionState{PeerCertificates: []*x509.Certificate{id.Certificate}})
	if err != nil {
		t.Fatalf("PeerSKI failed: %v", err)
	}
	if ski != id.SKI() {
		t.Errorf("PeerSKI = %s, want %s", ski, id.SKI())
	}

	if _, err := PeerSKI(tls.ConnectionState{}); err != ErrNoPeerCertificate {
		t.Errorf("PeerSKI(empty) = %v, want ErrNoPeerCertificate", err)
	}
}

func TestFormatSKI(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"0A1B2C", "0a:1b:2c"},
		{"abc", "ab:c"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := FormatSKI(tt.in); got != tt.want {
			t.Errorf("FormatSKI(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadIdentity(t *testing.T) {
	dir := t.TempDir()
	a, err := GenerateIdentity("a")
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateIdentity("b")
	if err != nil {
		t.Fatal(err)
	}

	// One file holding both blocks serves as cert and key.
	keyPEM, err := EncodeKeyPEM(a.PrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	combined := filepath.Join(dir, "combined.pem")
	if err := os.WriteFile(combined, append(keyPEM, EncodeCertPEM(a.Certificate)...), 0600); err != nil {
		t.Fatal(err)
	}
	id, err := LoadIdentity(combined, combined)
	if err != nil {
		t.Fatalf("LoadIdentity(combined) failed: %v", err)
	}
	if id.SKI() != a.SKI() {
		t.Errorf("SKI = %s, want %s", id.SKI(), a.SKI())
	}

	certPath := filepath.Join(dir, "a.crt")
	keyPath := filepath.Join(dir, "b.key")
	if err := a.Save(certPath, filepath.Join(dir, "a.key")); err != nil {
		t.Fatal(err)
	}
	if err := b.Save(filepath.Join(dir, "b.crt"), keyPath); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadIdentity(certPath, keyPath); !errors.Is(err, ErrKeyMismatch) {
		t.Errorf("LoadIdentity(a.crt, b.key) = %v, want ErrKeyMismatch", err)
	}
}
