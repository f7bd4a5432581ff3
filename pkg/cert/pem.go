package cert

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	blockCertificate = "CERTIFICATE"
	blockECKey       = "EC PRIVATE KEY"
	blockPKCS8Key    = "PRIVATE KEY"
)

var (
	ErrInvalidPEM  = errors.New("invalid PEM data")
	ErrInvalidKey  = errors.New("invalid private key")
	ErrKeyMismatch = errors.New("private key does not match certificate")
)

// EncodeCertPEM returns cert as a CERTIFICATE block.
func EncodeCertPEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: blockCertificate, Bytes: cert.Raw})
}

// EncodeKeyPEM returns key as a SEC 1 "EC PRIVATE KEY" block.
func EncodeKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: blockECKey, Bytes: der}), nil
}

// DecodeCertPEM returns the first certificate in data. Other blocks are
// skipped, so a combined cert and key file is accepted.
func DecodeCertPEM(data []byte) (*x509.Certificate, error) {
	block := findBlock(data, blockCertificate)
	if block == nil {
		return nil, ErrInvalidPEM
	}
	return x509.ParseCertificate(block.Bytes)
}

// DecodeKeyPEM returns the first ECDSA private key in data, in SEC 1 or
// PKCS #8 form. "EC PARAMETERS" blocks written by openssl are skipped.
func DecodeKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block := findBlock(data, blockECKey, blockPKCS8Key)
	if block == nil {
		return nil, ErrInvalidPEM
	}

	if block.Type == blockECKey {
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	ec, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not ECDSA", ErrInvalidKey, key)
	}
	return ec, nil
}

func findBlock(data []byte, types ...string) *pem.Block {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil
		}
		for _, t := range types {
			if block.Type == t {
				return block
			}
		}
	}
}

// LoadIdentity reads a certificate and its private key from PEM files and
// checks that they belong together.
func LoadIdentity(certPath, keyPath string) (*Identity, error) {
	data, err := os.ReadFile(certPath)
	if err != nil {
		return nil, err
	}
	c, err := DecodeCertPEM(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", certPath, err)
	}

	if data, err = os.ReadFile(keyPath); err != nil {
		return nil, err
	}
	k, err := DecodeKeyPEM(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", keyPath, err)
	}

	pub, ok := c.PublicKey.(*ecdsa.PublicKey)
	if !ok || !pub.Equal(&k.PublicKey) {
		return nil, ErrKeyMismatch
	}
	return &Identity{Certificate: c, PrivateKey: k}, nil
}

// Save writes the key (mode 0600) and then the certificate (mode 0644).
// Each file is replaced atomically.
func (id *Identity) Save(certPath, keyPath string) error {
	keyPEM, err := EncodeKeyPEM(id.PrivateKey)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(keyPath, keyPEM, 0o600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	if err := writeFileAtomic(certPath, EncodeCertPEM(id.Certificate), 0o644); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
