package storage

import (
	"crypto/ed25519"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/youmark/pkcs8"
)

const identityPEMType = "ENCRYPTED PRIVATE KEY"

// WriteIdentityKey encrypts priv under passphrase (PKCS8, the library's
// default PBKDF2 + AES-256-CBC) and writes it to the component's
// identity.pem.
func WriteIdentityKey(paths Paths, priv ed25519.PrivateKey, passphrase []byte) error {
	if err := paths.EnsureDir(); err != nil {
		return fmt.Errorf("storage: ensure state dir: %w", err)
	}
	der, err := pkcs8.MarshalPrivateKey(priv, passphrase, nil)
	if err != nil {
		return fmt.Errorf("storage: marshal identity key: %w", err)
	}
	block := &pem.Block{Type: identityPEMType, Bytes: der}
	if err := os.WriteFile(paths.IdentityKeyFile(), pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("storage: write identity key: %w", err)
	}
	return nil
}

// ReadIdentityKey decrypts the component's identity.pem under passphrase.
func ReadIdentityKey(paths Paths, passphrase []byte) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(paths.IdentityKeyFile())
	if err != nil {
		return nil, fmt.Errorf("storage: read identity key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != identityPEMType {
		return nil, fmt.Errorf("storage: identity.pem is not a valid %s block", identityPEMType)
	}
	key, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, passphrase)
	if err != nil {
		return nil, fmt.Errorf("storage: decrypt identity key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("storage: identity key is not Ed25519")
	}
	return priv, nil
}
