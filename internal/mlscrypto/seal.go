package mlscrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// aeadKeySize is the key size for AES-256-GCM, the cipher every epoch
	// secret and every Welcome encryption key is sized for.
	aeadKeySize = 32
	// nonceSize is the GCM recommended nonce size; ProcessIncoming and
	// openWelcome both expect ciphertexts framed as nonce||ct+tag.
	nonceSize = 12
	// x25519KeySize is the size of an X25519 public or private key.
	x25519KeySize = 32
)

// aeadSeal encrypts plaintext under key with a random nonce, returning
// nonce||ciphertext+tag so the result can be stored or transmitted as a
// single blob.
func aeadSeal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("mlscrypto: aes: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("mlscrypto: gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("mlscrypto: random nonce: %w", err)
	}
	out := gcm.Seal(nonce, nonce, plaintext, nil)
	return out, nil
}

// aeadOpen decrypts a blob produced by aeadSeal.
func aeadOpen(key, sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("mlscrypto: ciphertext too short")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("mlscrypto: aes: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("mlscrypto: gcm: %w", err)
	}
	nonce, ct := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("mlscrypto: gcm decrypt: %w", err)
	}
	return plaintext, nil
}

// sealEpochApplication encrypts an application plaintext under an epoch
// secret, returning nonce||ct+tag the way ProcessIncoming expects it.
func sealEpochApplication(epochSecret, plaintext []byte) ([]byte, error) {
	return aeadSeal(epochSecret, plaintext)
}

// openEpochApplication reverses sealEpochApplication.
func openEpochApplication(epochSecret, sealed []byte) ([]byte, error) {
	return aeadOpen(epochSecret, sealed)
}

// sealWelcome encrypts a Welcome payload for a joining member using ECIES
// over the recipient's init key:
//
//  1. generate an ephemeral X25519 keypair
//  2. ECDH: shared = X25519(ephPriv, recipientInitPub)
//  3. HKDF-SHA256(shared, salt=nil, info="mlsgov-welcome") -> 32-byte AES key
//  4. AES-GCM-seal the plaintext under that key
//  5. return ephPub || sealed
func sealWelcome(recipientInitPub, plaintext []byte) ([]byte, error) {
	if len(recipientInitPub) != x25519KeySize {
		return nil, fmt.Errorf("mlscrypto: recipient init key must be %d bytes", x25519KeySize)
	}
	ephPriv := make([]byte, x25519KeySize)
	if _, err := rand.Read(ephPriv); err != nil {
		return nil, fmt.Errorf("mlscrypto: generate ephemeral key: %w", err)
	}
	ephPub, err := curve25519.X25519(ephPriv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("mlscrypto: derive ephemeral public key: %w", err)
	}
	shared, err := curve25519.X25519(ephPriv, recipientInitPub)
	if err != nil {
		return nil, fmt.Errorf("mlscrypto: ecdh: %w", err)
	}
	key, err := deriveWelcomeKey(shared)
	if err != nil {
		return nil, err
	}
	sealed, err := aeadSeal(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("mlscrypto: seal welcome: %w", err)
	}
	return append(ephPub, sealed...), nil
}

// openWelcome decrypts a Welcome produced by sealWelcome using the
// recipient's own init private key.
func openWelcome(recipientInitPriv, sealed []byte) ([]byte, error) {
	if len(sealed) < x25519KeySize+nonceSize {
		return nil, fmt.Errorf("mlscrypto: welcome too short")
	}
	ephPub := sealed[:x25519KeySize]
	rest := sealed[x25519KeySize:]
	shared, err := curve25519.X25519(recipientInitPriv, ephPub)
	if err != nil {
		return nil, fmt.Errorf("mlscrypto: ecdh: %w", err)
	}
	key, err := deriveWelcomeKey(shared)
	if err != nil {
		return nil, err
	}
	return aeadOpen(key, rest)
}

func deriveWelcomeKey(shared []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, shared, nil, []byte("mlsgov-welcome"))
	key := make([]byte, aeadKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("mlscrypto: hkdf: %w", err)
	}
	return key, nil
}
