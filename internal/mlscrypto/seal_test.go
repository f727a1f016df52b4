package mlscrypto

import (
	"bytes"
	"testing"

	"golang.org/x/crypto/curve25519"
)

func TestAeadSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, aeadKeySize)
	for i := range key {
		key[i] = byte(i)
	}
	plaintext := []byte("epoch application payload")

	sealed, err := aeadSeal(key, plaintext)
	if err != nil {
		t.Fatalf("aeadSeal: %v", err)
	}
	opened, err := aeadOpen(key, sealed)
	if err != nil {
		t.Fatalf("aeadOpen: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("opened = %q, want %q", opened, plaintext)
	}
}

func TestAeadOpenRejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, aeadKeySize)
	sealed, err := aeadSeal(key, []byte("hello"))
	if err != nil {
		t.Fatalf("aeadSeal: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xFF
	if _, err := aeadOpen(key, sealed); err == nil {
		t.Fatal("expected tamper to be rejected")
	}
}

func genInitKeypair(t *testing.T) (priv, pub []byte) {
	t.Helper()
	priv = make([]byte, x25519KeySize)
	for i := range priv {
		priv[i] = byte(i + 1)
	}
	var err error
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		t.Fatalf("x25519: %v", err)
	}
	return priv, pub
}

func TestSealOpenWelcomeRoundTrip(t *testing.T) {
	priv, pub := genInitKeypair(t)
	plaintext := []byte(`{"comm_grp":{"community_id":"c","group_id":"g"}}`)

	sealed, err := sealWelcome(pub, plaintext)
	if err != nil {
		t.Fatalf("sealWelcome: %v", err)
	}
	opened, err := openWelcome(priv, sealed)
	if err != nil {
		t.Fatalf("openWelcome: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("opened = %q, want %q", opened, plaintext)
	}
}

func TestOpenWelcomeFailsForWrongRecipient(t *testing.T) {
	_, pub := genInitKeypair(t)
	otherPriv, _ := genInitKeypair(t)
	otherPriv[0] ^= 0xFF // distinct key from the one pub was encrypted for

	sealed, err := sealWelcome(pub, []byte("welcome payload"))
	if err != nil {
		t.Fatalf("sealWelcome: %v", err)
	}
	if _, err := openWelcome(otherPriv, sealed); err == nil {
		t.Fatal("expected decryption under the wrong init key to fail")
	}
}
