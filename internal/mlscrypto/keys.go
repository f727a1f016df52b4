// Package mlscrypto is the MLS adapter: group creation, member
// add/remove, epoch advancement, Welcome issuance, and application-message
// sealing/opening. It generalizes the self-contained Ed25519+HKDF MLS
// emulation used for single-file encryption into the multi-group,
// multi-epoch coordination substrate the rest of the engine drives.
package mlscrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/ame2e/mlsgov/internal/wire"
)

// MemberKeys bundles the keys a client generates for itself before joining
// or creating any group: a long-lived Ed25519 signing key and an X25519
// init key, shared by every group, used to build KeyPackages.
type MemberKeys struct {
	SigPriv  ed25519.PrivateKey
	SigPub   ed25519.PublicKey
	InitPriv []byte
	InitPub  []byte
}

// GenerateMemberKeys produces a fresh signing keypair and init keypair.
func GenerateMemberKeys() (MemberKeys, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return MemberKeys{}, fmt.Errorf("mlscrypto: generate signing key: %w", err)
	}
	initPriv := make([]byte, 32)
	if _, err := rand.Read(initPriv); err != nil {
		return MemberKeys{}, fmt.Errorf("mlscrypto: generate init key: %w", err)
	}
	initPub, err := curve25519.X25519(initPriv, curve25519.Basepoint)
	if err != nil {
		return MemberKeys{}, fmt.Errorf("mlscrypto: derive init public key: %w", err)
	}
	return MemberKeys{
		SigPriv:  priv,
		SigPub:   pub,
		InitPriv: initPriv,
		InitPub:  initPub,
	}, nil
}

// BuildKeyPackage packages this member's public identity for distribution
// through the DS so other clients can invite them into a group.
func BuildKeyPackage(identity string, keys MemberKeys) wire.KeyPackage {
	return wire.KeyPackage{
		Identity: []byte(identity),
		SigPub:   keys.SigPub,
		InitPub:  keys.InitPub,
	}
}
