package cli

import (
	"crypto/ed25519"
	"fmt"
	"os"

	"github.com/ame2e/mlsgov/internal/mlscrypto"
	"github.com/ame2e/mlsgov/internal/storage"
)

const identityPassphraseEnv = "MLSGOV_PASSPHRASE"

// loadOrCreateKeys resolves the long-term Ed25519 signing key from
// identity.pem, generating and persisting one on first run. The X25519
// init key used to seal this run's Welcomes is regenerated every
// startup: a demo client re-publishes a fresh key package (via `sync`)
// each session rather than persisting InitPriv across
// restarts.
func loadOrCreateKeys(paths storage.Paths) (mlscrypto.MemberKeys, error) {
	passphrase := []byte(os.Getenv(identityPassphraseEnv))

	fresh, err := mlscrypto.GenerateMemberKeys()
	if err != nil {
		return mlscrypto.MemberKeys{}, err
	}

	if _, err := os.Stat(paths.IdentityKeyFile()); err == nil {
		sigPriv, err := storage.ReadIdentityKey(paths, passphrase)
		if err != nil {
			return mlscrypto.MemberKeys{}, fmt.Errorf("cli: read identity.pem: %w", err)
		}
		fresh.SigPriv = sigPriv
		fresh.SigPub = sigPriv.Public().(ed25519.PublicKey)
		return fresh, nil
	}

	if err := storage.WriteIdentityKey(paths, fresh.SigPriv, passphrase); err != nil {
		return mlscrypto.MemberKeys{}, fmt.Errorf("cli: write identity.pem: %w", err)
	}
	return fresh, nil
}
