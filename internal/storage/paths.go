// Package storage provides filesystem persistence for the client, the
// Authentication Service, and the Delivery Service: a well-known-paths
// helper, an opaque best-effort state blob, and the client's
// encrypted-at-rest identity key.
package storage

import (
	"os"
	"path/filepath"
)

// Paths resolves the well-known files under a component's state directory.
type Paths struct {
	Root string
}

func (p Paths) StateFile() string      { return filepath.Join(p.Root, "state.json") }
func (p Paths) IdentityKeyFile() string { return filepath.Join(p.Root, "identity.pem") }
func (p Paths) RosterCacheFile() string { return filepath.Join(p.Root, "roster_cache.toml") }

// EnsureDir creates the state directory (idempotent).
func (p Paths) EnsureDir() error {
	return os.MkdirAll(p.Root, 0o700)
}
