// Package authsvc implements the Authentication Service collaborator: a
// credential directory clients register into and query, served over a
// single websocket connection per client exactly like the Delivery
// Service's relay.
package authsvc

import (
	"sync"

	"github.com/ame2e/mlsgov/internal/storage"
	"github.com/ame2e/mlsgov/internal/wire"
)

// Directory is the in-memory identity -> Credential map the AS serves,
// best-effort persisted to disk so a restart does not force every client
// to re-register.
type Directory struct {
	mu          sync.RWMutex
	credentials map[string]wire.Credential
	paths       storage.Paths
}

// NewDirectory loads a persisted directory from paths, if any, or starts
// empty.
func NewDirectory(paths storage.Paths) *Directory {
	d := &Directory{credentials: map[string]wire.Credential{}, paths: paths}
	var loaded map[string]wire.Credential
	if storage.LoadState(paths, &loaded) {
		d.credentials = loaded
	}
	return d
}

// Register records identity's credential and verification key, overwriting
// any prior registration for the same identity.
func (d *Directory) Register(identity string, cred wire.Credential) {
	d.mu.Lock()
	d.credentials[identity] = cred
	d.mu.Unlock()
	d.persist()
}

// Lookup returns the credentials of every identity in users that is
// actually registered; unknown identities are silently omitted.
func (d *Directory) Lookup(users []string) []wire.Credential {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]wire.Credential, 0, len(users))
	for _, u := range users {
		if cred, ok := d.credentials[u]; ok {
			out = append(out, cred)
		}
	}
	return out
}

// All returns a copy of the entire directory, for UserSyncCredentials.
func (d *Directory) All() map[string]wire.Credential {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]wire.Credential, len(d.credentials))
	for k, v := range d.credentials {
		out[k] = v
	}
	return out
}

func (d *Directory) persist() {
	d.mu.RLock()
	snapshot := make(map[string]wire.Credential, len(d.credentials))
	for k, v := range d.credentials {
		snapshot[k] = v
	}
	d.mu.RUnlock()
	_ = storage.SaveState(d.paths, snapshot)
}
