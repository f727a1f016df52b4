package storage

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// RosterEntry is one cached credential: a user's long-term Ed25519
// verification key, as last synced from the Authentication Service.
type RosterEntry struct {
	Identity  string `toml:"identity"`
	VerifyKey string `toml:"verify_key"`
}

type rosterFile struct {
	Entries []RosterEntry `toml:"entry"`
}

// WriteRosterCache persists the client's local verification-key cache so
// a restarted client doesn't need to re-sync every identity from the AS.
func WriteRosterCache(paths Paths, entries map[string]ed25519.PublicKey) error {
	if err := paths.EnsureDir(); err != nil {
		return fmt.Errorf("storage: ensure state dir: %w", err)
	}
	f, err := os.Create(paths.RosterCacheFile())
	if err != nil {
		return fmt.Errorf("storage: create roster cache: %w", err)
	}
	defer f.Close()

	rf := rosterFile{Entries: make([]RosterEntry, 0, len(entries))}
	for identity, key := range entries {
		rf.Entries = append(rf.Entries, RosterEntry{
			Identity:  identity,
			VerifyKey: base64.StdEncoding.EncodeToString(key),
		})
	}
	if err := toml.NewEncoder(f).Encode(rf); err != nil {
		return fmt.Errorf("storage: encode roster cache: %w", err)
	}
	return nil
}

// ReadRosterCache reads back a cache written by WriteRosterCache. A
// missing or corrupt cache yields an empty map rather than an error,
// matching the rest of this package's best-effort persistence.
func ReadRosterCache(paths Paths) map[string]ed25519.PublicKey {
	data, err := os.ReadFile(paths.RosterCacheFile())
	if err != nil {
		return map[string]ed25519.PublicKey{}
	}
	var rf rosterFile
	if _, err := toml.Decode(string(data), &rf); err != nil {
		return map[string]ed25519.PublicKey{}
	}
	out := make(map[string]ed25519.PublicKey, len(rf.Entries))
	for _, e := range rf.Entries {
		key, err := base64.StdEncoding.DecodeString(e.VerifyKey)
		if err != nil {
			continue
		}
		out[e.Identity] = key
	}
	return out
}
