package storage

import (
	"encoding/json"
	"fmt"
	"os"
)

// SaveState writes v as the component's opaque state blob.
func SaveState(paths Paths, v any) error {
	if err := paths.EnsureDir(); err != nil {
		return fmt.Errorf("storage: ensure state dir: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: marshal state: %w", err)
	}
	tmp := paths.StateFile() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("storage: write state: %w", err)
	}
	if err := os.Rename(tmp, paths.StateFile()); err != nil {
		return fmt.Errorf("storage: install state: %w", err)
	}
	return nil
}

// LoadState reads the component's opaque state blob into v. Persistence
// is best effort: a missing or corrupt file is reported via ok == false
// rather than an error, so the caller reinitialises empty state instead
// of failing to start.
func LoadState(paths Paths, v any) (ok bool) {
	data, err := os.ReadFile(paths.StateFile())
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false
	}
	return true
}
