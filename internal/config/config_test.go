package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadClientConfigDefaultsRetryBudget(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "client.yaml", `
identity: alice
as_endpoint: ws://127.0.0.1:8081
ds_endpoint: ws://127.0.0.1:8082
state_dir: /tmp/alice
`)
	cfg, err := LoadClientConfig(p)
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if cfg.Identity != "alice" {
		t.Errorf("Identity = %q, want alice", cfg.Identity)
	}
	if cfg.RetryBudget != DefaultRetryBudget {
		t.Errorf("RetryBudget = %d, want default %d", cfg.RetryBudget, DefaultRetryBudget)
	}
}

func TestLoadClientConfigRejectsMissingField(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "client.yaml", `
identity: alice
as_endpoint: ws://127.0.0.1:8081
`)
	if _, err := LoadClientConfig(p); err == nil {
		t.Fatal("expected schema validation to reject a config missing ds_endpoint/state_dir")
	}
}

func TestLoadClientConfigRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "client.yaml", `
identity: alice
as_endpoint: ws://127.0.0.1:8081
ds_endpoint: ws://127.0.0.1:8082
state_dir: /tmp/alice
typo_field: oops
`)
	if _, err := LoadClientConfig(p); err == nil {
		t.Fatal("expected schema validation to reject an unknown field")
	}
}

func TestLoadServiceConfigRoundTrips(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "ds.yaml", `
listen: 0.0.0.0:8082
state_dir: /var/lib/mlsgov-ds
`)
	cfg, err := LoadServiceConfig(p)
	if err != nil {
		t.Fatalf("LoadServiceConfig: %v", err)
	}
	if cfg.Listen != "0.0.0.0:8082" || cfg.StateDir != "/var/lib/mlsgov-ds" {
		t.Errorf("cfg = %+v", cfg)
	}
}
