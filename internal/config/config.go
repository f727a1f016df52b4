// Package config provides constants, the YAML configuration loader, and
// schema validation shared by the client, Authentication Service, and
// Delivery Service binaries.
package config

import (
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const (
	// ProtocolVersion is the on-wire protocol version these binaries speak.
	ProtocolVersion = "0.3.0"

	// DefaultRetryBudget is the total number of attempts the client makes
	// at an ordered send under --auto-retry before giving up with
	// ErrMaxRetries.
	DefaultRetryBudget = 3

	// DefaultKeyPackageInventory is the DS-side cap on how many spare
	// key packages are kept on file per user.
	DefaultKeyPackageInventory = 20
)

// ClientConfig is the resolved shape of a client's config.yaml: where the
// AS and DS live, and where local state is persisted.
type ClientConfig struct {
	Identity    string `yaml:"identity"`
	ASEndpoint  string `yaml:"as_endpoint"`
	DSEndpoint  string `yaml:"ds_endpoint"`
	StateDir    string `yaml:"state_dir"`
	RetryBudget int    `yaml:"retry_budget"`
}

// ServiceConfig is the resolved shape of the AS/DS config.yaml: a listen
// address and a state path, shared by both collaborator binaries.
type ServiceConfig struct {
	Listen   string `yaml:"listen"`
	StateDir string `yaml:"state_dir"`
}

// DefaultClientConfig fills in the fields a bare-bones config.yaml can
// leave out.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ASEndpoint:  "ws://127.0.0.1:8081",
		DSEndpoint:  "ws://127.0.0.1:8082",
		StateDir:    "./mlsgov-client",
		RetryBudget: DefaultRetryBudget,
	}
}

// DefaultServiceConfig fills in the fields a bare-bones AS/DS config.yaml
// can leave out.
func DefaultServiceConfig(listen, stateDir string) ServiceConfig {
	return ServiceConfig{Listen: listen, StateDir: stateDir}
}

// LoadClientConfig reads, schema-validates, and parses a client config.yaml.
func LoadClientConfig(path string) (ClientConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := validateYAML(clientConfigSchema, raw); err != nil {
		return ClientConfig{}, fmt.Errorf("config: %s failed schema validation: %w", path, err)
	}
	cfg := DefaultClientConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = DefaultRetryBudget
	}
	return cfg, nil
}

// LoadServiceConfig reads, schema-validates, and parses an AS/DS config.yaml.
func LoadServiceConfig(path string) (ServiceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ServiceConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := validateYAML(serviceConfigSchema, raw); err != nil {
		return ServiceConfig{}, fmt.Errorf("config: %s failed schema validation: %w", path, err)
	}
	var cfg ServiceConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return ServiceConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// validateYAML re-encodes raw YAML as JSON (jsonschema only understands
// the decoded document graph) and checks it against schema.
func validateYAML(schema *jsonschema.Schema, raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return schema.Validate(jsonify(doc))
}

// jsonify converts the map[string]any/map[any]any mix yaml.v3 produces
// into the map[string]any/[]any/string/float64/bool/nil shape
// encoding/json (and therefore jsonschema) expects.
func jsonify(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = jsonify(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = jsonify(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = jsonify(val)
		}
		return out
	case int:
		return float64(t)
	default:
		return v
	}
}
