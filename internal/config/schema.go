package config

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const clientConfigSchemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["identity", "as_endpoint", "ds_endpoint", "state_dir"],
	"properties": {
		"identity":     {"type": "string", "minLength": 1},
		"as_endpoint":  {"type": "string", "minLength": 1},
		"ds_endpoint":  {"type": "string", "minLength": 1},
		"state_dir":    {"type": "string", "minLength": 1},
		"retry_budget": {"type": "integer", "minimum": 0}
	},
	"additionalProperties": false
}`

const serviceConfigSchemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["listen", "state_dir"],
	"properties": {
		"listen":    {"type": "string", "minLength": 1},
		"state_dir": {"type": "string", "minLength": 1}
	},
	"additionalProperties": false
}`

var (
	clientConfigSchema  = mustCompile("client_config.json", clientConfigSchemaJSON)
	serviceConfigSchema = mustCompile("service_config.json", serviceConfigSchemaJSON)
)

// mustCompile builds a jsonschema.Schema from an embedded literal. Panics
// on failure since these schemas are fixed at build time, never
// user-supplied.
func mustCompile(resourceName, schemaJSON string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceName, strings.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("config: add schema resource %s: %v", resourceName, err))
	}
	schema, err := c.Compile(resourceName)
	if err != nil {
		panic(fmt.Sprintf("config: compile schema %s: %v", resourceName, err))
	}
	return schema
}
