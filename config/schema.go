package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Schema returns the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	schema := jsonschema.Reflect(&Config{})
	return json.MarshalIndent(schema, "", "  ")
}
