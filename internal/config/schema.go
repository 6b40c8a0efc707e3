package config

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Schema reflects the JSON schema of the config file. Every field is
// optional since unset fields take their defaults.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
	}
	schema := reflector.Reflect(new(Config))
	schema.Title = "rewind configuration"
	schema.Description = "Tick rate, clock sync, rollback, correction and transport settings for the rewind server and client"
	return schema
}

// SchemaJSON renders Schema indented for humans.
func SchemaJSON() ([]byte, error) {
	data, err := json.MarshalIndent(Schema(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}
