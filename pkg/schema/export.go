// Package schema derives the tool input schema from engine.Input and
// validates tool arguments against it.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/triflow-ai/smoke/pkg/engine"
)

// InputSchemaID identifies the input schema document. Regenerate the
// checked-in copy with `go run scripts/gen-schema.go` from the repo root.
const InputSchemaID = "https://triflow.ai/schemas/smoketest-input.json"

func reflectInput() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(&engine.Input{})
	s.ID = InputSchemaID
	s.Title = "Smoke test input"
	s.Description = "Credentials and origin for one " + engine.ScenarioName + " run"
	return s
}

// GenerateInputSchema produces the JSON Schema (Draft 2020-12) for the tool
// arguments, reflected from engine.Input.
func GenerateInputSchema() ([]byte, error) {
	data, err := json.MarshalIndent(reflectInput(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal input schema: %w", err)
	}
	return data, nil
}

// ToolInputSchema is the schema advertised in tools/list. It omits the
// $schema and $id keywords that some clients reject in tool definitions.
func ToolInputSchema() (json.RawMessage, error) {
	s := reflectInput()
	s.Version = ""
	s.ID = ""
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal tool schema: %w", err)
	}
	return data, nil
}
