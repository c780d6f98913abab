package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// resultSchema accepts both log shapes the tool has produced over time: bare strings
// and {type, message, timestamp} objects.
func resultSchema() map[string]any {
	logEntry := map[string]any{
		"oneOf": []any{
			map[string]any{"type": "string"},
			map[string]any{
				"type":     "object",
				"required": []string{"message"},
				"properties": map[string]any{
					"type":      map[string]any{"type": "string"},
					"message":   map[string]any{"type": "string"},
					"timestamp": map[string]any{"type": "string"},
				},
			},
		},
	}
	return map[string]any{
		"type":     "object",
		"required": []string{"couponIsValid"},
		"properties": map[string]any{
			"couponIsValid": map[string]any{"type": "boolean"},
			"timestamp":     map[string]any{"type": "string", "minLength": 1},
			"logs":          map[string]any{"type": "array", "items": logEntry},
		},
	}
}

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("result.schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("result.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
