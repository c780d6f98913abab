package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildCouponJSONSchema returns the JSON Schema for {coupons:[{code}]} as a generic map.
// It is sent to the model as the output contract and used locally to validate.
func BuildCouponJSONSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"coupons"},
		"properties": map[string]any{
			"coupons": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"code"},
					"properties": map[string]any{
						"code": map[string]any{"type": "string", "minLength": 1, "maxLength": 64},
					},
				},
			},
		},
	}
}

// ValidateJSONAgainstSchema compiles schema and validates doc against it.
func ValidateJSONAgainstSchema(schema map[string]any, doc []byte) error {
	sb, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("coupons.schema.json", bytes.NewReader(sb)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	compiled, err := compiler.Compile("coupons.schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return compiled.Validate(v)
}
