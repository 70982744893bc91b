package web

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// workflowGraphSchema is the shape check applied to incoming graphs before
// they are decoded. The engine re-validates only what it consumes (node ids,
// kinds, per-kind data); everything else rides through untouched.
const workflowGraphSchema = `{
	"type": "object",
	"required": ["nodes"],
	"properties": {
		"nodes": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id", "kind"],
				"properties": {
					"id":   {"type": "string", "minLength": 1},
					"kind": {"type": "string", "minLength": 1},
					"position": {
						"type": "object",
						"properties": {
							"x": {"type": "number"},
							"y": {"type": "number"}
						}
					},
					"data": {"type": "object"}
				}
			}
		},
		"edges": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["source", "target"],
				"properties": {
					"id":     {"type": "string"},
					"source": {"type": "string", "minLength": 1},
					"target": {"type": "string", "minLength": 1}
				}
			}
		}
	}
}`

// validateGraphJSON runs the JSON-schema shape check on a raw graph document.
func validateGraphJSON(raw []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(workflowGraphSchema)
	documentLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}

	if !result.Valid() {
		detail := ""
		for i, desc := range result.Errors() {
			if i > 0 {
				detail += "; "
			}

			detail += desc.String()
		}

		return fmt.Errorf("invalid workflow graph: %s", detail)
	}

	return nil
}
