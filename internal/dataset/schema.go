package dataset

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// TruthSchema describes one line of truth.jsonl. Only wav_name is required;
// the remaining keys follow the recognition engine's intent output.
var TruthSchema = map[string]any{
	"type":     "object",
	"required": []any{"wav_name"},
	"properties": map[string]any{
		"wav_name": map[string]any{"type": "string", "minLength": 1},
		"text":     map[string]any{"type": "string"},
		"raw_text": map[string]any{"type": "string"},
		"intent":   intentProperty,
		"slots":    map[string]any{"type": "object"},
		"entities": entitiesProperty,
	},
}

// IntentSchema describes the JSON a recognize-intent invocation must print.
var IntentSchema = map[string]any{
	"type":     "object",
	"required": []any{"intent"},
	"properties": map[string]any{
		"text":     map[string]any{"type": "string"},
		"intent":   intentProperty,
		"slots":    map[string]any{"type": "object"},
		"entities": entitiesProperty,
	},
}

var intentProperty = map[string]any{
	"type":     "object",
	"required": []any{"name"},
	"properties": map[string]any{
		"name":       map[string]any{"type": "string"},
		"confidence": map[string]any{"type": "number"},
	},
}

var entitiesProperty = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type":     "object",
		"required": []any{"entity"},
		"properties": map[string]any{
			"entity": map[string]any{"type": "string"},
		},
	},
}

// Validate checks a JSON document against schema and joins every violation
// into one error.
func Validate(schema map[string]any, doc []byte) error {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}
	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("invalid document: %s", strings.Join(problems, ", "))
}
