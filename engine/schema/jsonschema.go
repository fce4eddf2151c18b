package schema

import (
	"encoding/json"
	"fmt"

	"github.com/bankscout/bankscout/engine/domain"
)

// JSONSchema returns the JSON Schema document describing the expected
// completion output for s.
func (s *Schema) JSONSchema() json.RawMessage { return s.jsonSchema }

func (s *Schema) buildJSONSchema() (json.RawMessage, error) {
	props := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		props[f.Name] = fieldJSONSchema(f)
	}
	required := s.Required()
	if required == nil {
		required = []string{}
	}
	doc := map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"title":                s.Name,
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("schema %s: json schema: %w", s.Name, err)
	}
	return b, nil
}

func fieldJSONSchema(f Field) map[string]any {
	m := map[string]any{"description": f.Description}
	switch {
	case f.Type == domain.TypeString:
		m["type"] = []string{"string", "null"}
	case f.Type == domain.TypeCurrency:
		enum := make([]any, 0, len(domain.Currencies)+1)
		for _, c := range domain.Currencies {
			enum = append(enum, string(c))
		}
		m["type"] = []string{"string", "null"}
		m["enum"] = append(enum, nil)
	case f.Type.IsRange():
		m["type"] = "array"
		m["items"] = map[string]any{"type": "number", "minimum": 0}
		m["minItems"] = 0
		m["maxItems"] = 2
	}
	return m
}
