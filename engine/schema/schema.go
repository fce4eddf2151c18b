// Package schema defines the typed target records raw product cards are
// normalized into, and validates candidate values against them.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/bankscout/bankscout/engine/domain"
)

//go:embed schemas.yaml
var builtin []byte

// Field is one target field.
type Field struct {
	Name        string           `yaml:"name"`
	Type        domain.FieldType `yaml:"type"`
	Required    bool             `yaml:"required"`
	Default     any              `yaml:"default"`
	Description string           `yaml:"description"`
}

// Schema is a named, versioned set of fields. Schemas are immutable once
// loaded and safe for concurrent use.
type Schema struct {
	Name        string          `yaml:"name"`
	Version     int             `yaml:"version"`
	Category    domain.Category `yaml:"category"`
	Description string          `yaml:"description"`
	Fields      []Field         `yaml:"fields"`

	jsonSchema json.RawMessage
}

// Field returns the named field.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Required returns the names of required fields in declaration order.
func (s *Schema) Required() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// Registry holds the loaded schemas by name.
type Registry struct {
	byName map[string]*Schema
}

type document struct {
	Schemas []*Schema `yaml:"schemas"`
}

// Parse loads schemas from a YAML document.
func Parse(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("schema: parse: %w", err)
	}
	r := &Registry{byName: make(map[string]*Schema, len(doc.Schemas))}
	for _, s := range doc.Schemas {
		if err := s.check(); err != nil {
			return nil, err
		}
		if _, dup := r.byName[s.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate schema %q", s.Name)
		}
		js, err := s.buildJSONSchema()
		if err != nil {
			return nil, err
		}
		s.jsonSchema = js
		r.byName[s.Name] = s
	}
	return r, nil
}

func (s *Schema) check() error {
	if s.Name == "" || s.Version < 1 {
		return fmt.Errorf("schema: name and positive version required (name=%q version=%d)", s.Name, s.Version)
	}
	if _, ok := s.Field(domain.FieldTitle); !ok {
		return fmt.Errorf("schema %s: title field required", s.Name)
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" || seen[f.Name] {
			return fmt.Errorf("schema %s: empty or duplicate field %q", s.Name, f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case domain.TypeString, domain.TypeDecimalRange, domain.TypePercentRange, domain.TypeCurrency, domain.TypeDuration:
		default:
			return fmt.Errorf("schema %s: field %s: unknown type %q", s.Name, f.Name, f.Type)
		}
		if f.Default != nil {
			if _, err := coerce(f, f.Default); err != nil {
				return fmt.Errorf("schema %s: field %s: bad default: %w", s.Name, f.Name, err)
			}
		}
	}
	return nil
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
	defaultErr  error
)

// Default returns the built-in schemas, parsed once per process.
func Default() (*Registry, error) {
	defaultOnce.Do(func() { defaultReg, defaultErr = Parse(builtin) })
	return defaultReg, defaultErr
}

// Lookup returns the named schema or an error wrapping domain.ErrUnknownSchema.
func (r *Registry) Lookup(name string) (*Schema, error) {
	s, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownSchema, name)
	}
	return s, nil
}

// Names returns the schema names sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
