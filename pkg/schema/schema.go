// Package schema validates tool arguments against JSON Schema documents.
//
// The registry only depends on the Validator interface, so the engine can be
// swapped without touching it. JSONSchema is the default implementation,
// backed by gojsonschema.
package schema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ArgMappingKey is the schema extension keyword carrying the argument mapping.
// SnakeArgMappingKey is accepted as an alias.
const (
	ArgMappingKey      = "argMapping"
	SnakeArgMappingKey = "arg_mapping"
)

// Violation is a single way in which a value fails its schema
type Violation struct {
	// Field is the JSON path of the offending value ("(root)" for the document)
	Field string `json:"field"`

	// Description is the human-readable reason
	Description string `json:"description"`
}

// String returns "field: description", or just the description for the root.
func (v Violation) String() string {
	if v.Field == "" || v.Field == "(root)" {
		return v.Description
	}
	return v.Field + ": " + v.Description
}

// Validator checks a value against a schema
type Validator interface {
	// Validate returns every violation found, in engine order. A nil slice
	// means the value conforms. The error is reserved for unusable schemas.
	Validate(schema map[string]any, value map[string]any) ([]Violation, error)
}

// JSONSchema is a Validator backed by gojsonschema. Compiled schemas are
// cached by their canonical JSON encoding.
type JSONSchema struct {
	mu    sync.RWMutex
	cache map[string]*gojsonschema.Schema
}

// NewJSONSchema creates a new gojsonschema-backed validator
func NewJSONSchema() *JSONSchema {
	return &JSONSchema{
		cache: make(map[string]*gojsonschema.Schema),
	}
}

// Compile checks that schema is a usable JSON Schema document.
func (j *JSONSchema) Compile(schema map[string]any) error {
	_, err := j.compiled(schema)
	return err
}

// Validate implements Validator
func (j *JSONSchema) Validate(schema map[string]any, value map[string]any) ([]Violation, error) {
	compiled, err := j.compiled(schema)
	if err != nil {
		return nil, err
	}

	if value == nil {
		value = map[string]any{}
	}

	result, err := compiled.Validate(gojsonschema.NewGoLoader(value))
	if err != nil {
		return nil, fmt.Errorf("failed to validate arguments: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	violations := make([]Violation, 0, len(result.Errors()))
	for _, resErr := range result.Errors() {
		violations = append(violations, Violation{
			Field:       resErr.Field(),
			Description: resErr.Description(),
		})
	}
	return violations, nil
}

func (j *JSONSchema) compiled(schema map[string]any) (*gojsonschema.Schema, error) {
	doc := StripExtensions(schema)

	// encoding/json sorts map keys, so equal schemas share a key
	key, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}

	j.mu.RLock()
	cached, ok := j.cache[string(key)]
	j.mu.RUnlock()
	if ok {
		return cached, nil
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(key))
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	j.mu.Lock()
	j.cache[string(key)] = compiled
	j.mu.Unlock()

	return compiled, nil
}

// StripExtensions returns a shallow copy of schema without the argument
// mapping keywords. A nil schema becomes an empty one, which accepts anything.
func StripExtensions(schema map[string]any) map[string]any {
	doc := make(map[string]any, len(schema))
	for k, v := range schema {
		if k == ArgMappingKey || k == SnakeArgMappingKey {
			continue
		}
		doc[k] = v
	}
	return doc
}
