package brickflow

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Validator checks values against JSON schemas.
type Validator interface {
	// Validate returns the schema violations of value. A nil or empty schema
	// accepts everything.
	Validate(schema Schema, value any) ([]ValidationIssue, error)
}

// JSONSchemaValidator validates with gojsonschema. Compiled schemas are
// cached by their JSON form.
type JSONSchemaValidator struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

// NewJSONSchemaValidator creates a validator.
func NewJSONSchemaValidator() *JSONSchemaValidator {
	return &JSONSchemaValidator{schemas: make(map[string]*gojsonschema.Schema)}
}

// Validate implements Validator.
func (v *JSONSchemaValidator) Validate(schema Schema, value any) ([]ValidationIssue, error) {
	if len(schema) == 0 {
		return nil, nil
	}

	compiled, err := v.compile(schema)
	if err != nil {
		return nil, err
	}

	doc, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	issues := make([]ValidationIssue, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		issues = append(issues, ValidationIssue{
			Field:   e.Field(),
			Message: e.Description(),
		})
	}
	return issues, nil
}

func (v *JSONSchemaValidator) compile(schema Schema) (*gojsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	key := string(raw)

	v.mu.RLock()
	compiled, ok := v.schemas[key]
	v.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	v.mu.Lock()
	v.schemas[key] = compiled
	v.mu.Unlock()
	return compiled, nil
}
