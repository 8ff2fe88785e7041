package yaml

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	goyaml "github.com/goccy/go-yaml"

	"github.com/agentstation/brickflow"
)

// Parser handles parsing pipeline definitions.
type Parser struct{}

// NewParser creates a new parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse reads a YAML or JSON definition. YAML is converted to JSON first,
// so both forms decode identically: numbers become float64 and expression
// envelopes become typed expressions.
func (p *Parser) Parse(r io.Reader) (*Definition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	return p.ParseBytes(data)
}

// ParseBytes parses a definition held in memory.
func (p *Parser) ParseBytes(data []byte) (*Definition, error) {
	doc, err := goyaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	var def Definition
	if err := json.Unmarshal(doc, &def); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	if def.Pipeline == nil {
		def.Pipeline = brickflow.Pipeline{}
	}
	return &def, nil
}

// ParseFile reads and parses a definition file.
func (p *Parser) ParseFile(filename string) (*Definition, error) {
	// #nosec G304 - callers choose which definition files to load
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return p.Parse(file)
}

// ParseString parses a definition from a string.
func (p *Parser) ParseString(s string) (*Definition, error) {
	return p.Parse(bytes.NewReader([]byte(s)))
}

// Marshal converts a definition to YAML. Expressions are written in their
// envelope form so the output parses back to the same definition.
func (p *Parser) Marshal(def *Definition) ([]byte, error) {
	doc, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("encode definition: %w", err)
	}
	out, err := goyaml.JSONToYAML(doc)
	if err != nil {
		return nil, fmt.Errorf("convert to YAML: %w", err)
	}
	return out, nil
}

// MarshalToFile writes a definition to a YAML file.
func (p *Parser) MarshalToFile(def *Definition, filename string) error {
	data, err := p.Marshal(def)
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0o600)
}

// Example shows what a YAML pipeline definition looks like.
func Example() string {
	return `name: greet-users
description: Fetch users once per page and greet each of them
version: "1.0.0"
apiVersion: v3
input:
  url: https://api.example.com/users

pipeline:
  - id: "@brickflow/with-cache"
    label: Load users
    outputKey: users
    config:
      stateKey: users
      ttl: 60
      body:
        __type__: pipeline
        __value__:
          - id: "@brickflow/http"
            outputKey: response
            config:
              url: { __type__: var, __value__: "@input.url" }
          - id: "@brickflow/jsonpath"
            config:
              data: { __type__: var, __value__: "@response.body" }
              path: "$.users"

  - id: "@brickflow/map-values"
    config:
      elements: { __type__: var, __value__: "@users" }
      elementKey: user
      body:
        __type__: pipeline
        __value__:
          - id: "@brickflow/return"
            config:
              value: { __type__: mustache, __value__: "Hello {{ @user.name }}" }
`
}
