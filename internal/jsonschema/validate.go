// Package jsonschema wraps github.com/kaptinlin/jsonschema to validate a
// workflow event's caller-supplied data (spec §3 "event.json_schema") and
// an MCP tool's inputSchema before a tool call (spec §4.2.1), both against
// the same draft-07-subset JSON Schema documents the workflow/node models
// carry as plain map[string]any.
package jsonschema

import (
	"encoding/json"
	"fmt"
	"sync"

	kjs "github.com/kaptinlin/jsonschema"
)

// Validator compiles and caches schemas keyed by their marshaled form, so
// repeated validation of the same tool/event schema across node
// invocations does not recompile it every time.
type Validator struct {
	compiler *kjs.Compiler

	mu     sync.Mutex
	cached map[string]*kjs.Schema
}

func NewValidator() *Validator {
	return &Validator{
		compiler: kjs.NewCompiler(),
		cached:   map[string]*kjs.Schema{},
	}
}

// Validate compiles schemaDoc (a JSON-Schema document) and checks data
// against it, returning a descriptive error on the first validation
// failure. A nil or empty schemaDoc always passes.
func (v *Validator) Validate(schemaDoc map[string]any, data any) error {
	if len(schemaDoc) == 0 {
		return nil
	}
	schema, err := v.compile(schemaDoc)
	if err != nil {
		return fmt.Errorf("jsonschema: compile: %w", err)
	}
	result := schema.Validate(data)
	if !result.IsValid() {
		return fmt.Errorf("jsonschema: validation failed: %v", result.ToList())
	}
	return nil
}

func (v *Validator) compile(schemaDoc map[string]any) (*kjs.Schema, error) {
	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	key := string(raw)

	v.mu.Lock()
	defer v.mu.Unlock()
	if schema, ok := v.cached[key]; ok {
		return schema, nil
	}
	schema, err := v.compiler.Compile(raw)
	if err != nil {
		return nil, err
	}
	v.cached[key] = schema
	return schema, nil
}
