package tools

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaValidator compiles and caches JSON Schemas for tool arguments.
type SchemaValidator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewSchemaValidator creates an empty validator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Compile parses and caches the schema for a tool. Called at registration
// time so invalid schemas fail fast instead of at dispatch.
func (sv *SchemaValidator) Compile(tool string, schemaJSON json.RawMessage) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return err
	}
	sv.schemas[tool] = schema
	return nil
}

// ValidateArgs checks tool arguments against the compiled schema. Tools
// without a schema accept anything.
func (sv *SchemaValidator) ValidateArgs(tool string, args json.RawMessage) error {
	schema, ok := sv.schemas[tool]
	if !ok {
		return nil
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return fmt.Errorf("validating arguments for tool %s: %w", tool, err)
	}
	if !result.Valid() {
		details := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			details[i] = desc.String()
		}
		return fmt.Errorf("arguments for tool %s rejected: %v", tool, details)
	}
	return nil
}
