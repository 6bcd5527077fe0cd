package jsonschema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           map[string]any{"name": map[string]any{"type": "string"}},
		"required":             []any{"name"},
		"additionalProperties": false,
	}
}

func TestValidateEmptySchemaAlwaysPasses(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.Validate(nil, map[string]any{"anything": true}))
}

func TestValidateValidData(t *testing.T) {
	v := NewValidator()
	err := v.Validate(testSchema(), map[string]any{"name": "foo"})
	assert.NoError(t, err)
}

func TestValidateInvalidDataFails(t *testing.T) {
	v := NewValidator()
	err := v.Validate(testSchema(), map[string]any{})
	require.Error(t, err)
}

func TestValidateCachesCompiledSchema(t *testing.T) {
	v := NewValidator()
	schema := testSchema()
	require.NoError(t, v.Validate(schema, map[string]any{"name": "a"}))
	require.NoError(t, v.Validate(schema, map[string]any{"name": "b"}))
	assert.Len(t, v.cached, 1)
}
