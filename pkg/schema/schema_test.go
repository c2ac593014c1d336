package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text":  map[string]any{"type": "string"},
			"count": map[string]any{"type": "integer"},
		},
		"required":   []any{"text"},
		"argMapping": []any{[]any{"text"}},
	}
}

func TestJSONSchema_Validate(t *testing.T) {
	v := NewJSONSchema()

	tests := []struct {
		name      string
		value     map[string]any
		wantValid bool
		wantText  string
	}{
		{
			name:      "conforming value",
			value:     map[string]any{"text": "hi"},
			wantValid: true,
		},
		{
			name:      "missing required field",
			value:     map[string]any{},
			wantValid: false,
			wantText:  "text is required",
		},
		{
			name:      "nil value treated as empty object",
			value:     nil,
			wantValid: false,
			wantText:  "text is required",
		},
		{
			name:      "wrong property type",
			value:     map[string]any{"text": 5},
			wantValid: false,
			wantText:  "text: Invalid type",
		},
		{
			name:      "json number accepted as integer",
			value:     map[string]any{"text": "a", "count": json.Number("3")},
			wantValid: true,
		},
		{
			name:      "extra properties allowed by default",
			value:     map[string]any{"text": "a", "other": true},
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations, err := v.Validate(echoSchema(), tt.value)
			require.NoError(t, err)

			if tt.wantValid {
				assert.Empty(t, violations)
				return
			}
			require.NotEmpty(t, violations)
			assert.Contains(t, violations[0].String(), tt.wantText)
		})
	}
}

func TestJSONSchema_InvalidSchema(t *testing.T) {
	v := NewJSONSchema()

	bad := map[string]any{"type": 12}

	err := v.Compile(bad)
	assert.Error(t, err)

	_, err = v.Validate(bad, map[string]any{})
	assert.Error(t, err)
}

func TestJSONSchema_CachesCompiledSchemas(t *testing.T) {
	v := NewJSONSchema()

	require.NoError(t, v.Compile(echoSchema()))
	require.NoError(t, v.Compile(echoSchema()))

	assert.Len(t, v.cache, 1)
}

func TestJSONSchema_EmptySchemaAcceptsAnything(t *testing.T) {
	v := NewJSONSchema()

	violations, err := v.Validate(nil, map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestStripExtensions(t *testing.T) {
	in := map[string]any{
		"type":        "object",
		"argMapping":  []any{},
		"arg_mapping": []any{},
	}

	out := StripExtensions(in)

	assert.Equal(t, map[string]any{"type": "object"}, out)
	assert.Len(t, in, 3, "input must not be modified")
}

func TestViolation_String(t *testing.T) {
	assert.Equal(t, "text is required", Violation{Field: "(root)", Description: "text is required"}.String())
	assert.Equal(t, "count: Invalid type.", Violation{Field: "count", Description: "Invalid type."}.String())
}
