package kschema

import (
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestInferSchema(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  *Schema
	}{
		{"null", nil, Of(TypeNull)},
		{"bool", false, Of(TypeBoolean)},
		{"number", float64(3), Of(TypeFloat64)},
		{"integer still float64", 3, Of(TypeFloat64)},
		{"plain string", "hello", Of(TypeString)},
		{"iso date", "2024-01-02T03:04:05.000Z", Of(TypeDate)},
		{"rfc3339 date", "2024-01-02T03:04:05Z", Of(TypeDate)},
		{"date-like but not round trip", "2024-01-02", Of(TypeString)},
		{"homogeneous array", []any{"a", "b"}, ArrayOf(Of(TypeString))},
		{"heterogeneous array", []any{"a", 1.0}, ArrayOf(Of(TypeAny))},
		{"empty array", []any{}, ArrayOf(Of(TypeAny))},
		{
			"nested object",
			map[string]any{"a": map[string]any{"b": true}, "n": 1.0},
			ObjectOf(map[string]*Schema{
				"a": ObjectOf(map[string]*Schema{"b": Of(TypeBoolean)}),
				"n": Of(TypeFloat64),
			}),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := InferSchema(tc.input)
			assert.True(t, Equal(tc.want, got), "want %s, got %s", tc.want, got)
		})
	}
}

func TestInferredSchemaParsesSource(t *testing.T) {
	value := map[string]any{
		"name":  "x",
		"tags":  []any{"a", "b"},
		"score": 1.5,
	}
	parsed, err := MustNew(InferSchema(value)).Parse(value)
	assert.NoError(t, err)
	assert.Equal(t, any(value), parsed)
}
