package hclexpr

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/birdayz/trench/kfn"
	"github.com/birdayz/trench/kschema"
)

func TestEvaluate(t *testing.T) {
	event := kfn.Event{
		ID:        "e1",
		Type:      "login",
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Data: map[string]any{
			"country": "DE",
			"amount":  json.Number("12.5"),
			"tags":    []any{"new", "mobile"},
		},
	}
	deps := map[string]any{
		"attempts": int64(4),
		"user":     kschema.Entity{Type: "User", ID: "alice"},
		"missing":  nil,
	}

	tests := []struct {
		name string
		code string
		want any
	}{
		{"integer arithmetic", "deps.attempts * 2 + 1", int64(9)},
		{"float arithmetic", "event.data.amount / 2", 6.25},
		{"comparison", "deps.attempts > 3 && event.data.country == \"DE\"", true},
		{"conditional", "deps.attempts > 10 ? \"block\" : \"allow\"", "allow"},
		{"functions", "upper(event.data.country)", "DE"},
		{"contains", "contains(event.data.tags, \"mobile\")", true},
		{"length", "length(event.data.tags)", int64(2)},
		{"entity", "deps.user.id", "alice"},
		{"event fields", "\"${event.type}:${event.id}\"", "login:e1"},
		{"timestamp", "event.timestamp", "2024-03-01T12:00:00Z"},
		{"null", "deps.missing", nil},
		{"coalesce", "coalesce(deps.missing, \"fallback\")", "fallback"},
		{"tuple", "[deps.attempts, \"x\"]", []any{int64(4), "x"}},
		{"object", "{ n = deps.attempts }", map[string]any{"n": int64(4)}},
	}
	s := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Evaluate(context.Background(), kfn.Program{FnID: tt.name, Code: tt.code}, deps, event)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Evaluate(ctx, kfn.Program{FnID: "syntax", Code: "deps.a +"}, nil, kfn.Event{})
	assert.IsError(t, err, ErrCompile)

	_, err = s.Evaluate(ctx, kfn.Program{FnID: "unknown", Code: "other.a"}, nil, kfn.Event{})
	assert.IsError(t, err, ErrEvaluate)

	_, err = s.Evaluate(ctx, kfn.Program{FnID: "type", Code: "deps.name + 1"}, map[string]any{"name": "alice"}, kfn.Event{})
	assert.IsError(t, err, ErrEvaluate)

	_, err = s.Evaluate(ctx, kfn.Program{FnID: "value", Code: "deps.v"}, map[string]any{"v": struct{}{}}, kfn.Event{})
	assert.IsError(t, err, ErrEvaluate)
}

func TestEvaluateRecompilesChangedCode(t *testing.T) {
	s := New()
	ctx := context.Background()

	got, err := s.Evaluate(ctx, kfn.Program{FnID: "f", Code: "1"}, nil, kfn.Event{})
	assert.NoError(t, err)
	assert.Equal(t, any(int64(1)), got)

	got, err = s.Evaluate(ctx, kfn.Program{FnID: "f", Code: "2"}, nil, kfn.Event{})
	assert.NoError(t, err)
	assert.Equal(t, any(int64(2)), got)
}

func TestDependencyNames(t *testing.T) {
	names, err := DependencyNames(`deps.b > 1 ? deps.a : upper(deps.b)`)
	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	names, err = DependencyNames(`event.data.x`)
	assert.NoError(t, err)
	assert.Equal(t, []string{}, names)

	_, err = DependencyNames(`(`)
	assert.IsError(t, err, ErrCompile)
}

func TestFunctions(t *testing.T) {
	fns := Functions()
	assert.Equal(t, len(functions), len(fns))
	assert.Equal(t, "abs", fns[0])
}
