package kproto

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/birdayz/trench/kfn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestSerializerRoundTrip(t *testing.T) {
	data, err := Serializer[*wrapperspb.StringValue]()(wrapperspb.String("hello"))
	assert.NoError(t, err)

	decoded, err := Deserializer(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })(data)
	assert.NoError(t, err)
	assert.Equal(t, "hello", decoded.GetValue())

	viaReflection, err := DeserializerFor[*wrapperspb.StringValue]()(data)
	assert.NoError(t, err)
	assert.Equal(t, "hello", viaReflection.GetValue())
}

func TestDeserializerInvalidData(t *testing.T) {
	_, err := DeserializerFor[*wrapperspb.StringValue]()([]byte{0xFF, 0xFF, 0xFF})
	assert.Error(t, err)

	_, err = EventDeserializer([]byte{0xFF, 0xFF, 0xFF})
	assert.True(t, errors.Is(err, ErrInvalidEvent))
}

func TestEventRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 5000, time.UTC)
	event := kfn.Event{
		ID:        "evt-1",
		Type:      "login",
		Timestamp: ts,
		Data: map[string]any{
			"user":    "u1",
			"score":   json.Number("12"),
			"ratio":   json.Number("0.5"),
			"tags":    []any{"a", "b"},
			"seen":    ts,
			"nested":  map[string]any{"ok": true},
			"nothing": nil,
		},
	}

	raw, err := Event.Serializer(event)
	assert.NoError(t, err)
	got, err := Event.Deserializer(raw)
	assert.NoError(t, err)

	assert.Equal(t, "evt-1", got.ID)
	assert.Equal(t, "login", got.Type)
	assert.True(t, ts.Equal(got.Timestamp))
	assert.Equal(t, map[string]any{
		"user":    "u1",
		"score":   float64(12),
		"ratio":   0.5,
		"tags":    []any{"a", "b"},
		"seen":    "2024-03-01T12:30:00.000005Z",
		"nested":  map[string]any{"ok": true},
		"nothing": nil,
	}, got.Data)
}

func TestEventFromStructRequiresType(t *testing.T) {
	s, err := structpb.NewStruct(map[string]any{"id": "x"})
	assert.NoError(t, err)
	_, err = EventFromStruct(s)
	assert.True(t, errors.Is(err, ErrInvalidEvent))
}
