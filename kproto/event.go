package kproto

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/birdayz/trench/kfn"
	"github.com/birdayz/trench/kschema"
	"github.com/birdayz/trench/kserde"
	"google.golang.org/protobuf/types/known/structpb"
)

var ErrInvalidEvent = errors.New("invalid event message")

// EventToStruct encodes e as a google.protobuf.Struct with the fields id,
// type, timestamp (RFC 3339) and data.
func EventToStruct(e kfn.Event) (*structpb.Struct, error) {
	data := make(map[string]any, len(e.Data))
	for k, v := range e.Data {
		data[k] = plain(v)
	}
	s, err := structpb.NewStruct(map[string]any{
		"id":        e.ID,
		"type":      e.Type,
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
		"data":      data,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return s, nil
}

// EventFromStruct decodes an event encoded by EventToStruct. Numbers in
// data come back as float64.
func EventFromStruct(s *structpb.Struct) (kfn.Event, error) {
	m := s.AsMap()
	id, _ := m["id"].(string)
	eventType, _ := m["type"].(string)
	if eventType == "" {
		return kfn.Event{}, fmt.Errorf("%w: missing type", ErrInvalidEvent)
	}

	var ts time.Time
	if raw, ok := m["timestamp"].(string); ok && raw != "" {
		var err error
		if ts, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return kfn.Event{}, fmt.Errorf("%w: timestamp: %w", ErrInvalidEvent, err)
		}
	}

	data, _ := m["data"].(map[string]any)
	if data == nil {
		data = map[string]any{}
	}
	return kfn.Event{ID: id, Type: eventType, Timestamp: ts, Data: data}, nil
}

// plain converts values structpb cannot hold.
func plain(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case kschema.Entity:
		return map[string]any{"type": val.Type, "id": val.ID}
	case kschema.Location:
		return map[string]any{"lat": val.Lat, "lng": val.Lng}
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, el := range val {
			out[k] = plain(el)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, el := range val {
			out[i] = plain(el)
		}
		return out
	}
	return v
}

var (
	structSerializer   = Serializer[*structpb.Struct]()
	structDeserializer = DeserializerFor[*structpb.Struct]()
)

var EventSerializer = func(e kfn.Event) ([]byte, error) {
	s, err := EventToStruct(e)
	if err != nil {
		return nil, err
	}
	return structSerializer(s)
}

var EventDeserializer = func(data []byte) (kfn.Event, error) {
	s, err := structDeserializer(data)
	if err != nil {
		return kfn.Event{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return EventFromStruct(s)
}

// Event is the protobuf SerDe for events.
var Event = kserde.Serde[kfn.Event]{
	Serializer:   EventSerializer,
	Deserializer: EventDeserializer,
}
