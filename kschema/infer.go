package kschema

import (
	"encoding/json"
	"time"
)

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// InferSchema derives a schema from an untyped value such as decoded JSON.
// Strings that survive an ISO-8601 round trip become dates, all numbers
// become float64, and arrays with mixed element schemas widen to array<any>.
func InferSchema(v any) *Schema {
	return infer(v, 0)
}

func infer(v any, depth int) *Schema {
	if depth > MaxDepth {
		return Of(TypeAny)
	}

	switch val := v.(type) {
	case nil:
		return Of(TypeNull)
	case bool:
		return Of(TypeBoolean)
	case string:
		if isISODate(val) {
			return Of(TypeDate)
		}
		return Of(TypeString)
	case json.Number, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return Of(TypeFloat64)
	case time.Time:
		return Of(TypeDate)
	case Entity:
		return EntityOf(val.Type)
	case Location:
		return Of(TypeLocation)
	case []any:
		if len(val) == 0 {
			return ArrayOf(Of(TypeAny))
		}
		first := infer(val[0], depth+1)
		for _, el := range val[1:] {
			if !Equal(first, infer(el, depth+1)) {
				return ArrayOf(Of(TypeAny))
			}
		}
		return ArrayOf(first)
	case map[string]any:
		props := make(map[string]*Schema, len(val))
		for k, el := range val {
			props[k] = infer(el, depth+1)
		}
		return ObjectOf(props)
	}

	if elems, ok := toSlice(v); ok {
		return infer(elems, depth)
	}
	if obj, ok := toObject(v); ok {
		return infer(obj, depth)
	}
	return Of(TypeAny)
}

func isISODate(s string) bool {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return false
	}
	return t.UTC().Format(isoMillis) == s || t.Format(time.RFC3339Nano) == s
}
