package kschema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
)

// Type is the runtime handle for a Schema.
type Type interface {
	// Schema returns the schema the type was created from.
	Schema() *Schema

	// Parse converts value into its canonical Go representation, or fails
	// with a *MismatchError.
	Parse(value any) (any, error)

	// IsSuperTypeOf reports structural acceptance of other.
	IsSuperTypeOf(other *Schema) bool

	// CanBeAssigned is IsSuperTypeOf plus string-family widening and
	// acceptance of values typed as any.
	CanBeAssigned(other *Schema) bool

	// Equals reports mutual super-typing.
	Equals(other *Schema) bool

	// SourceType renders a TypeScript-style declaration of the type.
	SourceType() string
}

// New validates s and returns its Type.
func New(s *Schema) (Type, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &schemaType{schema: s}, nil
}

// MustNew is like New but panics on an invalid schema.
func MustNew(s *Schema) Type {
	t, err := New(s)
	if err != nil {
		panic(err)
	}
	return t
}

type schemaType struct {
	schema *Schema
}

func (t *schemaType) Schema() *Schema { return t.schema }

func (t *schemaType) Parse(value any) (any, error) {
	return parse(t.schema, value, nil, 0)
}

func (t *schemaType) IsSuperTypeOf(other *Schema) bool {
	return accepts(t.schema, other, false, 0)
}

func (t *schemaType) CanBeAssigned(other *Schema) bool {
	return accepts(t.schema, other, true, 0)
}

func (t *schemaType) Equals(other *Schema) bool {
	return Equal(t.schema, other)
}

func (t *schemaType) SourceType() string {
	return sourceType(t.schema, 0)
}

// IsSuperTypeOf reports whether values of schema b are structurally
// acceptable where a is expected.
func IsSuperTypeOf(a, b *Schema) bool {
	return accepts(a, b, false, 0)
}

// CanBeAssigned reports whether values of schema b may be assigned where a is
// expected, allowing widening.
func CanBeAssigned(a, b *Schema) bool {
	return accepts(a, b, true, 0)
}

// Equal reports whether a and b accept exactly the same values.
func Equal(a, b *Schema) bool {
	return accepts(a, b, false, 0) && accepts(b, a, false, 0)
}

// Parse parses value against s without constructing a Type.
func Parse(s *Schema, value any) (any, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return parse(s, value, nil, 0)
}

func accepts(target, source *Schema, loose bool, depth int) bool {
	if target == nil || source == nil || depth > MaxDepth {
		return false
	}
	if target.Type == TypeAny {
		return true
	}
	if loose && source.Type == TypeAny {
		return true
	}
	if source.Type == TypeUnion {
		for _, v := range source.Variants {
			if !accepts(target, v, loose, depth+1) {
				return false
			}
		}
		return len(source.Variants) > 0
	}

	switch target.Type {
	case TypeUnion:
		for _, v := range target.Variants {
			if accepts(v, source, loose, depth+1) {
				return true
			}
		}
		return false
	case TypeBoolean, TypeRule:
		return source.Type == TypeBoolean || source.Type == TypeRule
	case TypeFloat64:
		return source.Type == TypeFloat64 || source.Type == TypeInt64 || source.Type == TypeInt32
	case TypeInt64:
		return source.Type == TypeInt64 || source.Type == TypeInt32
	case TypeString:
		if source.Type == TypeString {
			return true
		}
		return loose && (source.Type == TypeName || source.Type == TypeURL)
	case TypeEntity:
		return source.Type == TypeEntity &&
			(target.EntityType == "" || target.EntityType == source.EntityType)
	case TypeArray:
		switch source.Type {
		case TypeArray:
			return accepts(target.Items, source.Items, loose, depth+1)
		case TypeTuple:
			for _, el := range source.Elements {
				if !accepts(target.Items, el, loose, depth+1) {
					return false
				}
			}
			return true
		}
		return false
	case TypeTuple:
		if source.Type != TypeTuple || len(source.Elements) != len(target.Elements) {
			return false
		}
		for i, el := range target.Elements {
			if !accepts(el, source.Elements[i], loose, depth+1) {
				return false
			}
		}
		return true
	case TypeObject:
		if source.Type != TypeObject {
			return false
		}
		for name, prop := range target.Properties {
			sp, ok := source.Properties[name]
			if !ok {
				if accepts(prop, Of(TypeUndefined), loose, depth+1) {
					continue
				}
				return false
			}
			if !accepts(prop, sp, loose, depth+1) {
				return false
			}
		}
		return true
	default:
		return source.Type == target.Type
	}
}

var validate = validator.New()

func parse(s *Schema, v any, path []string, depth int) (any, error) {
	if depth > MaxDepth {
		return nil, mismatch(s, v, path, fmt.Sprintf("nesting exceeds maximum depth %d", MaxDepth))
	}

	switch s.Type {
	case TypeAny:
		return v, nil

	case TypeNull, TypeUndefined:
		if v == nil {
			return nil, nil
		}
		return nil, mismatch(s, v, path, "")

	case TypeBoolean, TypeRule:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, mismatch(s, v, path, "")

	case TypeFloat64:
		if f, ok := toFloat(v); ok {
			return f, nil
		}
		return nil, mismatch(s, v, path, "")

	case TypeInt64:
		i, reason := toInt(v, math.MinInt64, math.MaxInt64)
		if reason != "" {
			return nil, mismatch(s, v, path, reason)
		}
		return i, nil

	case TypeInt32:
		i, reason := toInt(v, math.MinInt32, math.MaxInt32)
		if reason != "" {
			return nil, mismatch(s, v, path, reason)
		}
		return int32(i), nil

	case TypeString, TypeName:
		if str, ok := v.(string); ok {
			return str, nil
		}
		return nil, mismatch(s, v, path, "")

	case TypeURL:
		str, ok := v.(string)
		if !ok {
			return nil, mismatch(s, v, path, "")
		}
		if err := validate.Var(str, "url"); err != nil {
			return nil, mismatch(s, v, path, "not a valid url")
		}
		return str, nil

	case TypeDate:
		switch d := v.(type) {
		case time.Time:
			return d, nil
		case *time.Time:
			if d != nil {
				return *d, nil
			}
		case string:
			t, err := time.Parse(time.RFC3339Nano, d)
			if err != nil {
				return nil, mismatch(s, v, path, "not an ISO-8601 timestamp")
			}
			return t, nil
		}
		return nil, mismatch(s, v, path, "")

	case TypeLocation:
		return parseLocation(s, v, path)

	case TypeEntity:
		return parseEntity(s, v, path)

	case TypeArray:
		elems, ok := toSlice(v)
		if !ok {
			return nil, mismatch(s, v, path, "")
		}
		out := make([]any, len(elems))
		for i, el := range elems {
			parsed, err := parse(s.Items, el, append(path, strconv.Itoa(i)), depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = parsed
		}
		return out, nil

	case TypeTuple:
		elems, ok := toSlice(v)
		if !ok {
			return nil, mismatch(s, v, path, "")
		}
		if len(elems) != len(s.Elements) {
			return nil, mismatch(s, v, path, fmt.Sprintf("expected %d elements", len(s.Elements)))
		}
		out := make([]any, len(elems))
		for i, el := range elems {
			parsed, err := parse(s.Elements[i], el, append(path, strconv.Itoa(i)), depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = parsed
		}
		return out, nil

	case TypeObject:
		obj, ok := toObject(v)
		if !ok {
			return nil, mismatch(s, v, path, "")
		}
		out := make(map[string]any, len(s.Properties))
		for _, name := range sortedKeys(s.Properties) {
			prop := s.Properties[name]
			raw, present := obj[name]
			if !present {
				if accepts(prop, Of(TypeUndefined), false, 0) {
					continue
				}
				return nil, mismatch(prop, nil, append(path, name), "missing property")
			}
			parsed, err := parse(prop, raw, append(path, name), depth+1)
			if err != nil {
				return nil, err
			}
			out[name] = parsed
		}
		return out, nil

	case TypeUnion:
		var errs error
		for _, variant := range s.Variants {
			parsed, err := parse(variant, v, path, depth+1)
			if err == nil {
				return parsed, nil
			}
			errs = multierr.Append(errs, err)
		}
		return nil, multierr.Combine(mismatch(s, v, path, "no variant matched"), errs)
	}

	return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidSchema, s.Type)
}

func parseLocation(s *Schema, v any, path []string) (any, error) {
	switch l := v.(type) {
	case Location:
		return l, nil
	case *Location:
		if l != nil {
			return *l, nil
		}
	case map[string]any:
		lat, okLat := toFloat(l["lat"])
		lng, okLng := toFloat(l["lng"])
		if okLat && okLng {
			return Location{Lat: lat, Lng: lng}, nil
		}
	}
	return nil, mismatch(s, v, path, "")
}

func parseEntity(s *Schema, v any, path []string) (any, error) {
	var e Entity
	switch ent := v.(type) {
	case Entity:
		e = ent
	case *Entity:
		if ent == nil {
			return nil, mismatch(s, v, path, "")
		}
		e = *ent
	case map[string]any:
		typ, okType := ent["type"].(string)
		id, okID := ent["id"].(string)
		if !okType || !okID {
			return nil, mismatch(s, v, path, "entity needs string type and id")
		}
		e = Entity{Type: typ, ID: id}
	default:
		return nil, mismatch(s, v, path, "")
	}
	if s.EntityType != "" && e.Type != s.EntityType {
		return nil, mismatch(s, v, path, fmt.Sprintf("entity type %q", e.Type))
	}
	return e, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toInt(v any, lo, hi int64) (int64, string) {
	var i int64
	switch n := v.(type) {
	case int:
		i = int64(n)
	case int8:
		i = int64(n)
	case int16:
		i = int64(n)
	case int32:
		i = int64(n)
	case int64:
		i = n
	case uint8:
		i = int64(n)
	case uint16:
		i = int64(n)
	case uint32:
		i = int64(n)
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, "out of range"
		}
		i = int64(n)
	case uint64:
		if n > math.MaxInt64 {
			return 0, "out of range"
		}
		i = int64(n)
	case json.Number:
		parsed, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, "not a number"
			}
			return toInt(f, lo, hi)
		}
		i = parsed
	case float32:
		return toInt(float64(n), lo, hi)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return 0, "not an integer"
		}
		if n < float64(lo) || n >= -float64(lo) {
			return 0, "out of range"
		}
		i = int64(n)
	default:
		return 0, "not a number"
	}
	if i < lo || i > hi {
		return 0, "out of range"
	}
	return i, ""
}

func toSlice(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func toObject(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, false
	}
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, true
	case reflect.Struct:
		if _, isTime := rv.Interface().(time.Time); isTime {
			return nil, false
		}
		raw, err := json.Marshal(rv.Interface())
		if err != nil {
			return nil, false
		}
		var out map[string]any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, false
		}
		return out, true
	}
	return nil, false
}
