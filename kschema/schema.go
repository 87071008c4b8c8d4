// Package kschema is the value type system of trench graphs.
//
// A Schema is a plain, serializable description of a value shape. New turns a
// Schema into a Type, which parses untyped values (decoded JSON, resolver
// outputs) and answers assignment questions between schemas.
package kschema

import (
	"fmt"
	"slices"
	"strings"
)

// Kind identifies one member of the closed type catalogue.
type Kind string

const (
	TypeAny       Kind = "any"
	TypeBoolean   Kind = "boolean"
	TypeInt32     Kind = "int32"
	TypeInt64     Kind = "int64"
	TypeFloat64   Kind = "float64"
	TypeString    Kind = "string"
	TypeName      Kind = "name"
	TypeURL       Kind = "url"
	TypeDate      Kind = "date"
	TypeLocation  Kind = "location"
	TypeEntity    Kind = "entity"
	TypeArray     Kind = "array"
	TypeObject    Kind = "object"
	TypeTuple     Kind = "tuple"
	TypeUnion     Kind = "union"
	TypeRule      Kind = "rule"
	TypeNull      Kind = "null"
	TypeUndefined Kind = "undefined"
)

// MaxDepth bounds how deeply schemas may nest.
const MaxDepth = 10

var knownTypes = []Kind{
	TypeAny, TypeBoolean, TypeInt32, TypeInt64, TypeFloat64, TypeString,
	TypeName, TypeURL, TypeDate, TypeLocation, TypeEntity, TypeArray,
	TypeObject, TypeTuple, TypeUnion, TypeRule, TypeNull, TypeUndefined,
}

// Valid reports whether n is part of the type catalogue.
func (n Kind) Valid() bool {
	return slices.Contains(knownTypes, n)
}

// Schema describes the shape of a value. Only the fields relevant to Type are
// set: Properties for objects, Items for arrays, Elements for tuples, Variants
// for unions and EntityType (optional) for entities.
type Schema struct {
	Type       Kind               `json:"type" yaml:"type"`
	Properties map[string]*Schema `json:"properties,omitempty" yaml:"properties,omitempty"`
	Items      *Schema            `json:"items,omitempty" yaml:"items,omitempty"`
	Elements   []*Schema          `json:"elements,omitempty" yaml:"elements,omitempty"`
	Variants   []*Schema          `json:"variants,omitempty" yaml:"variants,omitempty"`
	EntityType string             `json:"entityType,omitempty" yaml:"entityType,omitempty"`
}

// Of returns a schema for a type without children.
func Of(name Kind) *Schema {
	return &Schema{Type: name}
}

// ObjectOf returns an object schema with the given properties.
func ObjectOf(props map[string]*Schema) *Schema {
	return &Schema{Type: TypeObject, Properties: props}
}

// ArrayOf returns an array schema of items.
func ArrayOf(items *Schema) *Schema {
	return &Schema{Type: TypeArray, Items: items}
}

// TupleOf returns a tuple schema with the given ordered elements.
func TupleOf(elements ...*Schema) *Schema {
	return &Schema{Type: TypeTuple, Elements: elements}
}

// UnionOf returns a union schema. Parsing tries variants in order.
func UnionOf(variants ...*Schema) *Schema {
	return &Schema{Type: TypeUnion, Variants: variants}
}

// EntityOf returns an entity schema narrowed to entityType. An empty
// entityType accepts entities of any type.
func EntityOf(entityType string) *Schema {
	return &Schema{Type: TypeEntity, EntityType: entityType}
}

// Optional returns a union of s and undefined, the shape of an object
// property that may be absent.
func Optional(s *Schema) *Schema {
	return UnionOf(s, Of(TypeUndefined))
}

// Validate checks that the schema is well formed: known type names, required
// children present, and nesting within MaxDepth.
func (s *Schema) Validate() error {
	return s.validate(0)
}

func (s *Schema) validate(depth int) error {
	if s == nil {
		return fmt.Errorf("%w: nil schema", ErrInvalidSchema)
	}
	if depth > MaxDepth {
		return fmt.Errorf("%w: nesting exceeds maximum depth %d", ErrInvalidSchema, MaxDepth)
	}
	if !s.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSchema, s.Type)
	}

	switch s.Type {
	case TypeArray:
		if s.Items == nil {
			return fmt.Errorf("%w: array schema without items", ErrInvalidSchema)
		}
		return s.Items.validate(depth + 1)
	case TypeObject:
		for name, prop := range s.Properties {
			if err := prop.validate(depth + 1); err != nil {
				return fmt.Errorf("property %q: %w", name, err)
			}
		}
	case TypeTuple:
		for i, el := range s.Elements {
			if err := el.validate(depth + 1); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
	case TypeUnion:
		if len(s.Variants) == 0 {
			return fmt.Errorf("%w: union schema without variants", ErrInvalidSchema)
		}
		for i, v := range s.Variants {
			if err := v.validate(depth + 1); err != nil {
				return fmt.Errorf("variant %d: %w", i, err)
			}
		}
	}
	return nil
}

// String renders a compact, deterministic description used in error messages.
func (s *Schema) String() string {
	if s == nil {
		return "<nil>"
	}
	switch s.Type {
	case TypeArray:
		return fmt.Sprintf("array<%s>", s.Items)
	case TypeTuple:
		parts := make([]string, len(s.Elements))
		for i, el := range s.Elements {
			parts[i] = el.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case TypeUnion:
		parts := make([]string, len(s.Variants))
		for i, v := range s.Variants {
			parts[i] = v.String()
		}
		return strings.Join(parts, " | ")
	case TypeObject:
		names := sortedKeys(s.Properties)
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = name + ": " + s.Properties[name].String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case TypeEntity:
		if s.EntityType != "" {
			return fmt.Sprintf("entity<%s>", s.EntityType)
		}
	}
	return string(s.Type)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
