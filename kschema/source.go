package kschema

import (
	"strconv"
	"strings"
)

func sourceType(s *Schema, depth int) string {
	if s == nil || depth > MaxDepth {
		return "any"
	}

	switch s.Type {
	case TypeBoolean, TypeRule:
		return "boolean"
	case TypeInt32, TypeInt64, TypeFloat64:
		return "number"
	case TypeString, TypeName, TypeURL:
		return "string"
	case TypeDate:
		return "Date"
	case TypeNull:
		return "null"
	case TypeUndefined:
		return "undefined"
	case TypeLocation:
		return "{ lat: number; lng: number }"
	case TypeEntity:
		if s.EntityType != "" {
			return "{ type: " + strconv.Quote(s.EntityType) + "; id: string }"
		}
		return "{ type: string; id: string }"
	case TypeArray:
		return "Array<" + sourceType(s.Items, depth+1) + ">"
	case TypeTuple:
		parts := make([]string, len(s.Elements))
		for i, el := range s.Elements {
			parts[i] = sourceType(el, depth+1)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case TypeUnion:
		parts := make([]string, len(s.Variants))
		for i, v := range s.Variants {
			parts[i] = sourceType(v, depth+1)
		}
		return strings.Join(parts, " | ")
	case TypeObject:
		if len(s.Properties) == 0 {
			return "{}"
		}
		names := sortedKeys(s.Properties)
		parts := make([]string, len(names))
		for i, name := range names {
			prop := s.Properties[name]
			if inner, optional := optionalInner(prop); optional {
				parts[i] = propertyName(name) + "?: " + sourceType(inner, depth+1)
				continue
			}
			parts[i] = propertyName(name) + ": " + sourceType(prop, depth+1)
		}
		return "{ " + strings.Join(parts, "; ") + " }"
	}
	return "any"
}

// optionalInner splits "T | undefined" into T.
func optionalInner(s *Schema) (*Schema, bool) {
	if s.Type != TypeUnion {
		return s, false
	}
	var rest []*Schema
	for _, v := range s.Variants {
		if v.Type != TypeUndefined {
			rest = append(rest, v)
		}
	}
	switch {
	case len(rest) == len(s.Variants):
		return s, false
	case len(rest) == 0:
		return Of(TypeUndefined), true
	case len(rest) == 1:
		return rest[0], true
	}
	return UnionOf(rest...), true
}

func propertyName(name string) string {
	if name == "" {
		return `""`
	}
	for i, r := range name {
		ident := r == '_' || r == '$' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(i > 0 && r >= '0' && r <= '9')
		if !ident {
			return strconv.Quote(name)
		}
	}
	return name
}
