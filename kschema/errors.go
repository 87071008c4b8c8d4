package kschema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTypeMismatch   = errors.New("type mismatch")
	ErrInvalidSchema  = errors.New("invalid schema")
	ErrSchemaNotFound = errors.New("schema not found")
)

// MismatchError reports a value that does not conform to a schema. Path is
// the location of the offending value inside the parsed input.
type MismatchError struct {
	Expected *Schema
	Actual   any
	Path     []string
	Reason   string
}

func (e *MismatchError) Error() string {
	var b strings.Builder
	b.WriteString(ErrTypeMismatch.Error())
	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}
	fmt.Fprintf(&b, ": expected %s, got %s", e.Expected, describe(e.Actual))
	if e.Reason != "" {
		b.WriteString(" (")
		b.WriteString(e.Reason)
		b.WriteString(")")
	}
	return b.String()
}

func (e *MismatchError) Unwrap() error {
	return ErrTypeMismatch
}

func mismatch(expected *Schema, actual any, path []string, reason string) *MismatchError {
	return &MismatchError{
		Expected: expected,
		Actual:   actual,
		Path:     append([]string(nil), path...),
		Reason:   reason,
	}
}

func describe(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		if len(v) > 32 {
			v = v[:32] + "..."
		}
		return fmt.Sprintf("string %q", v)
	case map[string]any:
		return "object"
	case []any:
		return fmt.Sprintf("array of length %d", len(v))
	default:
		return fmt.Sprintf("%T %v", v, v)
	}
}
