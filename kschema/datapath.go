package kschema

import (
	"fmt"
	"slices"
	"strings"
)

// DataPath references the output of a node, optionally drilled into nested
// object fields. Schema is the expected schema at that point.
type DataPath struct {
	NodeID string   `json:"nodeId" yaml:"nodeId" validate:"required"`
	Path   []string `json:"path,omitempty" yaml:"path,omitempty"`
	Schema *Schema  `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// Equal compares node id and path segments. Schemas are not compared.
func (p DataPath) Equal(other DataPath) bool {
	return p.NodeID == other.NodeID && slices.Equal(p.Path, other.Path)
}

// Key is a stable identifier for the path, usable as a map key.
func (p DataPath) Key() string {
	if len(p.Path) == 0 {
		return p.NodeID
	}
	return p.NodeID + "." + strings.Join(p.Path, ".")
}

func (p DataPath) String() string {
	return p.Key()
}

// Resolve drills into a node output along the path. Missing properties yield
// nil; descending into a non-object is an error.
func (p DataPath) Resolve(output any) (any, error) {
	cur := output
	for i, segment := range p.Path {
		if cur == nil {
			return nil, nil
		}
		obj, ok := toObject(cur)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not an object at %q",
				ErrTypeMismatch, p.NodeID, strings.Join(p.Path[:i], "."))
		}
		cur = obj[segment]
	}
	return cur, nil
}

// GetSchemaAtPath drills through object properties of s. It returns nil when
// an intermediate schema is not an object or a property does not exist.
func GetSchemaAtPath(s *Schema, path []string) *Schema {
	cur := s
	for i, segment := range path {
		if i >= MaxDepth || cur == nil || cur.Type != TypeObject {
			return nil
		}
		next, ok := cur.Properties[segment]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}
