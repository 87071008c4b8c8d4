package kdag

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/birdayz/trench/kfn"
	"gopkg.in/yaml.v3"
)

// ValidateID checks that a node id is non-empty and has no whitespace.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: node id cannot be empty", ErrInvalidNodeID)
	}
	if strings.ContainsAny(id, " \t\n\r") {
		return fmt.Errorf("%w: node id %q cannot contain whitespace", ErrInvalidNodeID, id)
	}
	return nil
}

// NodeDef is one function wired to input data paths within the graph of an
// event type. DependsOn is derived from Inputs and is recomputed by every
// constructor and decoder; it is never read from input.
type NodeDef struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name,omitempty" yaml:"name,omitempty"`
	EventType string    `json:"eventType" yaml:"eventType"`
	Inputs    any       `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	DependsOn []string  `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	Fn        kfn.FnDef `json:"fn" yaml:"fn"`
}

// NewNodeDef builds a node and computes its dependencies.
func NewNodeDef(id, name, eventType string, fn kfn.FnDef, inputs any) (NodeDef, error) {
	n := NodeDef{ID: id, Name: name, EventType: eventType, Fn: fn}
	return n.WithInputs(inputs)
}

// MustNodeDef is like NewNodeDef but panics on error.
func MustNodeDef(id, name, eventType string, fn kfn.FnDef, inputs any) NodeDef {
	n, err := NewNodeDef(id, name, eventType, fn, inputs)
	if err != nil {
		panic(err)
	}
	return n
}

// WithInputs returns a copy of n with new inputs and recomputed DependsOn.
func (n NodeDef) WithInputs(inputs any) (NodeDef, error) {
	deps, err := DependsOn(n.Fn.Type, inputs)
	if err != nil {
		return NodeDef{}, fmt.Errorf("node %q: %w", n.ID, err)
	}
	n.Inputs = inputs
	n.DependsOn = deps
	return n, nil
}

// DependsOn returns the sorted set of node ids referenced by inputs.
func DependsOn(t kfn.FnType, inputs any) ([]string, error) {
	kind, err := kfn.Lookup(t)
	if err != nil {
		return nil, err
	}
	paths, err := kind.DataPaths(inputs)
	if err != nil {
		return nil, err
	}
	deps := make([]string, 0, len(paths))
	for _, p := range paths {
		deps = append(deps, p.NodeID)
	}
	slices.Sort(deps)
	return slices.Compact(deps), nil
}

func (n *NodeDef) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		EventType string          `json:"eventType"`
		Inputs    json.RawMessage `json:"inputs"`
		Fn        kfn.FnDef       `json:"fn"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	kind, err := kfn.Lookup(raw.Fn.Type)
	if err != nil {
		return fmt.Errorf("node %q: %w", raw.ID, err)
	}
	inputs, err := kind.DecodeInputs(kfn.JSONDecoder(raw.Inputs))
	if err != nil {
		return fmt.Errorf("node %q: %w", raw.ID, err)
	}
	def, err := NewNodeDef(raw.ID, raw.Name, raw.EventType, raw.Fn, inputs)
	if err != nil {
		return err
	}
	*n = def
	return nil
}

func (n *NodeDef) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		ID        string    `yaml:"id"`
		Name      string    `yaml:"name"`
		EventType string    `yaml:"eventType"`
		Inputs    yaml.Node `yaml:"inputs"`
		Fn        kfn.FnDef `yaml:"fn"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	kind, err := kfn.Lookup(raw.Fn.Type)
	if err != nil {
		return fmt.Errorf("node %q: %w", raw.ID, err)
	}
	inputs, err := kind.DecodeInputs(kfn.YAMLDecoder(&raw.Inputs))
	if err != nil {
		return fmt.Errorf("node %q: %w", raw.ID, err)
	}
	def, err := NewNodeDef(raw.ID, raw.Name, raw.EventType, raw.Fn, inputs)
	if err != nil {
		return err
	}
	*n = def
	return nil
}

// Node is the built representation of a NodeDef. Parents are the nodes it
// depends on, Children the nodes depending on it.
type Node struct {
	Def      NodeDef
	Parents  []string
	Children []string
}

// Graph is the build-time representation of a node set.
type Graph struct {
	Nodes map[string]*Node

	// Insertion order.
	NodeOrder []string
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes:     make(map[string]*Node),
		NodeOrder: make([]string, 0),
	}
}

// AddNode adds a node without edges.
func (g *Graph) AddNode(def NodeDef) error {
	if err := ValidateID(def.ID); err != nil {
		return err
	}
	if _, exists := g.Nodes[def.ID]; exists {
		return fmt.Errorf("%w: %s", ErrNodeAlreadyExists, def.ID)
	}
	g.Nodes[def.ID] = &Node{Def: def}
	g.NodeOrder = append(g.NodeOrder, def.ID)
	return nil
}

// AddEdge records that child depends on parent.
func (g *Graph) AddEdge(parentID, childID string) error {
	parent, ok := g.Nodes[parentID]
	if !ok {
		return fmt.Errorf("%w: %s (dependency of %s)", ErrNodeNotFound, parentID, childID)
	}
	child, ok := g.Nodes[childID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, childID)
	}
	parent.Children = append(parent.Children, childID)
	child.Parents = append(child.Parents, parentID)
	return nil
}
