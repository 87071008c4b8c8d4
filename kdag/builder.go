package kdag

import (
	"errors"
	"slices"
)

// Builder collects node definitions and builds an immutable DAG.
//
// Builder is NOT safe for concurrent use. The resulting DAG is immutable and
// safe to use concurrently.
type Builder struct {
	graph *Graph
}

// NewBuilder creates a new DAG builder.
func NewBuilder() *Builder {
	return &Builder{
		graph: NewGraph(),
	}
}

// Add registers node definitions. Edges are resolved by Build, so nodes may
// be added in any order.
func (b *Builder) Add(defs ...NodeDef) error {
	for _, def := range defs {
		if err := b.graph.AddNode(def); err != nil {
			return err
		}
	}
	return nil
}

// Build wires dependency edges, validates the graph and computes a
// deterministic evaluation order.
func (b *Builder) Build() (*DAG, error) {
	for _, id := range b.graph.NodeOrder {
		for _, dep := range b.graph.Nodes[id].Def.DependsOn {
			if err := b.graph.AddEdge(dep, id); err != nil {
				return nil, err
			}
		}
	}
	if err := b.graph.Validate(); err != nil {
		return nil, err
	}

	order, err := b.graph.topologicalSort()
	if err != nil {
		return nil, err
	}

	byEventType := make(map[string][]string)
	for _, id := range order {
		t := b.graph.Nodes[id].Def.EventType
		byEventType[t] = append(byEventType[t], id)
	}

	return &DAG{
		graph:       b.graph,
		order:       order,
		byEventType: byEventType,
	}, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *DAG {
	dag, err := b.Build()
	if err != nil {
		panic(err)
	}
	return dag
}

// GetGraph returns the underlying graph for read-only access.
func (b *Builder) GetGraph() *Graph {
	return b.graph
}

// Build is a shortcut for a builder over defs.
func Build(defs []NodeDef) (*DAG, error) {
	b := NewBuilder()
	if err := b.Add(defs...); err != nil {
		return nil, err
	}
	return b.Build()
}

// sortedIDs returns the keys of a set in order.
func sortedIDs(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Sentinel errors for common failure cases.
var (
	ErrNodeAlreadyExists = errors.New("node already exists")
	ErrNodeNotFound      = errors.New("node not found")
	ErrCycleDetected     = errors.New("cycle detected in DAG")
	ErrInvalidNodeID     = errors.New("invalid node ID")
	ErrInvalidGraph      = errors.New("invalid graph")
)

