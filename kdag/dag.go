package kdag

import "slices"

// DAG is a validated, immutable node graph.
type DAG struct {
	graph       *Graph
	order       []string
	byEventType map[string][]string
}

// Node returns the definition of id.
func (d *DAG) Node(id string) (NodeDef, bool) {
	n, ok := d.graph.Nodes[id]
	if !ok {
		return NodeDef{}, false
	}
	return n.Def, true
}

// Order returns every node id, dependencies first.
func (d *DAG) Order() []string {
	return d.order
}

// Dependents returns the sorted ids of nodes that depend on id.
func (d *DAG) Dependents(id string) []string {
	n, ok := d.graph.Nodes[id]
	if !ok {
		return nil
	}
	out := slices.Clone(n.Children)
	slices.Sort(out)
	return out
}

// NodesForEventType returns the nodes of an event type, dependencies first.
func (d *DAG) NodesForEventType(eventType string) []string {
	return d.byEventType[eventType]
}

// Closure returns ids plus everything they transitively depend on, in
// evaluation order.
func (d *DAG) Closure(ids ...string) []string {
	seen := d.graph.findAncestors(ids)
	out := make([]string, 0, len(seen))
	for _, id := range d.order {
		if seen[id] {
			out = append(out, id)
		}
	}
	return out
}

// EventTypes returns every event type with at least one node.
func (d *DAG) EventTypes() []string {
	set := make(map[string]bool, len(d.byEventType))
	for t := range d.byEventType {
		set[t] = true
	}
	return sortedIDs(set)
}

// NodeDefs returns every definition in evaluation order.
func (d *DAG) NodeDefs() []NodeDef {
	out := make([]NodeDef, len(d.order))
	for i, id := range d.order {
		out[i] = d.graph.Nodes[id].Def
	}
	return out
}
