package kdag

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
)

// Validation limits to prevent pathological graphs.
const (
	MaxNodesPerDAG       = 10000
	MaxDepth             = 500
	MaxDependentsPerNode = 1000
)

// Validate checks size limits and cycles.
func (g *Graph) Validate() error {
	if len(g.Nodes) > MaxNodesPerDAG {
		return fmt.Errorf("%w: node count %d exceeds maximum %d",
			ErrInvalidGraph, len(g.Nodes), MaxNodesPerDAG)
	}
	if err := g.detectCycles(); err != nil {
		return fmt.Errorf("graph validation failed: %w", err)
	}
	return nil
}

// detectCycles walks dependency edges depth first and reports the first
// cycle as a path, e.g. "a -> b -> a".
func (g *Graph) detectCycles() error {
	visited := make(map[string]bool, len(g.Nodes))
	recStack := make(map[string]bool, len(g.Nodes))

	var dfs func(string, []string, int) error
	dfs = func(nodeID string, path []string, depth int) error {
		if depth > MaxDepth {
			return fmt.Errorf("%w: maximum depth %d exceeded", ErrInvalidGraph, MaxDepth)
		}

		visited[nodeID] = true
		recStack[nodeID] = true
		path = append(path, nodeID)

		node := g.Nodes[nodeID]
		if len(node.Children) > MaxDependentsPerNode {
			return fmt.Errorf("%w: node %s has %d dependents, exceeds maximum %d",
				ErrInvalidGraph, nodeID, len(node.Children), MaxDependentsPerNode)
		}

		for _, childID := range node.Children {
			if !visited[childID] {
				if err := dfs(childID, path, depth+1); err != nil {
					return err
				}
			} else if recStack[childID] {
				cycle := append(slices.Clone(path), childID)
				return fmt.Errorf("%w: %s", ErrCycleDetected, strings.Join(cycle, " -> "))
			}
		}

		recStack[nodeID] = false
		return nil
	}

	// Sorted start points keep the reported cycle stable.
	for _, nodeID := range slices.Sorted(maps.Keys(g.Nodes)) {
		if !visited[nodeID] {
			if err := dfs(nodeID, nil, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// insertSorted inserts an item into a sorted slice maintaining sort order.
func insertSorted(slice []string, item string) []string {
	idx := sort.SearchStrings(slice, item)
	return slices.Insert(slice, idx, item)
}

// topologicalSort orders nodes so every node follows its dependencies,
// breaking ties by id (Kahn's algorithm).
func (g *Graph) topologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	for nodeID, node := range g.Nodes {
		inDegree[nodeID] = len(node.Parents)
	}

	queue := make([]string, 0, len(g.Nodes)/4)
	for nodeID, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, nodeID)
		}
	}
	slices.Sort(queue)

	result := make([]string, 0, len(g.Nodes))
	for len(queue) > 0 {
		nodeID := queue[0]
		queue = queue[1:]
		result = append(result, nodeID)

		children := slices.Clone(g.Nodes[nodeID].Children)
		slices.Sort(children)
		for _, childID := range children {
			inDegree[childID]--
			if inDegree[childID] == 0 {
				queue = insertSorted(queue, childID)
			}
		}
	}

	if len(result) != len(g.Nodes) {
		return nil, fmt.Errorf("%w: topological sort failed", ErrCycleDetected)
	}
	return result, nil
}

// findAncestors returns every node reachable from roots through dependency
// edges, roots included.
func (g *Graph) findAncestors(roots []string) map[string]bool {
	seen := make(map[string]bool, len(roots))

	var dfs func(string)
	dfs = func(current string) {
		node, ok := g.Nodes[current]
		if !ok || seen[current] {
			return
		}
		seen[current] = true
		for _, parentID := range node.Parents {
			dfs(parentID)
		}
	}
	for _, id := range roots {
		dfs(id)
	}
	return seen
}
