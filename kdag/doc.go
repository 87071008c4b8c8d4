// Package kdag builds and checks feature graphs.
//
// A feature graph is a set of NodeDefs. Each node wires one function (see
// package kfn) to data paths pointing into the outputs of other nodes of
// the same event type. Edges are never declared directly: DependsOn is
// derived from a node's inputs whenever it is constructed or decoded.
//
// # Basic Usage
//
//	nodes, err := kdag.NewFileSource("graph.yaml", logger).Load(ctx)
//	if err != nil {
//	    return err
//	}
//	nodes = kdag.Prune(nodes)
//	if errs := kdag.CheckErrors(nodes); len(errs) > 0 {
//	    // errs maps node id to a combined error message
//	}
//	dag, err := kdag.Build(nodes)
//
// # Validation
//
// Build checks structure only:
//
//   - Node ids are unique and contain no whitespace
//   - Every dependency exists
//   - The graph has no cycles (reported as a path, "a -> b -> a")
//   - Size limits (MaxNodesPerDAG, MaxDepth, MaxDependentsPerNode)
//
// CheckErrors checks types. Every data path must resolve to a schema in
// the producing node's return schema, and each function kind validates its
// config and inputs against the resolved schemas. All broken nodes are
// reported at once.
//
// # Pruning
//
// Prune drops CacheEntityFeature nodes nothing depends on and keeps a
// single writer per feature id. It is idempotent.
//
// # Thread Safety
//
// Builder is NOT safe for concurrent use. The resulting DAG is immutable and
// safe to use concurrently.
package kdag
