package kdag

import (
	"bytes"
	"encoding/json"
	"slices"

	"github.com/birdayz/trench/kfn"
)

// Prune drops CacheEntityFeature nodes nothing depends on, and keeps a
// single cache node per feature id. Nodes depending on a dropped duplicate
// are rewired to the kept one. The order of the remaining nodes is
// preserved. Prune(Prune(n)) equals Prune(n).
func Prune(nodes []NodeDef) []NodeDef {
	for {
		pruned := pruneOnce(nodes)
		if len(pruned) == len(nodes) {
			return pruned
		}
		nodes = pruned
	}
}

func pruneOnce(nodes []NodeDef) []NodeDef {
	allDependsOn := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			allDependsOn[dep] = true
		}
	}

	// The cache node kept for each needed feature: the first one that is
	// depended upon. Later referenced duplicates are redirected to it.
	keep := make(map[string]string)
	redirect := make(map[string]string)
	for _, n := range nodes {
		featureID, ok := cacheFeatureID(n)
		if !ok || !allDependsOn[n.ID] {
			continue
		}
		if kept, exists := keep[featureID]; exists {
			redirect[n.ID] = kept
			continue
		}
		keep[featureID] = n.ID
	}

	rewired := make(map[string]NodeDef)
	for _, n := range nodes {
		to := make(map[string]string)
		for _, dep := range n.DependsOn {
			if target, ok := redirect[dep]; ok {
				to[dep] = target
			}
		}
		if len(to) == 0 {
			continue
		}
		r, err := rewire(n, to)
		if err != nil || slices.Contains(r.DependsOn, n.ID) {
			// A dependent that cannot be rewired keeps its cache nodes.
			for dep := range to {
				delete(redirect, dep)
			}
			continue
		}
		rewired[n.ID] = r
	}

	out := make([]NodeDef, 0, len(nodes))
	for _, n := range nodes {
		if _, ok := cacheFeatureID(n); ok {
			if _, duplicate := redirect[n.ID]; duplicate || !allDependsOn[n.ID] {
				continue
			}
		}
		if r, ok := rewired[n.ID]; ok {
			n = r
		}
		out = append(out, n)
	}
	return out
}

// rewire replaces every data path of n pointing at a key of to. Inputs are
// rewritten in their JSON form and decoded again, so DependsOn is derived
// afresh.
func rewire(n NodeDef, to map[string]string) (NodeDef, error) {
	raw, err := json.Marshal(n.Inputs)
	if err != nil {
		return NodeDef{}, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return NodeDef{}, err
	}
	raw, err = json.Marshal(renameNodeIDs(tree, to))
	if err != nil {
		return NodeDef{}, err
	}

	kind, err := kfn.Lookup(n.Fn.Type)
	if err != nil {
		return NodeDef{}, err
	}
	inputs, err := kind.DecodeInputs(kfn.JSONDecoder(raw))
	if err != nil {
		return NodeDef{}, err
	}
	return n.WithInputs(inputs)
}

func renameNodeIDs(v any, to map[string]string) any {
	switch val := v.(type) {
	case map[string]any:
		for k, el := range val {
			if id, ok := el.(string); ok && k == "nodeId" {
				if target, ok := to[id]; ok {
					val[k] = target
				}
				continue
			}
			val[k] = renameNodeIDs(el, to)
		}
		return val
	case []any:
		for i, el := range val {
			val[i] = renameNodeIDs(el, to)
		}
		return val
	}
	return v
}

func cacheFeatureID(n NodeDef) (string, bool) {
	if n.Fn.Type != kfn.TypeCacheEntityFeature {
		return "", false
	}
	switch c := n.Fn.Config.(type) {
	case kfn.EntityFeatureConfig:
		return c.FeatureID, true
	case *kfn.EntityFeatureConfig:
		if c != nil {
			return c.FeatureID, true
		}
	}
	return "", true
}
