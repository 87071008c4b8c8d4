package kdag

import (
	"fmt"

	"github.com/birdayz/trench/kfn"
	"github.com/birdayz/trench/kschema"
	"go.uber.org/multierr"
)

// CheckErrors validates every node against the rest of the set and returns
// the combined error message of each broken node, keyed by node id. It
// never stops at the first broken node.
func CheckErrors(nodes []NodeDef) map[string]string {
	byID := make(map[string]NodeDef, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	out := make(map[string]string)
	for _, n := range nodes {
		if err := checkNode(n, byID); err != nil {
			out[n.ID] = err.Error()
		}
	}
	return out
}

func checkNode(n NodeDef, byID map[string]NodeDef) (errs error) {
	defer func() {
		if r := recover(); r != nil {
			errs = multierr.Append(errs, fmt.Errorf("validating node %q panicked: %v", n.ID, r))
		}
	}()

	if err := ValidateID(n.ID); err != nil {
		errs = multierr.Append(errs, err)
	}
	kind, err := kfn.Lookup(n.Fn.Type)
	if err != nil {
		return multierr.Append(errs, err)
	}
	if err := kind.ValidateConfig(n.Fn.Config); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := kind.CheckInputs(n.Inputs); err != nil {
		errs = multierr.Append(errs, err)
	}
	paths, err := kind.DataPaths(n.Inputs)
	if err != nil {
		return multierr.Append(errs, err)
	}

	resolved := make(map[string]*kschema.Schema, len(paths))
	for _, dp := range paths {
		s, err := resolvePath(n, dp, byID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		resolved[dp.Key()] = s
	}

	err = kind.ValidateInputs(kfn.ValidateArgs{
		FnDef:  n.Fn,
		Inputs: n.Inputs,
		DataPathSchema: func(dp kschema.DataPath) *kschema.Schema {
			return resolved[dp.Key()]
		},
	})
	return multierr.Append(errs, err)
}

// resolvePath returns the schema dp points at in the producing node's
// return schema.
func resolvePath(n NodeDef, dp kschema.DataPath, byID map[string]NodeDef) (*kschema.Schema, error) {
	producer, ok := byID[dp.NodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %q referenced by %s", ErrNodeNotFound, dp.NodeID, dp)
	}
	if producer.EventType != n.EventType {
		return nil, fmt.Errorf("%w: %s belongs to event type %q, not %q",
			ErrInvalidGraph, dp.NodeID, producer.EventType, n.EventType)
	}
	s := kschema.GetSchemaAtPath(producer.Fn.ReturnSchema, dp.Path)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", kschema.ErrSchemaNotFound, dp)
	}
	if dp.Schema != nil && !kschema.CanBeAssigned(dp.Schema, s) {
		return nil, fmt.Errorf("%w: %s is %s, expected %s", kschema.ErrTypeMismatch, dp, s, dp.Schema)
	}
	return s, nil
}
