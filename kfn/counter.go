package kfn

import (
	"context"
	"fmt"

	"github.com/birdayz/trench/kcount"
	"github.com/birdayz/trench/kschema"
)

// CounterConfig sizes the buckets of a sliding-window count.
type CounterConfig struct {
	Window kcount.Window `json:"window" yaml:"window"`
}

// CounterInputs groups counts by the values at CountBy. When Condition is
// set, only events where it resolves true are counted.
type CounterInputs struct {
	CountBy   []kschema.DataPath `json:"countBy,omitempty" yaml:"countBy,omitempty" validate:"dive"`
	Condition *kschema.DataPath  `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// UniqueCounterInputs counts distinct CountUnique values per CountBy group.
type UniqueCounterInputs struct {
	CountUnique []kschema.DataPath `json:"countUnique" yaml:"countUnique" validate:"min=1,dive"`
	CountBy     []kschema.DataPath `json:"countBy,omitempty" yaml:"countBy,omitempty" validate:"dive"`
	Condition   *kschema.DataPath  `json:"condition,omitempty" yaml:"condition,omitempty"`
}

var counterKind = &Definition[CounterConfig, CounterInputs]{
	FnType:     TypeCounter,
	IsStateful: true,
	Returns:    kschema.Of(kschema.TypeInt64),
	Paths: func(in CounterInputs) []kschema.DataPath {
		return appendOptional(in.CountBy, in.Condition)
	},
	Validate: func(args ValidateArgs, _ CounterConfig, in CounterInputs) error {
		return validateCondition(args, in.Condition)
	},
	Resolve: func(args ResolverArgs, c CounterConfig, in CounterInputs) (Resolver, error) {
		store, err := args.Context.store(args.FnDef.ID)
		if err != nil {
			return nil, err
		}
		spec := kcount.Spec{CounterID: args.FnDef.ID, Window: c.Window}

		return func(ctx context.Context, ri ResolveInput) (*Output, error) {
			countBy, err := keyedValues(ctx, ri, in.CountBy)
			if err != nil {
				return nil, err
			}
			ok, err := conditionHolds(ctx, ri, in.Condition)
			if err != nil {
				return nil, err
			}
			r, err := kcount.Count(ctx, store, spec, ri.Event.Timestamp, countBy, ok)
			if err != nil {
				return nil, err
			}
			return readingOutput(args.FnDef.ID, r), nil
		}, nil
	},
}

var uniqueCounterKind = &Definition[CounterConfig, UniqueCounterInputs]{
	FnType:     TypeUniqueCounter,
	IsStateful: true,
	Returns:    kschema.Of(kschema.TypeInt64),
	Paths: func(in UniqueCounterInputs) []kschema.DataPath {
		paths := append([]kschema.DataPath(nil), in.CountUnique...)
		return appendOptional(append(paths, in.CountBy...), in.Condition)
	},
	Validate: func(args ValidateArgs, _ CounterConfig, in UniqueCounterInputs) error {
		return validateCondition(args, in.Condition)
	},
	Resolve: func(args ResolverArgs, c CounterConfig, in UniqueCounterInputs) (Resolver, error) {
		store, err := args.Context.store(args.FnDef.ID)
		if err != nil {
			return nil, err
		}
		spec := kcount.Spec{CounterID: args.FnDef.ID, Window: c.Window}

		return func(ctx context.Context, ri ResolveInput) (*Output, error) {
			unique, err := keyedValues(ctx, ri, in.CountUnique)
			if err != nil {
				return nil, err
			}
			countBy, err := keyedValues(ctx, ri, in.CountBy)
			if err != nil {
				return nil, err
			}
			ok, err := conditionHolds(ctx, ri, in.Condition)
			if err != nil {
				return nil, err
			}
			r, err := kcount.CountUnique(ctx, store, spec, ri.Event.Timestamp, countBy, unique, ok)
			if err != nil {
				return nil, err
			}
			return readingOutput(args.FnDef.ID, r), nil
		}, nil
	},
}

func appendOptional(paths []kschema.DataPath, opt *kschema.DataPath) []kschema.DataPath {
	out := append([]kschema.DataPath(nil), paths...)
	if opt != nil {
		out = append(out, *opt)
	}
	return out
}

var booleanSchema = kschema.Of(kschema.TypeBoolean)

func validateCondition(args ValidateArgs, condition *kschema.DataPath) error {
	if condition == nil {
		return nil
	}
	s := args.schemaOf(*condition)
	if s != nil && !kschema.CanBeAssigned(booleanSchema, s) {
		return fmt.Errorf("%w: condition %s is %s, want boolean", kschema.ErrTypeMismatch, condition, s)
	}
	return nil
}

func keyedValues(ctx context.Context, ri ResolveInput, paths []kschema.DataPath) ([]kcount.KeyedValue, error) {
	out := make([]kcount.KeyedValue, len(paths))
	for i, dp := range paths {
		v, err := ri.Get(ctx, dp)
		if err != nil {
			return nil, err
		}
		out[i] = kcount.KeyedValue{ID: dp.Key(), Value: v}
	}
	return out, nil
}

func conditionHolds(ctx context.Context, ri ResolveInput, condition *kschema.DataPath) (bool, error) {
	if condition == nil {
		return true, nil
	}
	v, err := ri.GetAs(ctx, *condition, booleanSchema)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func readingOutput(fnID string, r kcount.Reading) *Output {
	out := &Output{Data: r.Value}
	if r.Apply != nil {
		out.StateUpdaters = []StateUpdater{{FnID: fnID, Apply: r.Apply}}
	}
	return out
}
