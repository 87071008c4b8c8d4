package kfn

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"

	"github.com/birdayz/trench/kschema"
)

// ComputedConfig holds compiled user code.
type ComputedConfig struct {
	Code string `json:"code" yaml:"code" validate:"required"`
}

// ComputedInputs binds dependency names, as seen by the code, to data paths.
type ComputedInputs struct {
	Deps map[string]kschema.DataPath `json:"deps" yaml:"deps" validate:"dive"`
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var computedKind = &Definition[ComputedConfig, ComputedInputs]{
	FnType: TypeComputed,
	Paths: func(in ComputedInputs) []kschema.DataPath {
		out := make([]kschema.DataPath, 0, len(in.Deps))
		for _, name := range slices.Sorted(maps.Keys(in.Deps)) {
			out = append(out, in.Deps[name])
		}
		return out
	},
	Validate: func(_ ValidateArgs, _ ComputedConfig, in ComputedInputs) error {
		for _, name := range slices.Sorted(maps.Keys(in.Deps)) {
			if !identifier.MatchString(name) {
				return fmt.Errorf("%w: dependency name %q is not an identifier", ErrInvalidInputs, name)
			}
		}
		return nil
	},
	Resolve: func(args ResolverArgs, c ComputedConfig, in ComputedInputs) (Resolver, error) {
		if args.Context.Sandbox == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingSandbox, args.FnDef.ID)
		}
		sandbox := args.Context.Sandbox
		program := Program{FnID: args.FnDef.ID, Code: c.Code, ReturnSchema: args.FnDef.ReturnSchema}
		names := slices.Sorted(maps.Keys(in.Deps))

		return func(ctx context.Context, ri ResolveInput) (*Output, error) {
			deps := make(map[string]any, len(names))
			for _, name := range names {
				v, err := ri.Get(ctx, in.Deps[name])
				if err != nil {
					return nil, err
				}
				deps[name] = v
			}
			v, err := sandbox.Evaluate(ctx, program, deps, ri.Event)
			if err != nil {
				return nil, fmt.Errorf("evaluate %s: %w", args.FnDef.ID, err)
			}
			return &Output{Data: v}, nil
		}, nil
	},
}
