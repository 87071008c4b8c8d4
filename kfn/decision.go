package kfn

import (
	"context"
	"fmt"

	"github.com/birdayz/trench/kschema"
	"go.uber.org/multierr"
)

// Decision is one possible outcome of a Decision function.
type Decision struct {
	ID   string `json:"id" yaml:"id" validate:"required"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

type DecisionConfig struct {
	Decisions      []Decision `json:"decisions" yaml:"decisions" validate:"min=1,dive"`
	ElseDecisionID string     `json:"elseDecisionId" yaml:"elseDecisionId" validate:"required"`
}

// Condition selects DecisionID when every rule resolves true.
type Condition struct {
	Rules      []kschema.DataPath `json:"rules" yaml:"rules" validate:"min=1,dive"`
	DecisionID string             `json:"decisionId" yaml:"decisionId" validate:"required"`
}

// DecisionInputs are evaluated in order; the first matching condition wins.
type DecisionInputs struct {
	Conditions []Condition `json:"conditions" yaml:"conditions" validate:"dive"`
}

var decisionKind = &Definition[DecisionConfig, DecisionInputs]{
	FnType:  TypeDecision,
	Returns: stringSchema,
	Paths: func(in DecisionInputs) []kschema.DataPath {
		var out []kschema.DataPath
		for _, c := range in.Conditions {
			out = append(out, c.Rules...)
		}
		return out
	},
	Validate: func(args ValidateArgs, c DecisionConfig, in DecisionInputs) error {
		declared := make(map[string]bool, len(c.Decisions))
		for _, d := range c.Decisions {
			declared[d.ID] = true
		}

		var errs error
		if !declared[c.ElseDecisionID] {
			errs = multierr.Append(errs, fmt.Errorf("%w: else decision %q is not declared", ErrInvalidConfig, c.ElseDecisionID))
		}
		for i, cond := range in.Conditions {
			if !declared[cond.DecisionID] {
				errs = multierr.Append(errs, fmt.Errorf("%w: condition %d selects undeclared decision %q",
					ErrInvalidInputs, i, cond.DecisionID))
			}
			for _, rule := range cond.Rules {
				s := args.schemaOf(rule)
				if s != nil && !kschema.CanBeAssigned(booleanSchema, s) {
					errs = multierr.Append(errs, fmt.Errorf("%w: rule %s is %s, want boolean",
						kschema.ErrTypeMismatch, rule, s))
				}
			}
		}
		return errs
	},
	Resolve: func(_ ResolverArgs, c DecisionConfig, in DecisionInputs) (Resolver, error) {
		return func(ctx context.Context, ri ResolveInput) (*Output, error) {
			for _, cond := range in.Conditions {
				matched := true
				for _, rule := range cond.Rules {
					v, err := ri.GetAs(ctx, rule, booleanSchema)
					if err != nil {
						return nil, err
					}
					if !truthy(v) {
						matched = false
						break
					}
				}
				if matched {
					return &Output{Data: cond.DecisionID}, nil
				}
			}
			return &Output{Data: c.ElseDecisionID}, nil
		}, nil
	},
}

type BlocklistConfig struct {
	List []string `json:"list" yaml:"list"`
}

type BlocklistInputs struct {
	Value kschema.DataPath `json:"value" yaml:"value"`
}

var blocklistKind = &Definition[BlocklistConfig, BlocklistInputs]{
	FnType:  TypeBlocklist,
	Returns: booleanSchema,
	Paths: func(in BlocklistInputs) []kschema.DataPath {
		return []kschema.DataPath{in.Value}
	},
	Validate: func(args ValidateArgs, _ BlocklistConfig, in BlocklistInputs) error {
		s := args.schemaOf(in.Value)
		if s != nil && !kschema.CanBeAssigned(stringSchema, s) {
			return fmt.Errorf("%w: blocklist value %s is %s, want string", kschema.ErrTypeMismatch, in.Value, s)
		}
		return nil
	},
	Resolve: func(_ ResolverArgs, c BlocklistConfig, in BlocklistInputs) (Resolver, error) {
		blocked := make(map[string]struct{}, len(c.List))
		for _, item := range c.List {
			blocked[item] = struct{}{}
		}
		return func(ctx context.Context, ri ResolveInput) (*Output, error) {
			v, err := ri.Get(ctx, in.Value)
			if err != nil {
				return nil, err
			}
			if v == nil {
				return &Output{Data: false}, nil
			}
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s is %T, want string", ErrUnexpectedValue, in.Value, v)
			}
			_, found := blocked[s]
			return &Output{Data: found}, nil
		}, nil
	},
}

// EventSchema is the output schema of the Event kind for an event whose
// data matches data.
func EventSchema(data *kschema.Schema) *kschema.Schema {
	if data == nil {
		data = kschema.Of(kschema.TypeAny)
	}
	return kschema.ObjectOf(map[string]*kschema.Schema{
		"id":        kschema.Of(kschema.TypeString),
		"type":      kschema.Of(kschema.TypeString),
		"timestamp": kschema.Of(kschema.TypeDate),
		"data":      data,
	})
}

var eventKind = &Definition[struct{}, struct{}]{
	FnType: TypeEvent,
	Resolve: func(ResolverArgs, struct{}, struct{}) (Resolver, error) {
		return func(_ context.Context, ri ResolveInput) (*Output, error) {
			data := ri.Event.Data
			if data == nil {
				data = map[string]any{}
			}
			return &Output{Data: map[string]any{
				"id":        ri.Event.ID,
				"type":      ri.Event.Type,
				"timestamp": ri.Event.Timestamp,
				"data":      data,
			}}, nil
		}, nil
	},
}
