package kfn

import (
	"fmt"
	"slices"

	"github.com/birdayz/trench/kschema"
	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
)

var validate = validator.New()

// ValidateArgs is passed to a kind's semantic input validator.
// DataPathSchema returns the schema a data path resolves to in the graph,
// or nil if it does not resolve.
type ValidateArgs struct {
	FnDef          FnDef
	Inputs         any
	DataPathSchema func(kschema.DataPath) *kschema.Schema
}

func (a ValidateArgs) schemaOf(dp kschema.DataPath) *kschema.Schema {
	if a.DataPathSchema == nil {
		return dp.Schema
	}
	return a.DataPathSchema(dp)
}

// ResolverArgs is passed to a kind's resolver factory.
type ResolverArgs struct {
	FnDef   FnDef
	Inputs  any
	Context Context
}

// Kind is the type-erased view of a Definition.
type Kind interface {
	Type() FnType
	// Stateful kinds read or write the counting store.
	Stateful() bool

	// DecodeConfig and DecodeInputs decode into the kind's structs. The
	// decode func fills its argument, e.g. a json.Unmarshal or yaml.Node.Decode
	// closure. A nil decode yields the zero value.
	DecodeConfig(decode func(any) error) (any, error)
	DecodeInputs(decode func(any) error) (any, error)

	ValidateConfig(config any) error
	// CheckInputs validates the shape of inputs.
	CheckInputs(inputs any) error
	DataPaths(inputs any) ([]kschema.DataPath, error)
	ValidateInputs(args ValidateArgs) error
	NewResolver(args ResolverArgs) (Resolver, error)
}

// Definition declares one function kind with config type C and inputs type I.
type Definition[C, I any] struct {
	FnType     FnType
	IsStateful bool
	// Returns is the fixed output schema of the kind. A FnDef return schema
	// must accept it. Nil for kinds whose output the user declares.
	Returns *kschema.Schema

	Paths    func(inputs I) []kschema.DataPath
	Validate func(args ValidateArgs, config C, inputs I) error
	Resolve  func(args ResolverArgs, config C, inputs I) (Resolver, error)
}

func (d *Definition[C, I]) Type() FnType   { return d.FnType }
func (d *Definition[C, I]) Stateful() bool { return d.IsStateful }

func (d *Definition[C, I]) DecodeConfig(decode func(any) error) (any, error) {
	var c C
	if decode != nil {
		if err := decode(&c); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, d.FnType, err)
		}
	}
	return c, nil
}

func (d *Definition[C, I]) DecodeInputs(decode func(any) error) (any, error) {
	var in I
	if decode != nil {
		if err := decode(&in); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidInputs, d.FnType, err)
		}
	}
	return in, nil
}

func (d *Definition[C, I]) config(v any) (C, error) {
	switch c := v.(type) {
	case C:
		return c, nil
	case *C:
		if c != nil {
			return *c, nil
		}
	case nil:
		var zero C
		return zero, nil
	}
	var zero C
	return zero, fmt.Errorf("%w: %s expects %T, got %T", ErrInvalidConfig, d.FnType, zero, v)
}

func (d *Definition[C, I]) inputs(v any) (I, error) {
	switch in := v.(type) {
	case I:
		return in, nil
	case *I:
		if in != nil {
			return *in, nil
		}
	case nil:
		var zero I
		return zero, nil
	}
	var zero I
	return zero, fmt.Errorf("%w: %s expects %T, got %T", ErrInvalidInputs, d.FnType, zero, v)
}

func (d *Definition[C, I]) ValidateConfig(v any) error {
	c, err := d.config(v)
	if err != nil {
		return err
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, d.FnType, err)
	}
	return nil
}

func (d *Definition[C, I]) CheckInputs(v any) error {
	in, err := d.inputs(v)
	if err != nil {
		return err
	}
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidInputs, d.FnType, err)
	}
	return nil
}

func (d *Definition[C, I]) DataPaths(v any) ([]kschema.DataPath, error) {
	in, err := d.inputs(v)
	if err != nil {
		return nil, err
	}
	if d.Paths == nil {
		return nil, nil
	}
	return d.Paths(in), nil
}

// ValidateInputs checks the return schema against the kind's fixed output
// and runs the kind's semantic validator. Every failure is reported.
func (d *Definition[C, I]) ValidateInputs(args ValidateArgs) error {
	c, err := d.config(args.FnDef.Config)
	if err != nil {
		return err
	}
	in, err := d.inputs(args.Inputs)
	if err != nil {
		return err
	}

	var errs error
	if d.Returns != nil && args.FnDef.ReturnSchema != nil &&
		!kschema.CanBeAssigned(args.FnDef.ReturnSchema, d.Returns) {
		errs = multierr.Append(errs, fmt.Errorf("%w: %s returns %s, which return schema %s does not accept",
			kschema.ErrTypeMismatch, d.FnType, d.Returns, args.FnDef.ReturnSchema))
	}
	if d.Validate != nil {
		errs = multierr.Append(errs, d.Validate(args, c, in))
	}
	return errs
}

func (d *Definition[C, I]) NewResolver(args ResolverArgs) (Resolver, error) {
	c, err := d.config(args.FnDef.Config)
	if err != nil {
		return nil, err
	}
	in, err := d.inputs(args.Inputs)
	if err != nil {
		return nil, err
	}
	return d.Resolve(args, c, in)
}

var kinds = map[FnType]Kind{
	TypeComputed:           computedKind,
	TypeCounter:            counterKind,
	TypeUniqueCounter:      uniqueCounterKind,
	TypeEntityAppearance:   entityAppearanceKind,
	TypeGetEntityFeature:   getEntityFeatureKind,
	TypeLogEntityFeature:   logEntityFeatureKind,
	TypeCacheEntityFeature: cacheEntityFeatureKind,
	TypeEvent:              eventKind,
	TypeDecision:           decisionKind,
	TypeBlocklist:          blocklistKind,
}

// Lookup returns the kind registered for t.
func Lookup(t FnType) (Kind, error) {
	k, ok := kinds[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFnType, t)
	}
	return k, nil
}

// Types lists every registered function type in sorted order.
func Types() []FnType {
	out := make([]FnType, 0, len(kinds))
	for t := range kinds {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// IsStateful reports whether functions of type t use the counting store.
func IsStateful(t FnType) bool {
	k, ok := kinds[t]
	return ok && k.Stateful()
}
