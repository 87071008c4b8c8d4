package kfn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/birdayz/trench/kschema"
	"github.com/birdayz/trench/kstate"
)

// EntityAppearanceConfig declares the entity type an event manifests.
type EntityAppearanceConfig struct {
	EntityType string `json:"entityType" yaml:"entityType" validate:"required"`
}

// EntityAppearanceInputs points at the value holding the entity id.
type EntityAppearanceInputs struct {
	Source kschema.DataPath `json:"source" yaml:"source"`
}

// GetEntityFeatureConfig names the cached feature to read.
type GetEntityFeatureConfig struct {
	FeatureID string `json:"featureId" yaml:"featureId" validate:"required"`
}

// GetEntityFeatureInputs reads the feature of Entity. Cache optionally
// references the CacheEntityFeature node writing the feature, which keeps
// that node from being pruned.
type GetEntityFeatureInputs struct {
	Entity kschema.DataPath  `json:"entity" yaml:"entity"`
	Cache  *kschema.DataPath `json:"cache,omitempty" yaml:"cache,omitempty"`
}

// EntityFeatureConfig is shared by the Log and Cache kinds.
type EntityFeatureConfig struct {
	FeatureID     string          `json:"featureId" yaml:"featureId" validate:"required"`
	FeatureSchema *kschema.Schema `json:"featureSchema" yaml:"featureSchema" validate:"required"`
}

type LogEntityFeatureInputs struct {
	Value  kschema.DataPath  `json:"value" yaml:"value"`
	Entity *kschema.DataPath `json:"entity,omitempty" yaml:"entity,omitempty"`
}

type CacheEntityFeatureInputs struct {
	Value  kschema.DataPath `json:"value" yaml:"value"`
	Entity kschema.DataPath `json:"entity" yaml:"entity"`
}

var (
	entitySchema   = kschema.EntityOf("")
	stringSchema   = kschema.Of(kschema.TypeString)
	numberSchema   = kschema.Of(kschema.TypeFloat64)
	nullSchema     = kschema.Of(kschema.TypeNull)
	entityIDSchema = kschema.UnionOf(stringSchema, numberSchema)
)

var entityAppearanceKind = &Definition[EntityAppearanceConfig, EntityAppearanceInputs]{
	FnType: TypeEntityAppearance,
	Paths: func(in EntityAppearanceInputs) []kschema.DataPath {
		return []kschema.DataPath{in.Source}
	},
	Validate: func(args ValidateArgs, c EntityAppearanceConfig, in EntityAppearanceInputs) error {
		if err := checkReturnsEntity(args.FnDef.ReturnSchema, c.EntityType); err != nil {
			return err
		}
		s := args.schemaOf(in.Source)
		if s != nil && !kschema.CanBeAssigned(entityIDSchema, s) {
			return fmt.Errorf("%w: entity source %s is %s, want string or number", kschema.ErrTypeMismatch, in.Source, s)
		}
		return nil
	},
	Resolve: func(args ResolverArgs, c EntityAppearanceConfig, in EntityAppearanceInputs) (Resolver, error) {
		return func(ctx context.Context, ri ResolveInput) (*Output, error) {
			v, err := ri.Get(ctx, in.Source)
			if err != nil {
				return nil, err
			}
			id, err := entityID(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", in.Source, err)
			}
			return &Output{Data: kschema.Entity{Type: c.EntityType, ID: id}}, nil
		}, nil
	},
}

func checkReturnsEntity(returns *kschema.Schema, entityType string) error {
	if returns == nil {
		return nil
	}
	if !kschema.CanBeAssigned(returns, kschema.EntityOf(entityType)) {
		return fmt.Errorf("%w: return schema %s does not accept entity %s", kschema.ErrTypeMismatch, returns, entityType)
	}
	return nil
}

func entityID(v any) (string, error) {
	switch id := v.(type) {
	case nil:
		return "", ErrEmptyEntityID
	case string:
		if id == "" {
			return "", ErrEmptyEntityID
		}
		return id, nil
	case json.Number:
		return id.String(), nil
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(id, 10), nil
	case int32:
		return strconv.FormatInt(int64(id), 10), nil
	case int:
		return strconv.Itoa(id), nil
	}
	return "", fmt.Errorf("%w: entity id must be a string or number, got %T", ErrUnexpectedValue, v)
}

func validateEntityPath(args ValidateArgs, dp kschema.DataPath) error {
	s := args.schemaOf(dp)
	if s != nil && !kschema.CanBeAssigned(entitySchema, s) {
		return fmt.Errorf("%w: entity %s is %s, want entity", kschema.ErrTypeMismatch, dp, s)
	}
	return nil
}

// resolveEntity returns the entity at dp, or false if the value is null.
func resolveEntity(ctx context.Context, ri ResolveInput, dp kschema.DataPath) (kschema.Entity, bool, error) {
	v, err := ri.Get(ctx, dp)
	if err != nil || v == nil {
		return kschema.Entity{}, false, err
	}
	parsed, err := kschema.Parse(entitySchema, v)
	if err != nil {
		return kschema.Entity{}, false, fmt.Errorf("%s: %w", dp, err)
	}
	return parsed.(kschema.Entity), true, nil
}

var getEntityFeatureKind = &Definition[GetEntityFeatureConfig, GetEntityFeatureInputs]{
	FnType:     TypeGetEntityFeature,
	IsStateful: true,
	Paths: func(in GetEntityFeatureInputs) []kschema.DataPath {
		return appendOptional([]kschema.DataPath{in.Entity}, in.Cache)
	},
	Validate: func(args ValidateArgs, _ GetEntityFeatureConfig, in GetEntityFeatureInputs) error {
		return validateEntityPath(args, in.Entity)
	},
	Resolve: func(args ResolverArgs, c GetEntityFeatureConfig, in GetEntityFeatureInputs) (Resolver, error) {
		store, err := args.Context.store(args.FnDef.ID)
		if err != nil {
			return nil, err
		}
		returns := args.FnDef.ReturnSchema

		return func(ctx context.Context, ri ResolveInput) (*Output, error) {
			entity, ok, err := resolveEntity(ctx, ri, in.Entity)
			if err != nil || !ok {
				return &Output{}, err
			}
			raw, found, err := store.Get(ctx, FeatureKey(c.FeatureID, entity))
			if err != nil {
				return nil, fmt.Errorf("get feature %s of %s: %w", c.FeatureID, entity, err)
			}
			if !found {
				return &Output{}, nil
			}

			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.UseNumber()
			var v any
			if err := dec.Decode(&v); err != nil {
				return nil, fmt.Errorf("decode feature %s of %s: %w", c.FeatureID, entity, err)
			}
			if returns != nil {
				if v, err = kschema.Parse(returns, v); err != nil {
					return nil, fmt.Errorf("cached feature %s of %s: %w", c.FeatureID, entity, err)
				}
			}
			return &Output{Data: v}, nil
		}, nil
	},
}

func validateFeatureValue(args ValidateArgs, c EntityFeatureConfig, value kschema.DataPath) error {
	s := args.schemaOf(value)
	if s != nil && c.FeatureSchema != nil && !kschema.CanBeAssigned(c.FeatureSchema, s) {
		return fmt.Errorf("%w: value %s is %s, feature %s expects %s",
			kschema.ErrTypeMismatch, value, s, c.FeatureID, c.FeatureSchema)
	}
	return nil
}

var logEntityFeatureKind = &Definition[EntityFeatureConfig, LogEntityFeatureInputs]{
	FnType:  TypeLogEntityFeature,
	Returns: nullSchema,
	Paths: func(in LogEntityFeatureInputs) []kschema.DataPath {
		return appendOptional([]kschema.DataPath{in.Value}, in.Entity)
	},
	Validate: func(args ValidateArgs, c EntityFeatureConfig, in LogEntityFeatureInputs) error {
		if err := validateFeatureValue(args, c, in.Value); err != nil {
			return err
		}
		if in.Entity != nil {
			return validateEntityPath(args, *in.Entity)
		}
		return nil
	},
	Resolve: func(args ResolverArgs, c EntityFeatureConfig, in LogEntityFeatureInputs) (Resolver, error) {
		if err := validate.Struct(c); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, args.FnDef.ID, err)
		}
		fnID := args.FnDef.ID
		return func(ctx context.Context, ri ResolveInput) (*Output, error) {
			v, err := ri.Get(ctx, in.Value)
			if err != nil {
				return nil, err
			}
			row := FeatureRow{
				EventID:     ri.Event.ID,
				EventType:   ri.Event.Type,
				Timestamp:   ri.Event.Timestamp,
				FnID:        fnID,
				FeatureID:   c.FeatureID,
				FeatureType: c.FeatureSchema.Type,
			}
			if in.Entity != nil {
				entity, ok, err := resolveEntity(ctx, ri, *in.Entity)
				if err != nil {
					return nil, err
				}
				if ok {
					row.EntityType, row.EntityID = entity.Type, entity.ID
				}
			}

			parsed, err := kschema.Parse(c.FeatureSchema, v)
			if err == nil {
				err = row.setValue(parsed)
			}
			if err != nil {
				msg := err.Error()
				row.Error = &msg
			}
			return &Output{SavedRows: []FeatureRow{row}}, nil
		}, nil
	},
}

var cacheEntityFeatureKind = &Definition[EntityFeatureConfig, CacheEntityFeatureInputs]{
	FnType:     TypeCacheEntityFeature,
	IsStateful: true,
	Returns:    nullSchema,
	Paths: func(in CacheEntityFeatureInputs) []kschema.DataPath {
		return []kschema.DataPath{in.Value, in.Entity}
	},
	Validate: func(args ValidateArgs, c EntityFeatureConfig, in CacheEntityFeatureInputs) error {
		if err := validateFeatureValue(args, c, in.Value); err != nil {
			return err
		}
		return validateEntityPath(args, in.Entity)
	},
	Resolve: func(args ResolverArgs, c EntityFeatureConfig, in CacheEntityFeatureInputs) (Resolver, error) {
		if err := validate.Struct(c); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, args.FnDef.ID, err)
		}
		store, err := args.Context.store(args.FnDef.ID)
		if err != nil {
			return nil, err
		}
		fnID := args.FnDef.ID

		return func(ctx context.Context, ri ResolveInput) (*Output, error) {
			v, err := ri.Get(ctx, in.Value)
			if err != nil {
				return nil, err
			}
			entity, ok, err := resolveEntity(ctx, ri, in.Entity)
			if err != nil || !ok {
				return &Output{}, err
			}
			parsed, err := kschema.Parse(c.FeatureSchema, v)
			if err != nil {
				return nil, fmt.Errorf("feature %s: %w", c.FeatureID, err)
			}
			raw, err := json.Marshal(parsed)
			if err != nil {
				return nil, fmt.Errorf("encode feature %s: %w", c.FeatureID, err)
			}
			key := FeatureKey(c.FeatureID, entity)

			return &Output{StateUpdaters: []StateUpdater{{
				FnID: fnID,
				Apply: func(ctx context.Context) error {
					if _, err := store.Set(ctx, key, raw, kstate.SetAlways); err != nil {
						return fmt.Errorf("cache feature %s of %s: %w", c.FeatureID, entity, err)
					}
					return nil
				},
			}}}, nil
		}, nil
	},
}
