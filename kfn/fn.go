// Package kfn defines the closed set of function kinds a graph node can run.
// Each kind declares its config and input shapes, which data paths its
// inputs reference, how to validate its wiring and how to build a resolver.
package kfn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/birdayz/trench/kschema"
	"github.com/birdayz/trench/kstate"
)

var (
	ErrUnknownFnType   = errors.New("unknown function type")
	ErrInvalidConfig   = errors.New("invalid function config")
	ErrInvalidInputs   = errors.New("invalid node inputs")
	ErrMissingStore    = errors.New("function requires a counting store")
	ErrMissingSandbox  = errors.New("function requires an expression sandbox")
	ErrEmptyEntityID   = errors.New("entity id is empty")
	ErrUnexpectedValue = errors.New("unexpected dependency value")
)

// FnType names a function kind.
type FnType string

const (
	TypeComputed           FnType = "Computed"
	TypeCounter            FnType = "Counter"
	TypeUniqueCounter      FnType = "UniqueCounter"
	TypeEntityAppearance   FnType = "EntityAppearance"
	TypeGetEntityFeature   FnType = "GetEntityFeature"
	TypeLogEntityFeature   FnType = "LogEntityFeature"
	TypeCacheEntityFeature FnType = "CacheEntityFeature"
	TypeEvent              FnType = "Event"
	TypeDecision           FnType = "Decision"
	TypeBlocklist          FnType = "Blocklist"
)

// FnDef is an immutable function definition. Config holds the kind's config
// struct, e.g. CounterConfig for TypeCounter.
type FnDef struct {
	ID           string          `json:"id" yaml:"id"`
	Type         FnType          `json:"type" yaml:"type"`
	Name         string          `json:"name,omitempty" yaml:"name,omitempty"`
	ReturnSchema *kschema.Schema `json:"returnSchema,omitempty" yaml:"returnSchema,omitempty"`
	Config       any             `json:"config,omitempty" yaml:"config,omitempty"`
}

// Event is the unit of work driving one execution pass.
type Event struct {
	ID        string         `json:"id" yaml:"id"`
	Type      string         `json:"type" yaml:"type"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Data      map[string]any `json:"data" yaml:"data"`
}

// DependencyRequest asks the engine for the value at DataPath. When
// ExpectedSchema is set the engine fails the request unless the producing
// schema can be assigned to it.
type DependencyRequest struct {
	DataPath       kschema.DataPath
	ExpectedSchema *kschema.Schema
}

// ResolveInput is what a resolver sees while evaluating one node.
type ResolveInput struct {
	Event         Event
	GetDependency func(ctx context.Context, req DependencyRequest) (any, error)
}

// Get resolves dp without a schema expectation.
func (in ResolveInput) Get(ctx context.Context, dp kschema.DataPath) (any, error) {
	return in.GetDependency(ctx, DependencyRequest{DataPath: dp})
}

// GetAs resolves dp and asserts its schema is assignable to expected.
func (in ResolveInput) GetAs(ctx context.Context, dp kschema.DataPath, expected *kschema.Schema) (any, error) {
	return in.GetDependency(ctx, DependencyRequest{DataPath: dp, ExpectedSchema: expected})
}

// StateUpdater is a deferred mutation of the counting store. It only runs
// when the pass that produced it commits.
type StateUpdater struct {
	FnID  string
	Apply func(ctx context.Context) error
}

// Output is the successful result of a resolver.
type Output struct {
	Data          any
	StateUpdaters []StateUpdater
	SavedRows     []FeatureRow
}

// Resolver evaluates one node for one event.
type Resolver func(ctx context.Context, in ResolveInput) (*Output, error)

// Program is the compiled user code of a Computed function.
type Program struct {
	FnID         string
	Code         string
	ReturnSchema *kschema.Schema
}

// Sandbox runs user code against resolved dependency values. The engine
// only checks the returned value against the function's return schema.
type Sandbox interface {
	Evaluate(ctx context.Context, p Program, deps map[string]any, event Event) (any, error)
}

// Context carries the collaborators resolvers may need.
type Context struct {
	Store   kstate.CountingStore
	Sandbox Sandbox
}

func (c Context) store(fnID string) (kstate.CountingStore, error) {
	if c.Store == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingStore, fnID)
	}
	return c.Store, nil
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}
