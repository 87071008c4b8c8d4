// Package hclexpr runs the code of Computed functions as HCL expressions.
//
// An expression sees two variables: deps, an object holding the resolved
// dependencies by name, and event, holding id, type, timestamp and data of
// the current event. A subset of the cty standard library is available as
// functions, e.g.
//
//	deps.attempts > 3 && contains(["DE", "FR"], event.data.country)
package hclexpr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/birdayz/trench/kfn"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

var (
	ErrCompile  = errors.New("expression does not compile")
	ErrEvaluate = errors.New("expression evaluation failed")
)

var functions = map[string]function.Function{
	"abs":        stdlib.AbsoluteFunc,
	"ceil":       stdlib.CeilFunc,
	"coalesce":   stdlib.CoalesceFunc,
	"concat":     stdlib.ConcatFunc,
	"contains":   stdlib.ContainsFunc,
	"floor":      stdlib.FloorFunc,
	"format":     stdlib.FormatFunc,
	"join":       stdlib.JoinFunc,
	"jsonencode": stdlib.JSONEncodeFunc,
	"keys":       stdlib.KeysFunc,
	"length":     stdlib.LengthFunc,
	"lookup":     stdlib.LookupFunc,
	"lower":      stdlib.LowerFunc,
	"max":        stdlib.MaxFunc,
	"min":        stdlib.MinFunc,
	"regex":      stdlib.RegexFunc,
	"split":      stdlib.SplitFunc,
	"strlen":     stdlib.StrlenFunc,
	"substr":     stdlib.SubstrFunc,
	"trimspace":  stdlib.TrimSpaceFunc,
	"upper":      stdlib.UpperFunc,
}

// Functions lists the names callable from expressions.
func Functions() []string {
	out := make([]string, 0, len(functions))
	for name := range functions {
		out = append(out, name)
	}
	return sortStrings(out)
}

type compiled struct {
	code string
	expr hcl.Expression
}

// Sandbox implements kfn.Sandbox. Expressions are compiled once per
// function id and recompiled when the code changes.
//
// Sandbox is safe for concurrent use.
type Sandbox struct {
	log *slog.Logger

	mu    sync.RWMutex
	cache map[string]compiled
}

type Option func(*Sandbox)

var WithLogger = func(log *slog.Logger) Option {
	return func(s *Sandbox) {
		s.log = log
	}
}

func New(opts ...Option) *Sandbox {
	s := &Sandbox{
		log:   slog.New(slog.DiscardHandler),
		cache: make(map[string]compiled),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ kfn.Sandbox = (*Sandbox)(nil)

// Compile parses code without evaluating it.
func Compile(code string) (hcl.Expression, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(code), "computed.hcl", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %s", ErrCompile, diags.Error())
	}
	return expr, nil
}

// DependencyNames returns the names read from deps by code, sorted and
// deduplicated.
func DependencyNames(code string) ([]string, error) {
	expr, err := Compile(code)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, traversal := range expr.Variables() {
		if traversal.RootName() != "deps" || len(traversal) < 2 {
			continue
		}
		if attr, ok := traversal[1].(hcl.TraverseAttr); ok {
			seen[attr.Name] = true
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	return sortStrings(out), nil
}

func (s *Sandbox) Evaluate(_ context.Context, p kfn.Program, deps map[string]any, event kfn.Event) (any, error) {
	expr, err := s.expression(p)
	if err != nil {
		return nil, err
	}

	depsVal, err := toCty(deps)
	if err != nil {
		return nil, fmt.Errorf("%w: deps: %w", ErrEvaluate, err)
	}
	eventVal, err := eventToCty(event)
	if err != nil {
		return nil, fmt.Errorf("%w: event: %w", ErrEvaluate, err)
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"deps":  depsVal,
			"event": eventVal,
		},
		Functions: functions,
	}
	v, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %s", ErrEvaluate, diags.Error())
	}
	out, err := fromCty(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEvaluate, err)
	}
	return out, nil
}

func (s *Sandbox) expression(p kfn.Program) (hcl.Expression, error) {
	s.mu.RLock()
	c, ok := s.cache[p.FnID]
	s.mu.RUnlock()
	if ok && c.code == p.Code {
		return c.expr, nil
	}

	expr, err := Compile(p.Code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.FnID, err)
	}
	s.mu.Lock()
	s.cache[p.FnID] = compiled{code: p.Code, expr: expr}
	s.mu.Unlock()
	s.log.Debug("Compiled expression", "fn_id", p.FnID)
	return expr, nil
}
