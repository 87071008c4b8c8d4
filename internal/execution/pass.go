package execution

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/birdayz/trench/kfn"
	"github.com/birdayz/trench/kschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// PassState is the lifecycle of a Pass.
type PassState int

const (
	PassIdle PassState = iota
	PassEvaluating
	PassCommitted
	PassFailed
)

func (s PassState) String() string {
	switch s {
	case PassIdle:
		return "IDLE"
	case PassEvaluating:
		return "EVALUATING"
	case PassCommitted:
		return "COMMITTED"
	case PassFailed:
		return "FAILED"
	}
	return fmt.Sprintf("PassState(%d)", int(s))
}

// NodeResult is the outcome of one node. Exactly one of Data and Err is
// meaningful.
type NodeResult struct {
	NodeID        string
	Data          any
	Err           error
	StateUpdaters []kfn.StateUpdater
	SavedRows     []kfn.FeatureRow
}

func (r NodeResult) OK() bool { return r.Err == nil }

type future struct {
	done   chan struct{}
	result NodeResult
}

// Pass holds the memoized evaluation state of one event. Every node is
// evaluated at most once per pass, however many dependents ask for it.
type Pass struct {
	engine *Engine
	event  kfn.Event

	mu       sync.Mutex
	state    PassState
	futures  map[string]*future
	updaters []kfn.StateUpdater
	rows     []kfn.FeatureRow
}

// NewPass starts an empty pass for event.
func (e *Engine) NewPass(event kfn.Event) *Pass {
	e.metrics.init(e.log)
	return &Pass{
		engine:  e,
		event:   event,
		futures: make(map[string]*future),
	}
}

func (p *Pass) Event() kfn.Event { return p.event }

func (p *Pass) State() PassState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// EvaluateNode returns the result of id, evaluating it and its
// dependencies on first request. Concurrent callers share one evaluation.
func (p *Pass) EvaluateNode(ctx context.Context, id string) NodeResult {
	p.mu.Lock()
	if p.state == PassIdle {
		p.state = PassEvaluating
	}
	if f, ok := p.futures[id]; ok {
		p.mu.Unlock()
		select {
		case <-f.done:
			return f.result
		case <-ctx.Done():
			return NodeResult{NodeID: id, Err: ctx.Err()}
		}
	}
	f := &future{done: make(chan struct{})}
	p.futures[id] = f
	p.mu.Unlock()

	f.result = p.evaluate(ctx, id)
	if f.result.Err == nil {
		p.mu.Lock()
		p.updaters = append(p.updaters, f.result.StateUpdaters...)
		p.rows = append(p.rows, f.result.SavedRows...)
		p.mu.Unlock()
	}
	close(f.done)
	return f.result
}

// Evaluate evaluates ids concurrently and returns their results. A failed
// node never stops the others.
func (p *Pass) Evaluate(ctx context.Context, ids ...string) map[string]NodeResult {
	results := make([]NodeResult, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			results[i] = p.EvaluateNode(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]NodeResult, len(ids))
	for i, id := range ids {
		out[id] = results[i]
	}
	return out
}

// Results evaluates every node of the event's type.
func (p *Pass) Results(ctx context.Context) map[string]NodeResult {
	return p.Evaluate(ctx, p.engine.dag.NodesForEventType(p.event.Type)...)
}

// SavedRows returns the rows of every successful node so far.
func (p *Pass) SavedRows() []kfn.FeatureRow {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.rows)
}

// Commit applies the state updaters of every successful node. Updaters of
// one function id run in order while holding that function's lock; different
// function ids run in parallel. Every failure is reported.
func (p *Pass) Commit(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case PassIdle:
		p.mu.Unlock()
		return ErrPassNotEvaluated
	case PassCommitted, PassFailed:
		p.mu.Unlock()
		return ErrPassAlreadyDone
	}
	byFn := make(map[string][]kfn.StateUpdater)
	for _, u := range p.updaters {
		byFn[u.FnID] = append(byFn[u.FnID], u)
	}
	total := len(p.updaters)
	p.mu.Unlock()

	var (
		errMu sync.Mutex
		errs  error
		g     errgroup.Group
	)
	for _, fnID := range slices.Sorted(maps.Keys(byFn)) {
		updaters := byFn[fnID]
		g.Go(func() error {
			unlock := p.engine.queues.lockFn(fnID)
			defer unlock()
			for _, u := range updaters {
				if err := u.Apply(ctx); err != nil {
					errMu.Lock()
					errs = multierr.Append(errs, fmt.Errorf("state updater of %q: %w", fnID, err))
					errMu.Unlock()
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	p.engine.metrics.recordUpdaters(ctx, total)

	p.mu.Lock()
	if errs != nil {
		p.state = PassFailed
	} else {
		p.state = PassCommitted
	}
	p.mu.Unlock()
	return errs
}

// Discard ends the pass without applying its state updaters.
func (p *Pass) Discard() {
	p.mu.Lock()
	p.state = PassFailed
	p.updaters = nil
	p.mu.Unlock()
}

func (p *Pass) evaluate(ctx context.Context, id string) NodeResult {
	n, ok := p.engine.nodes[id]
	if !ok {
		return NodeResult{NodeID: id, Err: fmt.Errorf("%w: %q", ErrNodeNotFound, id)}
	}
	if n.def.EventType != p.event.Type {
		return NodeResult{NodeID: id, Err: fmt.Errorf("%w: node %q handles %q, event is %q",
			ErrWrongEventType, id, n.def.EventType, p.event.Type)}
	}

	ctx, span := tracer.Start(ctx, "trench.Node",
		trace.WithAttributes(
			attribute.String("trench.node.id", id),
			attribute.String("trench.fn.type", string(n.def.Fn.Type)),
			attribute.StringSlice("trench.node.depends_on", n.def.DependsOn),
		),
	)
	defer span.End()

	result := p.run(ctx, n)
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
		p.engine.log.Debug("Node failed", "event_id", p.event.ID, "node", id, "error", result.Err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return result
}

func (p *Pass) run(ctx context.Context, n *node) NodeResult {
	id := n.def.ID
	if n.err != nil {
		return NodeResult{NodeID: id, Err: n.err}
	}

	// Dependencies first, so a queued node never waits for a slot held by
	// one of its own ancestors.
	if err := p.awaitDependencies(ctx, n); err != nil {
		return NodeResult{NodeID: id, Err: err}
	}

	release, err := p.engine.queues.acquireNode(ctx, n.def.Fn.ID, n.stateful)
	if err != nil {
		return NodeResult{NodeID: id, Err: err}
	}
	defer release()

	m := &p.engine.metrics
	m.nodeActive(ctx, 1)
	defer m.nodeActive(ctx, -1)

	start := time.Now()
	out, err := n.resolve(ctx, kfn.ResolveInput{
		Event: p.event,
		GetDependency: func(ctx context.Context, req kfn.DependencyRequest) (any, error) {
			return p.getDependency(ctx, n, req)
		},
	})
	if err == nil && out == nil {
		out = &kfn.Output{}
	}
	var data any
	if err == nil {
		data, err = checkOutput(n, out.Data)
	}
	m.recordNode(ctx, string(n.def.Fn.Type), time.Since(start), err)
	if err != nil {
		return NodeResult{NodeID: id, Err: err}
	}

	return NodeResult{
		NodeID:        id,
		Data:          data,
		StateUpdaters: out.StateUpdaters,
		SavedRows:     out.SavedRows,
	}
}

// awaitDependencies evaluates every dependency of n and reports the first
// failed one in id order.
func (p *Pass) awaitDependencies(ctx context.Context, n *node) error {
	deps := n.def.DependsOn
	if len(deps) == 0 {
		return nil
	}
	results := p.Evaluate(ctx, deps...)
	for _, dep := range deps {
		if r := results[dep]; r.Err != nil {
			return &DependencyError{NodeID: n.def.ID, Dependency: dep, Cause: r.Err}
		}
	}
	return nil
}

func (p *Pass) getDependency(ctx context.Context, n *node, req kfn.DependencyRequest) (any, error) {
	dp := req.DataPath
	if !slices.Contains(n.def.DependsOn, dp.NodeID) {
		return nil, fmt.Errorf("%w: node %q requested %s", ErrUndeclaredDep, n.def.ID, dp)
	}

	// Check statically when the producer declares its schema.
	var known bool
	if req.ExpectedSchema != nil {
		if producer, ok := p.engine.nodes[dp.NodeID]; ok && producer.def.Fn.ReturnSchema != nil {
			known = true
			s := kschema.GetSchemaAtPath(producer.def.Fn.ReturnSchema, dp.Path)
			if s == nil || !kschema.CanBeAssigned(req.ExpectedSchema, s) {
				return nil, fmt.Errorf("%w: node %q expects %s to be %s, but node %q produces %s",
					kschema.ErrTypeMismatch, n.def.ID, dp, req.ExpectedSchema, dp.NodeID, s)
			}
		}
	}

	r := p.EvaluateNode(ctx, dp.NodeID)
	if r.Err != nil {
		return nil, &DependencyError{NodeID: n.def.ID, Dependency: dp.NodeID, Cause: r.Err}
	}
	v, err := dp.Resolve(r.Data)
	if err != nil {
		return nil, fmt.Errorf("node %q reading %s: %w", n.def.ID, dp, err)
	}

	if req.ExpectedSchema != nil && !known {
		parsed, err := kschema.Parse(req.ExpectedSchema, v)
		if err != nil {
			return nil, fmt.Errorf("node %q reading %s from node %q: %w", n.def.ID, dp, dp.NodeID, err)
		}
		return parsed, nil
	}
	return v, nil
}

// checkOutput parses data against the declared return schema.
func checkOutput(n *node, data any) (any, error) {
	rs := n.def.Fn.ReturnSchema
	if rs == nil {
		return data, nil
	}
	parsed, err := kschema.Parse(rs, data)
	if err != nil {
		return nil, fmt.Errorf("node %q output: %w", n.def.ID, err)
	}
	return parsed, nil
}
