package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/birdayz/trench/kdag"
	"github.com/birdayz/trench/kfn"
	"github.com/birdayz/trench/ksink"
	"github.com/birdayz/trench/kstate"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Engine evaluates a built graph for incoming events.
//
// Engine is safe for concurrent use. Every event gets its own Pass.
type Engine struct {
	dag   *kdag.DAG
	nodes map[string]*node

	log     *slog.Logger
	store   kstate.CountingStore
	sandbox kfn.Sandbox
	sink    ksink.Sink

	maxConcurrentEvents int
	pureConcurrency     int
	statefulConcurrency int

	queues  *queues
	metrics metrics
}

// node is a NodeDef with its resolver. err is set when no resolver could
// be built; every evaluation of the node then fails with it.
type node struct {
	def      kdag.NodeDef
	stateful bool
	resolve  kfn.Resolver
	err      error
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
var WithLogger = func(log *slog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithStore sets the counting store used by stateful functions
var WithStore = func(store kstate.CountingStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithSandbox sets the sandbox running Computed functions
var WithSandbox = func(sandbox kfn.Sandbox) Option {
	return func(e *Engine) {
		e.sandbox = sandbox
	}
}

// WithSink sets where saved rows of committed passes are written
var WithSink = func(sink ksink.Sink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

// WithMaxConcurrentEvents bounds the number of events processed at once
var WithMaxConcurrentEvents = func(n int) Option {
	return func(e *Engine) {
		e.maxConcurrentEvents = n
	}
}

// WithPureConcurrency bounds concurrent evaluations of stateless functions
var WithPureConcurrency = func(n int) Option {
	return func(e *Engine) {
		e.pureConcurrency = n
	}
}

// WithStatefulConcurrency bounds concurrent evaluations of stateful
// functions. Each function id is additionally limited to one at a time.
var WithStatefulConcurrency = func(n int) Option {
	return func(e *Engine) {
		e.statefulConcurrency = n
	}
}

// NewEngine prepares the resolvers of every node in dag.
func NewEngine(dag *kdag.DAG, opts ...Option) (*Engine, error) {
	if dag == nil {
		return nil, fmt.Errorf("%w: nil DAG", ErrInvalidEngineInput)
	}

	e := &Engine{
		dag:                 dag,
		nodes:               make(map[string]*node, len(dag.Order())),
		log:                 slog.New(slog.DiscardHandler),
		maxConcurrentEvents: DefaultMaxConcurrentEvents,
		pureConcurrency:     DefaultPureConcurrency,
		statefulConcurrency: DefaultStatefulConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.queues = newQueues(e.maxConcurrentEvents, e.pureConcurrency, e.statefulConcurrency)

	fctx := kfn.Context{Store: e.store, Sandbox: e.sandbox}
	for _, def := range dag.NodeDefs() {
		n := &node{def: def}
		e.nodes[def.ID] = n

		kind, err := kfn.Lookup(def.Fn.Type)
		if err != nil {
			n.err = err
			continue
		}
		n.stateful = kind.Stateful()
		n.resolve, n.err = kind.NewResolver(kfn.ResolverArgs{
			FnDef:   def.Fn,
			Inputs:  def.Inputs,
			Context: fctx,
		})
		if n.err != nil {
			e.log.Warn("Node cannot be evaluated", "node", def.ID, "fn_type", def.Fn.Type, "error", n.err)
		}
	}

	e.log.Info("Engine ready",
		"nodes", len(e.nodes),
		"event_types", dag.EventTypes(),
		"max_concurrent_events", e.maxConcurrentEvents)
	return e, nil
}

// DAG returns the graph the engine evaluates.
func (e *Engine) DAG() *kdag.DAG {
	return e.dag
}

// ProcessOptions controls a single Process call.
type ProcessOptions struct {
	// DryRun evaluates without committing state updaters or writing rows.
	DryRun bool
	// NodeIDs restricts evaluation to these nodes and their dependencies.
	// Empty means every node of the event type.
	NodeIDs []string
}

// PassResult is the outcome of processing one event.
type PassResult struct {
	Event     kfn.Event
	Results   map[string]NodeResult
	SavedRows []kfn.FeatureRow
	Committed bool
	Duration  time.Duration
}

// Errors returns the message of every failed node keyed by node id.
func (r *PassResult) Errors() map[string]string {
	out := make(map[string]string)
	for id, res := range r.Results {
		if res.Err != nil {
			out[id] = res.Err.Error()
		}
	}
	return out
}

// Process evaluates event, commits its state updaters and writes its saved
// rows to the sink. Node failures are reported in the result; the returned
// error is only set when the event could not be processed at all.
func (e *Engine) Process(ctx context.Context, event kfn.Event, opts ProcessOptions) (*PassResult, error) {
	release, err := e.queues.acquireEvent(ctx)
	if err != nil {
		return nil, e.processingError(err, StageEvaluate, event)
	}
	defer release()

	e.metrics.init(e.log)
	start := time.Now()

	ctx, span := tracer.Start(ctx, "trench.Process",
		trace.WithAttributes(
			attribute.String("trench.event.id", event.ID),
			attribute.String("trench.event.type", event.Type),
			attribute.Bool("trench.dry_run", opts.DryRun),
		),
	)
	defer span.End()

	pass := e.NewPass(event)
	var results map[string]NodeResult
	if len(opts.NodeIDs) > 0 {
		results = pass.Evaluate(ctx, opts.NodeIDs...)
	} else {
		results = pass.Results(ctx)
	}

	res := &PassResult{
		Event:     event,
		Results:   results,
		SavedRows: pass.SavedRows(),
	}
	defer func() {
		res.Duration = time.Since(start)
		e.metrics.recordPass(ctx, event.Type, res.Duration)
	}()

	if opts.DryRun {
		pass.Discard()
		span.SetStatus(codes.Ok, "")
		return res, nil
	}

	// An event type without nodes has nothing to commit.
	if len(results) == 0 {
		res.Committed = true
		span.SetStatus(codes.Ok, "")
		return res, nil
	}

	if err := pass.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, e.processingError(err, StageCommit, event)
	}
	res.Committed = true

	if e.sink != nil && len(res.SavedRows) > 0 {
		if err := e.sink.Write(ctx, res.SavedRows); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return res, e.processingError(err, StageSink, event)
		}
	}

	e.log.Debug("Processed event",
		"event_id", event.ID,
		"event_type", event.Type,
		"nodes", len(results),
		"failed", len(res.Errors()),
		"rows", len(res.SavedRows))
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (e *Engine) processingError(err error, stage ProcessingStage, event kfn.Event) *ProcessingError {
	return &ProcessingError{
		Cause:     err,
		Stage:     stage,
		EventID:   event.ID,
		EventType: event.Type,
	}
}
