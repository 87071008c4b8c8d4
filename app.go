// Package trench evaluates typed feature graphs for streams of events.
//
// An App wraps a validated graph in an execution engine. Events can be
// processed directly with Process, or consumed from Kafka with Run:
//
//	app, err := trench.New(nodes, "fraud-features",
//		trench.WithStore(kstate.NewMemoryStore()),
//		trench.WithSandbox(hclexpr.New()),
//		trench.WithTopics("login"),
//	)
//	if err != nil {
//		return err
//	}
//	go app.Run()
//	defer app.Close()
package trench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/birdayz/trench/internal/execution"
	"github.com/birdayz/trench/kdag"
	"github.com/birdayz/trench/kfn"
	"github.com/birdayz/trench/ksink"
	"github.com/birdayz/trench/kstate"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrStoreRequired is returned when a graph with stateful functions is
	// created without WithStore()
	ErrStoreRequired = errors.New("trench: WithStore() is required for graphs with stateful functions")
	ErrInvalidGraph  = errors.New("trench: graph has invalid nodes")
	ErrNoTopics      = errors.New("trench: WithTopics() is required to consume events")
)

// GraphError lists the problems of every broken node.
type GraphError struct {
	Nodes map[string]string
}

func (e *GraphError) Error() string {
	var b strings.Builder
	b.WriteString(ErrInvalidGraph.Error())
	for _, id := range slices.Sorted(maps.Keys(e.Nodes)) {
		fmt.Fprintf(&b, "\n  %s: %s", id, e.Nodes[id])
	}
	return b.String()
}

func (e *GraphError) Unwrap() error {
	return ErrInvalidGraph
}

type (
	Event          = kfn.Event
	ProcessOptions = execution.ProcessOptions
	PassResult     = execution.PassResult
	NodeResult     = execution.NodeResult
)

type App struct {
	numRoutines int
	brokers     []string
	groupName   string
	topics      []string
	dag         *kdag.DAG
	prune       bool

	engine *execution.Engine

	mu       sync.Mutex
	routines []*execution.Worker

	log *slog.Logger

	eg *errgroup.Group

	store   kstate.CountingStore
	sandbox kfn.Sandbox
	sink    ksink.Sink
	decoder execution.EventDecoder

	maxConcurrentEvents int
	pureConcurrency     int
	statefulConcurrency int

	commitInterval       time.Duration
	pollTimeout          time.Duration
	recordProcessTimeout time.Duration
	maxPollRecords       int

	errorHandler execution.ErrorHandler
	dlqTopic     string
}

// New validates nodes and prepares the engine. Every broken node is
// reported in a *GraphError.
func New(nodes []kdag.NodeDef, groupName string, opts ...Option) (*App, error) {
	a := &App{
		numRoutines:          1,
		brokers:              []string{"localhost:9092"},
		groupName:            groupName,
		log:                  NullLogger(),
		commitInterval:       time.Second * 5,
		pollTimeout:          time.Second * 10,
		recordProcessTimeout: time.Second * 60,
		maxPollRecords:       10000,
		maxConcurrentEvents:  execution.DefaultMaxConcurrentEvents,
		pureConcurrency:      execution.DefaultPureConcurrency,
		statefulConcurrency:  execution.DefaultStatefulConcurrency,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.prune {
		before := len(nodes)
		nodes = kdag.Prune(nodes)
		a.log.Info("Pruned graph", "before", before, "after", len(nodes))
	}
	if errs := kdag.CheckErrors(nodes); len(errs) > 0 {
		return nil, &GraphError{Nodes: errs}
	}

	dag, err := kdag.Build(nodes)
	if err != nil {
		return nil, err
	}
	a.dag = dag

	if a.store == nil {
		for _, n := range nodes {
			if kfn.IsStateful(n.Fn.Type) {
				return nil, fmt.Errorf("%w: node %q", ErrStoreRequired, n.ID)
			}
		}
	}

	engineOpts := []execution.Option{
		execution.WithLogger(a.log.WithGroup("engine")),
		execution.WithMaxConcurrentEvents(a.maxConcurrentEvents),
		execution.WithPureConcurrency(a.pureConcurrency),
		execution.WithStatefulConcurrency(a.statefulConcurrency),
	}
	if a.store != nil {
		engineOpts = append(engineOpts, execution.WithStore(a.store))
	}
	if a.sandbox != nil {
		engineOpts = append(engineOpts, execution.WithSandbox(a.sandbox))
	}
	if a.sink != nil {
		engineOpts = append(engineOpts, execution.WithSink(a.sink))
	}
	a.engine, err = execution.NewEngine(dag, engineOpts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// MustNew is like New but panics on error.
func MustNew(nodes []kdag.NodeDef, groupName string, opts ...Option) *App {
	app, err := New(nodes, groupName, opts...)
	if err != nil {
		panic(err)
	}
	return app
}

// DAG returns the built graph.
func (a *App) DAG() *kdag.DAG {
	return a.dag
}

// Process evaluates a single event. Node failures are part of the result.
func (a *App) Process(ctx context.Context, event Event, opts ProcessOptions) (*PassResult, error) {
	return a.engine.Process(ctx, event, opts)
}

// Run blocks until it's exited, either by an error or by a graceful shutdown
// triggered by a call to Close.
func (a *App) Run() error {
	if len(a.topics) == 0 {
		return ErrNoTopics
	}

	grp := errgroup.Group{}
	a.mu.Lock()
	a.eg = &grp
	for i := 0; i < a.numRoutines; i++ {
		routine, err := execution.NewWorker(
			a.log.WithGroup("worker").With("routine", fmt.Sprintf("routine-%d", i)),
			a.engine,
			execution.WorkerConfig{
				Brokers:              a.brokers,
				Group:                a.groupName,
				Topics:               a.topics,
				Decoder:              a.decoder,
				PollTimeout:          a.pollTimeout,
				RecordProcessTimeout: a.recordProcessTimeout,
				MaxPollRecords:       a.maxPollRecords,
				CommitInterval:       a.commitInterval,
				ErrorHandler:         a.errorHandler,
				DLQTopic:             a.dlqTopic,
			})
		if err != nil {
			a.mu.Unlock()
			return err
		}
		a.routines = append(a.routines, routine)
		grp.Go(routine.Run)
	}
	a.mu.Unlock()
	return grp.Wait()
}

// Close gracefully shuts down the application and flushes the sink.
func (a *App) Close() error {
	a.mu.Lock()
	routines := slices.Clone(a.routines)
	eg := a.eg
	a.mu.Unlock()

	var wg sync.WaitGroup
	for _, routine := range routines {
		wg.Add(1)
		go func(routine *execution.Worker) {
			defer wg.Done()
			_ = routine.Close()
		}(routine)
	}
	wg.Wait()

	var err error
	if eg != nil {
		err = eg.Wait()
	}
	if a.sink != nil {
		err = errors.Join(err, a.sink.Flush(context.Background()))
	}
	return err
}
