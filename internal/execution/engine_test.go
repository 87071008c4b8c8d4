package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/birdayz/trench/kcount"
	"github.com/birdayz/trench/kdag"
	"github.com/birdayz/trench/kfn"
	"github.com/birdayz/trench/kschema"
	"github.com/birdayz/trench/ksink"
	"github.com/birdayz/trench/kstate"
)

const loginType = "login"

var (
	int64Schema  = kschema.Of(kschema.TypeInt64)
	stringSchema = kschema.Of(kschema.TypeString)
	loginData    = kschema.ObjectOf(map[string]*kschema.Schema{
		"user":  stringSchema,
		"score": int64Schema,
	})
)

// stubSandbox runs Go functions keyed by function id and counts the calls.
type stubSandbox struct {
	fns map[string]func(deps map[string]any) (any, error)

	mu    sync.Mutex
	calls map[string]int
}

func newStubSandbox() *stubSandbox {
	return &stubSandbox{
		fns:   make(map[string]func(map[string]any) (any, error)),
		calls: make(map[string]int),
	}
}

func (s *stubSandbox) Evaluate(_ context.Context, p kfn.Program, deps map[string]any, _ kfn.Event) (any, error) {
	s.mu.Lock()
	s.calls[p.FnID]++
	s.mu.Unlock()
	fn, ok := s.fns[p.FnID]
	if !ok {
		return nil, fmt.Errorf("no stub for %s", p.FnID)
	}
	return fn(deps)
}

func (s *stubSandbox) callCount(fnID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[fnID]
}

func path(nodeID string, segments ...string) kschema.DataPath {
	return kschema.DataPath{NodeID: nodeID, Path: segments}
}

func eventDef() kdag.NodeDef {
	return kdag.MustNodeDef("event", "Event", loginType, kfn.FnDef{
		ID:           "event",
		Type:         kfn.TypeEvent,
		ReturnSchema: kfn.EventSchema(loginData),
	}, nil)
}

func computedDef(id string, returns *kschema.Schema, deps map[string]kschema.DataPath) kdag.NodeDef {
	return kdag.MustNodeDef(id, id, loginType, kfn.FnDef{
		ID:           id,
		Type:         kfn.TypeComputed,
		ReturnSchema: returns,
		Config:       kfn.ComputedConfig{Code: id},
	}, kfn.ComputedInputs{Deps: deps})
}

func counterDef(id string) kdag.NodeDef {
	return kdag.MustNodeDef(id, id, loginType, kfn.FnDef{
		ID:           id,
		Type:         kfn.TypeCounter,
		ReturnSchema: int64Schema,
		Config:       kfn.CounterConfig{Window: kcount.Window{Unit: kcount.Hours, Number: 1}},
	}, kfn.CounterInputs{CountBy: []kschema.DataPath{path("event", "data", "user")}})
}

func logDef(id string) kdag.NodeDef {
	return kdag.MustNodeDef(id, id, loginType, kfn.FnDef{
		ID:           id,
		Type:         kfn.TypeLogEntityFeature,
		ReturnSchema: kschema.Of(kschema.TypeNull),
		Config:       kfn.EntityFeatureConfig{FeatureID: "user-name", FeatureSchema: stringSchema},
	}, kfn.LogEntityFeatureInputs{Value: path("event", "data", "user")})
}

func newTestEngine(t *testing.T, defs []kdag.NodeDef, opts ...Option) *Engine {
	t.Helper()
	dag, err := kdag.Build(defs)
	assert.NoError(t, err)
	e, err := NewEngine(dag, opts...)
	assert.NoError(t, err)
	return e
}

func login(id, user string) kfn.Event {
	return kfn.Event{
		ID:        id,
		Type:      loginType,
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Data:      map[string]any{"user": user, "score": int64(21)},
	}
}

func TestNewEngineRejectsNilDAG(t *testing.T) {
	_, err := NewEngine(nil)
	assert.IsError(t, err, ErrInvalidEngineInput)
}

func TestMemoization(t *testing.T) {
	sandbox := newStubSandbox()
	sandbox.fns["shared"] = func(deps map[string]any) (any, error) {
		return deps["score"].(int64) * 2, nil
	}
	sandbox.fns["left"] = func(deps map[string]any) (any, error) {
		return deps["x"].(int64) + 1, nil
	}
	sandbox.fns["right"] = func(deps map[string]any) (any, error) {
		return deps["x"].(int64) - 1, nil
	}

	e := newTestEngine(t, []kdag.NodeDef{
		eventDef(),
		computedDef("shared", int64Schema, map[string]kschema.DataPath{"score": path("event", "data", "score")}),
		computedDef("left", int64Schema, map[string]kschema.DataPath{"x": path("shared")}),
		computedDef("right", int64Schema, map[string]kschema.DataPath{"x": path("shared")}),
	}, WithSandbox(sandbox))

	res, err := e.Process(context.Background(), login("e1", "alice"), ProcessOptions{})
	assert.NoError(t, err)
	assert.Equal(t, map[string]string{}, res.Errors())
	assert.Equal(t, any(int64(42)), res.Results["shared"].Data)
	assert.Equal(t, any(int64(43)), res.Results["left"].Data)
	assert.Equal(t, any(int64(41)), res.Results["right"].Data)
	assert.Equal(t, 1, sandbox.callCount("shared"))
	assert.True(t, res.Committed)
}

func TestFailureIsolation(t *testing.T) {
	sandbox := newStubSandbox()
	sandbox.fns["broken"] = func(map[string]any) (any, error) {
		return nil, errors.New("boom")
	}
	sandbox.fns["dependent"] = func(deps map[string]any) (any, error) {
		return deps["x"], nil
	}
	sandbox.fns["healthy"] = func(map[string]any) (any, error) {
		return "ok", nil
	}

	e := newTestEngine(t, []kdag.NodeDef{
		eventDef(),
		computedDef("broken", int64Schema, nil),
		computedDef("dependent", int64Schema, map[string]kschema.DataPath{"x": path("broken")}),
		computedDef("healthy", stringSchema, map[string]kschema.DataPath{"user": path("event", "data", "user")}),
		counterDef("logins"),
	}, WithSandbox(sandbox), WithStore(kstate.NewMemoryStore()))

	res, err := e.Process(context.Background(), login("e1", "alice"), ProcessOptions{})
	assert.NoError(t, err)

	errs := res.Errors()
	assert.Equal(t, 2, len(errs))
	assert.Contains(t, errs["broken"], "boom")
	assert.Contains(t, errs["dependent"], `dependency "broken" of node "dependent" failed:`)
	assert.True(t, errors.Is(res.Results["dependent"].Err, ErrDependencyFailed))
	assert.Equal(t, 0, sandbox.callCount("dependent"))

	assert.True(t, res.Results["healthy"].OK())
	assert.Equal(t, any("ok"), res.Results["healthy"].Data)
	assert.Equal(t, any(int64(1)), res.Results["logins"].Data)
	assert.True(t, res.Committed)
}

func TestSchemaChecks(t *testing.T) {
	sandbox := newStubSandbox()
	sandbox.fns["bad-return"] = func(map[string]any) (any, error) {
		return "not a number", nil
	}
	sandbox.fns["label"] = func(map[string]any) (any, error) {
		return "suspicious", nil
	}

	decision := kdag.MustNodeDef("decision", "Decision", loginType, kfn.FnDef{
		ID:           "decision",
		Type:         kfn.TypeDecision,
		ReturnSchema: stringSchema,
		Config: kfn.DecisionConfig{
			Decisions:      []kfn.Decision{{ID: "allow"}, {ID: "deny"}},
			ElseDecisionID: "allow",
		},
	}, kfn.DecisionInputs{Conditions: []kfn.Condition{{
		Rules:      []kschema.DataPath{path("label")},
		DecisionID: "deny",
	}}})

	e := newTestEngine(t, []kdag.NodeDef{
		eventDef(),
		computedDef("bad-return", int64Schema, nil),
		computedDef("label", stringSchema, nil),
		decision,
	}, WithSandbox(sandbox))

	res, err := e.Process(context.Background(), login("e1", "alice"), ProcessOptions{})
	assert.NoError(t, err)

	errs := res.Errors()
	assert.Contains(t, errs["bad-return"], `node "bad-return" output`)

	assert.True(t, errors.Is(res.Results["decision"].Err, kschema.ErrTypeMismatch))
	assert.Contains(t, errs["decision"], `but node "label" produces`)
	assert.True(t, res.Results["label"].OK())
}

func TestCounterCommit(t *testing.T) {
	e := newTestEngine(t, []kdag.NodeDef{eventDef(), counterDef("logins")},
		WithStore(kstate.NewMemoryStore()))
	ctx := context.Background()

	steps := []struct {
		dryRun bool
		want   int64
	}{
		{false, 1},
		{true, 2},
		{false, 2},
		{false, 3},
	}
	for i, step := range steps {
		res, err := e.Process(ctx, login(fmt.Sprintf("e%d", i), "alice"), ProcessOptions{DryRun: step.dryRun})
		assert.NoError(t, err)
		assert.Equal(t, any(step.want), res.Results["logins"].Data)
		assert.Equal(t, !step.dryRun, res.Committed)
	}

	res, err := e.Process(ctx, login("other", "bob"), ProcessOptions{DryRun: true})
	assert.NoError(t, err)
	assert.Equal(t, any(int64(1)), res.Results["logins"].Data)
}

func TestConcurrentProcess(t *testing.T) {
	e := newTestEngine(t, []kdag.NodeDef{eventDef(), counterDef("logins")},
		WithStore(kstate.NewMemoryStore()),
		WithMaxConcurrentEvents(4),
		WithStatefulConcurrency(2),
	)
	ctx := context.Background()

	const events = 50
	var wg sync.WaitGroup
	for i := range events {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.Process(ctx, login(fmt.Sprintf("e%d", i), "alice"), ProcessOptions{})
			assert.NoError(t, err)
			assert.True(t, res.Results["logins"].OK())
		}()
	}
	wg.Wait()

	res, err := e.Process(ctx, login("check", "alice"), ProcessOptions{DryRun: true})
	assert.NoError(t, err)
	assert.Equal(t, any(int64(events+1)), res.Results["logins"].Data)
}

func TestMissingCollaborators(t *testing.T) {
	e := newTestEngine(t, []kdag.NodeDef{
		eventDef(),
		computedDef("computed", stringSchema, nil),
		counterDef("logins"),
	})

	res, err := e.Process(context.Background(), login("e1", "alice"), ProcessOptions{})
	assert.NoError(t, err)
	assert.True(t, res.Results["event"].OK())
	assert.True(t, errors.Is(res.Results["computed"].Err, kfn.ErrMissingSandbox))
	assert.True(t, errors.Is(res.Results["logins"].Err, kfn.ErrMissingStore))
}

func TestSelectedNodes(t *testing.T) {
	sandbox := newStubSandbox()
	sandbox.fns["a"] = func(map[string]any) (any, error) { return "a", nil }
	sandbox.fns["b"] = func(map[string]any) (any, error) { return "b", nil }

	e := newTestEngine(t, []kdag.NodeDef{
		eventDef(),
		computedDef("a", stringSchema, map[string]kschema.DataPath{"e": path("event", "id")}),
		computedDef("b", stringSchema, nil),
	}, WithSandbox(sandbox))

	res, err := e.Process(context.Background(), login("e1", "alice"), ProcessOptions{NodeIDs: []string{"a"}})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(res.Results))
	assert.Equal(t, 0, sandbox.callCount("b"))
}

func TestPass(t *testing.T) {
	signup := kdag.MustNodeDef("signup-event", "Signup", "signup", kfn.FnDef{
		ID:   "signup-event",
		Type: kfn.TypeEvent,
	}, nil)
	e := newTestEngine(t, []kdag.NodeDef{eventDef(), counterDef("logins"), signup},
		WithStore(kstate.NewMemoryStore()))
	ctx := context.Background()

	t.Run("commit before evaluate", func(t *testing.T) {
		p := e.NewPass(login("e1", "alice"))
		assert.Equal(t, PassIdle, p.State())
		assert.IsError(t, p.Commit(ctx), ErrPassNotEvaluated)
	})

	t.Run("commit twice", func(t *testing.T) {
		p := e.NewPass(login("e1", "alice"))
		p.Results(ctx)
		assert.Equal(t, PassEvaluating, p.State())
		assert.NoError(t, p.Commit(ctx))
		assert.Equal(t, PassCommitted, p.State())
		assert.IsError(t, p.Commit(ctx), ErrPassAlreadyDone)
	})

	t.Run("discard", func(t *testing.T) {
		p := e.NewPass(login("e1", "alice"))
		p.Results(ctx)
		p.Discard()
		assert.Equal(t, PassFailed, p.State())
		assert.IsError(t, p.Commit(ctx), ErrPassAlreadyDone)
	})

	t.Run("unknown node", func(t *testing.T) {
		p := e.NewPass(login("e1", "alice"))
		assert.IsError(t, p.EvaluateNode(ctx, "nope").Err, ErrNodeNotFound)
	})

	t.Run("wrong event type", func(t *testing.T) {
		p := e.NewPass(login("e1", "alice"))
		assert.IsError(t, p.EvaluateNode(ctx, "signup-event").Err, ErrWrongEventType)
	})

	t.Run("results cover the event type", func(t *testing.T) {
		p := e.NewPass(login("e1", "alice"))
		results := p.Results(ctx)
		assert.Equal(t, 2, len(results))
		_, ok := results["signup-event"]
		assert.False(t, ok)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := e.Process(cctx, login("e1", "alice"), ProcessOptions{})
		var perr *ProcessingError
		assert.True(t, errors.As(err, &perr))
		assert.Equal(t, StageEvaluate, perr.Stage)
		assert.IsError(t, err, context.Canceled)
	})
}

func TestSink(t *testing.T) {
	sink := ksink.NewMemorySink()
	e := newTestEngine(t, []kdag.NodeDef{eventDef(), logDef("log-user")}, WithSink(sink))
	ctx := context.Background()

	_, err := e.Process(ctx, login("dry", "alice"), ProcessOptions{DryRun: true})
	assert.NoError(t, err)
	assert.Equal(t, 0, len(sink.Rows()))

	res, err := e.Process(ctx, login("e1", "alice"), ProcessOptions{})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(res.SavedRows))

	rows := sink.Rows()
	assert.Equal(t, 1, len(rows))
	assert.Equal(t, "e1", rows[0].EventID)
	assert.Equal(t, "user-name", rows[0].FeatureID)
	assert.Equal(t, "alice", *rows[0].ValueString)

	assert.NoError(t, sink.Close())
	_, err = e.Process(ctx, login("e2", "alice"), ProcessOptions{})
	var perr *ProcessingError
	assert.True(t, errors.As(err, &perr))
	assert.Equal(t, StageSink, perr.Stage)
	assert.IsError(t, err, ksink.ErrClosed)
}

func TestEventTypeWithoutNodes(t *testing.T) {
	sink := ksink.NewMemorySink()
	e := newTestEngine(t, []kdag.NodeDef{eventDef(), counterDef("logins"), logDef("log-user")},
		WithSink(sink), WithStore(kstate.NewMemoryStore()))
	ctx := context.Background()

	pageview := kfn.Event{ID: "p1", Type: "pageview", Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	for _, dryRun := range []bool{false, true} {
		res, err := e.Process(ctx, pageview, ProcessOptions{DryRun: dryRun})
		assert.NoError(t, err)
		assert.Equal(t, 0, len(res.Results))
		assert.Equal(t, 0, len(res.SavedRows))
		assert.Equal(t, !dryRun, res.Committed)
	}
	assert.Equal(t, 0, len(sink.Rows()))

	// Logins are unaffected.
	res, err := e.Process(ctx, login("e1", "alice"), ProcessOptions{})
	assert.NoError(t, err)
	assert.Equal(t, any(int64(1)), res.Results["logins"].Data)
}
