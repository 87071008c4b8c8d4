package kdag

import (
	"errors"
	"fmt"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/birdayz/trench/kfn"
	"github.com/birdayz/trench/kschema"
)

func TestNodeDefDependsOn(t *testing.T) {
	n := computedNode("sum", kschema.Of(kschema.TypeInt64),
		path("event", "data", "score"),
		path("event", "data", "user"),
		path("other"),
	)
	assert.Equal(t, []string{"event", "other"}, n.DependsOn)

	n, err := n.WithInputs(kfn.ComputedInputs{Deps: map[string]kschema.DataPath{"x": path("third")}})
	assert.NoError(t, err)
	assert.Equal(t, []string{"third"}, n.DependsOn)

	_, err = NewNodeDef("bad", "", testEventType, kfn.FnDef{Type: "Sum"}, nil)
	assert.True(t, errors.Is(err, kfn.ErrUnknownFnType))

	_, err = NewNodeDef("bad", "", testEventType, kfn.FnDef{Type: kfn.TypeBlocklist}, kfn.CounterInputs{})
	assert.True(t, errors.Is(err, kfn.ErrInvalidInputs))
}

func TestBuild(t *testing.T) {
	t.Run("orders dependencies first", func(t *testing.T) {
		nodes := []NodeDef{
			computedNode("c", kschema.Of(kschema.TypeString), path("b"), path("a")),
			computedNode("b", kschema.Of(kschema.TypeString), path("event", "data", "user")),
			computedNode("a", kschema.Of(kschema.TypeString), path("event", "data", "ip")),
			eventNode("event"),
		}
		dag, err := Build(nodes)
		assert.NoError(t, err)
		assert.Equal(t, []string{"event", "a", "b", "c"}, dag.Order())
		assert.Equal(t, []string{"event", "a", "b", "c"}, dag.NodesForEventType(testEventType))
		assert.Equal(t, []string{"event", "b"}, dag.Closure("b"))
		assert.Equal(t, []string{"a", "b"}, dag.Dependents("event"))
		assert.Equal(t, []string{testEventType}, dag.EventTypes())

		def, ok := dag.Node("c")
		assert.True(t, ok)
		assert.Equal(t, []string{"a", "b"}, def.DependsOn)
		_, ok = dag.Node("missing")
		assert.False(t, ok)
	})

	t.Run("duplicate id", func(t *testing.T) {
		_, err := Build([]NodeDef{eventNode("event"), eventNode("event")})
		assert.True(t, errors.Is(err, ErrNodeAlreadyExists))
	})

	t.Run("invalid id", func(t *testing.T) {
		_, err := Build([]NodeDef{eventNode("has space")})
		assert.True(t, errors.Is(err, ErrInvalidNodeID))
	})

	t.Run("unknown dependency", func(t *testing.T) {
		_, err := Build([]NodeDef{computedNode("a", nil, path("ghost"))})
		assert.True(t, errors.Is(err, ErrNodeNotFound))
		assert.Contains(t, err.Error(), "ghost")
	})

	t.Run("cycle", func(t *testing.T) {
		_, err := Build([]NodeDef{
			computedNode("a", nil, path("b")),
			computedNode("b", nil, path("a")),
		})
		assert.True(t, errors.Is(err, ErrCycleDetected))
		assert.Contains(t, err.Error(), "a -> b -> a")
	})

	t.Run("self reference", func(t *testing.T) {
		_, err := Build([]NodeDef{computedNode("a", nil, path("a"))})
		assert.True(t, errors.Is(err, ErrCycleDetected))
	})

	t.Run("too deep", func(t *testing.T) {
		_, err := Build(chain(MaxDepth + 1))
		assert.True(t, errors.Is(err, ErrInvalidGraph))
	})

	t.Run("separate event types", func(t *testing.T) {
		other := eventNode("signup-event")
		other.EventType = "signup"
		dag, err := Build([]NodeDef{eventNode("event"), other})
		assert.NoError(t, err)
		assert.Equal(t, []string{"signup-event"}, dag.NodesForEventType("signup"))
		assert.Equal(t, []string{"login", "signup"}, dag.EventTypes())
	})
}

func TestPrune(t *testing.T) {
	user := entityNode("user", path("event", "data", "user"))
	score := path("event", "data", "score")

	t.Run("drops unreferenced cache node", func(t *testing.T) {
		nodes := []NodeDef{eventNode("event"), user, cacheNode("cache", "score", score, path("user"))}
		assert.Equal(t, []string{"event", "user"}, ids(Prune(nodes)))
	})

	t.Run("keeps referenced cache node", func(t *testing.T) {
		cacheRef := path("cache")
		nodes := []NodeDef{
			eventNode("event"),
			user,
			cacheNode("cache", "score", score, path("user")),
			getNode("get", "score", path("user"), &cacheRef),
		}
		assert.Equal(t, []string{"event", "user", "cache", "get"}, ids(Prune(nodes)))
	})

	t.Run("one cache node per feature", func(t *testing.T) {
		cacheRef := path("cache-2")
		nodes := []NodeDef{
			eventNode("event"),
			user,
			cacheNode("cache-1", "score", score, path("user")),
			cacheNode("cache-2", "score", score, path("user")),
			cacheNode("cache-3", "score", score, path("user")),
			getNode("get", "score", path("user"), &cacheRef),
		}
		assert.Equal(t, []string{"event", "user", "cache-2", "get"}, ids(Prune(nodes)))
	})

	t.Run("rewires readers of a dropped duplicate", func(t *testing.T) {
		ref1, ref2 := path("cache-1"), path("cache-2")
		nodes := []NodeDef{
			eventNode("event"),
			user,
			cacheNode("cache-1", "score", score, path("user")),
			cacheNode("cache-2", "score", score, path("user")),
			getNode("get-1", "score", path("user"), &ref1),
			getNode("get-2", "score", path("user"), &ref2),
		}
		_, err := Build(nodes)
		assert.NoError(t, err)

		pruned := Prune(nodes)
		assert.Equal(t, []string{"event", "user", "cache-1", "get-1", "get-2"}, ids(pruned))
		assert.Equal(t, []string{"cache-1", "user"}, pruned[4].DependsOn)
		in, ok := pruned[4].Inputs.(kfn.GetEntityFeatureInputs)
		assert.True(t, ok)
		assert.Equal(t, "cache-1", in.Cache.NodeID)
		assert.Equal(t, pruned, Prune(pruned))

		_, err = Build(pruned)
		assert.NoError(t, err)
		assert.Equal(t, map[string]string{}, CheckErrors(pruned))
	})

	t.Run("idempotent", func(t *testing.T) {
		refA := path("cache-a")
		nodes := []NodeDef{
			eventNode("event"),
			user,
			cacheNode("cache-a", "a", score, path("user")),
			cacheNode("cache-a2", "a", score, path("user")),
			cacheNode("cache-b", "b", score, path("user")),
			getNode("get-a", "a", path("user"), &refA),
			getNode("get-b", "b", path("user"), nil),
		}
		once := Prune(nodes)
		assert.Equal(t, once, Prune(once))
		assert.Equal(t, []string{"event", "user", "cache-a", "get-a", "get-b"}, ids(once))
	})

	t.Run("cache node only referenced by a pruned cache node", func(t *testing.T) {
		inner := cacheNode("inner", "x", score, path("user"))
		outer := cacheNode("outer", "y", path("inner"), path("user"))
		nodes := []NodeDef{eventNode("event"), user, inner, outer}
		once := Prune(nodes)
		assert.Equal(t, []string{"event", "user"}, ids(once))
		assert.Equal(t, once, Prune(once))
	})
}

func TestCheckErrors(t *testing.T) {
	valid := []NodeDef{
		eventNode("event"),
		entityNode("user", path("event", "data", "user")),
		computedNode("ok", kschema.Of(kschema.TypeString), path("event", "data", "ip")),
	}
	assert.Equal(t, map[string]string{}, CheckErrors(valid))

	blockedBadPath := MustNodeDef("blocked", "", testEventType, kfn.FnDef{
		ID:     "blocked",
		Type:   kfn.TypeBlocklist,
		Config: kfn.BlocklistConfig{List: []string{"x"}},
	}, kfn.BlocklistInputs{Value: path("event", "data", "missing")})

	blockedWrongType := MustNodeDef("blocked-score", "", testEventType, kfn.FnDef{
		ID:   "blocked-score",
		Type: kfn.TypeBlocklist,
	}, kfn.BlocklistInputs{Value: path("event", "data", "score")})

	drillIntoString := computedNode("drill", nil, path("event", "data", "user", "name"))
	ghost := computedNode("ghost", nil, path("nobody"))

	counter := MustNodeDef("counter", "", testEventType, kfn.FnDef{
		ID:     "counter",
		Type:   kfn.TypeCounter,
		Config: kfn.CounterConfig{},
	}, kfn.CounterInputs{CountBy: []kschema.DataPath{path("user")}})

	expectation := path("event", "data", "score")
	expectation.Schema = kschema.Of(kschema.TypeString)
	wrongExpectation := computedNode("expect", nil, expectation)

	nodes := append(valid, blockedBadPath, blockedWrongType, drillIntoString, ghost, counter, wrongExpectation)
	errs := CheckErrors(nodes)

	assert.Equal(t, 6, len(errs), "%v", errs)
	assert.Contains(t, errs["blocked"], kschema.ErrSchemaNotFound.Error())
	assert.Contains(t, errs["blocked"], "event.data.missing")
	assert.Contains(t, errs["blocked-score"], "want string")
	assert.Contains(t, errs["drill"], kschema.ErrSchemaNotFound.Error())
	assert.Contains(t, errs["ghost"], ErrNodeNotFound.Error())
	assert.Contains(t, errs["counter"], kfn.ErrInvalidConfig.Error())
	assert.Contains(t, errs["expect"], kschema.ErrTypeMismatch.Error())
}

func TestCheckErrorsReportsEveryProblem(t *testing.T) {
	n := MustNodeDef("decide", "", testEventType, kfn.FnDef{
		ID:   "decide",
		Type: kfn.TypeDecision,
		Config: kfn.DecisionConfig{
			Decisions:      []kfn.Decision{{ID: "allow"}},
			ElseDecisionID: "deny",
		},
	}, kfn.DecisionInputs{Conditions: []kfn.Condition{
		{Rules: []kschema.DataPath{path("event", "data", "user")}, DecisionID: "block"},
	}})

	errs := CheckErrors([]NodeDef{eventNode("event"), n})
	msg := errs["decide"]
	for _, want := range []string{`"deny"`, `"block"`, "want boolean"} {
		assert.Contains(t, msg, want)
	}
}

func TestCheckErrorsEventTypeBoundary(t *testing.T) {
	other := computedNode("other", nil, path("event", "data", "user"))
	other.EventType = "signup"
	errs := CheckErrors([]NodeDef{eventNode("event"), other})
	assert.Contains(t, errs["other"], fmt.Sprintf("%q", "signup"))
}
