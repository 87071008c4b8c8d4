package trench

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/birdayz/trench/kcount"
	"github.com/birdayz/trench/kdag"
	"github.com/birdayz/trench/kfn"
	"github.com/birdayz/trench/kschema"
	"github.com/birdayz/trench/ksandbox/hclexpr"
	"github.com/birdayz/trench/ksink"
	"github.com/birdayz/trench/kstate"
)

func loginGraph() []kdag.NodeDef {
	data := kschema.ObjectOf(map[string]*kschema.Schema{
		"user": kschema.Of(kschema.TypeString),
		"ip":   kschema.Of(kschema.TypeString),
	})
	userPath := kschema.DataPath{NodeID: "event", Path: []string{"data", "user"}}
	return []kdag.NodeDef{
		kdag.MustNodeDef("event", "Event", "login", kfn.FnDef{
			ID:           "event",
			Type:         kfn.TypeEvent,
			ReturnSchema: kfn.EventSchema(data),
		}, nil),
		kdag.MustNodeDef("logins", "Logins per user", "login", kfn.FnDef{
			ID:           "logins",
			Type:         kfn.TypeCounter,
			ReturnSchema: kschema.Of(kschema.TypeInt64),
			Config:       kfn.CounterConfig{Window: kcount.Window{Unit: kcount.Hours, Number: 1}},
		}, kfn.CounterInputs{CountBy: []kschema.DataPath{userPath}}),
		kdag.MustNodeDef("too-many", "Too many logins", "login", kfn.FnDef{
			ID:           "too-many",
			Type:         kfn.TypeComputed,
			ReturnSchema: kschema.Of(kschema.TypeBoolean),
			Config:       kfn.ComputedConfig{Code: "deps.logins > 2"},
		}, kfn.ComputedInputs{Deps: map[string]kschema.DataPath{"logins": {NodeID: "logins"}}}),
		kdag.MustNodeDef("decision", "Decision", "login", kfn.FnDef{
			ID:           "decision",
			Type:         kfn.TypeDecision,
			ReturnSchema: kschema.Of(kschema.TypeString),
			Config: kfn.DecisionConfig{
				Decisions:      []kfn.Decision{{ID: "allow"}, {ID: "review"}},
				ElseDecisionID: "allow",
			},
		}, kfn.DecisionInputs{Conditions: []kfn.Condition{{
			Rules:      []kschema.DataPath{{NodeID: "too-many"}},
			DecisionID: "review",
		}}}),
		kdag.MustNodeDef("log-ip", "Log IP", "login", kfn.FnDef{
			ID:           "log-ip",
			Type:         kfn.TypeLogEntityFeature,
			ReturnSchema: kschema.Of(kschema.TypeNull),
			Config:       kfn.EntityFeatureConfig{FeatureID: "ip", FeatureSchema: kschema.Of(kschema.TypeString)},
		}, kfn.LogEntityFeatureInputs{Value: kschema.DataPath{NodeID: "event", Path: []string{"data", "ip"}}}),
	}
}

func TestApp_CloseBeforeRun(t *testing.T) {
	app := MustNew(nil, "test-group")
	assert.NoError(t, app.Close())
}

func TestApp_RunWithoutTopics(t *testing.T) {
	app := MustNew(nil, "test-group")
	assert.IsError(t, app.Run(), ErrNoTopics)
}

func TestApp_Validation(t *testing.T) {
	t.Run("store required", func(t *testing.T) {
		_, err := New(loginGraph(), "test-group", WithSandbox(hclexpr.New()))
		assert.IsError(t, err, ErrStoreRequired)
	})

	t.Run("broken nodes", func(t *testing.T) {
		nodes := loginGraph()
		nodes[2].Fn.ReturnSchema = kschema.Of(kschema.TypeString)
		_, err := New(nodes, "test-group", WithStore(kstate.NewMemoryStore()))
		assert.IsError(t, err, ErrInvalidGraph)

		var gerr *GraphError
		assert.True(t, errors.As(err, &gerr))
		_, ok := gerr.Nodes["decision"]
		assert.True(t, ok)
		assert.Contains(t, err.Error(), "decision:")
	})
}

func TestApp_Process(t *testing.T) {
	sink := ksink.NewMemorySink()
	app, err := New(loginGraph(), "test-group",
		WithStore(kstate.NewMemoryStore()),
		WithSandbox(hclexpr.New()),
		WithSink(sink),
	)
	assert.NoError(t, err)
	ctx := context.Background()

	want := []string{"allow", "allow", "review"}
	for i, decision := range want {
		res, err := app.Process(ctx, Event{
			ID:        string(rune('a' + i)),
			Type:      "login",
			Timestamp: time.Date(2024, 3, 1, 12, i, 0, 0, time.UTC),
			Data:      map[string]any{"user": "alice", "ip": "10.0.0.1"},
		}, ProcessOptions{})
		assert.NoError(t, err)
		assert.Equal(t, map[string]string{}, res.Errors())
		assert.Equal(t, any(decision), res.Results["decision"].Data)
	}
	assert.Equal(t, 3, len(sink.Rows()))
	assert.NoError(t, app.Close())
}

func TestApp_Prune(t *testing.T) {
	nodes := append(loginGraph(), kdag.MustNodeDef("cache-ip", "Cache IP", "login", kfn.FnDef{
		ID:           "cache-ip",
		Type:         kfn.TypeCacheEntityFeature,
		ReturnSchema: kschema.Of(kschema.TypeNull),
		Config:       kfn.EntityFeatureConfig{FeatureID: "last-ip", FeatureSchema: kschema.Of(kschema.TypeString)},
	}, kfn.CacheEntityFeatureInputs{
		Value:  kschema.DataPath{NodeID: "event", Path: []string{"data", "ip"}},
		Entity: kschema.DataPath{NodeID: "user"},
	}), kdag.MustNodeDef("user", "User", "login", kfn.FnDef{
		ID:           "user",
		Type:         kfn.TypeEntityAppearance,
		ReturnSchema: kschema.EntityOf("User"),
		Config:       kfn.EntityAppearanceConfig{EntityType: "User"},
	}, kfn.EntityAppearanceInputs{Source: kschema.DataPath{NodeID: "event", Path: []string{"data", "user"}}}))

	app, err := New(nodes, "test-group",
		WithStore(kstate.NewMemoryStore()),
		WithSandbox(hclexpr.New()),
		WithPrune(),
	)
	assert.NoError(t, err)
	_, ok := app.DAG().Node("cache-ip")
	assert.False(t, ok)
	_, ok = app.DAG().Node("decision")
	assert.True(t, ok)
}
