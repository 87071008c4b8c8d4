package kdag

import (
	"github.com/birdayz/trench/kfn"
	"github.com/birdayz/trench/kschema"
)

const testEventType = "login"

var userDataSchema = kschema.ObjectOf(map[string]*kschema.Schema{
	"user":  kschema.Of(kschema.TypeString),
	"ip":    kschema.Of(kschema.TypeString),
	"score": kschema.Of(kschema.TypeInt64),
})

func path(nodeID string, segments ...string) kschema.DataPath {
	return kschema.DataPath{NodeID: nodeID, Path: segments}
}

func eventNode(id string) NodeDef {
	return MustNodeDef(id, "Event", testEventType, kfn.FnDef{
		ID:           id,
		Type:         kfn.TypeEvent,
		ReturnSchema: kfn.EventSchema(userDataSchema),
	}, nil)
}

func computedNode(id string, returns *kschema.Schema, deps ...kschema.DataPath) NodeDef {
	in := kfn.ComputedInputs{Deps: make(map[string]kschema.DataPath, len(deps))}
	for i, dp := range deps {
		in.Deps[string(rune('a'+i))] = dp
	}
	return MustNodeDef(id, id, testEventType, kfn.FnDef{
		ID:           id,
		Type:         kfn.TypeComputed,
		ReturnSchema: returns,
		Config:       kfn.ComputedConfig{Code: "a"},
	}, in)
}

func entityNode(id string, source kschema.DataPath) NodeDef {
	return MustNodeDef(id, id, testEventType, kfn.FnDef{
		ID:           id,
		Type:         kfn.TypeEntityAppearance,
		ReturnSchema: kschema.EntityOf("User"),
		Config:       kfn.EntityAppearanceConfig{EntityType: "User"},
	}, kfn.EntityAppearanceInputs{Source: source})
}

func cacheNode(id, featureID string, value, entity kschema.DataPath) NodeDef {
	return MustNodeDef(id, id, testEventType, kfn.FnDef{
		ID:           id,
		Type:         kfn.TypeCacheEntityFeature,
		ReturnSchema: kschema.Of(kschema.TypeNull),
		Config:       kfn.EntityFeatureConfig{FeatureID: featureID, FeatureSchema: kschema.Of(kschema.TypeInt64)},
	}, kfn.CacheEntityFeatureInputs{Value: value, Entity: entity})
}

func getNode(id, featureID string, entity kschema.DataPath, cache *kschema.DataPath) NodeDef {
	return MustNodeDef(id, id, testEventType, kfn.FnDef{
		ID:           id,
		Type:         kfn.TypeGetEntityFeature,
		ReturnSchema: kschema.Optional(kschema.Of(kschema.TypeInt64)),
		Config:       kfn.GetEntityFeatureConfig{FeatureID: featureID},
	}, kfn.GetEntityFeatureInputs{Entity: entity, Cache: cache})
}

func ids(nodes []NodeDef) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}
