package kfn

import "github.com/birdayz/trench/kserde"

// EventJSON encodes events as JSON. Numbers in event data decode as
// json.Number and are narrowed by the event schema.
var EventJSON = kserde.Serde[Event]{
	Serializer:   kserde.JSONSerializer[Event](),
	Deserializer: kserde.JSONNumberDeserializer[Event](),
}
