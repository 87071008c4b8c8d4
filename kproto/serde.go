// Package kproto provides protobuf codecs, including the protobuf form of
// events.
package kproto

import (
	"github.com/birdayz/trench/kserde"
	"google.golang.org/protobuf/proto"
)

// Serializer returns a protobuf serializer for any proto.Message type.
func Serializer[T proto.Message]() kserde.Serializer[T] {
	return func(v T) ([]byte, error) {
		return proto.Marshal(v)
	}
}

// Deserializer returns a protobuf deserializer for any proto.Message type.
// newFn creates an empty message to decode into.
func Deserializer[T proto.Message](newFn func() T) kserde.Deserializer[T] {
	return func(data []byte) (T, error) {
		msg := newFn()
		if err := proto.Unmarshal(data, msg); err != nil {
			var zero T
			return zero, err
		}
		return msg, nil
	}
}

// DeserializerFor is Deserializer creating messages through reflection.
func DeserializerFor[T proto.Message]() kserde.Deserializer[T] {
	return func(data []byte) (T, error) {
		var zero T
		msg := zero.ProtoReflect().New().Interface().(T)
		if err := proto.Unmarshal(data, msg); err != nil {
			return zero, err
		}
		return msg, nil
	}
}
