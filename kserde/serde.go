// Package kserde converts values to and from the bytes kept in counting
// stores and Kafka records.
package kserde

// Serde pairs the two directions of a codec.
type Serde[T any] struct {
	Serializer   Serializer[T]
	Deserializer Deserializer[T]
}

type Serializer[T any] func(T) ([]byte, error)

type Deserializer[T any] func([]byte) (T, error)
