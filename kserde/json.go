package kserde

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

func JSONSerializer[T any]() Serializer[T] {
	return func(t T) ([]byte, error) {
		serialized, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return serialized, nil
	}
}

func JSONDeserializer[T any]() Deserializer[T] {
	return func(b []byte) (T, error) {
		var deserialized T
		if err := json.Unmarshal(b, &deserialized); err != nil {
			return *new(T), err
		}
		return deserialized, nil
	}
}

// JSONNumberDeserializer is JSONDeserializer keeping untyped numbers as
// json.Number, so integers beyond 2^53 survive. Trailing data is an error.
func JSONNumberDeserializer[T any]() Deserializer[T] {
	return func(b []byte) (T, error) {
		var deserialized T
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		if err := dec.Decode(&deserialized); err != nil {
			return *new(T), err
		}
		if _, err := dec.Token(); err != io.EOF {
			return *new(T), fmt.Errorf("json deserialization: trailing data after value")
		}
		return deserialized, nil
	}
}

func JSON[T any]() Serde[T] {
	return Serde[T]{
		Serializer:   JSONSerializer[T](),
		Deserializer: JSONDeserializer[T](),
	}
}
