// Package kstate holds the counting store used by stateful graph nodes:
// windowed counters, cardinality sketches and cached entity features.
package kstate

import (
	"context"
	"errors"
	"time"
)

var (
	ErrKeyNotFound = errors.New("store: key not found")
	ErrWrongType   = errors.New("store: value has the wrong type for this operation")
	ErrClosed      = errors.New("store: closed")
)

// SetMode controls conditional writes.
type SetMode int

const (
	// SetAlways overwrites any existing value.
	SetAlways SetMode = iota
	// SetIfNotExists only writes when the key is absent.
	SetIfNotExists
	// SetIfExists only writes when the key is present.
	SetIfExists
)

// CountingStore is the shared mutable state of the engine. Keys are opaque
// byte strings, usually hash digests. Plain counters are stored as decimal
// strings.
type CountingStore interface {
	// Increment adds amount to the counter at key and returns the new value.
	// Missing keys count as zero.
	Increment(ctx context.Context, key []byte, amount int64) (int64, error)

	// MGetNumbers returns the counters at keys, zero for missing keys.
	MGetNumbers(ctx context.Context, keys [][]byte) ([]int64, error)

	// Get returns (value, true, nil) if found and (nil, false, nil) if not.
	Get(ctx context.Context, key []byte) ([]byte, bool, error)

	// Set writes value according to mode and reports whether it was written.
	// A successful Set clears any expiry on the key.
	Set(ctx context.Context, key, value []byte, mode SetMode) (bool, error)

	// Del removes keys and returns how many existed.
	Del(ctx context.Context, keys ...[]byte) (int, error)

	// PFAdd adds elements to the cardinality sketch at key. It reports
	// whether the estimate may have changed.
	PFAdd(ctx context.Context, key []byte, elements ...[]byte) (bool, error)

	// PFCount estimates the cardinality of the union of the sketches at keys.
	PFCount(ctx context.Context, keys ...[]byte) (int64, error)

	// Expire sets a time to live on key. It reports false if key is absent.
	Expire(ctx context.Context, key []byte, ttl time.Duration) (bool, error)

	Close() error
}

// Backend is the low-level byte-oriented store a CountingStore is built on.
// Implemented by the in-memory, pebble and badger backends.
type Backend interface {
	// Get returns ErrKeyNotFound for missing keys. The returned slice is
	// owned by the caller.
	Get(k []byte) ([]byte, error)
	Set(k, v []byte) error
	Delete(k []byte) error
	Close() error
}
