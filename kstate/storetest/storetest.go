// Package storetest is a conformance suite for kstate.Backend
// implementations.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/birdayz/trench/kstate"
)

// RunBackend exercises a Backend directly and through kstate.Store.
// newBackend must return a fresh, empty backend for every call.
func RunBackend(t *testing.T, newBackend func(t *testing.T) kstate.Backend) {
	t.Helper()

	t.Run("basic CRUD operations", func(t *testing.T) {
		b := newBackend(t)
		defer b.Close()

		assert.NoError(t, b.Set([]byte("key1"), []byte("value1")))
		value, err := b.Get([]byte("key1"))
		assert.NoError(t, err)
		assert.Equal(t, []byte("value1"), value)

		assert.NoError(t, b.Set([]byte("key1"), []byte("value1-updated")))
		value, err = b.Get([]byte("key1"))
		assert.NoError(t, err)
		assert.Equal(t, []byte("value1-updated"), value)

		assert.NoError(t, b.Delete([]byte("key1")))
		_, err = b.Get([]byte("key1"))
		assert.True(t, errors.Is(err, kstate.ErrKeyNotFound))
	})

	t.Run("get non-existent key", func(t *testing.T) {
		b := newBackend(t)
		defer b.Close()

		_, err := b.Get([]byte("non-existent"))
		assert.True(t, errors.Is(err, kstate.ErrKeyNotFound))
	})

	t.Run("counting store on backend", func(t *testing.T) {
		ctx := context.Background()
		s := kstate.NewStore(newBackend(t))
		defer s.Close()

		n, err := s.Increment(ctx, []byte("c"), 2)
		assert.NoError(t, err)
		assert.Equal(t, int64(2), n)

		nums, err := s.MGetNumbers(ctx, [][]byte{[]byte("c"), []byte("missing")})
		assert.NoError(t, err)
		assert.Equal(t, []int64{2, 0}, nums)

		for i := range 100 {
			_, err := s.PFAdd(ctx, []byte("hll"), []byte(fmt.Sprintf("el-%d", i)))
			assert.NoError(t, err)
		}
		count, err := s.PFCount(ctx, []byte("hll"))
		assert.NoError(t, err)
		assert.True(t, count >= 98 && count <= 102, "estimate %d", count)
	})
}
