package pebble

import (
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/birdayz/trench/kstate"
	"github.com/birdayz/trench/kstate/storetest"
)

func TestPebbleBackend(t *testing.T) {
	storetest.RunBackend(t, func(t *testing.T) kstate.Backend {
		b, err := Open(t.TempDir())
		assert.NoError(t, err)
		return b
	})
}

func TestPebbleBackendPersists(t *testing.T) {
	dir := t.TempDir()

	b, err := Open(dir, WithSync(true))
	assert.NoError(t, err)
	assert.NoError(t, b.Set([]byte("k"), []byte("v")))

	_, err = Open(dir)
	assert.True(t, errors.Is(err, kstate.ErrLocked))
	assert.NoError(t, b.Close())

	reopened, err := Open(dir)
	assert.NoError(t, err)
	defer reopened.Close()

	v, err := reopened.Get([]byte("k"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}
