package kstate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestDirectoryLock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")

	first := NewDirectoryLock(dir)
	assert.NoError(t, first.Lock())
	assert.True(t, first.IsLocked())
	assert.Error(t, first.Lock())

	second := NewDirectoryLock(dir)
	err := second.Lock()
	assert.True(t, errors.Is(err, ErrLocked))
	assert.False(t, second.IsLocked())

	assert.NoError(t, first.Unlock())
	assert.False(t, first.IsLocked())
	_, statErr := os.Stat(filepath.Join(dir, ".lock"))
	assert.True(t, os.IsNotExist(statErr))

	assert.NoError(t, second.Lock())
	assert.NoError(t, second.Unlock())
	assert.NoError(t, second.Unlock())
}
