package kstate_test

import (
	"testing"

	"github.com/birdayz/trench/kstate"
	"github.com/birdayz/trench/kstate/storetest"
)

func TestMemoryBackend(t *testing.T) {
	storetest.RunBackend(t, func(t *testing.T) kstate.Backend {
		return kstate.NewMemoryBackend()
	})
}
