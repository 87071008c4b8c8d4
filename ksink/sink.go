// Package ksink delivers feature rows to an analytical store.
package ksink

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/birdayz/trench/kfn"
)

var ErrClosed = errors.New("sink is closed")

// Sink accepts batched feature rows. Write may buffer; Flush blocks until
// everything written so far is delivered.
type Sink interface {
	Write(ctx context.Context, rows []kfn.FeatureRow) error
	Flush(ctx context.Context) error
	Close() error
}

// MemorySink keeps rows in memory.
type MemorySink struct {
	mu     sync.Mutex
	rows   []kfn.FeatureRow
	closed bool
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(_ context.Context, rows []kfn.FeatureRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.rows = append(s.rows, rows...)
	return nil
}

func (s *MemorySink) Flush(context.Context) error { return nil }

func (s *MemorySink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Rows returns a copy of every row written.
func (s *MemorySink) Rows() []kfn.FeatureRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rows)
}
