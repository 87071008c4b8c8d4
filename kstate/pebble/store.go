// Package pebble provides a persistent kstate.Backend on cockroachdb/pebble.
package pebble

import (
	"errors"
	"fmt"

	"github.com/birdayz/trench/kstate"
	"github.com/cockroachdb/pebble"
)

// Backend stores counting-store values in a pebble database.
type Backend struct {
	db   *pebble.DB
	lock *kstate.DirectoryLock
	sync bool
}

// Option configures Open.
type Option func(*options)

type options struct {
	sync bool
}

// WithSync makes every write durable before it returns.
var WithSync = func(sync bool) Option {
	return func(o *options) {
		o.sync = sync
	}
}

// Open locks dir and opens (or creates) a pebble database inside it.
func Open(dir string, opts ...Option) (*Backend, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	lock := kstate.NewDirectoryLock(dir)
	if err := lock.Lock(); err != nil {
		return nil, err
	}

	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to open %s: %w", dir, err)
	}

	return &Backend{db: db, lock: lock, sync: o.sync}, nil
}

func (b *Backend) writeOptions() *pebble.WriteOptions {
	if b.sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

func (b *Backend) Get(k []byte) ([]byte, error) {
	v, closer, err := b.db.Get(k)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, kstate.ErrKeyNotFound
		}
		return nil, err
	}
	defer closer.Close()

	res := make([]byte, len(v))
	copy(res, v)
	return res, nil
}

func (b *Backend) Set(k, v []byte) error {
	return b.db.Set(k, v, b.writeOptions())
}

func (b *Backend) Delete(k []byte) error {
	return b.db.Delete(k, b.writeOptions())
}

// Close flushes memtables, closes the database and releases the directory.
func (b *Backend) Close() error {
	if err := b.db.Flush(); err != nil {
		return err
	}
	if err := b.db.Close(); err != nil {
		return err
	}
	return b.lock.Unlock()
}

var _ kstate.Backend = (*Backend)(nil)
