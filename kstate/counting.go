package kstate

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/birdayz/trench/kserde"
)

// Store implements CountingStore on top of a byte Backend. Each stored value
// carries an 8 byte expiry header (unix milliseconds, 0 for none). Expired
// values read as absent.
//
// Read-modify-write operations are serialized by a single mutex, so a Store
// must be the only writer of its backend.
type Store struct {
	backend Backend
	now     func() time.Time

	mu     sync.Mutex
	closed bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source used for expiry.
var WithClock = func(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore wraps backend in a CountingStore.
func NewStore(backend Backend, opts ...StoreOption) *Store {
	s := &Store{
		backend: backend,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewMemoryStore returns a CountingStore backed by an in-memory map.
func NewMemoryStore(opts ...StoreOption) *Store {
	return NewStore(NewMemoryBackend(), opts...)
}

const headerLen = 8

type entry struct {
	expiresAt int64
	payload   []byte
}

func (s *Store) load(key []byte) (entry, bool, error) {
	raw, err := s.backend.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return entry{}, false, nil
	}
	if err != nil {
		return entry{}, false, fmt.Errorf("get %x: %w", key, err)
	}
	if len(raw) < headerLen {
		return entry{}, false, fmt.Errorf("%w: value at %x has no header", ErrWrongType, key)
	}
	e := entry{
		expiresAt: int64(binary.BigEndian.Uint64(raw[:headerLen])),
		payload:   raw[headerLen:],
	}
	if e.expiresAt != 0 && e.expiresAt <= s.now().UnixMilli() {
		return entry{}, false, nil
	}
	return e, true, nil
}

func (s *Store) store(key []byte, e entry) error {
	raw := make([]byte, headerLen+len(e.payload))
	binary.BigEndian.PutUint64(raw[:headerLen], uint64(e.expiresAt))
	copy(raw[headerLen:], e.payload)
	if err := s.backend.Set(key, raw); err != nil {
		return fmt.Errorf("set %x: %w", key, err)
	}
	return nil
}

func (s *Store) check(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	return ctx.Err()
}

func (s *Store) Increment(ctx context.Context, key []byte, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}

	e, _, err := s.load(key)
	if err != nil {
		return 0, err
	}
	current, err := kserde.DecimalInt64Deserializer(e.payload)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrWrongType, err)
	}
	current += amount
	e.payload, _ = kserde.DecimalInt64Serializer(current)
	if err := s.store(key, e); err != nil {
		return 0, err
	}
	return current, nil
}

func (s *Store) MGetNumbers(ctx context.Context, keys [][]byte) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	out := make([]int64, len(keys))
	for i, key := range keys {
		e, ok, err := s.load(key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		n, err := kserde.DecimalInt64Deserializer(e.payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrWrongType, err)
		}
		out[i] = n
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, false, err
	}

	e, ok, err := s.load(key)
	if err != nil || !ok {
		return nil, false, err
	}
	return e.payload, true, nil
}

func (s *Store) Set(ctx context.Context, key, value []byte, mode SetMode) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}

	if mode != SetAlways {
		_, exists, err := s.load(key)
		if err != nil {
			return false, err
		}
		if (mode == SetIfNotExists && exists) || (mode == SetIfExists && !exists) {
			return false, nil
		}
	}
	if err := s.store(key, entry{payload: value}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Del(ctx context.Context, keys ...[]byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range keys {
		_, exists, err := s.load(key)
		if err != nil {
			return removed, err
		}
		if err := s.backend.Delete(key); err != nil {
			return removed, fmt.Errorf("delete %x: %w", key, err)
		}
		if exists {
			removed++
		}
	}
	return removed, nil
}

func (s *Store) PFAdd(ctx context.Context, key []byte, elements ...[]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}

	e, exists, err := s.load(key)
	if err != nil {
		return false, err
	}
	sketch := NewSketch()
	if exists {
		if err := sketch.UnmarshalBinary(e.payload); err != nil {
			return false, err
		}
	}

	changed := !exists
	for _, el := range elements {
		if sketch.Add(el) {
			changed = true
		}
	}
	if !changed {
		return false, nil
	}

	e.payload, _ = sketch.MarshalBinary()
	if err := s.store(key, e); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) PFCount(ctx context.Context, keys ...[]byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}

	union := NewSketch()
	for _, key := range keys {
		e, ok, err := s.load(key)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		var sketch Sketch
		if err := sketch.UnmarshalBinary(e.payload); err != nil {
			return 0, fmt.Errorf("key %x: %w", key, err)
		}
		if err := union.Merge(&sketch); err != nil {
			return 0, err
		}
	}
	return union.Estimate(), nil
}

func (s *Store) Expire(ctx context.Context, key []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}

	e, exists, err := s.load(key)
	if err != nil || !exists {
		return false, err
	}
	if ttl <= 0 {
		if err := s.backend.Delete(key); err != nil {
			return false, fmt.Errorf("delete %x: %w", key, err)
		}
		return true, nil
	}
	e.expiresAt = s.now().Add(ttl).UnixMilli()
	if err := s.store(key, e); err != nil {
		return false, err
	}
	return true, nil
}

// Close closes the backend. Further calls return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.backend.Close()
}

var _ CountingStore = (*Store)(nil)
