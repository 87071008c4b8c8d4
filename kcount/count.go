package kcount

import (
	"context"
	"fmt"
	"time"

	"github.com/birdayz/trench/kstate"
	"github.com/google/uuid"
)

// Spec identifies one counter and its bucketing.
type Spec struct {
	// CounterID namespaces bucket keys, normally the function id.
	CounterID string
	Window    Window
	// Buckets is how many buckets a read spans. Zero means DefaultBuckets.
	Buckets int
}

func (s Spec) buckets() int {
	if s.Buckets <= 0 {
		return DefaultBuckets
	}
	return s.Buckets
}

// ttl keeps a bucket alive for as long as any read can still include it.
func (s Spec) ttl() (time.Duration, error) {
	d, err := s.Window.Duration()
	if err != nil {
		return 0, err
	}
	return d * time.Duration(s.buckets()+1), nil
}

// Reading is the result of a counter read. Apply, when non-nil, records the
// current event in bucket 0 and must only run on commit.
type Reading struct {
	Value int64
	Apply func(ctx context.Context) error
}

// Count sums the last N buckets for countBy. If condition holds, the current
// event is included in Value and Apply increments the current bucket.
func Count(ctx context.Context, store kstate.CountingStore, spec Spec, ts time.Time, countBy []KeyedValue, condition bool) (Reading, error) {
	buckets, err := PastNBuckets(ts, spec.Window, spec.buckets())
	if err != nil {
		return Reading{}, err
	}
	keys, err := BucketKeys(buckets, spec.CounterID, countBy)
	if err != nil {
		return Reading{}, err
	}
	ttl, err := spec.ttl()
	if err != nil {
		return Reading{}, err
	}

	counts, err := store.MGetNumbers(ctx, keys)
	if err != nil {
		return Reading{}, fmt.Errorf("read buckets of %s: %w", spec.CounterID, err)
	}

	var total int64
	for _, c := range counts {
		total += c
	}
	if !condition {
		return Reading{Value: total}, nil
	}

	current := keys[0]
	return Reading{
		Value: total + 1,
		Apply: func(ctx context.Context) error {
			if _, err := store.Increment(ctx, current, 1); err != nil {
				return fmt.Errorf("increment bucket of %s: %w", spec.CounterID, err)
			}
			if _, err := store.Expire(ctx, current, ttl); err != nil {
				return fmt.Errorf("expire bucket of %s: %w", spec.CounterID, err)
			}
			return nil
		},
	}, nil
}

// CountUnique estimates the distinct count of unique values over the last N
// buckets for countBy. The current event is counted through a throwaway
// sketch that is deleted before returning, so a read never mutates the
// persisted buckets. If condition holds, Apply adds the element to the
// current bucket.
func CountUnique(ctx context.Context, store kstate.CountingStore, spec Spec, ts time.Time, countBy, unique []KeyedValue, condition bool) (Reading, error) {
	buckets, err := PastNBuckets(ts, spec.Window, spec.buckets())
	if err != nil {
		return Reading{}, err
	}
	keys, err := BucketKeys(buckets, spec.CounterID, countBy)
	if err != nil {
		return Reading{}, err
	}
	element, err := ElementKey(unique)
	if err != nil {
		return Reading{}, err
	}
	ttl, err := spec.ttl()
	if err != nil {
		return Reading{}, err
	}

	var estimate int64
	if condition {
		estimate, err = phantomCount(ctx, store, keys, element)
	} else {
		estimate, err = store.PFCount(ctx, keys...)
	}
	if err != nil {
		return Reading{}, fmt.Errorf("count buckets of %s: %w", spec.CounterID, err)
	}
	if !condition {
		return Reading{Value: estimate}, nil
	}

	current := keys[0]
	return Reading{
		Value: estimate,
		Apply: func(ctx context.Context) error {
			if _, err := store.PFAdd(ctx, current, element); err != nil {
				return fmt.Errorf("add to bucket of %s: %w", spec.CounterID, err)
			}
			if _, err := store.Expire(ctx, current, ttl); err != nil {
				return fmt.Errorf("expire bucket of %s: %w", spec.CounterID, err)
			}
			return nil
		},
	}, nil
}

func phantomCount(ctx context.Context, store kstate.CountingStore, keys [][]byte, element []byte) (int64, error) {
	tmp := []byte("trench:phantom:" + uuid.NewString())
	defer func() {
		// Delete even when ctx is already cancelled.
		_, _ = store.Del(context.WithoutCancel(ctx), tmp)
	}()

	if _, err := store.PFAdd(ctx, tmp, element); err != nil {
		return 0, err
	}
	return store.PFCount(ctx, append([][]byte{tmp}, keys...)...)
}
