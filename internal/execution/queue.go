package execution

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Default queue sizes.
const (
	DefaultMaxConcurrentEvents = 16
	DefaultPureConcurrency     = 64
	DefaultStatefulConcurrency = 16
)

// queues bounds work at three levels: events in flight, node evaluations
// per kind class, and one evaluation or commit at a time per stateful
// function id.
type queues struct {
	events   *semaphore.Weighted
	pure     *semaphore.Weighted
	stateful *semaphore.Weighted

	mu      sync.Mutex
	fnLocks map[string]*sync.Mutex
}

func newQueues(events, pure, stateful int) *queues {
	return &queues{
		events:   semaphore.NewWeighted(int64(max(events, 1))),
		pure:     semaphore.NewWeighted(int64(max(pure, 1))),
		stateful: semaphore.NewWeighted(int64(max(stateful, 1))),
		fnLocks:  make(map[string]*sync.Mutex),
	}
}

func (q *queues) acquireEvent(ctx context.Context) (func(), error) {
	if err := q.events.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { q.events.Release(1) }, nil
}

// acquireNode takes a slot for one node evaluation. Stateful functions also
// take their function id lock.
func (q *queues) acquireNode(ctx context.Context, fnID string, stateful bool) (func(), error) {
	if !stateful {
		if err := q.pure.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		return func() { q.pure.Release(1) }, nil
	}

	if err := q.stateful.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	unlock := q.lockFn(fnID)
	return func() {
		unlock()
		q.stateful.Release(1)
	}, nil
}

// lockFn serializes work on a single function id.
func (q *queues) lockFn(fnID string) func() {
	q.mu.Lock()
	l, ok := q.fnLocks[fnID]
	if !ok {
		l = &sync.Mutex{}
		q.fnLocks[fnID] = l
	}
	q.mu.Unlock()

	l.Lock()
	return l.Unlock
}
