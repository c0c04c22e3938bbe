// Package keylock provides keyed mutual exclusion with first-in-first-out
// hand-off between waiters of the same key.
package keylock

import (
	"context"
	"sync"
)

// Queue serializes work per key. Callers for different keys never block each
// other; callers for the same key acquire in the order Lock was called.
type Queue struct {
	mu      sync.Mutex
	tails   map[string]chan struct{}
	waiters map[string]int
}

func New() *Queue {
	return &Queue{tails: map[string]chan struct{}{}, waiters: map[string]int{}}
}

// Lock blocks until every earlier holder and waiter of key has released, then
// returns the release function. If ctx ends first, the caller's slot is
// released as soon as its predecessor finishes so later waiters keep moving.
func (q *Queue) Lock(ctx context.Context, key string) (func(), error) {
	done := make(chan struct{})

	q.mu.Lock()
	if q.tails == nil {
		q.tails = map[string]chan struct{}{}
		q.waiters = map[string]int{}
	}
	prev := q.tails[key]
	q.tails[key] = done
	if prev != nil {
		q.waiters[key]++
	}
	q.mu.Unlock()

	release := func() { q.release(key, done) }
	if prev == nil {
		return sync.OnceFunc(release), nil
	}

	select {
	case <-prev:
		q.leave(key)
		return sync.OnceFunc(release), nil
	case <-ctx.Done():
		q.leave(key)
		go func() {
			<-prev
			release()
		}()
		return nil, ctx.Err()
	}
}

// Do runs fn while holding key.
func (q *Queue) Do(ctx context.Context, key string, fn func() error) error {
	unlock, err := q.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// Len reports the number of keys with an active holder.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tails)
}

func (q *Queue) waiting(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiters[key]
}

func (q *Queue) leave(key string) {
	q.mu.Lock()
	if q.waiters[key]--; q.waiters[key] <= 0 {
		delete(q.waiters, key)
	}
	q.mu.Unlock()
}

func (q *Queue) release(key string, done chan struct{}) {
	q.mu.Lock()
	if q.tails[key] == done {
		delete(q.tails, key)
	}
	q.mu.Unlock()
	close(done)
}
