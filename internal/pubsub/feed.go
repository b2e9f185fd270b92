// Package pubsub provides latest-value fan-out streams.
package pubsub

import (
	"context"
	"sync"
)

// Feed broadcasts values to subscribers. Each subscriber holds at most one
// pending value: a slow reader sees the newest value, never a backlog.
type Feed[T any] struct {
	mu     sync.Mutex
	latest T
	has    bool
	subs   map[uint64]chan T
	nextID uint64
	closed bool
	done   chan struct{}

	// merge folds a new value into a subscriber's pending one. Merging
	// feeds carry deltas, so they neither replay nor drop values.
	merge func(pending, next T) T
}

func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{subs: make(map[uint64]chan T), done: make(chan struct{})}
}

// NewMergingFeed returns a feed for delta values: a value published while a
// subscriber still holds an undelivered one is merged into it, and new
// subscribers start empty.
func NewMergingFeed[T any](merge func(pending, next T) T) *Feed[T] {
	f := NewFeed[T]()
	f.merge = merge
	return f
}

// Publish records v as the latest value and offers it to every subscriber.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.latest = v
	f.has = true
	for _, ch := range f.subs {
		offer(ch, v, f.merge)
	}
}

// Latest returns the most recently published value.
func (f *Feed[T]) Latest() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.has
}

// Subscribe returns a channel that first yields the latest value, if any,
// then every subsequent one. The channel is closed when ctx is done or the
// feed is closed.
func (f *Feed[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	if f.has && f.merge == nil {
		ch <- f.latest
	}
	f.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			f.unsubscribe(id)
		case <-f.done:
		}
	}()
	return ch
}

// Subscribers returns the number of live subscriptions.
func (f *Feed[T]) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close ends every subscription. Later publishes are ignored.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.done)
	for id, ch := range f.subs {
		close(ch)
		delete(f.subs, id)
	}
}

func (f *Feed[T]) unsubscribe(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		close(ch)
		delete(f.subs, id)
	}
}

// offer replaces any pending value with v, or with merge(pending, v).
func offer[T any](ch chan T, v T, merge func(T, T) T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case pending := <-ch:
			if merge != nil {
				v = merge(pending, v)
			}
		default:
		}
	}
}
