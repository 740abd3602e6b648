// Package sink publishes the latest filtered scan results to any number of
// observers.
package sink

import "sync"

// Broadcast is a last-value cache with independent subscribers. Each
// subscriber channel holds at most one pending value; a newer publish
// replaces an unread older one.
type Broadcast[T any] struct {
	mu     sync.Mutex
	latest T
	has    bool
	subs   map[int]chan T
	nextID int
}

// NewBroadcast returns an empty Broadcast.
func NewBroadcast[T any]() *Broadcast[T] {
	return &Broadcast[T]{subs: map[int]chan T{}}
}

// Publish stores v and delivers it to every subscriber without blocking.
func (b *Broadcast[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = v
	b.has = true
	for _, ch := range b.subs {
		offer(ch, v)
	}
}

// Latest returns the most recent value and whether one was ever published.
func (b *Broadcast[T]) Latest() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.has
}

// Subscribe returns a channel that receives the current value (if any) and
// every later one, plus a func that unsubscribes and closes the channel.
func (b *Broadcast[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if b.has {
		ch <- b.latest
	}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// offer must be called with b.mu held.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- v
}
