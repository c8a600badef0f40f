// Package state provides observable value cells shared between the core
// components and the presentation layer.
package state

import "sync"

// Cell holds a value of type T and notifies subscribers on every change.
// Subscribers always observe the latest value; intermediate values may be
// skipped when a subscriber falls behind.
type Cell[T any] struct {
	mu     sync.RWMutex
	value  T
	subs   map[uint64]chan T
	nextID uint64
}

// NewCell creates a cell holding initial.
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{
		value: initial,
		subs:  make(map[uint64]chan T),
	}
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Set replaces the current value.
func (c *Cell[T]) Set(v T) {
	c.Update(func(T) T { return v })
}

// Update atomically replaces the value with fn(current) and returns the new
// value. fn must not call back into the cell.
func (c *Cell[T]) Update(fn func(T) T) T {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = fn(c.value)
	for _, ch := range c.subs {
		publishLatest(ch, c.value)
	}
	return c.value
}

// Subscribe returns a channel that receives the current value immediately
// and every later value. The returned func unsubscribes and closes the
// channel.
func (c *Cell[T]) Subscribe() (<-chan T, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	ch := make(chan T, 1)
	ch <- c.value
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
			close(ch)
		})
	}
}

// publishLatest replaces any undelivered value with v. Callers hold the
// write lock, so this is the only sender on ch.
func publishLatest[T any](ch chan T, v T) {
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
