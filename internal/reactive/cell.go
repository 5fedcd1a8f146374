// Package reactive provides an observable single-value cell. Every mutation
// goes through Set/Update/Notify so that subscribers can recompute.
package reactive

import (
	"sort"
	"sync"
)

// Cell holds one value and notifies subscribers when it is replaced.
type Cell[T any] struct {
	mu     sync.RWMutex
	value  T
	equal  func(a, b T) bool
	subs   map[uint64]func(T)
	nextID uint64
}

// Option configures a Cell.
type Option[T any] func(*Cell[T])

// WithEqual suppresses notifications when equal reports the new value equal
// to the current one. Without it every Set notifies.
func WithEqual[T any](equal func(a, b T) bool) Option[T] {
	return func(c *Cell[T]) {
		c.equal = equal
	}
}

// New creates a cell holding initial.
func New[T any](initial T, opts ...Option[T]) *Cell[T] {
	c := &Cell[T]{
		value: initial,
		subs:  make(map[uint64]func(T)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Set replaces the value and notifies subscribers.
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	if c.equal != nil && c.equal(c.value, v) {
		c.value = v
		c.mu.Unlock()
		return
	}
	c.value = v
	subs := c.snapshotLocked()
	c.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
}

// Swap replaces the value without notifying and reports whether subscribers
// should be told about it. Callers follow a true result with Notify.
func (c *Cell[T]) Swap(v T) (changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed = c.equal == nil || !c.equal(c.value, v)
	c.value = v
	return changed
}

// Update replaces the value with fn(current).
func (c *Cell[T]) Update(fn func(T) T) {
	c.Set(fn(c.Get()))
}

// Notify re-delivers the current value to every subscriber without changing it.
func (c *Cell[T]) Notify() {
	c.mu.RLock()
	v := c.value
	subs := c.snapshotLocked()
	c.mu.RUnlock()

	for _, fn := range subs {
		fn(v)
	}
}

// Subscribe registers fn and returns a function that removes it. The returned
// function is safe to call more than once.
func (c *Cell[T]) Subscribe(fn func(T)) (cancel func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Subscribers reports how many subscribers are registered.
func (c *Cell[T]) Subscribers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// snapshotLocked returns subscribers in registration order.
func (c *Cell[T]) snapshotLocked() []func(T) {
	if len(c.subs) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]func(T), 0, len(ids))
	for _, id := range ids {
		out = append(out, c.subs[id])
	}
	return out
}
