package storecell

import (
	"reflect"

	"github.com/kalambet/tabstate/internal/events"
	"github.com/kalambet/tabstate/internal/storage"
)

// Optional is a value that may be absent.
type Optional[T any] struct {
	Value   T
	Present bool
}

// Some wraps v as present.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Present: true}
}

// OptionalCell mirrors one key and reports it as absent whenever it is
// missing, undecodable, or the store fails.
type OptionalCell[T any] struct {
	b *binding[Optional[T]]
}

// NewOptional reads key from store and starts listening on bus for changes
// made by other contexts. Call Close when the cell is no longer needed.
func NewOptional[T any](key string, store storage.Backend, bus *events.Bus, opts ...Option) *OptionalCell[T] {
	cfg := newConfig(opts)
	c := &OptionalCell[T]{}
	c.b = newBinding(key, store, cfg, c.read)
	c.b.start(bus)
	return c
}

func (c *OptionalCell[T]) read() Optional[T] {
	v, ok, err := storage.Load[T](c.b.store, c.b.cfg.codec, c.b.key)
	if err != nil {
		c.b.logger.Warn("storage read failed, treating as absent", "error", err)
		return Optional[T]{}
	}
	if !ok {
		return Optional[T]{}
	}
	return Some(v)
}

// Key returns the storage key.
func (c *OptionalCell[T]) Key() string { return c.b.key }

// Area returns the identity of the backing store.
func (c *OptionalCell[T]) Area() storage.Handle { return c.b.store.Handle() }

// Get returns the current value and whether it is present.
func (c *OptionalCell[T]) Get() (T, bool) {
	o := c.b.get()
	return o.Value, o.Present
}

// Value returns the current value as an Optional.
func (c *OptionalCell[T]) Value() Optional[T] { return c.b.get() }

// Set persists v and, once persisted, makes it the current value. If the
// write fails the current value is kept.
func (c *OptionalCell[T]) Set(v T) {
	c.b.apply(func() (Optional[T], bool) {
		raw, err := storage.Save(c.b.store, c.b.cfg.codec, c.b.key, v)
		if err != nil {
			c.b.logger.Warn("storage write failed, value unchanged", "error", err)
			return Optional[T]{}, false
		}
		c.b.logger.Info("set storage", "value", raw)
		return Some(v), true
	})
}

// Delete removes the key and marks the value absent.
func (c *OptionalCell[T]) Delete() {
	c.b.apply(func() (Optional[T], bool) {
		if err := c.b.store.Delete(c.b.key); err != nil {
			c.b.logger.Warn("storage delete failed", "error", err)
		}
		c.b.logger.Info("deleting storage")
		return Optional[T]{}, true
	})
}

// Subscribe calls fn with every value the cell takes from now on.
func (c *OptionalCell[T]) Subscribe(fn func(v T, present bool)) (cancel func()) {
	return c.b.subscribe(func(o Optional[T]) { fn(o.Value, o.Present) })
}

// Equal reports whether both cells currently hold equal values. Two absent
// values are equal.
func (c *OptionalCell[T]) Equal(other *OptionalCell[T]) bool {
	if c == other {
		return true
	}
	if c == nil || other == nil {
		return false
	}
	return reflect.DeepEqual(c.Value(), other.Value())
}

// Close stops listening for storage events. It is safe to call more than once.
func (c *OptionalCell[T]) Close() {
	c.b.close()
}
