package storecell

import (
	"reflect"

	"github.com/kalambet/tabstate/internal/events"
	"github.com/kalambet/tabstate/internal/storage"
)

// DefaultCell mirrors one key and falls back to a default value whenever the
// key is missing, undecodable, or the store fails.
type DefaultCell[T any] struct {
	b   *binding[T]
	def T
}

// NewDefault reads key from store (or uses def) and starts listening on bus
// for changes made by other contexts. Pass the zero value as def for the
// type's natural default. Call Close when the cell is no longer needed.
func NewDefault[T any](key string, def T, store storage.Backend, bus *events.Bus, opts ...Option) *DefaultCell[T] {
	cfg := newConfig(opts)
	c := &DefaultCell[T]{def: def}
	c.b = newBinding(key, store, cfg, c.read)
	c.b.start(bus)
	return c
}

func (c *DefaultCell[T]) read() T {
	v, ok, err := storage.Load[T](c.b.store, c.b.cfg.codec, c.b.key)
	if err != nil {
		c.b.logger.Warn("storage read failed, using default", "error", err)
		return c.def
	}
	if !ok {
		return c.def
	}
	return v
}

// Key returns the storage key.
func (c *DefaultCell[T]) Key() string { return c.b.key }

// Area returns the identity of the backing store.
func (c *DefaultCell[T]) Area() storage.Handle { return c.b.store.Handle() }

// Get returns the current value.
func (c *DefaultCell[T]) Get() T { return c.b.get() }

// Default returns the value used when the key is missing.
func (c *DefaultCell[T]) Default() T { return c.def }

// Set persists v and, once persisted, makes it the current value. If the
// write fails the current value is kept.
func (c *DefaultCell[T]) Set(v T) {
	c.b.apply(func() (T, bool) {
		raw, err := storage.Save(c.b.store, c.b.cfg.codec, c.b.key, v)
		if err != nil {
			c.b.logger.Warn("storage write failed, value unchanged", "error", err)
			return v, false
		}
		c.b.logger.Info("set storage", "value", raw)
		return v, true
	})
}

// Delete removes the key and resets the value to the default.
func (c *DefaultCell[T]) Delete() {
	c.b.apply(func() (T, bool) {
		if err := c.b.store.Delete(c.b.key); err != nil {
			c.b.logger.Warn("storage delete failed", "error", err)
		}
		c.b.logger.Info("deleting storage, value reset to default")
		return c.def, true
	})
}

// Subscribe calls fn with every value the cell takes from now on.
func (c *DefaultCell[T]) Subscribe(fn func(T)) (cancel func()) {
	return c.b.subscribe(fn)
}

// Equal reports whether both cells currently hold equal values.
func (c *DefaultCell[T]) Equal(other *DefaultCell[T]) bool {
	if c == other {
		return true
	}
	if c == nil || other == nil {
		return false
	}
	return reflect.DeepEqual(c.Get(), other.Get())
}

// Close stops listening for storage events. It is safe to call more than once.
func (c *DefaultCell[T]) Close() {
	c.b.close()
}
