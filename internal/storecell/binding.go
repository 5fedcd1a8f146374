package storecell

import (
	"log/slog"
	"reflect"
	"sync"

	"github.com/kalambet/tabstate/internal/events"
	"github.com/kalambet/tabstate/internal/reactive"
	"github.com/kalambet/tabstate/internal/storage"
)

// binding is the variant-independent half of a cell: the key, the store, the
// reactive cell and the bus registration.
type binding[V any] struct {
	key    string
	store  storage.Backend
	cfg    config
	logger *slog.Logger
	cell   *reactive.Cell[V]
	read   func() V

	// mu orders backend operations; seq numbers them in that order.
	mu  sync.Mutex
	seq uint64

	// commitMu guards applied so a slower commit never overwrites a newer one.
	commitMu sync.Mutex
	applied  uint64

	reg       *events.Registration
	closeOnce sync.Once
}

func newBinding[V any](key string, store storage.Backend, cfg config, read func() V) *binding[V] {
	return &binding[V]{
		key:    key,
		store:  store,
		cfg:    cfg,
		logger: cfg.logger.With("key", key, "area", string(store.Handle().Kind)),
		read:   read,
	}
}

// start performs the initial read and registers the storage listener.
func (b *binding[V]) start(bus *events.Bus) {
	var cellOpts []reactive.Option[V]
	if b.cfg.suppressEqual {
		cellOpts = append(cellOpts, reactive.WithEqual(func(x, y V) bool { return reflect.DeepEqual(x, y) }))
	}
	b.cell = reactive.New(b.read(), cellOpts...)
	if bus != nil {
		b.reg = bus.Subscribe(events.Storage, b.handle)
	}
}

// apply runs op under the backend lock and, if it succeeded, commits the
// value it produced to the cell.
func (b *binding[V]) apply(op func() (V, bool)) bool {
	b.mu.Lock()
	v, ok := op()
	if !ok {
		b.mu.Unlock()
		return false
	}
	b.seq++
	seq := b.seq
	b.mu.Unlock()

	b.commit(seq, v)
	return true
}

func (b *binding[V]) commit(seq uint64, v V) {
	b.commitMu.Lock()
	if seq < b.applied {
		b.commitMu.Unlock()
		return
	}
	b.applied = seq
	changed := b.cell.Swap(v)
	b.commitMu.Unlock()

	if changed {
		b.cell.Notify()
	}
}

// handle reconciles one bus event.
func (b *binding[V]) handle(ev events.Event) {
	ch := ev.Storage
	if ch == nil {
		return
	}
	own := b.store.Handle()

	if ch.Key == nil {
		if !b.cfg.resetOnClear || ch.Area == nil || *ch.Area != own {
			b.logger.Debug("ignoring storage clear event")
			return
		}
		b.reconcile()
		b.logger.Info("storage cleared, value re-read")
		return
	}
	if *ch.Key != b.key {
		return
	}
	if ch.Area == nil || *ch.Area != own {
		err := &storage.AttributionMismatchError{Key: b.key, Want: own, Got: ch.Area}
		b.logger.Warn("storage event from another area ignored", "error", err)
		return
	}

	b.reconcile()
	b.logger.Info("storage event", "origin", ch.Origin)
}

func (b *binding[V]) reconcile() {
	b.apply(func() (V, bool) {
		return b.read(), true
	})
}

func (b *binding[V]) get() V {
	return b.cell.Get()
}

func (b *binding[V]) subscribe(fn func(V)) func() {
	return b.cell.Subscribe(fn)
}

// close releases the bus registration exactly once.
func (b *binding[V]) close() {
	b.closeOnce.Do(func() {
		b.reg.Unsubscribe()
	})
}
