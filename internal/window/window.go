// Package window models one execution context: a process-local origin that
// owns an event bus, a handle on the shared local store, a session store and
// the background watchers that turn other contexts' writes and network
// transitions into bus events.
package window

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/tabstate/internal/config"
	"github.com/kalambet/tabstate/internal/connectivity"
	"github.com/kalambet/tabstate/internal/events"
	"github.com/kalambet/tabstate/internal/storage"
	"github.com/kalambet/tabstate/internal/storecell"
)

const (
	pruneInterval = time.Minute
	// pruneKeep is how many change rows survive a prune. A context that falls
	// further behind than this misses the dropped events.
	pruneKeep = 10000
)

// Option configures a Window.
type Option func(*options)

type options struct {
	session *storage.Memory
	prober  connectivity.Prober
	logger  *slog.Logger
}

// WithSharedSession attaches the window to an existing session store instead
// of creating a private one. Windows sharing a store see each other's writes.
func WithSharedSession(m *storage.Memory) Option {
	return func(o *options) { o.session = m }
}

// WithProber replaces the connectivity prober derived from config.
func WithProber(p connectivity.Prober) Option {
	return func(o *options) { o.prober = p }
}

// WithLogger sets the logger for the window's own records.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Window is one execution context.
type Window struct {
	origin string
	bus    *events.Bus
	logger *slog.Logger

	local       *storage.SQLite
	sessionMem  *storage.Memory
	session     storage.Backend
	ownsSession bool
	stopWatch   func()

	poller   *storage.Poller
	monitor  *connectivity.Monitor
	observer *connectivity.Observer

	closeOnce sync.Once
	closeErr  error
}

// Open creates a new context over the stores described by cfg.
func Open(cfg config.Config, opts ...Option) (*Window, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	origin := uuid.NewString()
	w := &Window{
		origin: origin,
		bus:    events.NewBus(),
		logger: o.logger.With("origin", origin),
	}

	local, err := storage.Open(cfg.Storage.DataDir,
		storage.WithOrigin(origin),
		storage.WithQuota(int64(cfg.Storage.LocalQuota)),
	)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}
	w.local = local

	w.poller = storage.NewPoller(local, origin, w.bus.DispatchStorage, cfg.PollInterval())
	if err := w.poller.Prime(); err != nil {
		local.Close()
		return nil, fmt.Errorf("priming change log: %w", err)
	}

	w.sessionMem = o.session
	if w.sessionMem == nil {
		w.sessionMem = storage.NewMemory(storage.WithMemoryQuota(int64(cfg.Storage.SessionQuota)))
		w.ownsSession = true
	}
	w.session = w.sessionMem.View(origin)
	w.stopWatch = w.sessionMem.Watch(origin, w.bus.DispatchStorage)

	prober := o.prober
	if prober == nil {
		prober = proberFor(cfg)
	}
	w.monitor = connectivity.NewMonitor(prober, w.bus, cfg.ProbeInterval())
	w.observer = connectivity.NewObserver(w.monitor.Prime(context.Background()), w.bus)

	w.logger.Debug("window opened", "local", local.Handle().String(), "session", w.sessionMem.Handle().String())
	return w, nil
}

func proberFor(cfg config.Config) connectivity.Prober {
	if cfg.Connectivity.ProbeAddress == "" {
		return connectivity.Always(true)
	}
	return connectivity.DialProber{Address: cfg.Connectivity.ProbeAddress}
}

// Run delivers foreign storage changes and connectivity transitions to the
// bus until ctx is cancelled or a watcher fails.
func (w *Window) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.poller.Run(ctx) })
	g.Go(func() error { return w.monitor.Run(ctx) })
	g.Go(func() error { return w.pruneLoop(ctx) })
	return g.Wait()
}

func (w *Window) pruneLoop(ctx context.Context) error {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := w.local.PruneChanges(pruneKeep)
			if err != nil {
				w.logger.Warn("pruning change log failed", "error", err)
				continue
			}
			if n > 0 {
				w.logger.Debug("pruned change log", "rows", n)
			}
		}
	}
}

// Close stops session watching and releases the stores this window opened.
// A shared session store is left open. Cells bound to the window should be
// closed first.
func (w *Window) Close() error {
	w.closeOnce.Do(func() {
		w.stopWatch()
		w.observer.Close()
		if w.ownsSession {
			w.sessionMem.Close()
		}
		w.closeErr = w.local.Close()
	})
	return w.closeErr
}

// Origin identifies this context's writes in the change log.
func (w *Window) Origin() string { return w.origin }

// Bus is the event bus cells and observers of this window subscribe to.
func (w *Window) Bus() *events.Bus { return w.bus }

// Local is the cross-context persistent store.
func (w *Window) Local() *storage.SQLite { return w.local }

// Session is this context's handle on the session store.
func (w *Window) Session() storage.Backend { return w.session }

// Connectivity reports the current online state.
func (w *Window) Connectivity() *connectivity.Observer { return w.observer }

// LocalCell binds a default-value cell to key in the window's local store.
func LocalCell[T any](w *Window, key string, def T, opts ...storecell.Option) *storecell.DefaultCell[T] {
	return storecell.NewDefault(key, def, storage.Backend(w.local), w.bus, opts...)
}

// SessionCell binds an optional-value cell to key in the window's session store.
func SessionCell[T any](w *Window, key string, opts ...storecell.Option) *storecell.OptionalCell[T] {
	return storecell.NewOptional[T](key, w.session, w.bus, opts...)
}
