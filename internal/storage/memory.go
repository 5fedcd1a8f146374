package storage

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process store. It backs the session area: every context
// that shares one Memory sees the others' writes as change events, never its
// own. Change events are delivered asynchronously; Sync waits for them.
type Memory struct {
	mu     sync.RWMutex
	data   map[string]string
	size   int64
	quota  int64
	handle Handle
	closed bool

	watchMu  sync.RWMutex
	watchers map[uint64]memoryWatcher
	nextID   uint64
	pending  sync.WaitGroup
}

type memoryWatcher struct {
	origin string
	sink   func(ChangeEvent)
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithMemoryQuota caps the total bytes of keys plus values. Zero means unlimited.
func WithMemoryQuota(bytes int64) MemoryOption {
	return func(m *Memory) { m.quota = bytes }
}

// WithMemoryKind overrides the store kind (session by default).
func WithMemoryKind(kind Kind) MemoryOption {
	return func(m *Memory) { m.handle.Kind = kind }
}

// WithMemoryID sets the store identity.
func WithMemoryID(id string) MemoryOption {
	return func(m *Memory) { m.handle.ID = id }
}

// NewMemory creates an empty store with a fresh identity.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		data:     make(map[string]string),
		handle:   Handle{Kind: KindSession, ID: uuid.NewString()},
		watchers: make(map[uint64]memoryWatcher),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// View returns a Backend for the context identified by origin. Writes made
// through it are reported to watchers of every other origin.
func (m *Memory) View(origin string) Backend {
	return &memoryView{m: m, origin: origin}
}

// Watch registers sink for changes made by origins other than origin.
func (m *Memory) Watch(origin string, sink func(ChangeEvent)) (cancel func()) {
	m.watchMu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = memoryWatcher{origin: origin, sink: sink}
	m.watchMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.watchMu.Lock()
			delete(m.watchers, id)
			m.watchMu.Unlock()
		})
	}
}

// Sync blocks until every change event emitted so far has been delivered.
func (m *Memory) Sync() {
	m.pending.Wait()
}

// Close drops all data. Further operations fail with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.data = nil
	m.mu.Unlock()
	m.pending.Wait()
	return nil
}

func (m *Memory) Handle() Handle { return m.handle }

// Memory used directly acts as the view of the empty origin.

func (m *Memory) Get(key string) (string, bool, error) { return m.get(key) }
func (m *Memory) Set(key, value string) error          { return m.set("", key, value) }
func (m *Memory) Delete(key string) error              { return m.delete("", key) }
func (m *Memory) Clear() error                         { return m.clear("") }
func (m *Memory) Keys() ([]string, error)              { return m.keys() }

func (m *Memory) get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, &BackendError{Op: "get", Key: key, Err: ErrClosed}
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) set(origin, key, value string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return &BackendError{Op: "set", Key: key, Err: ErrClosed}
	}
	old, had := m.data[key]
	size := m.size + int64(len(key)+len(value))
	if had {
		size -= int64(len(key) + len(old))
	}
	if m.quota > 0 && size > m.quota {
		m.mu.Unlock()
		return &BackendError{Op: "set", Key: key, Err: ErrQuotaExceeded}
	}
	m.data[key] = value
	m.size = size
	m.mu.Unlock()

	ev := ChangeEvent{Key: strPtr(key), NewValue: strPtr(value), Origin: origin}
	if had {
		ev.OldValue = strPtr(old)
	}
	m.broadcast(ev)
	return nil
}

func (m *Memory) delete(origin, key string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return &BackendError{Op: "delete", Key: key, Err: ErrClosed}
	}
	old, had := m.data[key]
	if !had {
		m.mu.Unlock()
		return nil
	}
	delete(m.data, key)
	m.size -= int64(len(key) + len(old))
	m.mu.Unlock()

	m.broadcast(ChangeEvent{Key: strPtr(key), OldValue: strPtr(old), Origin: origin})
	return nil
}

func (m *Memory) clear(origin string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return &BackendError{Op: "clear", Err: ErrClosed}
	}
	m.data = make(map[string]string)
	m.size = 0
	m.mu.Unlock()

	m.broadcast(ChangeEvent{Origin: origin})
	return nil
}

func (m *Memory) keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, &BackendError{Op: "keys", Err: ErrClosed}
	}
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) broadcast(ev ChangeEvent) {
	area := m.handle
	ev.Area = &area

	m.watchMu.RLock()
	ids := make([]uint64, 0, len(m.watchers))
	for id, w := range m.watchers {
		if w.origin != ev.Origin {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	sinks := make([]func(ChangeEvent), 0, len(ids))
	for _, id := range ids {
		sinks = append(sinks, m.watchers[id].sink)
	}
	m.watchMu.RUnlock()

	if len(sinks) == 0 {
		return
	}
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		for _, sink := range sinks {
			sink(ev)
		}
	}()
}

type memoryView struct {
	m      *Memory
	origin string
}

func (v *memoryView) Get(key string) (string, bool, error) { return v.m.get(key) }
func (v *memoryView) Set(key, value string) error          { return v.m.set(v.origin, key, value) }
func (v *memoryView) Delete(key string) error              { return v.m.delete(v.origin, key) }
func (v *memoryView) Clear() error                         { return v.m.clear(v.origin) }
func (v *memoryView) Keys() ([]string, error)              { return v.m.keys() }
func (v *memoryView) Handle() Handle                       { return v.m.handle }
