// Package events delivers context-wide notifications ("storage", "online",
// "offline") to registered handlers. A Bus is injected into every consumer;
// there is no package-level registry.
package events

import (
	"sort"
	"sync"

	"github.com/kalambet/tabstate/internal/storage"
)

// Event names.
const (
	Storage = "storage"
	Online  = "online"
	Offline = "offline"
)

// Event is one notification. Storage is set for Storage events only.
type Event struct {
	Name    string
	Storage *storage.ChangeEvent
}

// Handler receives events.
type Handler func(Event)

// Bus fans events out to the handlers registered for their name.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]map[uint64]Handler
	nextID   uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string]map[uint64]Handler)}
}

// Registration is the token returned by Subscribe.
type Registration struct {
	bus  *Bus
	name string
	id   uint64
	once sync.Once
}

// Subscribe registers h for events named name.
func (b *Bus) Subscribe(name string, h Handler) *Registration {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	if b.handlers[name] == nil {
		b.handlers[name] = make(map[uint64]Handler)
	}
	b.handlers[name][id] = h
	return &Registration{bus: b, name: name, id: id}
}

// Unsubscribe removes the handler. Only the first call has an effect.
func (r *Registration) Unsubscribe() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.bus.mu.Lock()
		defer r.bus.mu.Unlock()
		delete(r.bus.handlers[r.name], r.id)
		if len(r.bus.handlers[r.name]) == 0 {
			delete(r.bus.handlers, r.name)
		}
	})
}

// Dispatch calls every handler registered for ev.Name, in registration order,
// on the caller's goroutine.
func (b *Bus) Dispatch(ev Event) {
	b.mu.RLock()
	registered := b.handlers[ev.Name]
	ids := make([]uint64, 0, len(registered))
	for id := range registered {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	hs := make([]Handler, 0, len(ids))
	for _, id := range ids {
		hs = append(hs, registered[id])
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
}

// DispatchStorage wraps a change as a Storage event and dispatches it.
func (b *Bus) DispatchStorage(ch storage.ChangeEvent) {
	b.Dispatch(Event{Name: Storage, Storage: &ch})
}

// Len reports how many handlers are registered for name.
func (b *Bus) Len(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}
