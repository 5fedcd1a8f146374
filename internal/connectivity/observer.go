// Package connectivity tracks whether the context is online. The Monitor
// probes the network and raises "online"/"offline" events on the bus; an
// Observer turns those events into a reactive boolean.
package connectivity

import (
	"sync"

	"github.com/kalambet/tabstate/internal/events"
	"github.com/kalambet/tabstate/internal/reactive"
)

// Observer holds the current online flag.
type Observer struct {
	cell *reactive.Cell[bool]
	regs []*events.Registration
	once sync.Once
}

// NewObserver starts from online and follows online/offline events on bus.
func NewObserver(online bool, bus *events.Bus) *Observer {
	o := &Observer{cell: reactive.New(online)}
	o.regs = []*events.Registration{
		bus.Subscribe(events.Online, func(events.Event) { o.cell.Set(true) }),
		bus.Subscribe(events.Offline, func(events.Event) { o.cell.Set(false) }),
	}
	return o
}

// Online reports the last known state.
func (o *Observer) Online() bool {
	return o.cell.Get()
}

// Subscribe calls fn on every online/offline event.
func (o *Observer) Subscribe(fn func(online bool)) (cancel func()) {
	return o.cell.Subscribe(fn)
}

// Close removes both event registrations.
func (o *Observer) Close() {
	o.once.Do(func() {
		for _, r := range o.regs {
			r.Unsubscribe()
		}
	})
}
