// Package debounce delays work until calls have been quiet for a while.
package debounce

import (
	"sync"
	"time"

	"github.com/kalambet/tabstate/internal/reactive"
)

// Debouncer runs fn once no Run call has happened for delay.
type Debouncer struct {
	mu    sync.Mutex
	fn    func()
	delay time.Duration
	timer *time.Timer
}

// New creates a Debouncer.
func New(fn func(), delay time.Duration) *Debouncer {
	return &Debouncer{fn: fn, delay: delay}
}

// Run (re)starts the countdown.
func (d *Debouncer) Run() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

// Cancel drops a pending call.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// State is a reactive value whose updates land only after they stop coming
// for the configured delay. The last value set wins.
type State[T any] struct {
	cell *reactive.Cell[T]
	deb  *Debouncer

	mu      sync.Mutex
	pending T
}

// NewState creates a State holding initial.
func NewState[T any](initial T, delay time.Duration) *State[T] {
	s := &State[T]{cell: reactive.New(initial)}
	s.deb = New(s.flush, delay)
	return s
}

// Get returns the settled value.
func (s *State[T]) Get() T { return s.cell.Get() }

// Set schedules v to become the value.
func (s *State[T]) Set(v T) {
	s.mu.Lock()
	s.pending = v
	s.mu.Unlock()
	s.deb.Run()
}

// Subscribe calls fn with every settled value.
func (s *State[T]) Subscribe(fn func(T)) (cancel func()) {
	return s.cell.Subscribe(fn)
}

// Cancel drops a pending Set.
func (s *State[T]) Cancel() { s.deb.Cancel() }

func (s *State[T]) flush() {
	s.mu.Lock()
	v := s.pending
	s.mu.Unlock()
	s.cell.Set(v)
}
