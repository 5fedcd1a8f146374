// Package collection provides a sorted, duplicate-free set whose mutations
// always notify subscribers, even when they change nothing.
package collection

import (
	"cmp"
	"sync"

	"github.com/google/btree"

	"github.com/kalambet/tabstate/internal/reactive"
)

const degree = 16

// SortedSet keeps its elements ordered by less. Two elements a and b are the
// same element when neither is less than the other.
type SortedSet[T any] struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[T]
	less func(a, b T) bool

	// version is bumped by every mutation; its subscribers are the set's.
	version *reactive.Cell[uint64]
}

// New creates a set ordered by less holding items.
func New[T any](less func(a, b T) bool, items ...T) *SortedSet[T] {
	s := &SortedSet[T]{
		tree:    btree.NewG(degree, btree.LessFunc[T](less)),
		less:    less,
		version: reactive.New[uint64](0),
	}
	for _, it := range items {
		s.tree.ReplaceOrInsert(it)
	}
	return s
}

// NewOrdered creates a set of naturally ordered values.
func NewOrdered[T cmp.Ordered](items ...T) *SortedSet[T] {
	return New(cmp.Less[T], items...)
}

// Assign replaces the whole contents with items.
func (s *SortedSet[T]) Assign(items ...T) {
	s.mu.Lock()
	s.tree.Clear(false)
	for _, it := range items {
		s.tree.ReplaceOrInsert(it)
	}
	s.mu.Unlock()
	s.update()
}

// Insert adds v. It reports true if v was not already present; an existing
// equal element is kept.
func (s *SortedSet[T]) Insert(v T) bool {
	s.mu.Lock()
	added := !s.tree.Has(v)
	if added {
		s.tree.ReplaceOrInsert(v)
	}
	s.mu.Unlock()
	s.update()
	return added
}

// Replace adds v, replacing an equal element if there is one, and returns the
// replaced element.
func (s *SortedSet[T]) Replace(v T) (old T, replaced bool) {
	s.mu.Lock()
	old, replaced = s.tree.ReplaceOrInsert(v)
	s.mu.Unlock()
	s.update()
	return old, replaced
}

// Remove deletes v and reports whether it was present.
func (s *SortedSet[T]) Remove(v T) bool {
	s.mu.Lock()
	_, removed := s.tree.Delete(v)
	s.mu.Unlock()
	s.update()
	return removed
}

// Retain keeps only the elements for which keep returns true.
func (s *SortedSet[T]) Retain(keep func(T) bool) {
	s.mu.Lock()
	var drop []T
	s.tree.Ascend(func(it T) bool {
		if !keep(it) {
			drop = append(drop, it)
		}
		return true
	})
	for _, it := range drop {
		s.tree.Delete(it)
	}
	s.mu.Unlock()
	s.update()
}

// Clear removes every element.
func (s *SortedSet[T]) Clear() {
	s.mu.Lock()
	s.tree.Clear(false)
	s.mu.Unlock()
	s.update()
}

// Current returns the elements in order.
func (s *SortedSet[T]) Current() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, s.tree.Len())
	s.tree.Ascend(func(it T) bool {
		out = append(out, it)
		return true
	})
	return out
}

// Ascend calls fn for each element in order until fn returns false. The set
// is read-locked for the duration, so fn must not mutate it.
func (s *SortedSet[T]) Ascend(fn func(T) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.tree.Ascend(btree.ItemIteratorG[T](fn))
}

// Contains reports whether an element equal to v is present.
func (s *SortedSet[T]) Contains(v T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Has(v)
}

// Len returns the number of elements.
func (s *SortedSet[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// Subscribe calls fn after every mutation.
func (s *SortedSet[T]) Subscribe(fn func()) (cancel func()) {
	return s.version.Subscribe(func(uint64) { fn() })
}

// Equal reports whether both sets hold the same elements.
func (s *SortedSet[T]) Equal(other *SortedSet[T]) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil {
		return false
	}
	a, b := s.Current(), other.Current()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if s.less(a[i], b[i]) || s.less(b[i], a[i]) {
			return false
		}
	}
	return true
}

func (s *SortedSet[T]) update() {
	s.version.Update(func(v uint64) uint64 { return v + 1 })
}
