// Package history keeps a bounded sliding window of recent items per entity.
//
// Each entity owns its window and its lock, so appends for different entities
// never contend. Nothing is persisted; windows live for the process lifetime.
package history

import "sync"

// DefaultSize is the number of items kept per entity.
const DefaultSize = 5

// Store maps entity IDs to sliding windows of at most size items.
type Store[T any] struct {
	size    int
	windows sync.Map // map[string]*window[T]
}

type window[T any] struct {
	mu    sync.Mutex
	items []T
}

// New creates a store keeping the last size items per entity. A size below
// one falls back to DefaultSize.
func New[T any](size int) *Store[T] {
	if size < 1 {
		size = DefaultSize
	}
	return &Store[T]{size: size}
}

// Size returns the per-entity capacity.
func (s *Store[T]) Size() int { return s.size }

// Append adds item to the entity's window, evicting the oldest entry when
// full, and returns a snapshot of the window taken under the same lock.
// The snapshot always ends with item.
func (s *Store[T]) Append(entityID string, item T) []T {
	w := s.getWindow(entityID)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.items = append(w.items, item)
	if len(w.items) > s.size {
		// Copy down so the backing array does not grow without bound.
		n := copy(w.items, w.items[len(w.items)-s.size:])
		w.items = w.items[:n]
	}
	return snapshot(w.items)
}

// Window returns a copy of the entity's current window, oldest first.
func (s *Store[T]) Window(entityID string) []T {
	v, ok := s.windows.Load(entityID)
	if !ok {
		return nil
	}
	w := v.(*window[T])
	w.mu.Lock()
	defer w.mu.Unlock()
	return snapshot(w.items)
}

// Reset drops the entity's window and reports whether one existed.
func (s *Store[T]) Reset(entityID string) bool {
	_, ok := s.windows.LoadAndDelete(entityID)
	return ok
}

// Entities returns the number of entities with a window.
func (s *Store[T]) Entities() int {
	n := 0
	s.windows.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *Store[T]) getWindow(entityID string) *window[T] {
	v, _ := s.windows.LoadOrStore(entityID, &window[T]{})
	return v.(*window[T])
}

func snapshot[T any](items []T) []T {
	out := make([]T, len(items))
	copy(out, items)
	return out
}
