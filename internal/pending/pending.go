// Package pending tracks optimistic mutations: a placeholder is inserted
// under a client-generated correlation id, then confirmed with the server's
// value or rolled back.
package pending

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

const TempPrefix = "temp-"

// NewTempID returns a fresh client correlation id.
func NewTempID() string {
	return TempPrefix + uuid.NewString()
}

func IsTemp(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}

// Tracker holds the placeholders of in-flight operations keyed by temp id.
type Tracker[T any] struct {
	mu  sync.Mutex
	ops map[string]T
}

func NewTracker[T any]() *Tracker[T] {
	return &Tracker[T]{ops: make(map[string]T)}
}

// Begin records placeholder under a new temp id and returns the id.
func (t *Tracker[T]) Begin(placeholder T) string {
	id := NewTempID()
	t.mu.Lock()
	t.ops[id] = placeholder
	t.mu.Unlock()
	return id
}

// Finish removes id and returns its placeholder. ok is false when id was
// never started or already finished.
func (t *Tracker[T]) Finish(id string) (placeholder T, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	placeholder, ok = t.ops[id]
	delete(t.ops, id)
	return placeholder, ok
}

func (t *Tracker[T]) Pending(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ops[id]
	return ok
}

func (t *Tracker[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ops)
}

// IndexOf returns the position of the first item whose key is id, or -1.
func IndexOf[T any](items []T, id string, key func(T) string) int {
	for i, it := range items {
		if key(it) == id {
			return i
		}
	}
	return -1
}

// Replace swaps the item keyed by id for repl, keeping its position.
func Replace[T any](items []T, id string, key func(T) string, repl T) ([]T, bool) {
	i := IndexOf(items, id, key)
	if i < 0 {
		return items, false
	}
	out := make([]T, len(items))
	copy(out, items)
	out[i] = repl
	return out, true
}

// Remove drops the item keyed by id.
func Remove[T any](items []T, id string, key func(T) string) ([]T, bool) {
	i := IndexOf(items, id, key)
	if i < 0 {
		return items, false
	}
	out := make([]T, 0, len(items)-1)
	out = append(out, items[:i]...)
	return append(out, items[i+1:]...), true
}
