package common

import "sync/atomic"

// Latest is a single-slot holder for the most recent value published by a producer.
// Store replaces whatever was there; there is no queue and no backpressure.
// The zero value is an empty slot ready for use.
type Latest[T any] struct {
	p atomic.Pointer[T]
}

// Store publishes v, replacing the previous value.
func (l *Latest[T]) Store(v *T) {
	l.p.Store(v)
}

// Load returns the current value, or nil if the slot is empty.
func (l *Latest[T]) Load() *T {
	return l.p.Load()
}

// Swap publishes v and returns the value it replaced.
func (l *Latest[T]) Swap(v *T) *T {
	return l.p.Swap(v)
}

// Clear empties the slot.
func (l *Latest[T]) Clear() {
	l.p.Store(nil)
}
