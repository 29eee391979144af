package core

import "sync"

// RWRef shares a value between several owners behind a read/write lock.
// Holders take the shared lock for ordinary use and the exclusive lock
// when they create or destroy something that hangs off the value. The lock
// is not reentrant: never call back into code that locks the same ref.
type RWRef[T any] struct {
	mutex sync.RWMutex
	value T
}

func NewRWRef[T any](value T) *RWRef[T] {
	return &RWRef[T]{value: value}
}

// RLock acquires the shared lock and returns the guarded value.
func (r *RWRef[T]) RLock() T {
	r.mutex.RLock()
	return r.value
}

func (r *RWRef[T]) RUnlock() {
	r.mutex.RUnlock()
}

// Lock acquires the exclusive lock and returns the guarded value.
func (r *RWRef[T]) Lock() T {
	r.mutex.Lock()
	return r.value
}

func (r *RWRef[T]) Unlock() {
	r.mutex.Unlock()
}
