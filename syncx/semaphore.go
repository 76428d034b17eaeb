// Copyright 2017 Aleksey Blinov. All rights reserved.

package syncx

import (
	"context"
)

// Semaphore is a counting semaphore with context-aware acquisition.
// It bounds the number of concurrent holders to the capacity it was
// created with. Acquirers past the capacity block; they do not fail
// unless their context is canceled first.
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore returns a semaphore admitting up to capacity concurrent
// holders. A zero capacity is treated as 1.
func NewSemaphore(capacity uint32) *Semaphore {
	if capacity == 0 {
		capacity = 1
	}
	return &Semaphore{slots: make(chan struct{}, capacity)}
}

// Acquire blocks until a slot is available or ctx is done. A nil return
// means the caller holds a slot and must pair it with Release on every
// exit path.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	default:
	}
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot if one is immediately available.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a previously acquired slot. Releasing more than was
// acquired is a programmer error and panics.
func (s *Semaphore) Release() {
	select {
	case <-s.slots:
	default:
		panic("syncx: semaphore released without acquire")
	}
}

// InUse returns the number of slots currently held.
func (s *Semaphore) InUse() int {
	return len(s.slots)
}

// Cap returns the semaphore's capacity.
func (s *Semaphore) Cap() int {
	return cap(s.slots)
}
