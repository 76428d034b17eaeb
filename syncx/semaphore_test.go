// Copyright 2017 Aleksey Blinov. All rights reserved.

package syncx

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSemaphoreBound(t *testing.T) {
	const capacity = 4
	s := NewSemaphore(capacity)
	var cur, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Acquire(context.Background()); err != nil {
				t.Error(err)
				return
			}
			defer s.Release()
			n := atomic.AddInt32(&cur, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&cur, -1)
		}()
	}
	wg.Wait()
	assert.True(t, peak <= capacity, "peak %d exceeds capacity %d", peak, capacity)
	assert.Equal(t, 0, s.InUse())
}

func TestSemaphoreAcquireCanceled(t *testing.T) {
	s := NewSemaphore(1)
	assert.True(t, s.TryAcquire())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := s.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	s.Release()
	assert.True(t, s.TryAcquire())
	s.Release()
}

func TestSemaphoreReleaseWithoutAcquire(t *testing.T) {
	s := NewSemaphore(2)
	assert.Panics(t, func() { s.Release() })
}

func TestSemaphoreZeroCapacity(t *testing.T) {
	s := NewSemaphore(0)
	assert.Equal(t, 1, s.Cap())
}
