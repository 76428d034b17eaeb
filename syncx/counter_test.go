// Copyright 2017 Aleksey Blinov. All rights reserved.

package syncx

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounter(t *testing.T) {
	var c Counter
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Add(3)
		}()
	}
	wg.Wait()
	assert.Exactly(t, uint64(300), c.Draw())
	assert.Exactly(t, uint64(0), c.Draw())
}

func TestTickTockCounter(t *testing.T) {
	var c TickTockCounter
	c.Tick()
	c.Tick()
	c.Tock()
	ticks, tocks := c.Fold()
	assert.Exactly(t, uint32(2), ticks)
	assert.Exactly(t, uint32(1), tocks)
	// One tick is still outstanding after the fold.
	ticks, tocks = c.Fold()
	assert.Exactly(t, uint32(1), ticks)
	assert.Exactly(t, uint32(0), tocks)
	c.Tock()
	ticks, tocks = c.Fold()
	assert.Exactly(t, uint32(1), ticks)
	assert.Exactly(t, uint32(1), tocks)
	ticks, tocks = c.Fold()
	assert.Exactly(t, uint32(0), ticks)
	assert.Exactly(t, uint32(0), tocks)
}
