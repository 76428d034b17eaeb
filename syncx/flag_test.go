// Copyright 2017 Aleksey Blinov. All rights reserved.

package syncx

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlagLowerOnce(t *testing.T) {
	var f Flag
	assert.True(t, f.Up())
	assert.True(t, f.Lower())
	assert.False(t, f.Up())
	assert.False(t, f.Lower())
	assert.False(t, f.Up())
}

func TestFlagConcurrentLower(t *testing.T) {
	var f Flag
	var wg sync.WaitGroup
	wins := make(chan struct{}, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.Lower() {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)
	cnt := 0
	for range wins {
		cnt++
	}
	assert.Equal(t, 1, cnt)
	assert.False(t, f.Up())
}
