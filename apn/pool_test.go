// Copyright 2017 Aleksey Blinov. All rights reserved.

package apn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kylebshr/push-notify-apn/syncx"
)

// newTestPool returns a pool whose dial produces transport-less
// connections, along with the dial counter.
func newTestPool(info *connInfo, maxConns uint32, open *syncx.Flag) (*pool, *int32) {
	p := newPool(info, maxConns, nil, open)
	var dials int32
	p.dial = func(info *connInfo, id string) (*Conn, error) {
		atomic.AddInt32(&dials, 1)
		return newTestConn(info, id), nil
	}
	return p, &dials
}

func TestPoolReusesConnection(t *testing.T) {
	var open syncx.Flag
	p, dials := newTestPool(testConnInfo(4), 2, &open)
	for i := 0; i < 5; i++ {
		res := p.withConn(func(ctx context.Context, c *Conn) Result {
			return resultOK()
		})
		assert.True(t, res.Accepted())
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(dials))
	assert.Equal(t, 1, p.stats().Conns)
}

func TestPoolCapacityBound(t *testing.T) {
	const maxConns = 2
	var open syncx.Flag
	info := testConnInfo(1) // one stream per connection forces sharing
	p, dials := newTestPool(info, maxConns, &open)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := p.withConn(func(ctx context.Context, c *Conn) Result {
				if err := c.slots.Acquire(ctx); err != nil {
					return resultClientError(err)
				}
				defer c.slots.Release()
				time.Sleep(2 * time.Millisecond)
				return resultOK()
			})
			if !res.Accepted() {
				t.Error(res)
			}
		}()
	}
	wg.Wait()
	assert.True(t, atomic.LoadInt32(dials) <= maxConns, "%d dials", *dials)
	assert.True(t, p.stats().Conns <= maxConns)
}

func TestPoolDiscardsOnClientError(t *testing.T) {
	var open syncx.Flag
	p, dials := newTestPool(testConnInfo(4), 2, &open)
	boom := errors.New("boom")
	res := p.withConn(func(ctx context.Context, c *Conn) Result {
		return resultClientError(boom)
	})
	assert.ErrorIs(t, res.Err, boom)
	assert.Equal(t, 0, p.stats().Conns)
	res = p.withConn(func(ctx context.Context, c *Conn) Result {
		return resultOK()
	})
	assert.True(t, res.Accepted())
	assert.Equal(t, int32(2), atomic.LoadInt32(dials))
}

func TestPoolKeepsConnOnFunctionalResults(t *testing.T) {
	var open syncx.Flag
	p, dials := newTestPool(testConnInfo(4), 2, &open)
	for _, res := range []Result{
		resultOK(),
		resultBackoff(),
		resultFatal(FatalBadDeviceToken),
		resultTemporary(TemporaryShutdown),
	} {
		r := res
		got := p.withConn(func(ctx context.Context, c *Conn) Result {
			return r
		})
		assert.Equal(t, r.Outcome, got.Outcome)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(dials))
	assert.Equal(t, 1, p.stats().Conns)
}

func TestPoolDiscardsClosedConn(t *testing.T) {
	var open syncx.Flag
	p, dials := newTestPool(testConnInfo(4), 2, &open)
	var first *Conn
	p.withConn(func(ctx context.Context, c *Conn) Result {
		first = c
		return resultOK()
	})
	// Simulate a GOAWAY observed between calls.
	first.open.Lower()
	p.withConn(func(ctx context.Context, c *Conn) Result {
		assert.NotEqual(t, first, c)
		assert.True(t, c.IsOpen())
		return resultOK()
	})
	assert.Equal(t, int32(2), atomic.LoadInt32(dials))
	assert.Equal(t, 1, p.stats().Conns)
}

func TestPoolIdleEviction(t *testing.T) {
	var open syncx.Flag
	info := testConnInfo(4)
	info.comms.IdleTTL = 5 * time.Millisecond
	p, dials := newTestPool(info, 2, &open)
	p.withConn(func(ctx context.Context, c *Conn) Result {
		return resultOK()
	})
	time.Sleep(15 * time.Millisecond)
	p.withConn(func(ctx context.Context, c *Conn) Result {
		return resultOK()
	})
	assert.Equal(t, int32(2), atomic.LoadInt32(dials))
	assert.Equal(t, 1, p.stats().Conns)
}

func TestPoolSessionClosed(t *testing.T) {
	var open syncx.Flag
	p, _ := newTestPool(testConnInfo(4), 2, &open)
	open.Lower()
	res := p.withConn(func(ctx context.Context, c *Conn) Result {
		t.Fatal("should not run")
		return resultOK()
	})
	assert.Equal(t, OutcomeClientError, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrSessionClosed)
}

func TestPoolDestroyAll(t *testing.T) {
	var open syncx.Flag
	p, _ := newTestPool(testConnInfo(4), 2, &open)
	var c *Conn
	p.withConn(func(ctx context.Context, cc *Conn) Result {
		c = cc
		return resultOK()
	})
	p.destroyAll()
	assert.False(t, c.IsOpen())
	assert.Equal(t, 0, p.stats().Conns)
	res := p.withConn(func(ctx context.Context, c *Conn) Result {
		return resultOK()
	})
	assert.ErrorIs(t, res.Err, ErrSessionClosed)
}

func TestPoolDialFailureBacksOff(t *testing.T) {
	var open syncx.Flag
	info := testConnInfo(4)
	p := newPool(info, 1, nil, &open)
	fail := errors.New("dial tcp: connection refused")
	p.dial = func(info *connInfo, id string) (*Conn, error) {
		return nil, fail
	}
	res := p.withConn(func(ctx context.Context, c *Conn) Result {
		t.Fatal("should not run")
		return resultOK()
	})
	assert.Equal(t, OutcomeClientError, res.Outcome)
	assert.ErrorIs(t, res.Err, fail)
	p.mu.Lock()
	end := p.backOff.blackoutEnd()
	p.mu.Unlock()
	assert.True(t, end.After(time.Now().Add(-time.Second)))
}

func TestPoolGrowthExponential(t *testing.T) {
	g := GrowthExponential(2)
	assert.Equal(t, uint32(2), g(1))
	assert.Equal(t, uint32(4), g(2))
	gi := GrowthIncremental(0)
	assert.Equal(t, uint32(2), gi(1))
}

func TestPoolWarmsPerGrowthPolicy(t *testing.T) {
	var open syncx.Flag
	info := testConnInfo(1)
	p := newPool(info, 4, GrowthExponential(4), &open)
	var dials int32
	p.dial = func(info *connInfo, id string) (*Conn, error) {
		atomic.AddInt32(&dials, 1)
		return newTestConn(info, id), nil
	}
	res := p.withConn(func(ctx context.Context, c1 *Conn) Result {
		if err := c1.slots.Acquire(ctx); err != nil {
			return resultClientError(err)
		}
		defer c1.slots.Release()
		// With its single stream slot held, c1 is saturated; the next
		// acquire has to grow the pool toward the policy's target.
		c2, err := p.acquire(ctx)
		if err != nil {
			return resultClientError(err)
		}
		assert.NotEqual(t, c1, c2)
		return resultOK()
	})
	assert.True(t, res.Accepted())
	// The demand dial satisfies the second caller; warm-up dials bring
	// the pool the rest of the way in the background.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.stats().Conns >= 4 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 4, p.stats().Conns, fmt.Sprintf("dials=%d", atomic.LoadInt32(&dials)))
}
