// Copyright 2017 Aleksey Blinov. All rights reserved.

package apn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kylebshr/push-notify-apn/syncx"
)

// Growth decides how many connections the pool should hold after finding
// all current connections saturated, given the current count. The result
// is clamped to the pool's maximum.
type Growth func(current uint32) uint32

// GrowthIncremental grows the pool by a fixed number of connections at a
// time. It is the default policy.
func GrowthIncremental(step uint32) Growth {
	if step == 0 {
		step = 1
	}
	return func(current uint32) uint32 {
		return current + step
	}
}

// GrowthExponential multiplies the connection count, which suits bursty
// traffic that saturates connections faster than incremental growth can
// keep up with.
func GrowthExponential(factor float64) Growth {
	if factor < 1 {
		factor = 2
	}
	return func(current uint32) uint32 {
		next := uint32(float64(current) * factor)
		if next <= current {
			next = current + 1
		}
		return next
	}
}

// pool manages up to maxConns live connections built from one connInfo.
// Connections are shared: many callers may hold the same connection at
// once, each multiplexed onto its own stream. A connection counts as busy
// only when all of its stream slots are held.
type pool struct {
	info        *connInfo
	maxConns    uint32
	growth      Growth
	sessionOpen *syncx.Flag

	// dial creates a connection. Tests substitute it.
	dial func(info *connInfo, id string) (*Conn, error)

	mu       sync.Mutex
	conns    map[*Conn]time.Time // live connections and their last use
	nextID   uint
	backOff  backOffTracker
	launches int // demand and warm-up dials in flight
	closed   bool
}

func newPool(info *connInfo, maxConns uint32, growth Growth, sessionOpen *syncx.Flag) *pool {
	if maxConns == 0 {
		maxConns = 1
	}
	if growth == nil {
		growth = GrowthIncremental(1)
	}
	return &pool{
		info:        info,
		maxConns:    maxConns,
		growth:      growth,
		sessionOpen: sessionOpen,
		dial:        dialConn,
		conns:       map[*Conn]time.Time{},
		backOff: backOffTracker{
			initial: info.comms.MinDialBackOff,
			max:     info.comms.MaxDialBackOff,
			jitter:  info.comms.DialBackOffJitter,
		},
	}
}

// withConn runs f against a pooled connection under the configured
// request timeout. A connection on which f reports a transport or client
// failure, or on which the timeout fired, is discarded instead of being
// returned for reuse.
func (p *pool) withConn(f func(ctx context.Context, c *Conn) Result) Result {
	ctx, cancel := context.WithTimeout(context.Background(), p.info.comms.RequestTimeout)
	defer cancel()
	c, err := p.acquire(ctx)
	if err != nil {
		return errResult(err)
	}
	res := f(ctx, c)
	p.release(c, res)
	return res
}

// acquire returns a live connection, preferring the least loaded one,
// dialing a new connection when all are saturated and the pool is below
// capacity. At capacity with every slot taken, the caller simply shares
// the least loaded connection and blocks on its stream slots.
func (p *pool) acquire(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.closed || !p.sessionOpen.Up() {
			return nil, ErrSessionClosed
		}
		p.reapLocked()
		if c := p.pickLocked(false); c != nil {
			p.conns[c] = time.Now()
			return c, nil
		}
		if prev := uint32(len(p.conns)) + uint32(p.launches); prev < p.maxConns {
			c, err := p.dialLocked(ctx)
			if err != nil {
				return nil, err
			}
			p.warmLocked(prev)
			return c, nil
		}
		// Saturated at capacity: share the least loaded connection
		// anyway; its stream-slot semaphore provides the blocking.
		if c := p.pickLocked(true); c != nil {
			p.conns[c] = time.Now()
			return c, nil
		}
		// All capacity is reserved by dials still in flight; wait for
		// one of them to land.
		p.mu.Unlock()
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
			p.mu.Lock()
			return nil, ctx.Err()
		}
		p.mu.Lock()
	}
}

// pickLocked returns the open connection with the most free stream
// slots. Unless saturated is set, fully loaded connections are skipped.
func (p *pool) pickLocked(saturated bool) *Conn {
	var best *Conn
	bestLoad := -1
	for c := range p.conns {
		if !c.IsOpen() {
			continue
		}
		load := c.InFlight()
		if !saturated && load >= c.slots.Cap() {
			continue
		}
		if best == nil || load < bestLoad {
			best, bestLoad = c, load
		}
	}
	return best
}

// reapLocked drops connections that are no longer open and evicts idle
// ones past their TTL.
func (p *pool) reapLocked() {
	now := time.Now()
	for c, last := range p.conns {
		if !c.IsOpen() {
			delete(p.conns, c)
			go c.Close()
			continue
		}
		if c.InFlight() == 0 && now.Sub(last) > p.info.comms.IdleTTL {
			logInfo("Pool", "Evicting idle connection %s.", c.id)
			delete(p.conns, c)
			go c.Close()
		}
	}
}

// dialLocked creates one connection, honoring the dial back-off window.
// It reserves capacity through the launches counter, then releases the
// pool lock for the wait and the dial itself.
func (p *pool) dialLocked(ctx context.Context) (*Conn, error) {
	p.launches++
	defer func() { p.launches-- }()
	if wait := time.Until(p.backOff.blackoutEnd()); wait > 0 {
		p.mu.Unlock()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			p.mu.Lock()
			return nil, ctx.Err()
		}
		p.mu.Lock()
		if p.closed || !p.sessionOpen.Up() {
			return nil, ErrSessionClosed
		}
	}
	p.nextID++
	id := fmt.Sprintf("Conn-%d", p.nextID)
	p.mu.Unlock()
	c, err := p.dial(p.info, id)
	p.mu.Lock()
	p.backOff.update(err)
	if err != nil {
		return nil, err
	}
	if p.closed || !p.sessionOpen.Up() {
		c.Close()
		return nil, ErrSessionClosed
	}
	p.conns[c] = time.Now()
	return c, nil
}

// warmLocked pre-dials additional connections in the background when the
// growth policy asks for more than the demand dial provided. prev is the
// connection count that triggered the growth.
func (p *pool) warmLocked(prev uint32) {
	want := p.growth(prev)
	if want > p.maxConns {
		want = p.maxConns
	}
	have := uint32(len(p.conns)) + uint32(p.launches)
	for ; have < want; have++ {
		p.nextID++
		id := fmt.Sprintf("Conn-%d", p.nextID)
		p.launches++
		go func() {
			c, err := p.dial(p.info, id)
			p.mu.Lock()
			defer p.mu.Unlock()
			p.launches--
			p.backOff.update(err)
			if err != nil {
				logWarn("Pool", "Warm-up dial failed: %v", err)
				return
			}
			if p.closed || uint32(len(p.conns)) >= p.maxConns {
				go c.Close()
				return
			}
			p.conns[c] = time.Now()
		}()
	}
}

// release returns a connection after a call. Connections that failed at
// the transport or client level are discarded so that the next caller
// gets a fresh one.
func (p *pool) release(c *Conn, res Result) {
	discard := !c.IsOpen()
	switch res.Outcome {
	case OutcomeIOError, OutcomeClientError:
		discard = true
	}
	p.mu.Lock()
	if discard {
		delete(p.conns, c)
	} else if _, ok := p.conns[c]; ok {
		p.conns[c] = time.Now()
	}
	p.mu.Unlock()
	if discard {
		c.Close()
	}
}

// destroyAll closes every pooled connection synchronously and marks the
// pool closed.
func (p *pool) destroyAll() {
	p.mu.Lock()
	p.closed = true
	conns := make([]*Conn, 0, len(p.conns))
	for c := range p.conns {
		conns = append(conns, c)
	}
	p.conns = map[*Conn]time.Time{}
	p.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// Stats is a point-in-time snapshot of pool utilization.
type Stats struct {
	// Conns is the number of live pooled connections.
	Conns int

	// InFlight is the total number of held stream slots.
	InFlight int

	// SlotWaits is the number of callers that had to wait for a stream
	// slot since the previous snapshot.
	SlotWaits uint32

	// Pushes is the number of notifications pushed since the previous
	// snapshot.
	Pushes uint64
}

func (p *pool) stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var s Stats
	s.Conns = len(p.conns)
	for c := range p.conns {
		s.InFlight += c.InFlight()
		waits, _ := c.slotWaits.Fold()
		s.SlotWaits += waits
		s.Pushes += c.pushes.Draw()
	}
	return s
}
