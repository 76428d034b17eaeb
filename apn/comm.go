// Copyright 2017 Aleksey Blinov. All rights reserved.

package apn

import (
	"math/rand"
	"time"
)

// CommsCfg is a set of parameters that govern communications with APN
// servers. Two baseline configuration sets are predefined by CommsFast
// and CommsSlow global variables. You may define your own sets as needed
// to address any specific requirements of your particular setup.
type CommsCfg struct {

	// DialTimeout is the maximum amount of time a dial will wait for a
	// connect to complete.
	DialTimeout time.Duration

	// RequestTimeout bounds one complete push: pool acquisition, stream
	// slot acquisition, upload and response wait. When it fires, the
	// connection it fired on is considered broken and is discarded.
	RequestTimeout time.Duration

	// KeepAlive specifies the keep-alive period for an active network
	// connection. A zero value is replaced by the CommsDefault period.
	// Apple recommends not closing connections to APN service at all,
	// but a sensibly long duration is acceptable.
	KeepAlive time.Duration

	// IdleTTL is how long an unused pooled connection is kept before
	// being evicted and closed.
	IdleTTL time.Duration

	// FlowReplenishPeriod is the cadence at which each connection's
	// inbound flow-control window is topped up with a WINDOW_UPDATE.
	FlowReplenishPeriod time.Duration

	// MinDialBackOff is the back-off delay after the first failed dial.
	MinDialBackOff time.Duration

	// MaxDialBackOff caps the exponentially growing dial back-off.
	MaxDialBackOff time.Duration

	// DialBackOffJitter is the random fraction, between 0 and 1, added
	// on top of the computed back-off delay.
	DialBackOffJitter float64
}

// CommsFast is a baseline set of communication settings for situations
// where long delays cannot be tolerated.
var CommsFast = CommsCfg{
	DialTimeout:         20 * time.Second,
	RequestTimeout:      300 * time.Second,
	KeepAlive:           10 * time.Hour,
	IdleTTL:             300 * time.Second,
	FlowReplenishPeriod: time.Second,
	MinDialBackOff:      500 * time.Millisecond,
	MaxDialBackOff:      1 * time.Minute,
	DialBackOffJitter:   0.1,
}

// CommsSlow is a baseline set of communication settings accommodating a
// wider range of network performance and APN service responsiveness
// scenarios.
var CommsSlow = CommsCfg{
	DialTimeout:         40 * time.Second,
	RequestTimeout:      300 * time.Second,
	KeepAlive:           10 * time.Hour,
	IdleTTL:             300 * time.Second,
	FlowReplenishPeriod: time.Second,
	MinDialBackOff:      1 * time.Second,
	MaxDialBackOff:      5 * time.Minute,
	DialBackOffJitter:   0.1,
}

// CommsDefault is the set of communication settings that is used when
// you do not supply an explicit comms configuration where one is needed.
var CommsDefault = CommsSlow

// withDefaults fills zero-valued fields from CommsDefault.
func (c CommsCfg) withDefaults() CommsCfg {
	d := CommsDefault
	if c.DialTimeout == 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = d.KeepAlive
	}
	if c.IdleTTL == 0 {
		c.IdleTTL = d.IdleTTL
	}
	if c.FlowReplenishPeriod == 0 {
		c.FlowReplenishPeriod = d.FlowReplenishPeriod
	}
	if c.MinDialBackOff == 0 {
		c.MinDialBackOff = d.MinDialBackOff
	}
	if c.MaxDialBackOff == 0 {
		c.MaxDialBackOff = d.MaxDialBackOff
	}
	if c.DialBackOffJitter == 0 {
		c.DialBackOffJitter = d.DialBackOffJitter
	}
	return c
}

// backOffTracker tracks exponential dial back-off with jitter. It is not
// safe for concurrent use; the pool guards it with its own mutex.
type backOffTracker struct {
	initial time.Duration
	max     time.Duration
	jitter  float64
	current time.Duration
	end     time.Time
}

func (t *backOffTracker) update(status error) {
	if status != nil {
		if now := time.Now(); now.After(t.end) {
			// Ignore any failures before end time as they may be coming
			// from a concurrent attempt.
			if t.current == 0 {
				t.current = t.initial
			}
			d := t.current
			if t.jitter > 0 {
				d += time.Duration(rand.Int63n(int64(float64(d)*t.jitter) + 1))
			}
			t.end = now.Add(d)
			t.current = t.current << 1
			if t.max > 0 && t.current > t.max {
				t.current = t.max
			}
			logTrace(1, "backoff", "backing off for %v until %v", d, t.end)
		}
	} else {
		if now := time.Now(); now.After(t.end) {
			t.current = t.initial
		}
	}
}

func (t *backOffTracker) blackoutEnd() time.Time {
	return t.end
}
