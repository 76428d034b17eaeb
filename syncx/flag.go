// Copyright 2017 Aleksey Blinov. All rights reserved.

package syncx

import (
	"sync/atomic"
)

// Flag is a one-way boolean switch. Its zero value is "up". The flag can be
// lowered exactly once and never raised again, which makes it suitable for
// open/closed state that must not flip back, such as a connection that has
// seen a GOAWAY frame.
//
// Flag is safe for use in concurrent goroutines.
type Flag uint32

// Up reports whether the flag is still in its initial raised state.
func (f *Flag) Up() bool {
	return atomic.LoadUint32((*uint32)(f)) == 0
}

// Lower lowers the flag. It returns true if this call performed
// the transition and false if the flag had already been lowered.
func (f *Flag) Lower() bool {
	return atomic.CompareAndSwapUint32((*uint32)(f), 0, 1)
}
