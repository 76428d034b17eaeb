// Copyright 2017 Aleksey Blinov. All rights reserved.

package apn

import (
	"fmt"
	"time"
)

// Outcome is the coarse classification of a push attempt.
type Outcome int

const (
	// OutcomeOK means APN service accepted the notification.
	OutcomeOK Outcome = iota

	// OutcomeBackoff means the peer refused to open another stream.
	// The notification was not delivered; retry later.
	OutcomeBackoff

	// OutcomeFatal means APN service rejected the notification
	// permanently. Retrying the identical request will fail again.
	OutcomeFatal

	// OutcomeTemporary means APN service reported a transient failure.
	OutcomeTemporary

	// OutcomeIOError means an OS-level I/O error occurred on the socket.
	OutcomeIOError

	// OutcomeClientError means an HTTP/2 protocol error, a missing
	// required response header, a JSON decode failure on the response
	// body, or a closed session or connection.
	OutcomeClientError
)

var outcomeStrs = map[Outcome]string{
	OutcomeOK:          "ok",
	OutcomeBackoff:     "backoff",
	OutcomeFatal:       "fatal",
	OutcomeTemporary:   "temporary",
	OutcomeIOError:     "io error",
	OutcomeClientError: "client error",
}

func (o Outcome) String() string {
	if s, ok := outcomeStrs[o]; ok {
		return s
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result is the outcome of a single push attempt. At most one of the
// refinement fields is meaningful, selected by Outcome: Fatal for
// OutcomeFatal, Temporary for OutcomeTemporary and Err for OutcomeIOError
// and OutcomeClientError. OutcomeOK and OutcomeBackoff carry none.
type Result struct {
	Outcome   Outcome
	Fatal     FatalReason
	Temporary TemporaryReason
	Err       error

	// Unregistered is the last time APN service confirmed the device
	// token was no longer valid for the topic. It is only set for fatal
	// rejections with status 410.
	Unregistered time.Time
}

// Accepted returns whether the notification was accepted by APN service.
func (r Result) Accepted() bool {
	return r.Outcome == OutcomeOK
}

// Retriable reports whether retrying the same notification later can
// reasonably be expected to succeed.
func (r Result) Retriable() bool {
	switch r.Outcome {
	case OutcomeBackoff, OutcomeTemporary, OutcomeIOError:
		return true
	}
	return false
}

func (r Result) String() string {
	switch r.Outcome {
	case OutcomeFatal:
		return fmt.Sprintf("fatal: %s", string(r.Fatal))
	case OutcomeTemporary:
		return fmt.Sprintf("temporary: %s", string(r.Temporary))
	case OutcomeIOError, OutcomeClientError:
		return fmt.Sprintf("%s: %v", r.Outcome, r.Err)
	}
	return r.Outcome.String()
}

func resultOK() Result {
	return Result{Outcome: OutcomeOK}
}

func resultBackoff() Result {
	return Result{Outcome: OutcomeBackoff}
}

func resultFatal(reason FatalReason) Result {
	return Result{Outcome: OutcomeFatal, Fatal: reason}
}

func resultTemporary(reason TemporaryReason) Result {
	return Result{Outcome: OutcomeTemporary, Temporary: reason}
}

func resultIOError(err error) Result {
	return Result{Outcome: OutcomeIOError, Err: err}
}

func resultClientError(err error) Result {
	return Result{Outcome: OutcomeClientError, Err: err}
}
