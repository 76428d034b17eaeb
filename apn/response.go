// Copyright 2017 Aleksey Blinov. All rights reserved.

package apn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// FatalReason is a permanent rejection reason reported by APN service.
// Known reasons are listed below; any other value came from the server
// verbatim, or carries the "unhandled status" form for status codes
// outside the documented tables. From table 8-6 in the Apple Local and
// Remote Notification Programming Guide.
type FatalReason string

const (
	// 400 The collapse identifier exceeds the maximum allowed size.
	FatalBadCollapseID FatalReason = "BadCollapseId"

	// 400 The specified device token was bad. Verify that the request
	// contains a valid token and that the token matches the environment.
	FatalBadDeviceToken FatalReason = "BadDeviceToken"

	// 400 The apns-expiration value is bad.
	FatalBadExpirationDate FatalReason = "BadExpirationDate"

	// 400 The apns-id value is bad.
	FatalBadMessageID FatalReason = "BadMessageId"

	// 400 The apns-priority value is bad.
	FatalBadPriority FatalReason = "BadPriority"

	// 400 The apns-topic was invalid.
	FatalBadTopic FatalReason = "BadTopic"

	// 400 The device token does not match the specified topic.
	FatalDeviceTokenNotForTopic FatalReason = "DeviceTokenNotForTopic"

	// 400 One or more headers were repeated.
	FatalDuplicateHeaders FatalReason = "DuplicateHeaders"

	// 400 Idle time out.
	FatalIdleTimeout FatalReason = "IdleTimeout"

	// 400 The device token is not specified in the request :path.
	FatalMissingDeviceToken FatalReason = "MissingDeviceToken"

	// 400 The apns-topic header of the request was not specified and was
	// required.
	FatalMissingTopic FatalReason = "MissingTopic"

	// 400 The message payload was empty.
	FatalPayloadEmpty FatalReason = "PayloadEmpty"

	// 400 Pushing to this topic is not allowed.
	FatalTopicDisallowed FatalReason = "TopicDisallowed"

	// 403 The certificate was bad.
	FatalBadCertificate FatalReason = "BadCertificate"

	// 403 The client certificate was for the wrong environment.
	FatalBadCertificateEnvironment FatalReason = "BadCertificateEnvironment"

	// 403 The provider token is stale and a new token should be generated.
	FatalExpiredProviderToken FatalReason = "ExpiredProviderToken"

	// 403 The specified action is not allowed.
	FatalForbidden FatalReason = "Forbidden"

	// 403 The provider token is not valid or the token signature could
	// not be verified.
	FatalInvalidProviderToken FatalReason = "InvalidProviderToken"

	// 403 No provider certificate was used to connect to APNs and the
	// Authorization header was missing or no provider token was specified.
	FatalMissingProviderToken FatalReason = "MissingProviderToken"

	// 404 The request contained a bad :path value.
	FatalBadPath FatalReason = "BadPath"

	// 405 The specified :method was not POST.
	FatalMethodNotAllowed FatalReason = "MethodNotAllowed"

	// 410 The device token is inactive for the specified topic.
	FatalUnregistered FatalReason = "Unregistered"

	// 413 The message payload was too large. The maximum payload size is
	// 4096 bytes.
	FatalPayloadTooLarge FatalReason = "PayloadTooLarge"
)

var knownFatalReasons = map[FatalReason]struct{}{
	FatalBadCollapseID:             {},
	FatalBadDeviceToken:            {},
	FatalBadExpirationDate:         {},
	FatalBadMessageID:              {},
	FatalBadPriority:               {},
	FatalBadTopic:                  {},
	FatalDeviceTokenNotForTopic:    {},
	FatalDuplicateHeaders:          {},
	FatalIdleTimeout:               {},
	FatalMissingDeviceToken:        {},
	FatalMissingTopic:              {},
	FatalPayloadEmpty:              {},
	FatalTopicDisallowed:           {},
	FatalBadCertificate:            {},
	FatalBadCertificateEnvironment: {},
	FatalExpiredProviderToken:      {},
	FatalForbidden:                 {},
	FatalInvalidProviderToken:      {},
	FatalMissingProviderToken:      {},
	FatalBadPath:                   {},
	FatalMethodNotAllowed:          {},
	FatalUnregistered:              {},
	FatalPayloadTooLarge:           {},
}

// Known reports whether the reason is one of the documented APN rejection
// identifiers as opposed to a verbatim unknown server string.
func (r FatalReason) Known() bool {
	_, ok := knownFatalReasons[r]
	return ok
}

// TemporaryReason is a transient failure reason reported by APN service.
type TemporaryReason string

const (
	// 429 The provider token is being updated too often.
	TemporaryTooManyProviderTokenUpdates TemporaryReason = "TooManyProviderTokenUpdates"

	// 429 Too many requests were made consecutively to the same device
	// token.
	TemporaryTooManyRequests TemporaryReason = "TooManyRequests"

	// 500 An internal server error occurred.
	TemporaryInternalServerError TemporaryReason = "InternalServerError"

	// 503 The service is unavailable.
	TemporaryServiceUnavailable TemporaryReason = "ServiceUnavailable"

	// 503 The server is shutting down.
	TemporaryShutdown TemporaryReason = "Shutdown"
)

var knownTemporaryReasons = map[TemporaryReason]struct{}{
	TemporaryTooManyProviderTokenUpdates: {},
	TemporaryTooManyRequests:             {},
	TemporaryInternalServerError:         {},
	TemporaryServiceUnavailable:          {},
	TemporaryShutdown:                    {},
}

// Known reports whether the reason is one of the documented transient
// identifiers. There is deliberately no open wildcard for transient
// reasons: an unknown one is a protocol error.
func (r TemporaryReason) Known() bool {
	_, ok := knownTemporaryReasons[r]
	return ok
}

// responseBody is the JSON shape of an APN service error response.
type responseBody struct {
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// classify maps an APN response status and body to a Result.
//
// 200 is accepted without looking at the body. The documented fatal
// statuses decode the reason identifier, falling back to the verbatim
// server string when it is unknown. The documented transient statuses
// require a known reason; anything else at those statuses, and any body
// that fails to parse, is a client error rather than a functional result.
func classify(status int, body []byte) Result {
	if status == http.StatusOK {
		return resultOK()
	}
	var rb responseBody
	if err := json.Unmarshal(body, &rb); err != nil {
		return resultClientError(fmt.Errorf("apn: decoding response body: %w", err))
	}
	switch status {
	case http.StatusBadRequest,
		http.StatusForbidden,
		http.StatusMethodNotAllowed,
		http.StatusGone,
		http.StatusRequestEntityTooLarge:
		res := resultFatal(FatalReason(rb.Reason))
		if status == http.StatusGone && rb.Timestamp != 0 {
			res.Unregistered = time.Unix(rb.Timestamp/1000, 1000000*(rb.Timestamp%1000))
		}
		return res
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusServiceUnavailable:
		reason := TemporaryReason(rb.Reason)
		if !reason.Known() {
			return resultClientError(fmt.Errorf("apn: unknown transient reason %q at status %d", rb.Reason, status))
		}
		return resultTemporary(reason)
	default:
		return resultFatal(FatalReason(fmt.Sprintf("unhandled status: %d", status)))
	}
}

// errResult translates a transport-layer error into a Result, separating
// OS-level socket failures from everything else. Context expiry is a
// client error: it is the request timeout firing, not the socket failing,
// even though context.DeadlineExceeded also satisfies net.Error.
func errResult(err error) Result {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return resultClientError(err)
	}
	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return resultIOError(err)
	}
	return resultClientError(err)
}
