// Copyright 2017 Aleksey Blinov. All rights reserved.

package apn

import (
	"fmt"
	"strconv"

	"golang.org/x/net/http2/hpack"
)

// APNS default root URL path.
const RequestRoot = "/3/device/"

// widgetTopicSuffix is appended to the bundle topic when pushing to
// widgets, as required by APN routing.
const widgetTopicSuffix = ".push-type.widgets"

// PushType is the APN-defined category of a notification. It controls
// server-side routing and throttling.
type PushType int

const (
	// PushTypeAlert notifications are displayed to the user.
	PushTypeAlert PushType = iota

	// PushTypeBackground notifications wake the app without user-visible
	// interaction.
	PushTypeBackground

	// PushTypeWidgets notifications refresh the app's widgets.
	PushTypeWidgets
)

var pushTypeStrs = map[PushType]string{
	PushTypeAlert:      "alert",
	PushTypeBackground: "background",
	PushTypeWidgets:    "widgets",
}

// String returns the on-wire apns-push-type value.
func (t PushType) String() string {
	if s, ok := pushTypeStrs[t]; ok {
		return s
	}
	return fmt.Sprintf("pushtype(%d)", int(t))
}

// Priority is the delivery priority of a notification. The zero value
// selects the default for the notification's push type.
type Priority int

const (
	// PriorityLow lets APN service deliver the notification whenever.
	PriorityLow Priority = 1

	// PriorityPowerEfficient instructs APN service to deliver at a time
	// that takes power considerations for the device into account.
	PriorityPowerEfficient Priority = 5

	// PriorityImmediate instructs APN service to deliver right away.
	PriorityImmediate Priority = 10
)

// defaultPriority returns the priority implied by the push type, or 0
// when the apns-priority header should be omitted entirely, which is the
// case for widget pushes.
func (t PushType) defaultPriority() Priority {
	switch t {
	case PushTypeBackground:
		return PriorityPowerEfficient
	case PushTypeAlert:
		return PriorityImmediate
	}
	return 0
}

// adjustedTopic returns the on-wire apns-topic for the given bundle topic
// and push type.
func adjustedTopic(topic string, pushType PushType) string {
	if pushType == PushTypeWidgets {
		return topic + widgetTopicSuffix
	}
	return topic
}

// requestHeaders builds the complete header list for one push request.
// It is a pure function of its routing inputs and never touches the body.
//
// priority 0 selects the push type's default; a default of 0 omits the
// apns-priority header. bearer, when non-empty, is a caller-minted
// provider JWT and is forwarded verbatim in the authorization header.
func requestHeaders(authority string, token Token, topic string, pushType PushType, priority Priority, bearer string) []hpack.HeaderField {
	if priority == 0 {
		priority = pushType.defaultPriority()
	}
	hs := make([]hpack.HeaderField, 0, 8)
	hs = append(hs,
		hpack.HeaderField{Name: ":method", Value: "POST"},
		hpack.HeaderField{Name: ":scheme", Value: "https"},
		hpack.HeaderField{Name: ":authority", Value: authority},
		hpack.HeaderField{Name: ":path", Value: RequestRoot + token.String()},
		hpack.HeaderField{Name: "apns-topic", Value: adjustedTopic(topic, pushType)},
		hpack.HeaderField{Name: "apns-push-type", Value: pushType.String()},
	)
	if priority != 0 {
		hs = append(hs, hpack.HeaderField{Name: "apns-priority", Value: strconv.Itoa(int(priority))})
	}
	if bearer != "" {
		hs = append(hs, hpack.HeaderField{Name: "authorization", Value: "bearer " + bearer})
	}
	return hs
}
