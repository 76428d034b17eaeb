// Copyright 2017 Aleksey Blinov. All rights reserved.

package apn

import (
	"encoding/json"
)

// InterruptionLevel controls how a notification interrupts the user.
type InterruptionLevel string

const (
	InterruptionPassive       InterruptionLevel = "passive"
	InterruptionActive        InterruptionLevel = "active"
	InterruptionTimeSensitive InterruptionLevel = "time-sensitive"
	InterruptionCritical      InterruptionLevel = "critical"
)

// Alert is the user-visible part of a notification. Body is mandatory
// whenever an alert is present.
type Alert struct {
	Title    string  `json:"title"`
	Body     string  `json:"body"`
	Subtitle *string `json:"subtitle,omitempty"`
}

// APS is the Apple-defined portion of the payload envelope. All fields are
// optional; absent fields are serialized as explicit JSON nulls, which is
// part of the envelope's wire contract and asserted by cross-language
// consumers.
type APS struct {
	Alert             *Alert             `json:"alert"`
	Badge             *int               `json:"badge"`
	Sound             *string            `json:"sound"`
	Category          *string            `json:"category"`
	MutableContent    *int               `json:"mutable-content"`
	InterruptionLevel *InterruptionLevel `json:"interruption-level"`
	ContentChanged    *bool              `json:"content-changed"`
}

// Payload is the outermost notification envelope: the Apple-defined aps
// dictionary, an optional app-specific text blob and a mapping of
// supplemental app data. The same payload can be sent to any number of
// recipients.
type Payload struct {
	APS                APS                    `json:"aps"`
	AppSpecificContent *string                `json:"appspecificcontent"`
	Data               map[string]interface{} `json:"data"`
}

// NewPayload returns an empty envelope.
func NewPayload() *Payload {
	return &Payload{Data: map[string]interface{}{}}
}

// AlertPayload returns an envelope carrying an alert with the given title
// and body.
func AlertPayload(title, body string) *Payload {
	p := NewPayload()
	p.APS.Alert = &Alert{Title: title, Body: body}
	return p
}

// WidgetPayload returns the envelope used to refresh an app's widgets.
// It sets content-changed and nothing else.
func WidgetPayload() *Payload {
	p := NewPayload()
	changed := true
	p.APS.ContentChanged = &changed
	return p
}

// WithSubtitle sets the alert subtitle. It is a programmer error to call
// it on a payload with no alert.
func (p *Payload) WithSubtitle(subtitle string) *Payload {
	if p.APS.Alert == nil {
		panic("apn: subtitle on a payload without an alert")
	}
	p.APS.Alert.Subtitle = &subtitle
	return p
}

// WithBadge sets the badge count. Zero clears the badge on the device.
func (p *Payload) WithBadge(badge int) *Payload {
	p.APS.Badge = &badge
	return p
}

// WithSound sets the sound to play on delivery.
func (p *Payload) WithSound(sound string) *Payload {
	p.APS.Sound = &sound
	return p
}

// WithCategory sets the notification category.
func (p *Payload) WithCategory(category string) *Payload {
	p.APS.Category = &category
	return p
}

// WithMutableContent marks the notification as modifiable by a
// notification service app extension.
func (p *Payload) WithMutableContent() *Payload {
	one := 1
	p.APS.MutableContent = &one
	return p
}

// WithInterruptionLevel sets the interruption level.
func (p *Payload) WithInterruptionLevel(lvl InterruptionLevel) *Payload {
	p.APS.InterruptionLevel = &lvl
	return p
}

// WithAppSpecificContent sets the free-form app-specific text blob.
func (p *Payload) WithAppSpecificContent(content string) *Payload {
	p.AppSpecificContent = &content
	return p
}

// Set adds a supplemental value under the given key of the data mapping.
// The key "aps" is reserved by Apple; attempting to set it is a programmer
// error and panics.
func (p *Payload) Set(key string, value interface{}) *Payload {
	if key == "aps" {
		panic(`apn: "aps" is not a supplemental field`)
	}
	if p.Data == nil {
		p.Data = map[string]interface{}{}
	}
	p.Data[key] = value
	return p
}

// Encode returns the canonical JSON encoding of the envelope.
func (p *Payload) Encode() ([]byte, error) {
	if p.Data == nil {
		p.Data = map[string]interface{}{}
	}
	return json.Marshal(p)
}

// silentBody is the fixed body of a content-available ping. It bypasses
// the envelope on purpose: a silent push carries nothing else.
var silentBody = []byte(`{"aps":{"content-available":1}}`)
