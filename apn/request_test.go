// Copyright 2017 Aleksey Blinov. All rights reserved.

package apn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/net/http2/hpack"
)

func headerValue(hs []hpack.HeaderField, name string) (string, bool) {
	for _, h := range hs {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

func TestRequestHeadersBasics(t *testing.T) {
	tok := TokenFromBytes([]byte{0xab, 0xcd})
	hs := requestHeaders("api.push.apple.com", tok, "com.example.MyApp", PushTypeAlert, 0, "")
	for name, exp := range map[string]string{
		":method":        "POST",
		":scheme":        "https",
		":authority":     "api.push.apple.com",
		":path":          "/3/device/abcd",
		"apns-topic":     "com.example.MyApp",
		"apns-push-type": "alert",
		"apns-priority":  "10",
	} {
		v, ok := headerValue(hs, name)
		assert.True(t, ok, "missing header %s", name)
		assert.Equal(t, exp, v, "header %s", name)
	}
	_, ok := headerValue(hs, "authorization")
	assert.False(t, ok)
}

func TestRequestHeadersPriorityDefaults(t *testing.T) {
	tok := TokenFromBytes([]byte{1})
	tcs := []struct {
		pushType PushType
		priority Priority
		exp      string // "" means the header must be absent
	}{
		{PushTypeAlert, 0, "10"},
		{PushTypeBackground, 0, "5"},
		{PushTypeWidgets, 0, ""},
		{PushTypeAlert, PriorityLow, "1"},
		{PushTypeBackground, PriorityImmediate, "10"},
		{PushTypeWidgets, PriorityPowerEfficient, "5"},
	}
	for _, tc := range tcs {
		hs := requestHeaders("h", tok, "top", tc.pushType, tc.priority, "")
		v, ok := headerValue(hs, "apns-priority")
		if tc.exp == "" {
			assert.False(t, ok, "%s with priority %d", tc.pushType, tc.priority)
		} else {
			assert.True(t, ok, "%s with priority %d", tc.pushType, tc.priority)
			assert.Equal(t, tc.exp, v)
		}
	}
}

func TestRequestHeadersWidgetTopic(t *testing.T) {
	tok := TokenFromBytes([]byte{1})
	hs := requestHeaders("h", tok, "com.example.MyApp", PushTypeWidgets, 0, "")
	topic, ok := headerValue(hs, "apns-topic")
	assert.True(t, ok)
	assert.Equal(t, "com.example.MyApp.push-type.widgets", topic)
	pt, _ := headerValue(hs, "apns-push-type")
	assert.Equal(t, "widgets", pt)
	// Other push types leave the topic untouched.
	hs = requestHeaders("h", tok, "com.example.MyApp", PushTypeBackground, 0, "")
	topic, _ = headerValue(hs, "apns-topic")
	assert.Equal(t, "com.example.MyApp", topic)
}

func TestRequestHeadersBearer(t *testing.T) {
	tok := TokenFromBytes([]byte{1})
	hs := requestHeaders("h", tok, "top", PushTypeAlert, 0, "eyJ.x.y")
	v, ok := headerValue(hs, "authorization")
	assert.True(t, ok)
	assert.Equal(t, "bearer eyJ.x.y", v)
}

func TestPushTypeStrings(t *testing.T) {
	assert.Equal(t, "alert", PushTypeAlert.String())
	assert.Equal(t, "background", PushTypeBackground.String())
	assert.Equal(t, "widgets", PushTypeWidgets.String())
}
