// Copyright 2017 Aleksey Blinov. All rights reserved.

package http2x

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/net/http2"
)

func TestAuthorityAddr(t *testing.T) {
	tcs := []struct {
		scheme    string
		authority string
		exp       string
	}{
		{"https", "api.push.apple.com", "api.push.apple.com:443"},
		{"https", "api.push.apple.com:2197", "api.push.apple.com:2197"},
		{"http", "example.com", "example.com:80"},
		{"https", "127.0.0.1:8443", "127.0.0.1:8443"},
		{"https", "[::1]", "[::1]:443"},
		{"https", "bücher.example", "xn--bcher-kva.example:443"},
	}
	for _, tc := range tcs {
		assert.Equal(t, tc.exp, AuthorityAddr(tc.scheme, tc.authority), "authority %q", tc.authority)
	}
}

func TestInitialSettings(t *testing.T) {
	ss := InitialSettings(500)
	got := make(map[http2.SettingID]uint32, len(ss))
	for _, s := range ss {
		got[s.ID] = s.Val
	}
	assert.Equal(t, uint32(MaxFrameSize), got[http2.SettingMaxFrameSize])
	assert.Equal(t, uint32(500), got[http2.SettingMaxConcurrentStreams])
	assert.Equal(t, uint32(MaxHeaderListSize), got[http2.SettingMaxHeaderListSize])
	assert.Equal(t, uint32(InitialWindowSize), got[http2.SettingInitialWindowSize])
	assert.Equal(t, uint32(1), got[http2.SettingEnablePush])
}
