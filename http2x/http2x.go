// Copyright 2017 Aleksey Blinov. All rights reserved.

// Package http2x contains low-level HTTP/2 helpers shared by the APN
// connection layer: authority normalization and the initial SETTINGS
// advertised on every new connection.
package http2x

import (
	"net"
	"strings"

	"golang.org/x/net/http2"
	"golang.org/x/net/idna"
)

// Window and frame sizing advertised to APN servers on connection setup.
const (
	// MaxFrameSize is the largest frame payload we are willing to receive.
	MaxFrameSize = 16384

	// MaxHeaderListSize caps the uncompressed size of a received header list.
	// APN service responses carry only a handful of small headers.
	MaxHeaderListSize = 4096

	// InitialWindowSize is the stream-level receive window.
	InitialWindowSize = 65536

	// DefaultSendWindow is the flow-control window assumed for sending
	// until the server's SETTINGS frame arrives (RFC 7540 section 6.9.2).
	DefaultSendWindow = 65535
)

// InitialSettings returns the SETTINGS set sent immediately after the
// client preface. maxConcurrentStreams is the advertised per-connection
// stream limit.
func InitialSettings(maxConcurrentStreams uint32) []http2.Setting {
	return []http2.Setting{
		{ID: http2.SettingMaxFrameSize, Val: MaxFrameSize},
		{ID: http2.SettingMaxConcurrentStreams, Val: maxConcurrentStreams},
		{ID: http2.SettingMaxHeaderListSize, Val: MaxHeaderListSize},
		{ID: http2.SettingInitialWindowSize, Val: InitialWindowSize},
		{ID: http2.SettingEnablePush, Val: 1},
	}
}

// AuthorityAddr takes a given authority (a host/IP, or host:port / ip:port)
// and returns a host:port. The port 443 is added if needed.
func AuthorityAddr(scheme string, authority string) string {
	host, port, err := net.SplitHostPort(authority)
	if err != nil { // authority didn't have a port
		port = "443"
		if scheme == "http" {
			port = "80"
		}
		host = authority
	}
	if a, err := idna.ToASCII(host); err == nil {
		host = a
	}
	// IPv6 address literal, without a port:
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		return host + ":" + port
	}
	return net.JoinHostPort(host, port)
}
