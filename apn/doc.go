// Copyright 2017 Aleksey Blinov. All rights reserved.

// Package apn delivers push notifications to Apple Push Notification
// service over HTTP/2 with TLS.
//
// A Session multiplexes many concurrent sends over a pool of persistent,
// authenticated HTTP/2 connections. Within each connection, concurrent
// notifications are multiplexed as HTTP/2 streams up to a configured limit;
// additional senders block until a stream slot frees up. Responses from APN
// service are translated into a stable Result taxonomy, so callers never
// handle raw protocol errors.
//
// Authentication is either certificate based, with the client certificate
// presented during the TLS handshake, or provider-token based, in which
// case the caller supplies a ready-made JWT bearer token with each
// notification.
package apn
