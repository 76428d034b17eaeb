// Copyright 2017 Aleksey Blinov. All rights reserved.

package apn

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"

	"github.com/kylebshr/push-notify-apn/cryptox"
	"github.com/kylebshr/push-notify-apn/http2x"
	"github.com/kylebshr/push-notify-apn/syncx"
)

// Gateway holds APN service hostnames. These use default HTTPS port 443.
// According to Apple you can alternatively use port 2197 if needed.
var Gateway = struct {
	Production string
	Sandbox    string
}{
	Production: "api.push.apple.com",
	Sandbox:    "api.sandbox.push.apple.com",
}

// maxPayloadSize is the largest notification payload APN service accepts.
const maxPayloadSize = 4096

var (
	ErrSessionClosed = errors.New("apn: session is closed")
	ErrMissingTopic  = errors.New("apn: no topic configured")
	ErrMissingCACert = errors.New("apn: certificate authentication requires a CA bundle")
	ErrMissingCert   = errors.New("apn: certificate authentication requires a certificate and key")
)

// Settings is the immutable configuration of a Session.
type Settings struct {

	// CertFile is the client certificate presented to APN servers during
	// the TLS handshake: a PEM file, a combined PEM cert+key file, or a
	// PKCS#12 bundle. Ignored in JWT mode.
	CertFile string

	// KeyFile is the PEM private key for CertFile. It may be empty when
	// CertFile carries the key itself.
	KeyFile string

	// CertPassword decrypts a protected key or PKCS#12 bundle.
	CertPassword string

	// CAFile is the PEM bundle of trust anchors used to verify APN
	// servers. It is required in certificate mode. In JWT mode the
	// system trust store is used instead.
	CAFile string

	// UseJWT selects provider-token authentication: no client
	// certificate is presented and each notification carries a
	// caller-minted bearer token.
	UseJWT bool

	// Sandbox selects the development gateway.
	Sandbox bool

	// Topic is the bundle id of the target app.
	Topic string

	// MaxConcurrentStreams bounds in-flight notifications per
	// connection. Defaults to 500.
	MaxConcurrentStreams uint32

	// MaxConnections bounds live connections per session. Defaults to 1.
	MaxConnections uint32

	// Growth is the pool's connection growth policy. Defaults to
	// incremental growth of one connection at a time.
	Growth Growth

	// CommsCfg tunes timeouts and cadences. Zero-valued fields fall
	// back to CommsDefault.
	CommsCfg CommsCfg

	// Addr overrides the gateway authority (host or host:port). This is
	// primarily for testing against a mock APN service.
	Addr string

	// Certificate, if not nil, is used instead of loading CertFile.
	Certificate *tls.Certificate

	// RootCA, if not nil, is used instead of loading CAFile or the
	// system trust store. This should only be needed in testing, or if
	// your system's root certificate authorities are not set up.
	RootCA *x509.CertPool
}

// Session is a handle on a pool of authenticated connections to APN
// service. It is safe to share one Session across many concurrent
// senders.
//
// As per APN service guidelines you should keep the session open for as
// long as you intend to push: repeatedly opening and closing connections
// in rapid succession is treated by Apple as a denial-of-service attack.
type Session struct {
	info *connInfo
	pool *pool
	open syncx.Flag
}

// NewSession validates the supplied settings, loads credentials and
// returns an open session. No connection is made yet; connections are
// established lazily by the pool on first use.
func NewSession(cfg *Settings) (*Session, error) {
	if cfg.Topic == "" {
		return nil, ErrMissingTopic
	}
	hostname := Gateway.Production
	if cfg.Sandbox {
		hostname = Gateway.Sandbox
	}
	addr := cfg.Addr
	if addr == "" {
		addr = hostname
	}
	tlsConfig, err := newTLSConfig(cfg, hostname)
	if err != nil {
		return nil, err
	}
	maxStreams := cfg.MaxConcurrentStreams
	if maxStreams == 0 {
		maxStreams = 500
	}
	info := &connInfo{
		addr:       http2x.AuthorityAddr("https", addr),
		hostname:   hostname,
		tlsConfig:  tlsConfig,
		topic:      cfg.Topic,
		useJWT:     cfg.UseJWT,
		maxStreams: maxStreams,
		comms:      cfg.CommsCfg.withDefaults(),
	}
	s := &Session{info: info}
	s.pool = newPool(info, cfg.MaxConnections, cfg.Growth, &s.open)
	logInfo("Session", "Created for topic %s at %s.", cfg.Topic, info.addr)
	return s, nil
}

// newTLSConfig builds the client TLS configuration: TLS 1.2 or newer,
// SNI, no session resumption, ALPN h2 and a strong cipher suite set. In
// certificate mode the loaded client credential and the caller-configured
// trust anchors are used; in JWT mode no client certificate is presented
// and the system trust store applies.
func newTLSConfig(cfg *Settings, hostname string) (*tls.Config, error) {
	t := &tls.Config{
		MinVersion:             tls.VersionTLS12,
		NextProtos:             []string{"h2"},
		SessionTicketsDisabled: true,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
	if cfg.Addr == "" {
		t.ServerName = hostname
	}
	roots := cfg.RootCA
	if cfg.UseJWT {
		if roots == nil {
			var err error
			if roots, err = cryptox.SystemTrustPool(); err != nil {
				return nil, err
			}
		}
		t.RootCAs = roots
		return t, nil
	}
	cert := cfg.Certificate
	if cert == nil {
		if cfg.CertFile == "" {
			return nil, ErrMissingCert
		}
		loaded, err := cryptox.ClientCertFromFiles(cfg.CertFile, cfg.KeyFile, cfg.CertPassword)
		if err != nil {
			return nil, err
		}
		cert = &loaded
	}
	if roots == nil {
		if cfg.CAFile == "" {
			return nil, ErrMissingCACert
		}
		var err error
		if roots, err = cryptox.TrustPoolFromPemFile(cfg.CAFile); err != nil {
			return nil, err
		}
	}
	t.Certificates = []tls.Certificate{*cert}
	t.RootCAs = roots
	return t, nil
}

// IsOpen reports whether the session accepts sends.
func (s *Session) IsOpen() bool {
	return s.open.Up()
}

// Close closes the session and releases every pooled connection.
// Closing a session twice is a programmer error and panics.
func (s *Session) Close() {
	if !s.open.Lower() {
		panic("apn: session closed twice")
	}
	logInfo("Session", "Closing.")
	s.pool.destroyAll()
}

// Stats returns a snapshot of pool utilization.
func (s *Session) Stats() Stats {
	return s.pool.stats()
}

// Notification holds the data that is to be pushed to the recipient as
// well as the routing information required to deliver it. Notifications
// are meant to remain immutable once created; the same payload can be
// shared across notifications to many recipients.
type Notification struct {

	// Token is the device token of the notification target.
	Token Token

	// PushType selects APN-side routing and throttling.
	PushType PushType

	// Priority is the delivery priority. Zero selects the default for
	// the push type; for widget pushes the default omits the header.
	Priority Priority

	// Bearer, when non-empty, is a caller-minted provider JWT sent in
	// the authorization header. Required in JWT mode.
	Bearer string

	// Payload is the notification data passed to the recipient: a
	// *Payload envelope, a byte slice or a string of ready-made JSON.
	Payload interface{}
}

func (n *Notification) body() ([]byte, error) {
	switch pl := n.Payload.(type) {
	case []byte:
		return pl, nil
	case string:
		return []byte(pl), nil
	case nil:
		return nil, errors.New("apn: notification without a payload")
	default:
		return json.Marshal(pl)
	}
}

// Push delivers one notification and returns the classified outcome.
// It blocks until APN service responds, a transport failure occurs or
// the request timeout elapses.
func (s *Session) Push(n *Notification) Result {
	if !s.open.Up() {
		return resultClientError(ErrSessionClosed)
	}
	body, err := n.body()
	if err != nil {
		return resultClientError(err)
	}
	if len(body) > maxPayloadSize {
		// Saves a round trip; the server would reject it identically.
		return resultFatal(FatalPayloadTooLarge)
	}
	return s.pool.withConn(func(ctx context.Context, c *Conn) Result {
		return c.roundTrip(ctx, n, body)
	})
}

// SendAlert pushes a user-visible alert with the given title and body.
func (s *Session) SendAlert(token Token, title, body string) Result {
	return s.Push(&Notification{
		Token:    token,
		PushType: PushTypeAlert,
		Payload:  AlertPayload(title, body),
	})
}

// SendMessage pushes an envelope with the alert push type.
func (s *Session) SendMessage(token Token, p *Payload) Result {
	return s.Push(&Notification{
		Token:    token,
		PushType: PushTypeAlert,
		Payload:  p,
	})
}

// SendSilent pushes a content-available background ping carrying no
// user-visible content.
func (s *Session) SendSilent(token Token) Result {
	return s.Push(&Notification{
		Token:    token,
		PushType: PushTypeBackground,
		Payload:  silentBody,
	})
}

// SendWidget pushes a widget-refresh notification. bearer may be empty
// in certificate mode; priority zero omits the apns-priority header,
// which is the default for widgets.
func (s *Session) SendWidget(token Token, bearer string, priority Priority) Result {
	return s.Push(&Notification{
		Token:    token,
		PushType: PushTypeWidgets,
		Priority: priority,
		Bearer:   bearer,
		Payload:  WidgetPayload(),
	})
}
