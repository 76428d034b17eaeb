// Copyright 2017 Aleksey Blinov. All rights reserved.

package apn

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/kylebshr/push-notify-apn/http2x"
	"github.com/kylebshr/push-notify-apn/syncx"
)

var (
	ErrConnClosed    = errors.New("apn: connection is closed")
	ErrMissingStatus = errors.New("apn: response is missing the :status header")
	ErrNotHTTP2      = errors.New("apn: server did not negotiate HTTP/2")

	// errStreamRefused indicates the peer would not accept another
	// stream on this connection. The dispatcher translates it to a
	// Backoff result.
	errStreamRefused = errors.New("apn: peer refused the stream")
)

// connInfo is the immutable connection configuration captured at session
// creation and shared by every connection the pool creates.
type connInfo struct {
	addr       string // dial target, host:port
	hostname   string // :authority value
	tlsConfig  *tls.Config
	topic      string
	useJWT     bool
	maxStreams uint32
	comms      CommsCfg
}

// Conn is a single TLS-secured HTTP/2 connection to APN service.
// Notifications are multiplexed on it as individual streams, bounded by
// the stream-slot semaphore. A connection whose open flag has been
// lowered, by GOAWAY, by a transport error or by an explicit Close, must
// not be reused; the pool discards it.
type Conn struct {
	id   string
	info *connInfo

	open      syncx.Flag
	slots     *syncx.Semaphore
	slotWaits syncx.TickTockCounter
	pushes    syncx.Counter

	tconn net.Conn
	fr    *http2.Framer

	// wmu serializes frame writes and the hpack encoder state.
	wmu  sync.Mutex
	henc *hpack.Encoder
	hbuf bytes.Buffer

	// mu guards the stream table and all flow-control state.
	mu             sync.Mutex
	flow           *sync.Cond // signaled on send-window changes and teardown
	streams        map[uint32]*stream
	nextStreamID   uint32
	sendWindow     int64 // connection-level send window
	streamWindow   int32 // initial per-stream send window, per server SETTINGS
	maxFrameSize   uint32
	peerMaxStreams uint32
	consumed       uint32 // inbound bytes owed back to the peer as WINDOW_UPDATE
	goneAway       bool
	closed         bool

	ctl       chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// stream is the client-side state of one in-flight HTTP/2 stream.
type stream struct {
	id         uint32
	sendWindow int64

	// The fields below are written by the connection's read loop and may
	// only be read by the dispatcher after done has delivered.
	status int
	body   bytes.Buffer

	done chan error // buffered; nil means the response is complete
}

func (st *stream) complete(err error) {
	select {
	case st.done <- err:
	default:
	}
}

// dialConn establishes one authenticated HTTP/2 connection per the
// captured configuration and spawns its read and flow-control workers.
func dialConn(info *connInfo, id string) (*Conn, error) {
	dialer := &net.Dialer{
		Timeout:   info.comms.DialTimeout,
		KeepAlive: info.comms.KeepAlive,
	}
	tconn, err := tls.DialWithDialer(dialer, "tcp", info.addr, info.tlsConfig)
	if err != nil {
		return nil, err
	}
	if p := tconn.ConnectionState().NegotiatedProtocol; p != "h2" {
		tconn.Close()
		return nil, fmt.Errorf("%w (ALPN %q)", ErrNotHTTP2, p)
	}
	if _, err := tconn.Write([]byte(http2.ClientPreface)); err != nil {
		tconn.Close()
		return nil, err
	}
	fr := http2.NewFramer(tconn, tconn)
	fr.ReadMetaHeaders = hpack.NewDecoder(http2x.MaxHeaderListSize, nil)
	c := &Conn{
		id:             id,
		info:           info,
		slots:          syncx.NewSemaphore(info.maxStreams),
		tconn:          tconn,
		fr:             fr,
		streams:        map[uint32]*stream{},
		nextStreamID:   1,
		sendWindow:     http2x.DefaultSendWindow,
		streamWindow:   http2x.DefaultSendWindow,
		maxFrameSize:   http2x.MaxFrameSize,
		peerMaxStreams: ^uint32(0),
		ctl:            make(chan struct{}),
	}
	c.flow = sync.NewCond(&c.mu)
	c.henc = hpack.NewEncoder(&c.hbuf)
	if err := fr.WriteSettings(http2x.InitialSettings(info.maxStreams)...); err != nil {
		tconn.Close()
		return nil, err
	}
	c.wg.Add(2)
	go c.readLoop()
	go c.flowLoop()
	logInfo(c.id, "Connected to %s.", info.addr)
	return c, nil
}

// IsOpen reports whether the connection may accept new streams.
func (c *Conn) IsOpen() bool {
	return c.open.Up()
}

// InFlight returns the number of stream slots currently held.
func (c *Conn) InFlight() int {
	return c.slots.InUse()
}

// Close tears the connection down. In-flight streams fail with
// ErrConnClosed. Close is idempotent.
func (c *Conn) Close() {
	c.teardown(nil)
}

func (c *Conn) teardown(cause error) {
	c.closeOnce.Do(func() {
		c.open.Lower()
		c.closeErr = cause
		close(c.ctl)
		if c.tconn != nil {
			c.tconn.Close()
		}
		if cause == nil {
			cause = ErrConnClosed
		}
		c.mu.Lock()
		c.closed = true
		for id, st := range c.streams {
			delete(c.streams, id)
			st.complete(cause)
		}
		c.flow.Broadcast()
		c.mu.Unlock()
		logInfo(c.id, "Closed.")
	})
}

// readLoop is the sole reader of the connection. It dispatches response
// frames to their streams and maintains connection-level protocol state.
func (c *Conn) readLoop() {
	defer c.wg.Done()
	for {
		f, err := c.fr.ReadFrame()
		if err != nil {
			if c.open.Up() {
				logWarn(c.id, "Read error: %v", err)
			}
			c.teardown(err)
			return
		}
		switch f := f.(type) {
		case *http2.MetaHeadersFrame:
			c.onHeaders(f)
		case *http2.DataFrame:
			c.onData(f)
		case *http2.RSTStreamFrame:
			c.onRSTStream(f)
		case *http2.SettingsFrame:
			c.onSettings(f)
		case *http2.WindowUpdateFrame:
			c.onWindowUpdate(f)
		case *http2.GoAwayFrame:
			c.onGoAway(f)
		case *http2.PingFrame:
			c.onPing(f)
		}
	}
}

// flowLoop periodically returns consumed inbound flow-control credit to
// the peer with a connection-level WINDOW_UPDATE. APN servers expect the
// client to keep its receive window open. It terminates when the
// connection is closed.
func (c *Conn) flowLoop() {
	defer c.wg.Done()
	tkr := time.NewTicker(c.info.comms.FlowReplenishPeriod)
	defer tkr.Stop()
	for {
		select {
		case <-c.ctl:
			return
		case <-tkr.C:
			c.mu.Lock()
			n := c.consumed
			c.consumed = 0
			c.mu.Unlock()
			if n == 0 {
				continue
			}
			c.wmu.Lock()
			err := c.fr.WriteWindowUpdate(0, n)
			c.wmu.Unlock()
			if err != nil {
				c.teardown(err)
				return
			}
		}
	}
}

func (c *Conn) onHeaders(f *http2.MetaHeadersFrame) {
	c.mu.Lock()
	st := c.streams[f.StreamID]
	c.mu.Unlock()
	if st == nil {
		return
	}
	for _, hf := range f.Fields {
		if hf.Name == ":status" {
			if v, err := strconv.Atoi(hf.Value); err == nil {
				st.status = v
			}
		}
	}
	if f.StreamEnded() {
		c.finish(f.StreamID)
	}
}

func (c *Conn) onData(f *http2.DataFrame) {
	id := f.Header().StreamID
	c.mu.Lock()
	st := c.streams[id]
	if n := len(f.Data()); n > 0 {
		// Credit is returned on a 1-second cadence by flowLoop rather
		// than per frame. Streams are not individually replenished:
		// APN response bodies never approach the initial window.
		c.consumed += uint32(n)
	}
	c.mu.Unlock()
	if st == nil {
		return
	}
	st.body.Write(f.Data())
	if f.StreamEnded() {
		c.finish(id)
	}
}

func (c *Conn) onRSTStream(f *http2.RSTStreamFrame) {
	c.mu.Lock()
	st := c.streams[f.StreamID]
	delete(c.streams, f.StreamID)
	c.flow.Broadcast()
	c.mu.Unlock()
	if st == nil {
		return
	}
	if f.ErrCode == http2.ErrCodeRefusedStream {
		st.complete(errStreamRefused)
		return
	}
	st.complete(fmt.Errorf("apn: stream reset by server (%v)", f.ErrCode))
}

func (c *Conn) onSettings(f *http2.SettingsFrame) {
	if f.IsAck() {
		return
	}
	c.mu.Lock()
	f.ForeachSetting(func(s http2.Setting) error {
		switch s.ID {
		case http2.SettingInitialWindowSize:
			delta := int64(int32(s.Val)) - int64(c.streamWindow)
			c.streamWindow = int32(s.Val)
			for _, st := range c.streams {
				st.sendWindow += delta
			}
		case http2.SettingMaxFrameSize:
			c.maxFrameSize = s.Val
		case http2.SettingMaxConcurrentStreams:
			c.peerMaxStreams = s.Val
		}
		return nil
	})
	c.flow.Broadcast()
	c.mu.Unlock()
	c.wmu.Lock()
	c.fr.WriteSettingsAck()
	c.wmu.Unlock()
}

func (c *Conn) onWindowUpdate(f *http2.WindowUpdateFrame) {
	c.mu.Lock()
	if id := f.Header().StreamID; id == 0 {
		c.sendWindow += int64(f.Increment)
	} else if st := c.streams[id]; st != nil {
		st.sendWindow += int64(f.Increment)
	}
	c.flow.Broadcast()
	c.mu.Unlock()
}

func (c *Conn) onGoAway(f *http2.GoAwayFrame) {
	// The connection accepts no new streams from here on, but in-flight
	// streams are left to complete. The pool finds the lowered open flag
	// on its next access and discards the connection.
	c.mu.Lock()
	c.goneAway = true
	c.mu.Unlock()
	c.open.Lower()
	logWarn(c.id, "Received GOAWAY (%v); draining in-flight streams.", f.ErrCode)
}

func (c *Conn) onPing(f *http2.PingFrame) {
	if f.IsAck() {
		return
	}
	c.wmu.Lock()
	c.fr.WritePing(true, f.Data)
	c.wmu.Unlock()
}

func (c *Conn) finish(id uint32) {
	c.mu.Lock()
	st := c.streams[id]
	delete(c.streams, id)
	c.flow.Broadcast()
	c.mu.Unlock()
	if st != nil {
		st.complete(nil)
	}
}

// openStream registers a new client stream. It fails with
// errStreamRefused when the peer is not accepting additional streams,
// either because its advertised concurrency cap is reached or because a
// GOAWAY was seen.
func (c *Conn) openStream() (*stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrConnClosed
	}
	if c.goneAway {
		return nil, errStreamRefused
	}
	if uint32(len(c.streams)) >= c.peerMaxStreams {
		return nil, errStreamRefused
	}
	st := &stream{
		id:         c.nextStreamID,
		sendWindow: int64(c.streamWindow),
		done:       make(chan error, 1),
	}
	c.nextStreamID += 2
	c.streams[st.id] = st
	return st, nil
}

// writeRequest sends the HEADERS frame and, if a body is present, the
// flow-controlled DATA frames of one push request.
func (c *Conn) writeRequest(ctx context.Context, st *stream, hs []hpack.HeaderField, body []byte) error {
	c.wmu.Lock()
	c.hbuf.Reset()
	for _, hf := range hs {
		if err := c.henc.WriteField(hf); err != nil {
			c.wmu.Unlock()
			return err
		}
	}
	err := c.fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      st.id,
		BlockFragment: c.hbuf.Bytes(),
		EndHeaders:    true,
		EndStream:     len(body) == 0,
	})
	c.wmu.Unlock()
	if err != nil {
		c.teardown(err)
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return c.writeData(ctx, st, body)
}

// writeData uploads the body as DATA frames, honoring the connection and
// stream send windows and the peer's maximum frame size. The final frame
// carries END_STREAM.
func (c *Conn) writeData(ctx context.Context, st *stream, data []byte) error {
	// Waiters on the flow condition cannot select on ctx, so a watcher
	// converts cancellation into a broadcast.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.flow.Broadcast()
			c.mu.Unlock()
		case <-stop:
		}
	}()
	for len(data) > 0 {
		c.mu.Lock()
		for c.sendWindow <= 0 || st.sendWindow <= 0 {
			if c.closed {
				c.mu.Unlock()
				return ErrConnClosed
			}
			if _, live := c.streams[st.id]; !live {
				// The server finished the stream before consuming the
				// full body, e.g. an early rejection. The response is
				// already on its way to the dispatcher.
				c.mu.Unlock()
				return nil
			}
			if err := ctx.Err(); err != nil {
				c.mu.Unlock()
				return err
			}
			c.flow.Wait()
		}
		chunk := len(data)
		if max := int(c.maxFrameSize); chunk > max {
			chunk = max
		}
		if c.sendWindow < int64(chunk) {
			chunk = int(c.sendWindow)
		}
		if st.sendWindow < int64(chunk) {
			chunk = int(st.sendWindow)
		}
		c.sendWindow -= int64(chunk)
		st.sendWindow -= int64(chunk)
		piece := data[:chunk]
		data = data[chunk:]
		last := len(data) == 0
		c.mu.Unlock()
		c.wmu.Lock()
		err := c.fr.WriteData(st.id, last, piece)
		c.wmu.Unlock()
		if err != nil {
			c.teardown(err)
			return err
		}
	}
	return nil
}

// abortStream withdraws a stream whose caller has given up on it and
// tells the server to stop working on it.
func (c *Conn) abortStream(st *stream) {
	c.mu.Lock()
	_, live := c.streams[st.id]
	delete(c.streams, st.id)
	c.mu.Unlock()
	if live && c.open.Up() {
		c.wmu.Lock()
		c.fr.WriteRSTStream(st.id, http2.ErrCodeCancel)
		c.wmu.Unlock()
	}
}

// roundTrip pushes one notification over the connection and returns the
// classified outcome.
//
// The stream-slot semaphore bounds in-flight notifications per
// connection; excess callers block on it, subject to ctx. The slot is
// released on every exit path.
func (c *Conn) roundTrip(ctx context.Context, n *Notification, body []byte) Result {
	if !c.slots.TryAcquire() {
		c.slotWaits.Tick()
		err := c.slots.Acquire(ctx)
		c.slotWaits.Tock()
		if err != nil {
			return resultClientError(err)
		}
	}
	defer c.slots.Release()
	hs := requestHeaders(c.info.hostname, n.Token, c.info.topic, n.PushType, n.Priority, n.Bearer)
	st, err := c.openStream()
	if err != nil {
		if errors.Is(err, errStreamRefused) {
			return resultBackoff()
		}
		return resultClientError(err)
	}
	logTrace(1, c.id, "Stream %d: %s %s", st.id, n.PushType, n.Token)
	if err := c.writeRequest(ctx, st, hs, body); err != nil {
		c.abortStream(st)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return resultClientError(err)
		}
		return errResult(err)
	}
	select {
	case err := <-st.done:
		if err != nil {
			if errors.Is(err, errStreamRefused) {
				return resultBackoff()
			}
			return errResult(err)
		}
	case <-ctx.Done():
		c.abortStream(st)
		return resultClientError(ctx.Err())
	}
	c.pushes.Add(1)
	if st.status == 0 {
		return resultClientError(ErrMissingStatus)
	}
	return classify(st.status, st.body.Bytes())
}
