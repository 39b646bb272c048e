// Package ws wraps gorilla/websocket with context-aware reads, serialized
// writes, and the frame-size and deadline policies shared by the wsmesh
// server and client.
package ws

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// closeGrace bounds how long a close control frame may sit in the kernel
// buffer before we abandon the handshake and tear the socket down.
const closeGrace = 2 * time.Second

// Conn is a websocket connection carrying wsmesh frames. Reads must come
// from a single goroutine; writes may come from any number of goroutines
// and are serialized internally.
type Conn struct {
	c *websocket.Conn

	writeMu      sync.Mutex // gorilla permits only one in-flight writer
	writeTimeout time.Duration
}

// Options are the policies applied to a connection at construction.
type Options struct {
	ReadLimit    int64         // Max inbound frame size in bytes. 0 keeps gorilla's default.
	WriteTimeout time.Duration // Deadline applied to each WriteFrame. 0 means unbounded.
}

func newConn(c *websocket.Conn, opts Options) *Conn {
	if opts.ReadLimit > 0 {
		c.SetReadLimit(opts.ReadLimit)
	}
	return &Conn{c: c, writeTimeout: opts.WriteTimeout}
}

// UpgradeOptions configure the server-side HTTP upgrade.
type UpgradeOptions struct {
	Options
	ReadBufferSize  int                        // Read buffer size for the upgrader.
	WriteBufferSize int                        // Write buffer size for the upgrader.
	CheckOrigin     func(r *http.Request) bool // nil falls back to gorilla's same-origin default.
}

// Upgrade turns an HTTP request into a websocket connection. On failure the
// upgrader has already written an HTTP error response.
func Upgrade(w http.ResponseWriter, r *http.Request, opts UpgradeOptions) (*Conn, error) {
	up := websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin:     opts.CheckOrigin,
	}
	c, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newConn(c, opts.Options), nil
}

// DialOptions configure the client-side handshake.
type DialOptions struct {
	Options
	Header http.Header       // Optional headers for the handshake request.
	Dialer *websocket.Dialer // Optional custom dialer (TLS config, proxy, buffers).
}

// Dial opens a websocket connection. The handshake honors ctx; when both a
// dialer handshake timeout and a ctx deadline are set, the tighter one wins.
func Dial(ctx context.Context, urlStr string, opts DialOptions) (*Conn, *http.Response, error) {
	var d websocket.Dialer
	if opts.Dialer != nil {
		d = *opts.Dialer
	}
	if deadline, ok := ctx.Deadline(); ok {
		dl := time.Until(deadline)
		if d.HandshakeTimeout == 0 || d.HandshakeTimeout > dl {
			d.HandshakeTimeout = dl
		}
	}
	c, resp, err := d.DialContext(ctx, urlStr, opts.Header)
	if err != nil {
		return nil, resp, err
	}
	return newConn(c, opts.Options), resp, nil
}

// wake forces a blocked read or write to return once ctx is canceled by
// moving the relevant socket deadline to now. gorilla/websocket has no
// native context support, so cancellation must go through the deadline.
// The returned release must run before the operation's error is inspected.
func wake(ctx context.Context, setDeadline func(time.Time) error) (release func()) {
	if ctx.Done() == nil {
		return func() {}
	}
	var active atomic.Bool
	active.Store(true)
	stop := context.AfterFunc(ctx, func() {
		if !active.Load() {
			return
		}
		_ = setDeadline(time.Now())
	})
	return func() {
		active.Store(false)
		stop()
	}
}

// mapTimeout folds the i/o timeout manufactured by wake back into the
// context error so callers see ctx.Err() rather than a net.Error.
func mapTimeout(ctx context.Context, deadline time.Time, hasDeadline bool, err error) error {
	ne, ok := err.(net.Error)
	if !ok || !ne.Timeout() {
		return err
	}
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	// The socket deadline can fire a beat ahead of the context timer.
	if hasDeadline && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return err
}

// ReadFrame blocks until the next frame arrives, ctx is done, or the
// connection fails. The message type is websocket.TextMessage or
// websocket.BinaryMessage.
func (c *Conn) ReadFrame(ctx context.Context) (messageType int, frame []byte, err error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		_ = c.c.SetReadDeadline(deadline)
	} else {
		_ = c.c.SetReadDeadline(time.Time{})
	}
	release := wake(ctx, c.c.SetReadDeadline)
	mt, b, rerr := c.c.ReadMessage()
	release()
	if rerr == nil {
		return mt, b, nil
	}
	return 0, nil, mapTimeout(ctx, deadline, hasDeadline, rerr)
}

// WriteFrame writes one frame under the connection's write lock, applying
// the configured write timeout.
func (c *Conn) WriteFrame(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.c.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.c.WriteMessage(messageType, data)
}

// CloseNormal sends a normal-closure (1000) close frame, then closes the
// socket. WriteControl is safe alongside concurrent writers, so a stuck
// write cannot delay teardown.
func (c *Conn) CloseNormal(text string) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, text)
	_ = c.c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	return c.c.Close()
}

// Close tears the socket down without a close handshake.
func (c *Conn) Close() error {
	return c.c.Close()
}

// RemoteAddr reports the peer's network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.c.RemoteAddr()
}

// IsNormalClose reports whether err is a websocket close with code 1000 or
// 1001, i.e. the remote side hung up on purpose.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
