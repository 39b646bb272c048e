// Package client is the Go SDK for a wsmesh server: the matching envelope
// codec, event handlers with request/response callbacks, transparent payload
// encryption, chunked file upload, and automatic reconnection with
// configurable backoff.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/shuliangfu/wsmesh/protocol"
	"github.com/shuliangfu/wsmesh/realtime/ws"
	"github.com/shuliangfu/wsmesh/wserrors"
)

var log = logrus.WithField("prefix", "client")

// Status is the client's connection state. Unlike a server-side peer, a
// client with reconnection enabled may move back from CONNECTING to
// CONNECTED any number of times; DISCONNECTED is terminal.
type Status int32

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusDisconnected
)

// EventHandler consumes one inbound event. data is the envelope payload
// verbatim (for the reserved "binary" event it is the raw frame, not JSON).
// reply is non-nil exactly when the server attached a callback id; the
// first call wins and later calls are ignored.
type EventHandler func(data json.RawMessage, reply ReplyFunc)

// ReplyFunc answers an event that carried a callback id.
type ReplyFunc func(data interface{}) error

type handlerEntry struct {
	h    EventHandler
	once bool
}

type pendingFrame struct {
	mt    int
	frame []byte
}

// Client is one connection to a wsmesh server. Create with Connect; all
// methods are safe for concurrent use.
type Client struct {
	url  string
	opts connectOptions

	codec *protocol.Codec

	status atomic.Int32

	connMu sync.RWMutex // Guards conn and readCancel across reconnects.
	conn   *ws.Conn

	handlerMu sync.Mutex
	handlers  map[string][]*handlerEntry

	cbMu      sync.Mutex
	callbacks map[string]chan json.RawMessage

	pendingMu sync.Mutex
	pending   []pendingFrame // Frames buffered while CONNECTING; bounded.

	readCancel context.CancelFunc
	closed     atomic.Bool
	done       chan struct{}
	doneOnce   sync.Once
}

// Connect dials a wsmesh server and returns a ready client. The initial
// dial must succeed; reconnection (when enabled via WithReconnect) only
// covers connections lost after establishment.
func Connect(ctx context.Context, urlStr string, opts ...Option) (*Client, error) {
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, wserrors.Wrap(wserrors.ScopeClient, wserrors.StageValidate, wserrors.CodeInvalidConfig, err)
	}
	c := &Client{
		url:       urlStr,
		opts:      cfg,
		codec:     protocol.NewCodec(cfg.cipher),
		handlers:  make(map[string][]*handlerEntry),
		callbacks: make(map[string]chan json.RawMessage),
		done:      make(chan struct{}),
	}
	c.status.Store(int32(StatusConnecting))
	if err := c.dial(ctx); err != nil {
		c.status.Store(int32(StatusDisconnected))
		return nil, err
	}
	return c, nil
}

// dial establishes the websocket, starts the read loop, and flushes any
// frames queued while connecting.
func (c *Client) dial(ctx context.Context) error {
	if c.opts.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.connectTimeout)
		defer cancel()
	}
	conn, _, err := ws.Dial(ctx, c.url, ws.DialOptions{
		Options: ws.Options{ReadLimit: c.opts.maxFrameBytes, WriteTimeout: c.opts.writeTimeout},
		Header:  c.opts.header,
		Dialer:  c.opts.dialer,
	})
	if err != nil {
		return wserrors.Wrap(wserrors.ScopeClient, wserrors.StageDial, wserrors.CodeDialFailed, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c.connMu.Lock()
	c.conn = conn
	c.readCancel = cancel
	c.connMu.Unlock()

	c.status.Store(int32(StatusConnected))
	go c.readLoop(readCtx, conn)
	c.flushPending(conn)
	c.fireLocal(protocol.EventConnect, nil)
	return nil
}

// Status returns the current connection state.
func (c *Client) Status() Status {
	return Status(c.status.Load())
}

// Done is closed once the client is terminally disconnected.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// On registers a handler for an event. Multiple handlers run in
// registration order on the client's read loop.
func (c *Client) On(event string, h EventHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers[event] = append(c.handlers[event], &handlerEntry{h: h})
}

// Once registers a handler that is removed after its first invocation.
func (c *Client) Once(event string, h EventHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers[event] = append(c.handlers[event], &handlerEntry{h: h, once: true})
}

// Off removes every handler registered for an event.
func (c *Client) Off(event string) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	delete(c.handlers, event)
}

// takeHandlers snapshots the handlers for an event, dropping one-shot
// entries from the registration in the same step.
func (c *Client) takeHandlers(event string) []*handlerEntry {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	entries := c.handlers[event]
	if len(entries) == 0 {
		return nil
	}
	out := append([]*handlerEntry(nil), entries...)
	kept := entries[:0]
	for _, e := range entries {
		if !e.once {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(c.handlers, event)
	} else {
		c.handlers[event] = kept
	}
	return out
}

// Emit sends an event with no reply expected. []byte payloads go out as a
// raw binary frame; everything else is JSON-encoded into an event envelope.
func (c *Client) Emit(event string, data interface{}) error {
	if b, ok := data.([]byte); ok {
		return c.SendBinary(b)
	}
	raw, err := protocol.EncodeData(data)
	if err != nil {
		return err
	}
	return c.sendEnvelope(protocol.Event(event, raw, ""))
}

// EmitWithCallback sends an event carrying a callback id and blocks until
// the server replies, ctx expires, or the client closes. The correlation
// entry is one-shot: at most one reply is ever delivered.
func (c *Client) EmitWithCallback(ctx context.Context, event string, data interface{}) (json.RawMessage, error) {
	raw, err := protocol.EncodeData(data)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	ch := make(chan json.RawMessage, 1)
	c.cbMu.Lock()
	c.callbacks[id] = ch
	c.cbMu.Unlock()
	drop := func() {
		c.cbMu.Lock()
		delete(c.callbacks, id)
		c.cbMu.Unlock()
	}
	if err := c.sendEnvelope(protocol.Event(event, raw, id)); err != nil {
		drop()
		return nil, err
	}
	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		drop()
		return nil, wserrors.Wrap(wserrors.ScopeClient, wserrors.StageDispatch, wserrors.CodeCallbackTimeout, ctx.Err())
	case <-c.done:
		drop()
		return nil, wserrors.Wrap(wserrors.ScopeClient, wserrors.StageDispatch, wserrors.CodeClosed, errors.New("client closed"))
	}
}

// SendBinary writes a raw binary frame. Binary frames bypass encryption.
func (c *Client) SendBinary(b []byte) error {
	return c.sendFrame(websocket.BinaryMessage, b)
}

func (c *Client) sendEnvelope(env protocol.Envelope) error {
	mt, frame, err := c.codec.Serialize(env)
	if err != nil {
		return err
	}
	return c.sendFrame(mt, frame)
}

// sendFrame is the send state machine: write when connected, buffer while
// connecting (bounded, shedding the oldest frame), fail once terminally
// disconnected.
func (c *Client) sendFrame(mt int, frame []byte) error {
	switch c.Status() {
	case StatusConnected:
		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()
		if conn == nil {
			return nil
		}
		return conn.WriteFrame(mt, frame)
	case StatusConnecting:
		c.pendingMu.Lock()
		if max := c.opts.queueSize; max > 0 && len(c.pending) >= max {
			c.pending = c.pending[1:]
		}
		c.pending = append(c.pending, pendingFrame{mt: mt, frame: frame})
		c.pendingMu.Unlock()
		return nil
	default:
		return wserrors.Wrap(wserrors.ScopeClient, wserrors.StageTransport, wserrors.CodeNotConnected, errors.New("client disconnected"))
	}
}

func (c *Client) flushPending(conn *ws.Conn) {
	c.pendingMu.Lock()
	pend := c.pending
	c.pending = nil
	c.pendingMu.Unlock()
	for _, f := range pend {
		if err := conn.WriteFrame(f.mt, f.frame); err != nil {
			log.WithError(err).Debug("flush of queued frame failed")
			return
		}
	}
}

// readLoop is the client's single dispatch goroutine for one connection
// generation. A reconnect starts a fresh loop.
func (c *Client) readLoop(ctx context.Context, conn *ws.Conn) {
	for {
		mt, frame, err := conn.ReadFrame(ctx)
		if err != nil {
			c.handleReadError(ctx, err)
			return
		}
		c.dispatch(c.codec.Parse(mt, frame))
	}
}

func (c *Client) handleReadError(ctx context.Context, err error) {
	if c.closed.Load() {
		return
	}
	reason := "read error"
	if ws.IsNormalClose(err) {
		reason = "server closed"
	} else if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return // Close is already tearing this connection down.
	}
	c.fireLocal(protocol.EventDisconnect, map[string]string{"reason": reason})
	if !c.opts.reconnect.Enabled {
		c.shutdown()
		return
	}
	c.status.Store(int32(StatusConnecting))
	go c.reconnectLoop()
}

// reconnectLoop redials with the configured backoff until it succeeds, the
// attempt budget runs out, or the client is closed.
func (c *Client) reconnectLoop() {
	policy := c.opts.reconnect
	for attempt := 1; ; attempt++ {
		if policy.MaxAttempts > 0 && attempt > policy.MaxAttempts {
			log.WithField("attempts", policy.MaxAttempts).Debug("reconnect budget exhausted")
			c.shutdown()
			return
		}
		select {
		case <-c.done:
			return
		case <-time.After(policy.Delay(attempt)):
		}
		if c.closed.Load() {
			return
		}
		err := c.dial(context.Background())
		if err == nil {
			log.WithField("attempt", attempt).Debug("reconnected")
			return
		}
		log.WithError(err).WithField("attempt", attempt).Debug("reconnect failed")
	}
}

// dispatch routes one parsed envelope. Runs on the read loop, so handlers
// are naturally serialized.
func (c *Client) dispatch(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypePing:
		_ = c.sendEnvelope(protocol.Pong())
		if c.opts.pingHandler != nil {
			c.opts.pingHandler()
		}
	case protocol.TypePong:
		// Servers do not expect client pings; ignore.
	case protocol.TypeCallback:
		c.resolveCallback(env)
	case protocol.TypeError:
		c.dispatchEvent(protocol.Envelope{Type: protocol.TypeEvent, Event: protocol.EventError, Data: env.Data})
	case protocol.TypeBinary:
		c.dispatchEvent(protocol.Envelope{Type: protocol.TypeEvent, Event: protocol.EventBinary, Data: json.RawMessage(env.Binary)})
	case protocol.TypeEvent:
		c.dispatchEvent(env)
	}
}

// dispatchEvent runs the registered handlers for an event envelope. When
// the envelope carries a callback id, all handlers share one reply whose
// first invocation wins.
func (c *Client) dispatchEvent(env protocol.Envelope) {
	entries := c.takeHandlers(env.Event)
	var reply ReplyFunc
	if env.CallbackID != "" {
		var once sync.Once
		callbackID := env.CallbackID
		reply = func(data interface{}) error {
			var err error
			once.Do(func() {
				raw, merr := protocol.EncodeData(data)
				if merr != nil {
					err = merr
					return
				}
				err = c.sendEnvelope(protocol.Callback(callbackID, raw))
			})
			return err
		}
	}
	for _, e := range entries {
		c.invoke(e.h, env.Event, env.Data, reply)
	}
}

// invoke runs one handler with panic containment, mirroring the server's
// listener-error policy: answer the callback with {"error": msg} and fire
// the local "error" event.
func (c *Client) invoke(h EventHandler, event string, data json.RawMessage, reply ReplyFunc) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		msg := fmt.Sprint(r)
		log.WithField("event", event).Debugf("listener panic: %s", msg)
		if reply != nil {
			_ = reply(map[string]string{"error": msg})
		}
		if event != protocol.EventError {
			c.fireLocal(protocol.EventError, map[string]string{"error": msg})
		}
	}()
	h(data, reply)
}

// fireLocal delivers a runtime-generated event to this client's handlers.
func (c *Client) fireLocal(event string, payload interface{}) {
	raw, err := protocol.EncodeData(payload)
	if err != nil {
		return
	}
	for _, e := range c.takeHandlers(event) {
		c.invoke(e.h, event, raw, nil)
	}
}

// resolveCallback delivers a reply to the blocked EmitWithCallback caller,
// consuming the one-shot correlation entry.
func (c *Client) resolveCallback(env protocol.Envelope) {
	if env.CallbackID == "" {
		return
	}
	c.cbMu.Lock()
	ch := c.callbacks[env.CallbackID]
	delete(c.callbacks, env.CallbackID)
	c.cbMu.Unlock()
	if ch == nil {
		log.Debug("callback reply with no pending correlation")
		return
	}
	ch <- env.Data
}

// shutdown moves the client to its terminal state.
func (c *Client) shutdown() {
	c.status.Store(int32(StatusDisconnected))
	c.pendingMu.Lock()
	c.pending = nil
	c.pendingMu.Unlock()
	c.doneOnce.Do(func() { close(c.done) })
}

// Close disconnects and releases the client. Terminal and idempotent: a
// closed client never reconnects.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.connMu.Lock()
	conn := c.conn
	cancel := c.readCancel
	c.connMu.Unlock()
	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = conn.CloseNormal("client closed")
	}
	c.fireLocal(protocol.EventDisconnect, map[string]string{"reason": "client closed"})
	c.shutdown()
	return err
}
