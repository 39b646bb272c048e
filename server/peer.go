package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shuliangfu/wsmesh/heartbeat"
	"github.com/shuliangfu/wsmesh/observability"
	"github.com/shuliangfu/wsmesh/protocol"
	"github.com/shuliangfu/wsmesh/realtime/ws"
)

// Status is a peer's connection state. The machine only moves forward:
// CONNECTING to CONNECTED to DISCONNECTED. A disconnected peer is terminal;
// a reconnecting client produces a fresh Peer.
type Status int32

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusDisconnected
)

// Disconnect reasons produced by the server runtime. Applications may pass
// any other string to Disconnect.
const (
	ReasonClientClosed   = "client disconnected"
	ReasonServerShutdown = "server shutdown"
	ReasonReadError      = "read error"
	ReasonWriteError     = "write error"
)

// EventHandler consumes one inbound event. data is the envelope payload
// verbatim (for the reserved "binary" event it is the raw frame, not JSON).
// reply is non-nil exactly when the sender attached a callback; the first
// call wins and later calls are ignored.
type EventHandler func(p *Peer, data json.RawMessage, reply ReplyFunc)

// ReplyFunc answers an event that carried a callback id.
type ReplyFunc func(data interface{}) error

// CallbackFunc receives the payload of a callback reply. Registered by
// EmitWithCallback; invoked at most once.
type CallbackFunc func(data json.RawMessage)

type pendingFrame struct {
	mt    int
	frame []byte
}

// Peer is one connected websocket client as seen by the server. All frame
// dispatch for a peer happens on its single read-loop goroutine; writes may
// come from any goroutine.
type Peer struct {
	id   string
	srv  *Server
	ns   *Namespace
	conn *ws.Conn
	hs   *Handshake

	status atomic.Int32

	dataMu sync.RWMutex
	data   map[string]interface{}

	handlerMu sync.RWMutex
	handlers  map[string][]EventHandler

	cbMu      sync.Mutex
	callbacks map[string]CallbackFunc

	pendingMu sync.Mutex
	pending   []pendingFrame // Frames buffered while CONNECTING.

	uploadMu              sync.Mutex
	uploads               map[string]*upload
	pendingBinaryUploadID string

	hb *heartbeat.Manager // Per-peer heartbeat; nil under batch mode.

	readCancel    context.CancelFunc
	disconnecting atomic.Bool
	done          chan struct{}
}

func (s *Server) newPeer(conn *ws.Conn, ns *Namespace, hs *Handshake) *Peer {
	data := hs.Data
	if data == nil {
		data = make(map[string]interface{})
	}
	p := &Peer{
		id:        "peer-" + uuid.NewString(),
		srv:       s,
		ns:        ns,
		conn:      conn,
		hs:        hs,
		data:      data,
		handlers:  make(map[string][]EventHandler),
		callbacks: make(map[string]CallbackFunc),
		uploads:   make(map[string]*upload),
		done:      make(chan struct{}),
	}
	p.status.Store(int32(StatusConnecting))
	return p
}

// ID returns the peer's server-assigned id ("peer-" + uuid).
func (p *Peer) ID() string {
	return p.id
}

// Namespace returns the namespace this peer connected under.
func (p *Peer) Namespace() *Namespace {
	return p.ns
}

// Handshake returns the upgrade-time request view.
func (p *Peer) Handshake() *Handshake {
	return p.hs
}

// Status returns the current connection state.
func (p *Peer) Status() Status {
	return Status(p.status.Load())
}

// Done is closed once the peer has fully disconnected.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Value reads a key from the peer's data map (seeded by middleware).
func (p *Peer) Value(key string) (interface{}, bool) {
	p.dataMu.RLock()
	defer p.dataMu.RUnlock()
	v, ok := p.data[key]
	return v, ok
}

// SetValue stores a key in the peer's data map.
func (p *Peer) SetValue(key string, v interface{}) {
	p.dataMu.Lock()
	defer p.dataMu.Unlock()
	p.data[key] = v
}

// On registers a handler for an event. Multiple handlers run in
// registration order on the peer's read loop.
func (p *Peer) On(event string, h EventHandler) {
	p.handlerMu.Lock()
	defer p.handlerMu.Unlock()
	p.handlers[event] = append(p.handlers[event], h)
}

// Off removes every handler registered for an event.
func (p *Peer) Off(event string) {
	p.handlerMu.Lock()
	defer p.handlerMu.Unlock()
	delete(p.handlers, event)
}

func (p *Peer) handlersFor(event string) []EventHandler {
	p.handlerMu.RLock()
	defer p.handlerMu.RUnlock()
	hs := p.handlers[event]
	if len(hs) == 0 {
		return nil
	}
	return append([]EventHandler(nil), hs...)
}

// Emit sends an event to this peer. []byte payloads go out as a raw binary
// frame; everything else is JSON-encoded into an event envelope.
func (p *Peer) Emit(event string, data interface{}) error {
	if b, ok := data.([]byte); ok {
		return p.SendBinary(b)
	}
	raw, err := protocol.EncodeData(data)
	if err != nil {
		return err
	}
	return p.sendEnvelope(protocol.Event(event, raw, ""))
}

// EmitWithCallback sends an event carrying a callback id and registers cb
// to receive the one-shot reply. Binary payloads cannot carry callbacks and
// fall through to SendBinary.
func (p *Peer) EmitWithCallback(event string, data interface{}, cb CallbackFunc) error {
	if b, ok := data.([]byte); ok {
		return p.SendBinary(b)
	}
	if cb == nil {
		return p.Emit(event, data)
	}
	raw, err := protocol.EncodeData(data)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	p.cbMu.Lock()
	p.callbacks[id] = cb
	p.cbMu.Unlock()
	if err := p.sendEnvelope(protocol.Event(event, raw, id)); err != nil {
		p.cbMu.Lock()
		delete(p.callbacks, id)
		p.cbMu.Unlock()
		return err
	}
	return nil
}

// SendBinary writes a raw binary frame. Binary frames bypass encryption.
func (p *Peer) SendBinary(b []byte) error {
	if err := p.sendFrame(websocket.BinaryMessage, b); err != nil {
		return err
	}
	p.srv.obs.MessageOut(observability.MessageBinary)
	return nil
}

// SendPing sends a heartbeat ping. Driven by the heartbeat managers.
func (p *Peer) SendPing() error {
	return p.sendEnvelope(protocol.Ping())
}

func (p *Peer) sendEvent(event string, data json.RawMessage) error {
	return p.sendEnvelope(protocol.Event(event, data, ""))
}

func (p *Peer) sendCallback(callbackID string, data interface{}) error {
	raw, err := protocol.EncodeData(data)
	if err != nil {
		return err
	}
	return p.sendEnvelope(protocol.Callback(callbackID, raw))
}

func (p *Peer) sendEnvelope(env protocol.Envelope) error {
	mt, frame, err := p.srv.codec.Serialize(env)
	if err != nil {
		return err
	}
	if err := p.sendFrame(mt, frame); err != nil {
		return err
	}
	p.srv.obs.MessageOut(messageKind(env.Type))
	return nil
}

// sendRaw delivers a pre-serialized event frame (fan-out path).
func (p *Peer) sendRaw(mt int, frame []byte) error {
	if err := p.sendFrame(mt, frame); err != nil {
		return err
	}
	p.srv.obs.MessageOut(observability.MessageEvent)
	return nil
}

// sendFrame is the send state machine: write when connected, buffer while
// connecting, drop silently when disconnected.
func (p *Peer) sendFrame(mt int, frame []byte) error {
	switch p.Status() {
	case StatusConnected:
		err := p.conn.WriteFrame(mt, frame)
		if err != nil {
			log.WithError(err).WithField("peer", p.id).Debug("write failed")
		}
		return err
	case StatusConnecting:
		p.pendingMu.Lock()
		p.pending = append(p.pending, pendingFrame{mt: mt, frame: frame})
		p.pendingMu.Unlock()
		return nil
	default:
		return nil
	}
}

// markConnected flips CONNECTING to CONNECTED and flushes buffered frames.
func (p *Peer) markConnected() {
	if !p.status.CompareAndSwap(int32(StatusConnecting), int32(StatusConnected)) {
		return
	}
	p.pendingMu.Lock()
	pend := p.pending
	p.pending = nil
	p.pendingMu.Unlock()
	for _, f := range pend {
		_ = p.conn.WriteFrame(f.mt, f.frame)
	}
}

// Join adds the peer to a room, locally and through the adapter.
func (p *Peer) Join(room string) error {
	return p.srv.joinRoom(p.id, room)
}

// Leave removes the peer from a room, locally and through the adapter.
func (p *Peer) Leave(room string) error {
	return p.srv.leaveRoom(p.id, room)
}

// JoinMany joins several rooms, returning the first adapter error.
func (p *Peer) JoinMany(rooms ...string) error {
	var first error
	for _, room := range rooms {
		if err := p.Join(room); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LeaveMany leaves several rooms, returning the first adapter error.
func (p *Peer) LeaveMany(rooms ...string) error {
	var first error
	for _, room := range rooms {
		if err := p.Leave(room); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Rooms lists the rooms this peer currently belongs to.
func (p *Peer) Rooms() []string {
	return p.srv.rooms.RoomsOf(p.id)
}

// To emits to one room, excluding this peer.
func (p *Peer) To(room string) *Emitter {
	return &Emitter{srv: p.srv, rooms: []string{room}, except: p.id}
}

// ToRooms emits to the union of several rooms, excluding this peer.
func (p *Peer) ToRooms(rooms ...string) *Emitter {
	return &Emitter{srv: p.srv, rooms: rooms, except: p.id}
}

// Broadcast emits to every connected peer except this one.
func (p *Peer) Broadcast() *Emitter {
	return &Emitter{srv: p.srv, except: p.id}
}

// readLoop is the peer's single dispatch goroutine.
func (p *Peer) readLoop(ctx context.Context) {
	for {
		mt, frame, err := p.conn.ReadFrame(ctx)
		if err != nil {
			p.handleReadError(err)
			return
		}
		p.dispatch(p.srv.codec.Parse(mt, frame))
	}
}

func (p *Peer) handleReadError(err error) {
	if p.Status() == StatusDisconnected {
		return
	}
	switch {
	case ws.IsNormalClose(err):
		p.Disconnect(ReasonClientClosed)
	case errors.Is(err, context.Canceled):
		// Disconnect is already tearing this peer down.
	default:
		log.WithError(err).WithField("peer", p.id).Debug("read failed")
		p.Disconnect(ReasonReadError)
	}
}

// dispatch routes one parsed envelope. Runs on the read loop, so handlers
// for the same peer are naturally serialized.
func (p *Peer) dispatch(env protocol.Envelope) {
	p.srv.obs.MessageIn(messageKind(env.Type))
	switch env.Type {
	case protocol.TypePing:
		_ = p.sendEnvelope(protocol.Pong())
	case protocol.TypePong:
		p.recordPong()
	case protocol.TypeCallback:
		p.resolveCallback(env)
	case protocol.TypeError:
		p.dispatchEvent(protocol.Envelope{Type: protocol.TypeEvent, Event: protocol.EventError, Data: env.Data})
	case protocol.TypeBinary:
		if p.consumeUploadBinary(env.Binary) {
			return
		}
		p.dispatchEvent(protocol.Envelope{Type: protocol.TypeEvent, Event: protocol.EventBinary, Data: json.RawMessage(env.Binary)})
	case protocol.TypeEvent:
		if env.Event == protocol.EventFileChunk {
			p.handleFileChunk(env)
			return
		}
		p.dispatchEvent(env)
	}
}

func (p *Peer) recordPong() {
	if p.hb != nil {
		p.hb.Pong()
		return
	}
	if p.srv.batch != nil {
		p.srv.batch.Pong(p.id)
	}
}

// dispatchEvent runs the registered handlers for an event envelope. When
// the envelope carries a callback id, all handlers share one reply whose
// first invocation wins.
func (p *Peer) dispatchEvent(env protocol.Envelope) {
	handlers := p.handlersFor(env.Event)
	var reply ReplyFunc
	if env.CallbackID != "" {
		var once sync.Once
		callbackID := env.CallbackID
		reply = func(data interface{}) error {
			var err error
			once.Do(func() { err = p.sendCallback(callbackID, data) })
			return err
		}
	}
	for _, h := range handlers {
		p.invoke(h, env.Event, env.Data, reply, true)
	}
}

// invoke runs one handler with panic containment. A panic answers the
// pending callback with {"error": msg} and fires the local "error" event.
func (p *Peer) invoke(h EventHandler, event string, data json.RawMessage, reply ReplyFunc, refireError bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		msg := fmt.Sprint(r)
		log.WithField("peer", p.id).WithField("event", event).Debugf("listener panic: %s", msg)
		if reply != nil {
			_ = reply(map[string]string{"error": msg})
		}
		if refireError {
			p.fireLocal(protocol.EventError, map[string]string{"error": msg})
		}
	}()
	h(p, data, reply)
}

// fireLocal delivers a runtime-generated event to this peer's handlers.
func (p *Peer) fireLocal(event string, payload interface{}) {
	raw, err := protocol.EncodeData(payload)
	if err != nil {
		log.WithError(err).WithField("event", event).Debug("local event payload encode failed")
		return
	}
	for _, h := range p.handlersFor(event) {
		p.invoke(h, event, raw, nil, event != protocol.EventError)
	}
}

// resolveCallback answers an inbound callback envelope by consuming the
// one-shot correlation entry.
func (p *Peer) resolveCallback(env protocol.Envelope) {
	if env.CallbackID == "" {
		return
	}
	p.cbMu.Lock()
	cb := p.callbacks[env.CallbackID]
	delete(p.callbacks, env.CallbackID)
	p.cbMu.Unlock()
	if cb == nil {
		log.WithField("peer", p.id).Debug("callback reply with no pending correlation")
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				msg := fmt.Sprint(r)
				log.WithField("peer", p.id).Debugf("callback panic: %s", msg)
				p.fireLocal(protocol.EventError, map[string]string{"error": msg})
			}
		}()
		cb(env.Data)
	}()
}

func (p *Peer) dropCallbacks() {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	p.callbacks = make(map[string]CallbackFunc)
}

// Disconnect tears the peer down: heartbeat stopped, upload timers
// canceled, rooms left, socket closed with code 1000, local "disconnect"
// fired, server deregistered. Idempotent and safe to call from handlers.
func (p *Peer) Disconnect(reason string) {
	if !p.disconnecting.CompareAndSwap(false, true) {
		return
	}
	p.status.Store(int32(StatusDisconnected))
	if p.hb != nil {
		p.hb.Stop()
	}
	if p.srv.batch != nil {
		p.srv.batch.Unsubscribe(p.id)
	}
	p.cancelUploads()
	p.dropCallbacks()
	p.srv.leaveAllRooms(p.id)
	_ = p.conn.CloseNormal(reason)
	if p.readCancel != nil {
		p.readCancel()
	}
	p.fireLocal(protocol.EventDisconnect, map[string]string{"reason": reason})
	p.srv.deregister(p, reason)
	close(p.done)
}
