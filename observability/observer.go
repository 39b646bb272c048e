// Package observability defines the metric observer surface of the server.
// Hot paths emit through an observer interface; the default is a no-op, a
// Prometheus implementation lives in the prom subpackage, and the atomic
// wrapper lets a running server swap its observer at any time.
package observability

import (
	"sync"
	"sync/atomic"
)

// UpgradeResult labels the outcome of a WebSocket upgrade attempt.
type UpgradeResult string

const (
	UpgradeResultOK   UpgradeResult = "ok"
	UpgradeResultFail UpgradeResult = "fail"
)

// UpgradeReason refines an upgrade outcome.
type UpgradeReason string

const (
	UpgradeReasonOK               UpgradeReason = "ok"
	UpgradeReasonBadRequest       UpgradeReason = "bad_request"
	UpgradeReasonUnknownNamespace UpgradeReason = "unknown_namespace"
	UpgradeReasonCapacity         UpgradeReason = "capacity"
	UpgradeReasonUnauthorized     UpgradeReason = "unauthorized"
	UpgradeReasonOriginRejected   UpgradeReason = "origin_rejected"
	UpgradeReasonMiddlewareError  UpgradeReason = "middleware_error"
	UpgradeReasonUpgradeError     UpgradeReason = "upgrade_error"
)

// DisconnectReason labels why a peer left.
type DisconnectReason string

const (
	DisconnectReasonPeerClosed     DisconnectReason = "peer_closed"
	DisconnectReasonPingTimeout    DisconnectReason = "ping_timeout"
	DisconnectReasonServerShutdown DisconnectReason = "server_shutdown"
	DisconnectReasonWriteError     DisconnectReason = "write_error"
	DisconnectReasonReadError      DisconnectReason = "read_error"
	DisconnectReasonRequested      DisconnectReason = "requested"
)

// MessageKind labels a frame by its envelope type.
type MessageKind string

const (
	MessageEvent    MessageKind = "event"
	MessagePing     MessageKind = "ping"
	MessagePong     MessageKind = "pong"
	MessageCallback MessageKind = "callback"
	MessageBinary   MessageKind = "binary"
	MessageError    MessageKind = "error"
)

// RelayOp labels adapter relay operations.
type RelayOp string

const (
	RelayBroadcast RelayOp = "broadcast"
	RelayRoom      RelayOp = "room"
)

// UploadResult labels how a chunked upload ended.
type UploadResult string

const (
	UploadResultOK         UploadResult = "ok"
	UploadResultIncomplete UploadResult = "incomplete"
	UploadResultTimeout    UploadResult = "timeout"
)

// ServerObserver receives server-level metric events.
type ServerObserver interface {
	ConnCount(n int64)
	RoomCount(n int)
	Upgrade(result UpgradeResult, reason UpgradeReason)
	Disconnect(reason DisconnectReason)
	MessageIn(kind MessageKind)
	MessageOut(kind MessageKind)
	Fanout(audience int)
	Upload(result UploadResult, bytes int64)
	RelayPublish(op RelayOp)
	RelayReceive()
	RelayError(op RelayOp)
}

type noopServerObserver struct{}

func (noopServerObserver) ConnCount(int64)                      {}
func (noopServerObserver) RoomCount(int)                        {}
func (noopServerObserver) Upgrade(UpgradeResult, UpgradeReason) {}
func (noopServerObserver) Disconnect(DisconnectReason)          {}
func (noopServerObserver) MessageIn(MessageKind)                {}
func (noopServerObserver) MessageOut(MessageKind)               {}
func (noopServerObserver) Fanout(int)                           {}
func (noopServerObserver) Upload(UploadResult, int64)           {}
func (noopServerObserver) RelayPublish(RelayOp)                 {}
func (noopServerObserver) RelayReceive()                        {}
func (noopServerObserver) RelayError(RelayOp)                   {}

// NoopServerObserver is a zero-cost observer used when metrics are disabled.
var NoopServerObserver ServerObserver = noopServerObserver{}

// AtomicServerObserver swaps its delegate at runtime.
type AtomicServerObserver struct {
	once sync.Once
	v    atomic.Value
}

type serverObserverHolder struct {
	obs ServerObserver
}

// NewAtomicServerObserver returns an initialized atomic observer.
func NewAtomicServerObserver() *AtomicServerObserver {
	a := &AtomicServerObserver{}
	a.once.Do(func() { a.v.Store(&serverObserverHolder{obs: NoopServerObserver}) })
	return a
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicServerObserver) Set(obs ServerObserver) {
	if obs == nil {
		obs = NoopServerObserver
	}
	a.once.Do(func() { a.v.Store(&serverObserverHolder{obs: NoopServerObserver}) })
	a.v.Store(&serverObserverHolder{obs: obs})
}

func (a *AtomicServerObserver) load() ServerObserver {
	a.once.Do(func() { a.v.Store(&serverObserverHolder{obs: NoopServerObserver}) })
	return a.v.Load().(*serverObserverHolder).obs
}

func (a *AtomicServerObserver) ConnCount(n int64) { a.load().ConnCount(n) }
func (a *AtomicServerObserver) RoomCount(n int)   { a.load().RoomCount(n) }
func (a *AtomicServerObserver) Upgrade(result UpgradeResult, reason UpgradeReason) {
	a.load().Upgrade(result, reason)
}
func (a *AtomicServerObserver) Disconnect(reason DisconnectReason) { a.load().Disconnect(reason) }
func (a *AtomicServerObserver) MessageIn(kind MessageKind)         { a.load().MessageIn(kind) }
func (a *AtomicServerObserver) MessageOut(kind MessageKind)        { a.load().MessageOut(kind) }
func (a *AtomicServerObserver) Fanout(audience int)                { a.load().Fanout(audience) }
func (a *AtomicServerObserver) Upload(result UploadResult, bytes int64) {
	a.load().Upload(result, bytes)
}
func (a *AtomicServerObserver) RelayPublish(op RelayOp) { a.load().RelayPublish(op) }
func (a *AtomicServerObserver) RelayReceive()           { a.load().RelayReceive() }
func (a *AtomicServerObserver) RelayError(op RelayOp)   { a.load().RelayError(op) }
