// Package server implements the wsmesh messaging server: websocket upgrade
// with namespaces and middleware, per-peer event dispatch with callbacks,
// room fan-out with frame memoization, chunked upload reassembly, heartbeat
// supervision, and cross-server relay through a pluggable adapter.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/shuliangfu/wsmesh/adapter"
	"github.com/shuliangfu/wsmesh/cache"
	"github.com/shuliangfu/wsmesh/crypto/msgcrypt"
	"github.com/shuliangfu/wsmesh/heartbeat"
	"github.com/shuliangfu/wsmesh/internal/defaults"
	"github.com/shuliangfu/wsmesh/observability"
	"github.com/shuliangfu/wsmesh/protocol"
	"github.com/shuliangfu/wsmesh/queue"
	"github.com/shuliangfu/wsmesh/realtime/ws"
	"github.com/shuliangfu/wsmesh/rooms"
	"github.com/shuliangfu/wsmesh/wserrors"
)

var log = logrus.WithField("prefix", "server")

const (
	// adapterOpTimeout bounds individual adapter calls issued on behalf of
	// peer operations, so a dead backend cannot wedge a read loop.
	adapterOpTimeout = 5 * time.Second
	// closeTimeout bounds graceful HTTP shutdown.
	closeTimeout = 2 * time.Second
)

// Server accepts websocket peers and routes events between them. Create
// with New, start with Listen, stop with Close.
type Server struct {
	cfg Config
	id  string

	cipher   *msgcrypt.Cipher
	codec    *protocol.Codec
	msgCache *cache.MessageCache // nil when disabled
	queue    *queue.Queue        // nil unless UseMessageQueue
	obs      observability.ServerObserver
	ad       adapter.Adapter

	rooms *rooms.Index
	batch *heartbeat.Batch // nil unless UseBatchHeartbeat

	mu          sync.RWMutex // Guards peers, namespaces, middleware, connHandler.
	peers       map[string]*Peer
	namespaces  map[string]*Namespace
	middleware  []MiddlewareFunc
	connHandler []ConnectionHandler

	connCount int64 // Atomic; reserved before upgrade, released on deregister.

	httpSrv  *http.Server
	listener net.Listener
	port     int // Bound port; valid once Listen returns.

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Stats is a point-in-time server snapshot.
type Stats struct {
	ServerID   string
	Peers      int
	Rooms      int
	Namespaces int
	Cache      cache.Stats
	Encryption msgcrypt.CacheStats
	Queue      queue.Stats
}

// New validates the configuration and builds a server. A key/algorithm
// mismatch in cfg.Encryption is the only fatal validation error class.
func New(cfg Config) (*Server, error) {
	cfg.fillDefaults()
	cipher, err := msgcrypt.New(cfg.Encryption)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:        cfg,
		id:         "server-" + uuid.NewString(),
		cipher:     cipher,
		codec:      protocol.NewCodec(cipher),
		obs:        cfg.Observer,
		rooms:      rooms.NewIndex(),
		peers:      make(map[string]*Peer),
		namespaces: make(map[string]*Namespace),
	}
	if !cfg.MessageCache.Disabled {
		mc, err := cache.New(cache.Config{MaxSize: cfg.MessageCache.MaxSize, TTL: cfg.MessageCache.TTL})
		if err != nil {
			return nil, err
		}
		s.msgCache = mc
	}
	if cfg.UseMessageQueue && !cfg.MessageQueue.Disabled {
		s.queue = queue.New(queue.Config{
			MaxSize:         cfg.MessageQueue.MaxSize,
			BatchSize:       cfg.MessageQueue.BatchSize,
			ProcessInterval: cfg.MessageQueue.ProcessInterval,
			OnError: func(err error) {
				log.WithError(err).Debug("queued send failed")
			},
		})
	}
	s.ad = cfg.Adapter
	if s.ad == nil {
		s.ad = adapter.NewMemory()
	}
	if cfg.UseBatchHeartbeat {
		s.batch = heartbeat.NewBatch(cfg.PingInterval, cfg.PingTimeout)
	}
	s.namespaces["/"] = newNamespace(s, "/")
	return s, nil
}

// ID returns the server's instance id ("server-" + uuid).
func (s *Server) ID() string {
	return s.id
}

// Of returns the namespace registered under name, creating it on first
// use. Of("/") returns the default namespace.
func (s *Server) Of(name string) *Namespace {
	name = normalizePath(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if ns, ok := s.namespaces[name]; ok {
		return ns
	}
	ns := newNamespace(s, name)
	s.namespaces[name] = ns
	return ns
}

// Use appends a server-level middleware, run before any namespace chain.
func (s *Server) Use(mw MiddlewareFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middleware = append(s.middleware, mw)
}

// OnConnection registers a server-level connection listener, fired before
// namespace-level ones.
func (s *Server) OnConnection(h ConnectionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connHandler = append(s.connHandler, h)
}

// Listen binds the configured address, brings the adapter up, and starts
// serving upgrades in the background. With Port 0 the OS picks; the bound
// port is available from Port afterwards.
func (s *Server) Listen(ctx context.Context) error {
	if s.closed.Load() {
		return wserrors.Wrap(wserrors.ScopeServer, wserrors.StageListen, wserrors.CodeClosed, errors.New("server closed"))
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return wserrors.Wrap(wserrors.ScopeServer, wserrors.StageListen, wserrors.CodeListenFailed, err)
	}
	s.listener = ln
	s.port = ln.Addr().(*net.TCPAddr).Port

	if err := s.ad.Init(ctx, s.id); err != nil {
		_ = ln.Close()
		return wserrors.Wrap(wserrors.ScopeAdapter, wserrors.StageListen, wserrors.CodeAdapterInitFailed, err)
	}
	if err := s.ad.RegisterServer(ctx); err != nil {
		_ = ln.Close()
		return wserrors.Wrap(wserrors.ScopeAdapter, wserrors.StageListen, wserrors.CodeAdapterInitFailed, err)
	}
	if err := s.ad.Subscribe(ctx, s.handleAdapterMessage); err != nil {
		_ = ln.Close()
		return wserrors.Wrap(wserrors.ScopeAdapter, wserrors.StageListen, wserrors.CodeAdapterInitFailed, err)
	}
	if s.batch != nil {
		s.batch.Start()
	}
	s.httpSrv = &http.Server{Handler: s}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Debug("http serve ended")
		}
	}()
	log.WithFields(logrus.Fields{"addr": ln.Addr().String(), "server": s.id}).Info("listening")
	return nil
}

// Port returns the bound TCP port. Valid once Listen has returned.
func (s *Server) Port() int {
	return s.port
}

// URL returns a dialable websocket URL for the default namespace.
func (s *Server) URL() string {
	host := s.cfg.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(s.port)) + s.cfg.Path
}

// Peer looks up a connected peer by id.
func (s *Server) Peer(id string) (*Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[id]
	return p, ok
}

// Peers snapshots every connected peer.
func (s *Server) Peers() []*Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

// Stats returns a point-in-time snapshot of server counters.
func (s *Server) Stats() Stats {
	s.mu.RLock()
	peers := len(s.peers)
	nss := len(s.namespaces)
	s.mu.RUnlock()
	st := Stats{
		ServerID:   s.id,
		Peers:      peers,
		Rooms:      s.rooms.Len(),
		Namespaces: nss,
		Encryption: s.cipher.CacheStats(),
	}
	if s.msgCache != nil {
		st.Cache = s.msgCache.Stats()
	}
	if s.queue != nil {
		st.Queue = s.queue.Stats()
	}
	return st
}

// ServeHTTP is the upgrade path. The server can also be mounted on an
// outer mux alongside other handlers.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.closed.Load() {
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	}
	u, err := url.ParseRequestURI(r.RequestURI)
	if err != nil {
		s.obs.Upgrade(observability.UpgradeResultFail, observability.UpgradeReasonBadRequest)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	ns := s.resolveNamespace(u.Path)
	if ns == nil {
		s.obs.Upgrade(observability.UpgradeResultFail, observability.UpgradeReasonUnknownNamespace)
		http.Error(w, "unknown namespace", http.StatusNotFound)
		return
	}
	if max := s.cfg.MaxConnections; max > 0 {
		if atomic.AddInt64(&s.connCount, 1) > int64(max) {
			atomic.AddInt64(&s.connCount, -1)
			s.obs.Upgrade(observability.UpgradeResultFail, observability.UpgradeReasonCapacity)
			http.Error(w, "server full", http.StatusServiceUnavailable)
			return
		}
	} else {
		atomic.AddInt64(&s.connCount, 1)
	}
	release := func() { atomic.AddInt64(&s.connCount, -1) }

	if len(s.cfg.AllowedOrigins) > 0 && !ws.OriginAllowed(r, s.cfg.AllowedOrigins, s.cfg.AllowNoOrigin) {
		release()
		s.obs.Upgrade(observability.UpgradeResultFail, observability.UpgradeReasonOriginRejected)
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	hs := newHandshake(r, u, ns.name)
	if err := s.runMiddleware(ns, hs); err != nil {
		release()
		log.WithError(err).WithField("namespace", ns.name).Debug("middleware rejected upgrade")
		if wserrors.Is(err, wserrors.CodeUnauthorized) {
			s.obs.Upgrade(observability.UpgradeResultFail, observability.UpgradeReasonUnauthorized)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		} else {
			s.obs.Upgrade(observability.UpgradeResultFail, observability.UpgradeReasonMiddlewareError)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}
	conn, err := ws.Upgrade(w, r, ws.UpgradeOptions{
		Options: ws.Options{ReadLimit: s.cfg.MaxFrameBytes, WriteTimeout: s.cfg.WriteTimeout},
		// The allow-list was checked above; gorilla's same-origin default
		// would reject non-browser SDK clients.
		CheckOrigin: func(*http.Request) bool { return true },
	})
	if err != nil {
		release()
		s.obs.Upgrade(observability.UpgradeResultFail, observability.UpgradeReasonUpgradeError)
		return
	}

	p := s.newPeer(conn, ns, hs)
	s.register(p)
	s.obs.Upgrade(observability.UpgradeResultOK, observability.UpgradeReasonOK)
	s.obs.ConnCount(atomic.LoadInt64(&s.connCount))
	p.markConnected()

	for _, h := range s.connectionHandlers() {
		h(p)
	}
	for _, h := range ns.connectionHandlers() {
		h(p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.readCancel = cancel
	go p.readLoop(ctx)
}

func (s *Server) runMiddleware(ns *Namespace, hs *Handshake) error {
	s.mu.RLock()
	serverChain := append([]MiddlewareFunc(nil), s.middleware...)
	s.mu.RUnlock()
	for _, mw := range serverChain {
		if err := mw(hs); err != nil {
			return err
		}
	}
	for _, mw := range ns.middlewareChain() {
		if err := mw(hs); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) connectionHandlers() []ConnectionHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ConnectionHandler(nil), s.connHandler...)
}

// resolveNamespace picks the longest-prefix namespace for a request path.
func (s *Server) resolveNamespace(path string) *Namespace {
	path = normalizePath(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *Namespace
	bestLen := -1
	for _, ns := range s.namespaces {
		if l, ok := ns.matches(path, s.cfg.Path); ok && l > bestLen {
			best, bestLen = ns, l
		}
	}
	return best
}

func (s *Server) register(p *Peer) {
	s.mu.Lock()
	s.peers[p.id] = p
	s.mu.Unlock()
	p.ns.addPeer(p)
	if s.batch != nil {
		s.batch.Subscribe(p)
	} else {
		p.hb = heartbeat.NewManager(p, s.cfg.PingInterval, s.cfg.PingTimeout)
		p.hb.Start()
	}
	log.WithFields(logrus.Fields{"peer": p.id, "namespace": p.ns.name}).Debug("peer connected")
}

func (s *Server) deregister(p *Peer, reason string) {
	s.mu.Lock()
	_, present := s.peers[p.id]
	delete(s.peers, p.id)
	s.mu.Unlock()
	if !present {
		return
	}
	p.ns.removePeer(p.id)
	n := atomic.AddInt64(&s.connCount, -1)
	s.obs.ConnCount(n)
	s.obs.Disconnect(disconnectReason(reason))
	log.WithFields(logrus.Fields{"peer": p.id, "reason": reason}).Debug("peer disconnected")
}

// joinRoom updates the local index first, then mirrors the membership into
// the adapter; a failed mirror leaves the local join in place.
func (s *Server) joinRoom(peerID, room string) error {
	s.rooms.Join(room, peerID)
	s.obs.RoomCount(s.rooms.Len())
	ctx, cancel := context.WithTimeout(context.Background(), adapterOpTimeout)
	defer cancel()
	if err := s.ad.AddPeerToRoom(ctx, room, peerID); err != nil {
		log.WithError(err).WithFields(logrus.Fields{"peer": peerID, "room": room}).Debug("adapter join failed")
		return err
	}
	return nil
}

func (s *Server) leaveRoom(peerID, room string) error {
	s.rooms.Leave(room, peerID)
	s.obs.RoomCount(s.rooms.Len())
	ctx, cancel := context.WithTimeout(context.Background(), adapterOpTimeout)
	defer cancel()
	if err := s.ad.RemovePeerFromRoom(ctx, room, peerID); err != nil {
		log.WithError(err).WithFields(logrus.Fields{"peer": peerID, "room": room}).Debug("adapter leave failed")
		return err
	}
	return nil
}

// leaveAllRooms clears local membership synchronously; the adapter mirror
// is cleaned in the background so disconnects never block on a backend.
func (s *Server) leaveAllRooms(peerID string) {
	s.rooms.LeaveAll(peerID)
	s.obs.RoomCount(s.rooms.Len())
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), adapterOpTimeout)
		defer cancel()
		if err := s.ad.RemovePeerFromAllRooms(ctx, peerID); err != nil {
			log.WithError(err).WithField("peer", peerID).Debug("adapter room cleanup failed")
		}
	}()
}

// Broadcast emits to every connected peer on every server.
func (s *Server) Broadcast(event string, data interface{}) error {
	raw, err := protocol.EncodeData(data)
	if err != nil {
		return err
	}
	return s.broadcastRaw(event, raw, "")
}

// EmitToRoom emits to the members of one room on every server. An optional
// single peer id can be excluded.
func (s *Server) EmitToRoom(room, event string, data interface{}, except ...string) error {
	raw, err := protocol.EncodeData(data)
	if err != nil {
		return err
	}
	exceptID := ""
	if len(except) > 0 {
		exceptID = except[0]
	}
	return s.emitToRoomsRaw([]string{room}, event, raw, exceptID)
}

// To returns an emitter bound to one room, excluding nobody.
func (s *Server) To(room string) *Emitter {
	return &Emitter{srv: s, rooms: []string{room}}
}

// ToRooms returns an emitter bound to the union of several rooms.
func (s *Server) ToRooms(roomList ...string) *Emitter {
	return &Emitter{srv: s, rooms: roomList}
}

// broadcastRaw relays first, then fans out locally. With the message queue
// enabled the local sends are enqueued instead of written inline.
func (s *Server) broadcastRaw(event string, data []byte, except string) error {
	s.relay(observability.RelayBroadcast, func(ctx context.Context) error {
		return s.ad.Broadcast(ctx, adapter.RelayMessage{Event: event, Data: data, ExceptPeerID: except})
	})
	targets := s.collectTargets(nil, except)
	if s.queue != nil {
		return s.enqueueFanout(targets, event, data)
	}
	s.fanout(targets, event, data)
	return nil
}

// emitToRoomsRaw relays each room first, then fans out locally to the
// union of their members.
func (s *Server) emitToRoomsRaw(roomList []string, event string, data []byte, except string) error {
	for _, room := range roomList {
		room := room
		s.relay(observability.RelayRoom, func(ctx context.Context) error {
			return s.ad.BroadcastToRoom(ctx, room, adapter.RelayMessage{Event: event, Data: data, ExceptPeerID: except})
		})
	}
	s.fanout(s.collectTargets(roomList, except), event, data)
	return nil
}

// relay publishes through the adapter. Failures are observed and logged,
// never propagated: local delivery must proceed.
func (s *Server) relay(op observability.RelayOp, publish func(context.Context) error) {
	s.obs.RelayPublish(op)
	ctx, cancel := context.WithTimeout(context.Background(), adapterOpTimeout)
	defer cancel()
	if err := publish(ctx); err != nil {
		s.obs.RelayError(op)
		log.WithError(err).Warn("adapter relay publish failed")
	}
}

// handleAdapterMessage applies a relay from another server to local peers
// only. It never re-publishes, which is what keeps relays loop-free.
func (s *Server) handleAdapterMessage(msg adapter.RelayMessage) {
	s.obs.RelayReceive()
	var targets []*Peer
	if msg.Room != "" {
		targets = s.collectTargets([]string{msg.Room}, msg.ExceptPeerID)
	} else {
		targets = s.collectTargets(nil, msg.ExceptPeerID)
	}
	s.fanout(targets, msg.Event, msg.Data)
}

// collectTargets resolves the audience: every peer when roomList is empty,
// otherwise the union of the rooms' local members, minus except.
func (s *Server) collectTargets(roomList []string, except string) []*Peer {
	if len(roomList) == 0 {
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make([]*Peer, 0, len(s.peers))
		for id, p := range s.peers {
			if id != except {
				out = append(out, p)
			}
		}
		return out
	}
	seen := make(map[string]struct{})
	for _, room := range roomList {
		for _, id := range s.rooms.Peers(room) {
			if id != except {
				seen[id] = struct{}{}
			}
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Peer, 0, len(seen))
	for id := range seen {
		if p := s.peers[id]; p != nil {
			out = append(out, p)
		}
	}
	return out
}

// frameKey derives the frame-cache key. The cipher setting folds into it.
func (s *Server) frameKey(event string, data []byte) string {
	return cache.Key(event+"\x1f"+string(s.cipher.Algorithm()), data)
}

// serializeEvent produces the wire frame for an event, memoized so a
// fan-out serializes (and encrypts) each payload once.
func (s *Server) serializeEvent(event string, data []byte) (int, []byte, error) {
	env := protocol.Event(event, data, "")
	if s.msgCache == nil {
		return s.codec.Serialize(env)
	}
	key := s.frameKey(event, data)
	if frame, ok := s.msgCache.Get(key); ok {
		return websocket.TextMessage, frame, nil
	}
	mt, frame, err := s.codec.Serialize(env)
	if err == nil && mt == websocket.TextMessage {
		s.msgCache.Put(key, frame)
	}
	return mt, frame, err
}

// fanout delivers one event to the audience. Single targets serialize
// inline; small audiences share one serialized frame; large audiences are
// split into parallel batches.
func (s *Server) fanout(targets []*Peer, event string, data []byte) {
	s.obs.Fanout(len(targets))
	if len(targets) == 0 {
		return
	}
	if len(targets) == 1 {
		_ = targets[0].sendEvent(event, data)
		return
	}
	mt, frame, err := s.serializeEvent(event, data)
	if err != nil {
		log.WithError(err).WithField("event", event).Debug("fan-out serialization failed")
		return
	}
	if len(targets) <= defaults.DirectFanoutMax {
		for _, p := range targets {
			_ = p.sendRaw(mt, frame)
		}
		return
	}
	batchSize := defaults.FanoutBatchSize(len(targets))
	var g errgroup.Group
	for start := 0; start < len(targets); start += batchSize {
		chunk := targets[start:min(start+batchSize, len(targets))]
		g.Go(func() error {
			for _, p := range chunk {
				_ = p.sendRaw(mt, frame)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// enqueueFanout routes a broadcast through the bounded queue, one entry
// per recipient, sharing a single serialized frame.
func (s *Server) enqueueFanout(targets []*Peer, event string, data []byte) error {
	s.obs.Fanout(len(targets))
	if len(targets) == 0 {
		return nil
	}
	mt, frame, err := s.serializeEvent(event, data)
	if err != nil {
		return err
	}
	for _, p := range targets {
		p := p
		if err := s.queue.Enqueue(0, func() error { return p.sendRaw(mt, frame) }); err != nil {
			return err
		}
	}
	return nil
}

// Close stops heartbeats and the queue, disconnects every peer, tears the
// adapter down, and shuts the HTTP listener with a bounded grace period.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.batch != nil {
			s.batch.Stop()
		}
		if s.queue != nil {
			s.queue.Close()
		}
		var g errgroup.Group
		for _, p := range s.Peers() {
			p := p
			g.Go(func() error {
				p.Disconnect(ReasonServerShutdown)
				return nil
			})
		}
		_ = g.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := s.ad.Unsubscribe(ctx); err != nil {
			log.WithError(err).Debug("adapter unsubscribe failed")
		}
		if err := s.ad.UnregisterServer(ctx); err != nil {
			log.WithError(err).Debug("adapter unregister failed")
		}
		if err := s.ad.Close(ctx); err != nil {
			log.WithError(err).Debug("adapter close failed")
		}

		if s.httpSrv != nil {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), closeTimeout)
			defer cancelShutdown()
			if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
				s.closeErr = err
				_ = s.httpSrv.Close()
			}
		} else if s.listener != nil {
			_ = s.listener.Close()
		}
		log.WithField("server", s.id).Info("closed")
	})
	return s.closeErr
}

func messageKind(t protocol.Type) observability.MessageKind {
	switch t {
	case protocol.TypePing:
		return observability.MessagePing
	case protocol.TypePong:
		return observability.MessagePong
	case protocol.TypeCallback:
		return observability.MessageCallback
	case protocol.TypeBinary:
		return observability.MessageBinary
	case protocol.TypeError:
		return observability.MessageError
	default:
		return observability.MessageEvent
	}
}

func disconnectReason(reason string) observability.DisconnectReason {
	switch reason {
	case heartbeat.ReasonPingTimeout:
		return observability.DisconnectReasonPingTimeout
	case ReasonServerShutdown:
		return observability.DisconnectReasonServerShutdown
	case ReasonClientClosed:
		return observability.DisconnectReasonPeerClosed
	case ReasonReadError:
		return observability.DisconnectReasonReadError
	case ReasonWriteError:
		return observability.DisconnectReasonWriteError
	default:
		return observability.DisconnectReasonRequested
	}
}
