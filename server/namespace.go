package server

import (
	"strings"
	"sync"
)

// Namespace groups peers connecting under one URL path, with its own
// middleware chain and connection listeners. The default namespace "/" is
// created with the server and matches only the configured base path; other
// namespaces match their own path and anything nested beneath it.
type Namespace struct {
	name string
	srv  *Server

	mu          sync.RWMutex // Guards peers, middleware, and connHandlers.
	peers       map[string]*Peer
	middleware  []MiddlewareFunc
	connHandler []ConnectionHandler
}

func newNamespace(srv *Server, name string) *Namespace {
	return &Namespace{
		name:  name,
		srv:   srv,
		peers: make(map[string]*Peer),
	}
}

// Name returns the registered, "/"-prefixed namespace name.
func (n *Namespace) Name() string {
	return n.name
}

// Use appends a middleware to this namespace's chain. Server-level
// middleware always runs first.
func (n *Namespace) Use(mw MiddlewareFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.middleware = append(n.middleware, mw)
}

// OnConnection registers a listener for peers joining this namespace.
func (n *Namespace) OnConnection(h ConnectionHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connHandler = append(n.connHandler, h)
}

// Peers snapshots the namespace's connected peers.
func (n *Namespace) Peers() []*Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	return out
}

// Len returns the number of connected peers in this namespace.
func (n *Namespace) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

func (n *Namespace) addPeer(p *Peer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[p.id] = p
}

func (n *Namespace) removePeer(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.peers, id)
}

func (n *Namespace) middlewareChain() []MiddlewareFunc {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]MiddlewareFunc(nil), n.middleware...)
}

func (n *Namespace) connectionHandlers() []ConnectionHandler {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]ConnectionHandler(nil), n.connHandler...)
}

// matches reports whether path belongs to this namespace and how specific
// the match is. The default namespace matches only the server's base path,
// with the lowest possible specificity so any explicit namespace wins.
func (n *Namespace) matches(path, basePath string) (int, bool) {
	if n.name == "/" {
		if path == basePath {
			return 0, true
		}
		return 0, false
	}
	if path == n.name || strings.HasPrefix(path, n.name+"/") {
		return len(n.name), true
	}
	return 0, false
}
