package server

import (
	"net/http"
	"net/url"
)

// Handshake is the upgrade-time view of a connecting peer, exposed to
// middleware and carried onto the resulting Peer. Query, Header, and
// RemoteAddr are passed through from the HTTP request unchanged.
type Handshake struct {
	Query      url.Values
	Header     http.Header
	RemoteAddr string
	URL        *url.URL
	Namespace  string

	// Data is shared scratch space: values stored here by middleware are
	// visible on Peer.Data after the connection is established.
	Data map[string]interface{}
}

// MiddlewareFunc inspects a handshake before the websocket upgrade. A
// non-nil error aborts the upgrade; an error carrying
// wserrors.CodeUnauthorized maps to HTTP 401, anything else to 500.
type MiddlewareFunc func(hs *Handshake) error

// ConnectionHandler observes a newly established peer. Server-level
// handlers run before namespace-level ones, before the peer's read loop
// starts, so handlers registered here never miss the first frame.
type ConnectionHandler func(p *Peer)

func newHandshake(r *http.Request, u *url.URL, namespace string) *Handshake {
	return &Handshake{
		Query:      u.Query(),
		Header:     r.Header,
		RemoteAddr: r.RemoteAddr,
		URL:        u,
		Namespace:  namespace,
		Data:       make(map[string]interface{}),
	}
}
