// Package adapter defines the relay contract that lets multiple server
// instances present one logical mesh: shared room membership, a server
// registry, and broadcast relay between instances. The in-memory adapter
// here serves single-instance deployments; the redisadapter and
// mongoadapter subpackages back multi-instance ones.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrClosed is returned by operations on a closed adapter.
var ErrClosed = errors.New("adapter closed")

// RelayMessage is the unit relayed between server instances. Room is empty
// for global broadcasts. ExceptPeerID names a peer the receiving side must
// skip during local fan-out (normally the original sender).
type RelayMessage struct {
	Event        string          `json:"event"`
	Data         json.RawMessage `json:"data,omitempty"`
	Room         string          `json:"room,omitempty"`
	ExceptPeerID string          `json:"exceptPeerId,omitempty"`
}

// Handler consumes relay messages that originated on other servers. The
// adapter never feeds a server its own messages back.
type Handler func(msg RelayMessage)

// Adapter is the distributed backend contract. Implementations are safe
// for concurrent use after Init. Every operation honors its context.
type Adapter interface {
	// Init prepares backend resources and binds the adapter to this
	// server's identity. It must be called before any other operation.
	Init(ctx context.Context, serverID string) error
	// Close releases backend resources. Idempotent.
	Close(ctx context.Context) error

	AddPeerToRoom(ctx context.Context, room, peerID string) error
	RemovePeerFromRoom(ctx context.Context, room, peerID string) error
	RemovePeerFromAllRooms(ctx context.Context, peerID string) error
	PeersInRoom(ctx context.Context, room string) ([]string, error)
	RoomsForPeer(ctx context.Context, peerID string) ([]string, error)

	// Broadcast relays to every other server; BroadcastToRoom narrows the
	// relay to servers hosting members of room.
	Broadcast(ctx context.Context, msg RelayMessage) error
	BroadcastToRoom(ctx context.Context, room string, msg RelayMessage) error

	// Subscribe installs the relay handler. Subscribing again swaps the
	// handler in place without restarting the underlying watch.
	Subscribe(ctx context.Context, h Handler) error
	Unsubscribe(ctx context.Context) error

	RegisterServer(ctx context.Context) error
	UnregisterServer(ctx context.Context) error
	ServerIDs(ctx context.Context) ([]string, error)
}
