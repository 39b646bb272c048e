package e2e_test

import (
	"context"
	"sync"

	"github.com/shuliangfu/wsmesh/adapter"
	"github.com/shuliangfu/wsmesh/rooms"
)

// relayBus is an in-process stand-in for a Redis or Mongo backend: shared
// room membership plus relay delivery to every subscriber except the
// publisher. It exercises the same server-side code paths (publish first,
// local fan-out second, self-filter on receive) without a live backend.
type relayBus struct {
	mu      sync.RWMutex
	index   *rooms.Index
	subs    map[string]adapter.Handler
	servers map[string]struct{}
}

func newRelayBus() *relayBus {
	return &relayBus{
		index:   rooms.NewIndex(),
		subs:    make(map[string]adapter.Handler),
		servers: make(map[string]struct{}),
	}
}

func (b *relayBus) publish(from string, msg adapter.RelayMessage) {
	b.mu.RLock()
	handlers := make([]adapter.Handler, 0, len(b.subs))
	for id, h := range b.subs {
		if id != from && h != nil {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(msg)
	}
}

// busAdapter binds one server to the shared bus.
type busAdapter struct {
	bus      *relayBus
	serverID string
}

func newBusAdapter(bus *relayBus) *busAdapter {
	return &busAdapter{bus: bus}
}

func (a *busAdapter) Init(_ context.Context, serverID string) error {
	a.serverID = serverID
	return nil
}

func (a *busAdapter) Close(context.Context) error { return nil }

func (a *busAdapter) AddPeerToRoom(_ context.Context, room, peerID string) error {
	a.bus.mu.Lock()
	defer a.bus.mu.Unlock()
	a.bus.index.Join(room, peerID)
	return nil
}

func (a *busAdapter) RemovePeerFromRoom(_ context.Context, room, peerID string) error {
	a.bus.mu.Lock()
	defer a.bus.mu.Unlock()
	a.bus.index.Leave(room, peerID)
	return nil
}

func (a *busAdapter) RemovePeerFromAllRooms(_ context.Context, peerID string) error {
	a.bus.mu.Lock()
	defer a.bus.mu.Unlock()
	a.bus.index.LeaveAll(peerID)
	return nil
}

func (a *busAdapter) PeersInRoom(_ context.Context, room string) ([]string, error) {
	a.bus.mu.RLock()
	defer a.bus.mu.RUnlock()
	return a.bus.index.Peers(room), nil
}

func (a *busAdapter) RoomsForPeer(_ context.Context, peerID string) ([]string, error) {
	a.bus.mu.RLock()
	defer a.bus.mu.RUnlock()
	return a.bus.index.RoomsOf(peerID), nil
}

func (a *busAdapter) Broadcast(_ context.Context, msg adapter.RelayMessage) error {
	a.bus.publish(a.serverID, msg)
	return nil
}

func (a *busAdapter) BroadcastToRoom(_ context.Context, room string, msg adapter.RelayMessage) error {
	msg.Room = room
	a.bus.publish(a.serverID, msg)
	return nil
}

func (a *busAdapter) Subscribe(_ context.Context, h adapter.Handler) error {
	a.bus.mu.Lock()
	defer a.bus.mu.Unlock()
	a.bus.subs[a.serverID] = h
	return nil
}

func (a *busAdapter) Unsubscribe(context.Context) error {
	a.bus.mu.Lock()
	defer a.bus.mu.Unlock()
	delete(a.bus.subs, a.serverID)
	return nil
}

func (a *busAdapter) RegisterServer(context.Context) error {
	a.bus.mu.Lock()
	defer a.bus.mu.Unlock()
	a.bus.servers[a.serverID] = struct{}{}
	return nil
}

func (a *busAdapter) UnregisterServer(context.Context) error {
	a.bus.mu.Lock()
	defer a.bus.mu.Unlock()
	delete(a.bus.servers, a.serverID)
	return nil
}

func (a *busAdapter) ServerIDs(context.Context) ([]string, error) {
	a.bus.mu.RLock()
	defer a.bus.mu.RUnlock()
	out := make([]string, 0, len(a.bus.servers))
	for id := range a.bus.servers {
		out = append(out, id)
	}
	return out, nil
}
