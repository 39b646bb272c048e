package adapter

import (
	"context"
	"sync"

	"github.com/shuliangfu/wsmesh/rooms"
)

// Memory is the single-instance adapter: membership lives in a local room
// index, the server registry holds only this server, and broadcasts have
// no other instance to reach. It gives single-node deployments the same
// adapter-backed code path as distributed ones.
type Memory struct {
	mu         sync.RWMutex
	serverID   string
	registered bool
	closed     bool
	handler    Handler

	index *rooms.Index
}

// NewMemory returns an uninitialized memory adapter.
func NewMemory() *Memory {
	return &Memory{index: rooms.NewIndex()}
}

func (m *Memory) Init(_ context.Context, serverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.serverID = serverID
	return nil
}

func (m *Memory) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.registered = false
	m.handler = nil
	return nil
}

func (m *Memory) guard() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Memory) AddPeerToRoom(_ context.Context, room, peerID string) error {
	if err := m.guard(); err != nil {
		return err
	}
	m.index.Join(room, peerID)
	return nil
}

func (m *Memory) RemovePeerFromRoom(_ context.Context, room, peerID string) error {
	if err := m.guard(); err != nil {
		return err
	}
	m.index.Leave(room, peerID)
	return nil
}

func (m *Memory) RemovePeerFromAllRooms(_ context.Context, peerID string) error {
	if err := m.guard(); err != nil {
		return err
	}
	m.index.LeaveAll(peerID)
	return nil
}

func (m *Memory) PeersInRoom(_ context.Context, room string) ([]string, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	return m.index.Peers(room), nil
}

func (m *Memory) RoomsForPeer(_ context.Context, peerID string) ([]string, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	return m.index.RoomsOf(peerID), nil
}

// Broadcast has no other instance to relay to; it succeeds silently.
func (m *Memory) Broadcast(context.Context, RelayMessage) error {
	return m.guard()
}

func (m *Memory) BroadcastToRoom(_ context.Context, _ string, _ RelayMessage) error {
	return m.guard()
}

func (m *Memory) Subscribe(_ context.Context, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.handler = h
	return nil
}

func (m *Memory) Unsubscribe(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = nil
	return nil
}

func (m *Memory) RegisterServer(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.registered = true
	return nil
}

func (m *Memory) UnregisterServer(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered = false
	return nil
}

func (m *Memory) ServerIDs(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if !m.registered || m.serverID == "" {
		return nil, nil
	}
	return []string{m.serverID}, nil
}
