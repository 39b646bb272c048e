// Package rooms maintains the in-memory room membership index: a pair of
// mirrored maps (room -> peers, peer -> rooms) kept consistent under one
// lock. Rooms exist only while occupied; the first join creates a room and
// the last leave destroys it.
package rooms

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// Index is safe for concurrent use. The sets inside are thread-unsafe and
// are only touched while holding the lock.
type Index struct {
	mu     sync.RWMutex
	byRoom map[string]mapset.Set[string] // room name -> peer ids
	byPeer map[string]mapset.Set[string] // peer id -> room names
}

// NewIndex returns an empty membership index.
func NewIndex() *Index {
	return &Index{
		byRoom: make(map[string]mapset.Set[string]),
		byPeer: make(map[string]mapset.Set[string]),
	}
}

// Join records peerID as a member of room. Joining twice is a no-op.
func (ix *Index) Join(room, peerID string) {
	if room == "" || peerID == "" {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	rs, ok := ix.byRoom[room]
	if !ok {
		rs = mapset.NewThreadUnsafeSet[string]()
		ix.byRoom[room] = rs
	}
	rs.Add(peerID)
	ps, ok := ix.byPeer[peerID]
	if !ok {
		ps = mapset.NewThreadUnsafeSet[string]()
		ix.byPeer[peerID] = ps
	}
	ps.Add(room)
}

// Leave removes peerID from room, destroying the room when it empties.
func (ix *Index) Leave(room, peerID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.leaveLocked(room, peerID)
}

func (ix *Index) leaveLocked(room, peerID string) {
	if rs, ok := ix.byRoom[room]; ok {
		rs.Remove(peerID)
		if rs.IsEmpty() {
			delete(ix.byRoom, room)
		}
	}
	if ps, ok := ix.byPeer[peerID]; ok {
		ps.Remove(room)
		if ps.IsEmpty() {
			delete(ix.byPeer, peerID)
		}
	}
}

// LeaveAll removes peerID from every room and returns the rooms it left.
func (ix *Index) LeaveAll(peerID string) []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ps, ok := ix.byPeer[peerID]
	if !ok {
		return nil
	}
	left := ps.ToSlice()
	for _, room := range left {
		ix.leaveLocked(room, peerID)
	}
	return left
}

// Peers returns the members of room as a fresh slice.
func (ix *Index) Peers(room string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if rs, ok := ix.byRoom[room]; ok {
		return rs.ToSlice()
	}
	return nil
}

// PeerCount returns the number of members of room.
func (ix *Index) PeerCount(room string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if rs, ok := ix.byRoom[room]; ok {
		return rs.Cardinality()
	}
	return 0
}

// RoomsOf returns the rooms peerID currently occupies.
func (ix *Index) RoomsOf(peerID string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ps, ok := ix.byPeer[peerID]; ok {
		return ps.ToSlice()
	}
	return nil
}

// InRoom reports whether peerID is a member of room.
func (ix *Index) InRoom(room, peerID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if rs, ok := ix.byRoom[room]; ok {
		return rs.Contains(peerID)
	}
	return false
}

// Rooms returns the names of all occupied rooms.
func (ix *Index) Rooms() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]string, 0, len(ix.byRoom))
	for room := range ix.byRoom {
		out = append(out, room)
	}
	return out
}

// Len returns the number of occupied rooms.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byRoom)
}
