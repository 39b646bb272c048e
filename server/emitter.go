package server

import (
	"github.com/shuliangfu/wsmesh/protocol"
)

// Emitter is a bound fan-out target: a set of rooms (empty means the whole
// server) with an optional excluded peer. Obtained from Server.To,
// Peer.To, Peer.ToRooms, and Peer.Broadcast.
type Emitter struct {
	srv    *Server
	rooms  []string
	except string
}

// Emit fans the event out to the emitter's audience, relaying through the
// adapter first so other servers deliver to their local members. []byte
// payloads go out as raw binary frames to local members only; the relay
// envelope is JSON and cannot carry them.
func (e *Emitter) Emit(event string, data interface{}) error {
	if b, ok := data.([]byte); ok {
		for _, p := range e.srv.collectTargets(e.rooms, e.except) {
			_ = p.SendBinary(b)
		}
		return nil
	}
	raw, err := protocol.EncodeData(data)
	if err != nil {
		return err
	}
	if len(e.rooms) == 0 {
		return e.srv.broadcastRaw(event, raw, e.except)
	}
	return e.srv.emitToRoomsRaw(e.rooms, event, raw, e.except)
}
