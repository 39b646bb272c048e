// Package protocol defines the wire envelope exchanged over a connection
// and the codec that maps envelopes onto WebSocket frames. Every text frame
// is one JSON envelope, optionally encrypted as a unit; binary frames carry
// raw payload bytes and bypass both JSON and encryption.
package protocol

import "encoding/json"

// Type discriminates the envelope kinds understood by both ends.
type Type string

const (
	TypeEvent    Type = "event"
	TypePing     Type = "ping"
	TypePong     Type = "pong"
	TypeCallback Type = "callback"
	TypeBinary   Type = "binary"
	TypeError    Type = "error"
)

// Reserved event names emitted by the runtime itself.
const (
	// EventEncrypted wraps inbound text that could not be parsed as an
	// envelope, so applications can still observe it.
	EventEncrypted = "encrypted"
	// EventBinary carries a binary frame that no pending upload consumed.
	EventBinary = "binary"
	// EventError is the local delivery target for error envelopes.
	EventError = "error"
	// EventFileChunk announces a chunk's metadata; the chunk bytes follow
	// as the next binary frame from the same sender.
	EventFileChunk = "file-chunk"
	// EventFileUpload delivers a fully reassembled upload.
	EventFileUpload = "file-upload"
	// EventFileUploadError reports an aborted or timed-out upload.
	EventFileUploadError = "file-upload-error"
	// EventConnect and EventDisconnect are lifecycle notifications.
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// Envelope is the unit of exchange. Exactly one of the JSON fields matters
// per Type: Event/Data for events, CallbackID/Data for callbacks, Data for
// errors. Binary holds the payload of binary frames and never serializes
// to JSON.
type Envelope struct {
	Type       Type            `json:"type"`
	Event      string          `json:"event,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	CallbackID string          `json:"callbackId,omitempty"`

	Binary []byte `json:"-"`
}

// EncodeData marshals an arbitrary value for the Data field.
func EncodeData(v interface{}) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// DecodeData unmarshals the Data field into v. A missing Data leaves v
// untouched.
func (e Envelope) DecodeData(v interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Event builds an application event envelope. callbackID may be empty.
func Event(event string, data json.RawMessage, callbackID string) Envelope {
	return Envelope{Type: TypeEvent, Event: event, Data: data, CallbackID: callbackID}
}

// Callback builds the reply envelope for a pending callback.
func Callback(callbackID string, data json.RawMessage) Envelope {
	return Envelope{Type: TypeCallback, CallbackID: callbackID, Data: data}
}

// Ping and Pong build heartbeat envelopes.
func Ping() Envelope { return Envelope{Type: TypePing} }
func Pong() Envelope { return Envelope{Type: TypePong} }

// BinaryFrame wraps raw bytes for transmission as a binary frame.
func BinaryFrame(payload []byte) Envelope {
	return Envelope{Type: TypeBinary, Binary: payload}
}

// ErrorFrame builds an error envelope whose data is the given message.
func ErrorFrame(msg string) Envelope {
	data, _ := EncodeData(msg)
	return Envelope{Type: TypeError, Data: data}
}
