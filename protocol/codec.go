package protocol

import (
	"encoding/json"

	"github.com/gorilla/websocket"

	"github.com/shuliangfu/wsmesh/crypto/msgcrypt"
)

// DecryptFailedMessage is delivered as an error envelope when a frame looks
// encrypted but cannot be decrypted with the configured key.
const DecryptFailedMessage = "decryption failed"

// Codec converts between WebSocket frames and envelopes for one connection.
// The zero value (nil cipher) handles plaintext traffic.
type Codec struct {
	Cipher *msgcrypt.Cipher
}

// NewCodec returns a codec bound to the shared cipher. cipher may be nil.
func NewCodec(cipher *msgcrypt.Cipher) *Codec {
	return &Codec{Cipher: cipher}
}

// Parse maps one inbound frame to an envelope. It never fails: every
// degenerate input maps to a deliverable envelope so the read loop keeps
// its single dispatch path.
//
//   - Binary frames pass through untouched as TypeBinary.
//   - With encryption on, text that decrypts is parsed as JSON; text that
//     fails to decrypt but looks like ciphertext becomes an error envelope;
//     other text is treated as plaintext from an unencrypted peer.
//   - Text that is not a JSON envelope becomes a synthetic "encrypted"
//     event carrying the raw text, rather than being dropped.
func (c *Codec) Parse(messageType int, frame []byte) Envelope {
	if messageType == websocket.BinaryMessage {
		return Envelope{Type: TypeBinary, Binary: frame}
	}
	text := string(frame)
	if c.Cipher.Enabled() {
		plain, err := c.Cipher.Decrypt(text)
		switch {
		case err == nil:
			text = plain
		case msgcrypt.IsLikelyCiphertext(text):
			return ErrorFrame(DecryptFailedMessage)
		}
	}
	var env Envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		data, _ := EncodeData(text)
		return Envelope{Type: TypeEvent, Event: EventEncrypted, Data: data}
	}
	return env
}

// Serialize maps an envelope to the frame to transmit. Binary envelopes
// become binary frames with no transformation; everything else is JSON,
// encrypted when the cipher is on.
func (c *Codec) Serialize(env Envelope) (messageType int, frame []byte, err error) {
	if env.Type == TypeBinary {
		return websocket.BinaryMessage, env.Binary, nil
	}
	b, err := json.Marshal(env)
	if err != nil {
		return 0, nil, err
	}
	if c.Cipher.Enabled() {
		ct, err := c.Cipher.Encrypt(string(b))
		if err != nil {
			return 0, nil, err
		}
		return websocket.TextMessage, []byte(ct), nil
	}
	return websocket.TextMessage, b, nil
}
