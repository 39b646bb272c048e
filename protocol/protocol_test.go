package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/shuliangfu/wsmesh/crypto/msgcrypt"
)

func mustCipher(t *testing.T, key byte) *msgcrypt.Cipher {
	t.Helper()
	c, err := msgcrypt.New(msgcrypt.Config{Key: bytes.Repeat([]byte{key}, 32), CacheSize: -1})
	if err != nil {
		t.Fatalf("msgcrypt.New: %v", err)
	}
	return c
}

func TestPlaintextRoundTrip(t *testing.T) {
	codec := NewCodec(nil)
	data, err := EncodeData(map[string]interface{}{"text": "hi", "n": 3})
	if err != nil {
		t.Fatalf("EncodeData: %v", err)
	}
	envs := []Envelope{
		Event("chat", data, ""),
		Event("ask", data, "cb-1"),
		Callback("cb-1", data),
		Ping(),
		Pong(),
		ErrorFrame("boom"),
	}
	for _, in := range envs {
		mt, frame, err := codec.Serialize(in)
		if err != nil {
			t.Fatalf("Serialize(%v): %v", in.Type, err)
		}
		if mt != websocket.TextMessage {
			t.Fatalf("Serialize(%v) message type = %d", in.Type, mt)
		}
		out := codec.Parse(mt, frame)
		if out.Type != in.Type || out.Event != in.Event || out.CallbackID != in.CallbackID {
			t.Fatalf("round trip changed header: in=%+v out=%+v", in, out)
		}
		if !bytes.Equal(out.Data, in.Data) {
			t.Fatalf("round trip changed data: in=%s out=%s", in.Data, out.Data)
		}
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	sender := NewCodec(mustCipher(t, 1))
	receiver := NewCodec(mustCipher(t, 1))
	data, _ := EncodeData("payload")
	in := Event("chat", data, "cb-9")

	mt, frame, err := sender.Serialize(in)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if strings.Contains(string(frame), `"type"`) {
		t.Fatal("serialized frame leaked plaintext JSON")
	}
	out := receiver.Parse(mt, frame)
	if out.Type != TypeEvent || out.Event != "chat" || out.CallbackID != "cb-9" {
		t.Fatalf("parsed %+v", out)
	}
	var s string
	if err := out.DecodeData(&s); err != nil || s != "payload" {
		t.Fatalf("DecodeData = %q, %v", s, err)
	}
}

func TestBinaryBypassesEncryption(t *testing.T) {
	codec := NewCodec(mustCipher(t, 2))
	payload := []byte{0, 1, 2, 0xff, 0xfe}

	mt, frame, err := codec.Serialize(BinaryFrame(payload))
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if mt != websocket.BinaryMessage {
		t.Fatalf("message type = %d, want binary", mt)
	}
	if !bytes.Equal(frame, payload) {
		t.Fatalf("binary frame transformed: %v", frame)
	}
	out := codec.Parse(websocket.BinaryMessage, frame)
	if out.Type != TypeBinary || !bytes.Equal(out.Binary, payload) {
		t.Fatalf("parsed %+v", out)
	}
}

func TestParseUndecryptableFrame(t *testing.T) {
	sender := NewCodec(mustCipher(t, 1))
	receiver := NewCodec(mustCipher(t, 2))
	data, _ := EncodeData("secret")
	mt, frame, err := sender.Serialize(Event("chat", data, ""))
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	out := receiver.Parse(mt, frame)
	if out.Type != TypeError {
		t.Fatalf("type = %v, want error", out.Type)
	}
	var msg string
	if err := out.DecodeData(&msg); err != nil || msg != DecryptFailedMessage {
		t.Fatalf("data = %q, %v", msg, err)
	}
}

func TestParsePlaintextWhileEncrypted(t *testing.T) {
	// A peer without encryption sends plain JSON; it is short and not
	// base64, so it must be parsed rather than rejected.
	receiver := NewCodec(mustCipher(t, 1))
	out := receiver.Parse(websocket.TextMessage, []byte(`{"type":"ping"}`))
	if out.Type != TypePing {
		t.Fatalf("type = %v, want ping", out.Type)
	}
}

func TestParseNonEnvelopeText(t *testing.T) {
	codec := NewCodec(nil)
	out := codec.Parse(websocket.TextMessage, []byte("hello, not json"))
	if out.Type != TypeEvent || out.Event != EventEncrypted {
		t.Fatalf("parsed %+v", out)
	}
	var raw string
	if err := out.DecodeData(&raw); err != nil || raw != "hello, not json" {
		t.Fatalf("data = %q, %v", raw, err)
	}
}

func TestParseToleratesUnknownFields(t *testing.T) {
	codec := NewCodec(nil)
	out := codec.Parse(websocket.TextMessage, []byte(`{"type":"event","event":"x","future":true}`))
	if out.Type != TypeEvent || out.Event != "x" {
		t.Fatalf("parsed %+v", out)
	}
}

func TestEnvelopeJSONShape(t *testing.T) {
	data, _ := EncodeData(42)
	b, err := json.Marshal(Event("tick", data, "cb-3"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"event","event":"tick","data":42,"callbackId":"cb-3"}`
	if string(b) != want {
		t.Fatalf("json = %s, want %s", b, want)
	}
	b, _ = json.Marshal(Ping())
	if string(b) != `{"type":"ping"}` {
		t.Fatalf("ping json = %s", b)
	}
}
