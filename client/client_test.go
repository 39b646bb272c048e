package client

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shuliangfu/wsmesh/protocol"
	"github.com/shuliangfu/wsmesh/server"
	"github.com/shuliangfu/wsmesh/wserrors"
)

func startServer(t *testing.T, cfg server.Config) *server.Server {
	t.Helper()
	s, err := server.New(cfg)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	if err := s.Listen(context.Background()); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEmitWithCallbackRoundTrip(t *testing.T) {
	s := startServer(t, server.DefaultConfig())
	s.OnConnection(func(p *server.Peer) {
		p.On("ask", func(_ *server.Peer, data json.RawMessage, reply server.ReplyFunc) {
			var q map[string]string
			if err := json.Unmarshal(data, &q); err != nil {
				t.Errorf("bad ask payload: %v", err)
			}
			if reply == nil {
				t.Error("reply is nil for a callback-carrying event")
				return
			}
			_ = reply(map[string]string{"a": q["q"]})
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Connect(ctx, s.URL())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	reply, err := c.EmitWithCallback(ctx, "ask", map[string]string{"q": "hi"})
	if err != nil {
		t.Fatalf("EmitWithCallback: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(reply, &got); err != nil {
		t.Fatalf("reply decode: %v", err)
	}
	if got["a"] != "hi" {
		t.Fatalf("reply = %v, want a=hi", got)
	}
}

func TestEmitWithCallbackTimesOut(t *testing.T) {
	s := startServer(t, server.DefaultConfig())
	// No handler registered: the server never replies.
	c, err := Connect(context.Background(), s.URL())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = c.EmitWithCallback(ctx, "ask", map[string]string{"q": "hi"})
	if !wserrors.Is(err, wserrors.CodeCallbackTimeout) {
		t.Fatalf("err = %v, want callback_timeout", err)
	}
}

func TestServerEventReachesHandler(t *testing.T) {
	s := startServer(t, server.DefaultConfig())
	peerReady := make(chan *server.Peer, 1)
	s.OnConnection(func(p *server.Peer) { peerReady <- p })

	c, err := Connect(context.Background(), s.URL())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	got := make(chan map[string]int, 1)
	c.On("news", func(data json.RawMessage, _ ReplyFunc) {
		var v map[string]int
		_ = json.Unmarshal(data, &v)
		got <- v
	})

	var p *server.Peer
	select {
	case p = <-peerReady:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the connection")
	}
	if err := p.Emit("news", map[string]int{"n": 7}); err != nil {
		t.Fatalf("server emit: %v", err)
	}
	select {
	case v := <-got:
		if v["n"] != 7 {
			t.Fatalf("payload = %v, want n=7", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never arrived")
	}
}

func TestClientAnswersServerCallback(t *testing.T) {
	s := startServer(t, server.DefaultConfig())
	peerReady := make(chan *server.Peer, 1)
	s.OnConnection(func(p *server.Peer) { peerReady <- p })

	c, err := Connect(context.Background(), s.URL())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()
	c.On("probe", func(_ json.RawMessage, reply ReplyFunc) {
		if reply == nil {
			t.Error("reply is nil")
			return
		}
		_ = reply(map[string]bool{"ok": true})
		_ = reply(map[string]bool{"ok": false}) // Second call must be ignored.
	})

	p := <-peerReady
	answered := make(chan json.RawMessage, 2)
	if err := p.EmitWithCallback("probe", nil, func(data json.RawMessage) {
		answered <- data
	}); err != nil {
		t.Fatalf("EmitWithCallback: %v", err)
	}
	select {
	case data := <-answered:
		var v map[string]bool
		_ = json.Unmarshal(data, &v)
		if !v["ok"] {
			t.Fatalf("first reply lost: %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback never answered")
	}
	select {
	case data := <-answered:
		t.Fatalf("second reply delivered: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOnceHandlerRunsOnce(t *testing.T) {
	s := startServer(t, server.DefaultConfig())
	peerReady := make(chan *server.Peer, 1)
	s.OnConnection(func(p *server.Peer) { peerReady <- p })

	c, err := Connect(context.Background(), s.URL())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	hits := make(chan struct{}, 4)
	c.Once("tick", func(json.RawMessage, ReplyFunc) { hits <- struct{}{} })

	p := <-peerReady
	for i := 0; i < 3; i++ {
		if err := p.Emit("tick", i); err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
	}
	select {
	case <-hits:
	case <-time.After(2 * time.Second):
		t.Fatal("once handler never ran")
	}
	select {
	case <-hits:
		t.Fatal("once handler ran twice")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestClientSurvivesHeartbeat(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.PingInterval = 50 * time.Millisecond
	cfg.PingTimeout = 100 * time.Millisecond
	s := startServer(t, cfg)

	pings := make(chan struct{}, 16)
	c, err := Connect(context.Background(), s.URL(), WithPingHandler(func() {
		select {
		case pings <- struct{}{}:
		default:
		}
	}))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Fatal("no server ping observed")
	}
	// Outlive several ping/timeout windows; the auto-pong must keep us in.
	time.Sleep(400 * time.Millisecond)
	if c.Status() != StatusConnected {
		t.Fatalf("status = %v after heartbeat windows", c.Status())
	}
}

func TestReconnectAfterServerDrop(t *testing.T) {
	s := startServer(t, server.DefaultConfig())
	peers := make(chan *server.Peer, 2)
	s.OnConnection(func(p *server.Peer) { peers <- p })

	c, err := Connect(context.Background(), s.URL(), WithReconnect(ReconnectPolicy{
		Mode:    BackoffFixed,
		Initial: 20 * time.Millisecond,
	}))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	reconnected := make(chan struct{}, 1)
	c.On(protocol.EventConnect, func(json.RawMessage, ReplyFunc) {
		select {
		case reconnected <- struct{}{}:
		default:
		}
	})

	first := <-peers
	first.Disconnect("kicked")

	select {
	case <-reconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("client never reconnected")
	}
	select {
	case second := <-peers:
		if second.ID() == first.ID() {
			t.Fatal("reconnect reused the old peer")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the reconnect")
	}
	if c.Status() != StatusConnected {
		t.Fatalf("status = %v after reconnect", c.Status())
	}
}

func TestEmitAfterCloseFails(t *testing.T) {
	s := startServer(t, server.DefaultConfig())
	c, err := Connect(context.Background(), s.URL())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	err = c.Emit("late", "x")
	if !wserrors.Is(err, wserrors.CodeNotConnected) {
		t.Fatalf("err = %v, want not_connected", err)
	}
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done never closed")
	}
}

func TestConnectRejectsBadKey(t *testing.T) {
	_, err := Connect(context.Background(), "ws://127.0.0.1:0/", WithEncryptionKey([]byte("short")))
	if err == nil {
		t.Fatal("Connect accepted a 5-byte key")
	}
}
