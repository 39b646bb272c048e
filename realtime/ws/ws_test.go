package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, b, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, b); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dialTest(t *testing.T, ts *httptest.Server, opts DialOptions) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := Dial(ctx, wsURL(ts), opts)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDialCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := Dial(ctx, "ws://example.invalid", DialOptions{}); err == nil {
		t.Fatal("expected dial to fail on canceled context")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	ts := newEchoServer(t)
	c := dialTest(t, ts, DialOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.WriteFrame(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("WriteFrame text failed: %v", err)
	}
	mt, b, err := c.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if mt != websocket.TextMessage || string(b) != `{"type":"ping"}` {
		t.Fatalf("unexpected echo: type=%d payload=%q", mt, b)
	}

	raw := []byte{0x00, 0x01, 0xfe, 0xff}
	if err := c.WriteFrame(websocket.BinaryMessage, raw); err != nil {
		t.Fatalf("WriteFrame binary failed: %v", err)
	}
	mt, b, err = c.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if mt != websocket.BinaryMessage || string(b) != string(raw) {
		t.Fatalf("binary payload altered: type=%d payload=%v", mt, b)
	}
}

func TestReadFrameContextDeadline(t *testing.T) {
	ts := newEchoServer(t)
	c := dialTest(t, ts, DialOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := c.ReadFrame(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestReadFrameContextCancel(t *testing.T) {
	ts := newEchoServer(t)
	c := dialTest(t, ts, DialOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, _, err := c.ReadFrame(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestWriteFrameConcurrent(t *testing.T) {
	ts := newEchoServer(t)
	c := dialTest(t, ts, DialOptions{})

	const writers = 8
	const perWriter = 5

	var wg sync.WaitGroup
	for g := 0; g < writers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				msg := fmt.Sprintf("msg-%d-%d", g, i)
				if err := c.WriteFrame(websocket.TextMessage, []byte(msg)); err != nil {
					t.Errorf("WriteFrame failed: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	seen := make(map[string]bool)
	for i := 0; i < writers*perWriter; i++ {
		_, b, err := c.ReadFrame(ctx)
		if err != nil {
			t.Fatalf("ReadFrame %d failed: %v", i, err)
		}
		if seen[string(b)] {
			t.Fatalf("frame %q echoed twice", b)
		}
		seen[string(b)] = true
	}
	if len(seen) != writers*perWriter {
		t.Fatalf("expected %d distinct frames, got %d", writers*perWriter, len(seen))
	}
}

func TestReadLimitEnforced(t *testing.T) {
	ts := newEchoServer(t)
	c := dialTest(t, ts, DialOptions{Options: Options{ReadLimit: 16}})

	big := strings.Repeat("x", 64)
	if err := c.WriteFrame(websocket.TextMessage, []byte(big)); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := c.ReadFrame(ctx); err == nil {
		t.Fatal("expected oversized frame to fail the read")
	}
}

func TestCloseNormalNotifiesRemote(t *testing.T) {
	readErr := make(chan error, 1)
	up := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, err = conn.ReadMessage()
		readErr <- err
	}))
	t.Cleanup(ts.Close)

	c := dialTest(t, ts, DialOptions{})
	if err := c.CloseNormal("bye"); err != nil {
		t.Fatalf("CloseNormal failed: %v", err)
	}
	select {
	case err := <-readErr:
		if !IsNormalClose(err) {
			t.Fatalf("expected a normal close on the remote side, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("remote side never observed the close")
	}
}
