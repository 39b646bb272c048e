package heartbeat

import (
	"sync"
	"testing"
	"time"
)

type fakePeer struct {
	mu       sync.Mutex
	id       string
	pings    int
	onPing   func() // Runs synchronously inside SendPing.
	reason   string
	dropped  chan string
	pingSeen chan struct{}
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{
		id:       id,
		dropped:  make(chan string, 1),
		pingSeen: make(chan struct{}, 16),
	}
}

func (f *fakePeer) ID() string { return f.id }

func (f *fakePeer) SendPing() error {
	f.mu.Lock()
	f.pings++
	hook := f.onPing
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	select {
	case f.pingSeen <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakePeer) Disconnect(reason string) {
	f.mu.Lock()
	already := f.reason != ""
	if !already {
		f.reason = reason
	}
	f.mu.Unlock()
	if !already {
		f.dropped <- reason
	}
}

func (f *fakePeer) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func TestManagerDisconnectsSilentPeer(t *testing.T) {
	peer := newFakePeer("p1")
	m := NewManager(peer, 20*time.Millisecond, 40*time.Millisecond)
	m.Start()
	defer m.Stop()

	select {
	case reason := <-peer.dropped:
		if reason != ReasonPingTimeout {
			t.Fatalf("reason = %q, want %q", reason, ReasonPingTimeout)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("silent peer never disconnected")
	}
	if peer.pingCount() == 0 {
		t.Fatal("disconnect happened before any ping")
	}
}

func TestManagerPongKeepsPeerAlive(t *testing.T) {
	peer := newFakePeer("p1")
	m := NewManager(peer, 15*time.Millisecond, 30*time.Millisecond)
	peer.onPing = m.Pong // Answer every ping instantly.
	m.Start()
	defer m.Stop()

	deadline := time.After(300 * time.Millisecond)
	for i := 0; i < 5; i++ {
		select {
		case <-peer.pingSeen:
		case reason := <-peer.dropped:
			t.Fatalf("ponging peer disconnected: %q", reason)
		case <-deadline:
			t.Fatalf("saw only %d pings in 300ms", i)
		}
	}
	select {
	case reason := <-peer.dropped:
		t.Fatalf("ponging peer disconnected: %q", reason)
	default:
	}
}

func TestManagerStopCancelsPendingTimeout(t *testing.T) {
	peer := newFakePeer("p1")
	m := NewManager(peer, 10*time.Millisecond, 50*time.Millisecond)
	m.Start()

	select {
	case <-peer.pingSeen: // Timeout timer is armed now.
	case <-time.After(2 * time.Second):
		t.Fatal("no ping observed")
	}
	m.Stop()
	m.Stop() // Idempotent.

	select {
	case reason := <-peer.dropped:
		t.Fatalf("disconnect after Stop: %q", reason)
	case <-time.After(120 * time.Millisecond):
	}
}

func TestManagerStopWithoutStart(t *testing.T) {
	m := NewManager(newFakePeer("p1"), time.Second, time.Second)
	m.Stop() // Must not block.
}

func TestBatchDisconnectsSilentPeer(t *testing.T) {
	b := NewBatch(20*time.Millisecond, 40*time.Millisecond)
	silent := newFakePeer("silent")
	chatty := newFakePeer("chatty")
	chatty.onPing = func() { b.Pong("chatty") }
	b.Subscribe(silent)
	b.Subscribe(chatty)
	b.Start()
	defer b.Stop()

	select {
	case reason := <-silent.dropped:
		if reason != ReasonPingTimeout {
			t.Fatalf("reason = %q", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("silent peer never disconnected")
	}
	select {
	case reason := <-chatty.dropped:
		t.Fatalf("chatty peer disconnected: %q", reason)
	default:
	}
	if chatty.pingCount() == 0 {
		t.Fatal("chatty peer never pinged")
	}
}

func TestBatchUnsubscribeStopsPings(t *testing.T) {
	b := NewBatch(10*time.Millisecond, time.Minute)
	peer := newFakePeer("p1")
	b.Subscribe(peer)
	b.Start()
	defer b.Stop()

	select {
	case <-peer.pingSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping observed")
	}
	b.Unsubscribe("p1")
	if got := b.Size(); got != 0 {
		t.Fatalf("size = %d after unsubscribe", got)
	}
	// Drain anything in flight, then expect silence.
	time.Sleep(30 * time.Millisecond)
	for len(peer.pingSeen) > 0 {
		<-peer.pingSeen
	}
	before := peer.pingCount()
	time.Sleep(50 * time.Millisecond)
	if after := peer.pingCount(); after != before {
		t.Fatalf("pings kept flowing after unsubscribe: %d -> %d", before, after)
	}
}

func TestBatchStopIsIdempotentAndQuiesces(t *testing.T) {
	b := NewBatch(10*time.Millisecond, time.Minute)
	peer := newFakePeer("p1")
	b.Subscribe(peer)
	b.Start()

	select {
	case <-peer.pingSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping observed")
	}
	b.Stop()
	b.Stop()

	before := peer.pingCount()
	time.Sleep(50 * time.Millisecond)
	if after := peer.pingCount(); after != before {
		t.Fatalf("pings after Stop: %d -> %d", before, after)
	}
}
