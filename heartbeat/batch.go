package heartbeat

import (
	"sync"
	"time"

	"github.com/shuliangfu/wsmesh/internal/defaults"
)

type batchEntry struct {
	target   Target
	lastPong time.Time
	lastPing time.Time
}

// Batch sweeps every subscribed peer from one shared ticker. Per tick, a
// peer whose last pong is older than the timeout is disconnected; everyone
// else is pinged. One timer regardless of connection count.
type Batch struct {
	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex // Guards peers, started, stopped.
	peers   map[string]*batchEntry
	started bool
	stopped bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	now func() time.Time // Test hook.
}

// NewBatch builds a batch manager. Zero durations take defaults.
func NewBatch(interval, timeout time.Duration) *Batch {
	if interval <= 0 {
		interval = defaults.PingInterval
	}
	if timeout <= 0 {
		timeout = defaults.PingTimeout
	}
	return &Batch{
		interval: interval,
		timeout:  timeout,
		peers:    make(map[string]*batchEntry),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the sweep loop. Starting twice or after Stop is a no-op.
func (b *Batch) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started || b.stopped {
		return
	}
	b.started = true
	go b.run()
}

// Subscribe enrolls a peer, counting it alive as of now.
func (b *Batch) Subscribe(t Target) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.peers[t.ID()] = &batchEntry{target: t, lastPong: b.now()}
}

// Unsubscribe removes a peer. Unknown ids are ignored.
func (b *Batch) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.peers, id)
}

// Pong records a heartbeat answer from the peer.
func (b *Batch) Pong(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.peers[id]; ok {
		e.lastPong = b.now()
	}
}

// Size returns the number of subscribed peers.
func (b *Batch) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.peers)
}

// Stop halts the sweep loop and waits for it to exit. Subscribed peers are
// left connected. Idempotent.
func (b *Batch) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()
		close(b.stop)
	})
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if started {
		<-b.done
	}
}

func (b *Batch) run() {
	defer close(b.done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

// sweep partitions peers into expired and live under the lock, then acts
// outside it: Disconnect re-enters Unsubscribe.
func (b *Batch) sweep() {
	now := b.now()
	var expired, live []Target
	b.mu.Lock()
	for _, e := range b.peers {
		if now.Sub(e.lastPong) > b.timeout {
			expired = append(expired, e.target)
		} else {
			e.lastPing = now
			live = append(live, e.target)
		}
	}
	b.mu.Unlock()

	for _, t := range expired {
		t.Disconnect(ReasonPingTimeout)
	}
	for _, t := range live {
		if err := t.SendPing(); err != nil {
			log.WithError(err).WithField("peer", t.ID()).Debug("batch ping send failed")
		}
	}
}
