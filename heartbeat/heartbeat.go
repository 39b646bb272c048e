// Package heartbeat provides the two keepalive strategies: a per-peer
// Manager that owns a ping ticker and timeout timer for one connection,
// and a Batch manager that sweeps every subscribed peer from a single
// ticker. Both disconnect a silent peer with reason "ping timeout".
package heartbeat

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shuliangfu/wsmesh/internal/defaults"
)

var log = logrus.WithField("prefix", "heartbeat")

// ReasonPingTimeout is the disconnect reason for a missed heartbeat.
const ReasonPingTimeout = "ping timeout"

// Target is the per-peer surface the managers drive.
type Target interface {
	ID() string
	SendPing() error
	Disconnect(reason string)
}

// Manager drives the heartbeat of a single peer: a ping every interval,
// and a timeout timer armed with the ping that Pong disarms. At most one
// timeout timer is pending at a time, so overlapping ping windows cannot
// fire a stale disconnect after the peer answered.
type Manager struct {
	target   Target
	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex // Guards timer, started, and stopped.
	timer   *time.Timer
	started bool
	stopped bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewManager builds a manager for one peer. Zero durations take defaults.
func NewManager(target Target, interval, timeout time.Duration) *Manager {
	if interval <= 0 {
		interval = defaults.PingInterval
	}
	if timeout <= 0 {
		timeout = defaults.PingTimeout
	}
	return &Manager{
		target:   target,
		interval: interval,
		timeout:  timeout,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the ping loop. Starting twice or after Stop is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped {
		return
	}
	m.started = true
	go m.run()
}

func (m *Manager) run() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			// Arm before sending so a same-instant pong can always
			// cancel the timer it belongs to.
			m.armTimeout()
			if err := m.target.SendPing(); err != nil {
				log.WithError(err).WithField("peer", m.target.ID()).Debug("ping send failed")
			}
		}
	}
}

func (m *Manager) armTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.timer != nil {
		return
	}
	m.timer = time.AfterFunc(m.timeout, m.onTimeout)
}

func (m *Manager) onTimeout() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()
	m.target.Disconnect(ReasonPingTimeout)
}

// Pong records a heartbeat answer, disarming the pending timeout.
func (m *Manager) Pong() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Stop cancels the ping loop and any pending timeout, then waits for the
// loop to exit. Idempotent; safe to call from a Disconnect triggered by
// this manager.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		if m.timer != nil {
			m.timer.Stop()
			m.timer = nil
		}
		m.mu.Unlock()
		close(m.stop)
	})
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		<-m.done
	}
}
