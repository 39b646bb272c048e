package server

import (
	"strings"
	"time"

	"github.com/shuliangfu/wsmesh/adapter"
	"github.com/shuliangfu/wsmesh/crypto/msgcrypt"
	"github.com/shuliangfu/wsmesh/internal/defaults"
	"github.com/shuliangfu/wsmesh/observability"
)

// CacheConfig tunes the serialized-frame cache used by fan-out.
type CacheConfig struct {
	Disabled bool          // Turns frame memoization off entirely.
	MaxSize  int           // Max cached frames; 0 uses the default.
	TTL      time.Duration // Frame lifetime; 0 uses the default.
}

// QueueConfig tunes the bounded broadcast queue. It only takes effect when
// Config.UseMessageQueue is set.
type QueueConfig struct {
	Disabled        bool          // Turns the queue off even when UseMessageQueue is set.
	MaxSize         int           // Buffer bound; the oldest entry is shed at capacity.
	BatchSize       int           // Sends drained per worker pass.
	ProcessInterval time.Duration // Pause between worker passes.
}

type Config struct {
	Host string // Bind host. Empty binds all interfaces.
	Port int    // TCP port. 0 asks the OS for a free port; see Server.Port.
	Path string // Base WebSocket path served by the default namespace.

	PingInterval time.Duration // Cadence of server heartbeat pings.
	PingTimeout  time.Duration // Missing-pong budget before a peer is dropped.

	WriteTimeout  time.Duration // Per-frame websocket write deadline (0 disables).
	MaxFrameBytes int64         // Max inbound frame size in bytes.

	MaxConnections int // Concurrent peer limit; 0 means unlimited.

	AllowedOrigins []string // Origin allow-list. Empty allows every origin.
	AllowNoOrigin  bool     // Whether requests without Origin pass a non-empty allow-list.

	Encryption   msgcrypt.Config // Shared-key payload encryption. Nil key disables.
	MessageCache CacheConfig     // Fan-out frame memoization.
	MessageQueue QueueConfig     // Broadcast back-pressure queue.

	UseBatchHeartbeat bool // One shared heartbeat sweep instead of per-peer timers.
	UseMessageQueue   bool // Route whole-server broadcasts through the queue.

	Adapter  adapter.Adapter              // Cross-server relay backend; nil uses the in-process memory adapter.
	Observer observability.ServerObserver // Optional metrics observer.
}

// DefaultConfig returns a standalone single-server configuration: all
// interfaces, OS-assigned port, root path, no encryption, memory adapter.
func DefaultConfig() Config {
	return Config{
		Path:          "/",
		PingInterval:  defaults.PingInterval,
		PingTimeout:   defaults.PingTimeout,
		WriteTimeout:  defaults.WriteTimeout,
		MaxFrameBytes: defaults.MaxFrameBytes,
		AllowNoOrigin: true,
		MessageCache: CacheConfig{
			MaxSize: defaults.MessageCacheSize,
			TTL:     defaults.MessageCacheTTL,
		},
		MessageQueue: QueueConfig{
			MaxSize:         defaults.QueueMaxSize,
			BatchSize:       defaults.QueueBatchSize,
			ProcessInterval: defaults.QueueProcessInterval,
		},
		Observer: observability.NoopServerObserver,
	}
}

// normalizePath forces a leading slash and strips a trailing one, keeping
// "/" itself intact.
func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if p != "/" {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

func (cfg *Config) fillDefaults() {
	cfg.Path = normalizePath(cfg.Path)
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaults.PingTimeout
	}
	if cfg.WriteTimeout < 0 {
		cfg.WriteTimeout = 0
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = defaults.MaxFrameBytes
	}
	if cfg.MaxConnections < 0 {
		cfg.MaxConnections = 0
	}
	if cfg.MessageCache.MaxSize <= 0 {
		cfg.MessageCache.MaxSize = defaults.MessageCacheSize
	}
	if cfg.MessageCache.TTL <= 0 {
		cfg.MessageCache.TTL = defaults.MessageCacheTTL
	}
	if cfg.MessageQueue.MaxSize <= 0 {
		cfg.MessageQueue.MaxSize = defaults.QueueMaxSize
	}
	if cfg.MessageQueue.BatchSize <= 0 {
		cfg.MessageQueue.BatchSize = defaults.QueueBatchSize
	}
	if cfg.MessageQueue.ProcessInterval <= 0 {
		cfg.MessageQueue.ProcessInterval = defaults.QueueProcessInterval
	}
	if cfg.Observer == nil {
		cfg.Observer = observability.NoopServerObserver
	}
}
