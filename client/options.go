package client

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shuliangfu/wsmesh/crypto/msgcrypt"
	"github.com/shuliangfu/wsmesh/internal/defaults"
)

// Option configures dialing, encryption, and reconnection for Connect.
//
// Omit an option to use the library default. For timeouts, a value of 0
// disables the timeout.
type Option func(*connectOptions) error

type connectOptions struct {
	header http.Header
	dialer *websocket.Dialer

	connectTimeout time.Duration
	writeTimeout   time.Duration
	maxFrameBytes  int64

	encryption msgcrypt.Config
	cipher     *msgcrypt.Cipher // Built by applyOptions.

	reconnect ReconnectPolicy

	queueSize   int // Bound on frames buffered while CONNECTING.
	pingHandler func()
}

func defaultConnectOptions() connectOptions {
	return connectOptions{
		connectTimeout: defaults.ConnectTimeout,
		writeTimeout:   defaults.WriteTimeout,
		maxFrameBytes:  defaults.MaxFrameBytes,
		queueSize:      defaultQueueSize,
	}
}

// defaultQueueSize bounds the while-connecting send buffer.
const defaultQueueSize = 128

func applyOptions(opts []Option) (connectOptions, error) {
	cfg := defaultConnectOptions()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return connectOptions{}, err
		}
	}
	cipher, err := msgcrypt.New(cfg.encryption)
	if err != nil {
		return connectOptions{}, err
	}
	cfg.cipher = cipher
	return cfg, nil
}

// WithHeader adds extra HTTP headers for the WebSocket handshake.
func WithHeader(h http.Header) Option {
	return func(cfg *connectOptions) error {
		cfg.header = h
		return nil
	}
}

// WithDialer sets a custom gorilla/websocket dialer (proxy/TLS/etc).
func WithDialer(d *websocket.Dialer) Option {
	return func(cfg *connectOptions) error {
		cfg.dialer = d
		return nil
	}
}

// WithConnectTimeout sets the WebSocket connect timeout; 0 disables it.
func WithConnectTimeout(d time.Duration) Option {
	return func(cfg *connectOptions) error {
		if d < 0 {
			return fmt.Errorf("connect timeout must be >= 0")
		}
		cfg.connectTimeout = d
		return nil
	}
}

// WithWriteTimeout sets the per-frame write deadline; 0 disables it.
func WithWriteTimeout(d time.Duration) Option {
	return func(cfg *connectOptions) error {
		if d < 0 {
			return fmt.Errorf("write timeout must be >= 0")
		}
		cfg.writeTimeout = d
		return nil
	}
}

// WithMaxFrameBytes sets the maximum inbound frame size.
func WithMaxFrameBytes(n int64) Option {
	return func(cfg *connectOptions) error {
		if n <= 0 {
			return fmt.Errorf("max frame bytes must be > 0")
		}
		cfg.maxFrameBytes = n
		return nil
	}
}

// WithEncryptionKey enables transparent payload encryption with a 16- or
// 32-byte shared key. The algorithm is inferred from the key length unless
// WithAlgorithm is also given. The key must match the server's.
func WithEncryptionKey(key []byte) Option {
	return func(cfg *connectOptions) error {
		cfg.encryption.Key = key
		return nil
	}
}

// WithAlgorithm pins the encryption algorithm instead of inferring it from
// the key length.
func WithAlgorithm(alg msgcrypt.Algorithm) Option {
	return func(cfg *connectOptions) error {
		cfg.encryption.Algorithm = alg
		return nil
	}
}

// WithEncryption replaces the whole encryption configuration, including
// cache tuning.
func WithEncryption(enc msgcrypt.Config) Option {
	return func(cfg *connectOptions) error {
		cfg.encryption = enc
		return nil
	}
}

// WithReconnect enables automatic reconnection after a lost connection.
func WithReconnect(p ReconnectPolicy) Option {
	return func(cfg *connectOptions) error {
		if err := p.validate(); err != nil {
			return err
		}
		p.Enabled = true
		cfg.reconnect = p
		return nil
	}
}

// WithQueueSize bounds the frames buffered while the client is connecting
// or reconnecting; the oldest frame is shed at capacity.
func WithQueueSize(n int) Option {
	return func(cfg *connectOptions) error {
		if n <= 0 {
			return fmt.Errorf("queue size must be > 0")
		}
		cfg.queueSize = n
		return nil
	}
}

// WithPingHandler registers a hook invoked after each server heartbeat ping
// (the pong reply is always sent automatically).
func WithPingHandler(fn func()) Option {
	return func(cfg *connectOptions) error {
		cfg.pingHandler = fn
		return nil
	}
}
