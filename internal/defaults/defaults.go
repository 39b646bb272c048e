// Package defaults centralizes the timing and sizing constants shared by
// the server, the client, and the adapters.
package defaults

import "time"

const (
	// PingInterval is the heartbeat ping cadence.
	PingInterval = 30 * time.Second
	// PingTimeout is how long a peer may go without a pong before it is
	// disconnected with reason "ping timeout".
	PingTimeout = 60 * time.Second

	// ConnectTimeout bounds the client's WebSocket dial.
	ConnectTimeout = 10 * time.Second
	// WriteTimeout bounds a single frame write on an established connection.
	WriteTimeout = 10 * time.Second

	// MaxFrameBytes is the read limit applied to a single inbound frame.
	MaxFrameBytes = 4 << 20

	// UploadInactivityTimeout aborts a chunked upload that receives no
	// frame for this long.
	UploadInactivityTimeout = 30 * time.Second
	// UploadChunkSize is the client's default chunk size for file uploads.
	UploadChunkSize = 64 * 1024

	// MessageCacheSize and MessageCacheTTL bound the serialization cache.
	MessageCacheSize = 1000
	MessageCacheTTL  = 5 * time.Minute

	// QueueMaxSize bounds the outbound message queue; the oldest entry is
	// shed when a new one arrives at capacity.
	QueueMaxSize = 1000
	// QueueBatchSize is how many queued sends drain per worker pass.
	QueueBatchSize = 100
	// QueueProcessInterval is the pause between worker passes.
	QueueProcessInterval = 10 * time.Millisecond

	// AdapterHeartbeat is how often a server renews its registration in a
	// distributed adapter backend.
	AdapterHeartbeat = 30 * time.Second
	// AdapterTTLMultiplier scales the heartbeat into the soft-state TTL,
	// so entries survive missed renewals but stale ones expire.
	AdapterTTLMultiplier = 3
	// AdapterKeyPrefix namespaces adapter keys, channels, and collections.
	AdapterKeyPrefix = "ws"

	// MongoPollInterval is the change-stream fallback polling cadence.
	MongoPollInterval = 500 * time.Millisecond
	// MongoMessageTTL expires relayed messages from the shared collection.
	MongoMessageTTL = 60 * time.Second
	// MongoProcessedIDsMax bounds the poller's duplicate-suppression set.
	MongoProcessedIDsMax = 500
)
