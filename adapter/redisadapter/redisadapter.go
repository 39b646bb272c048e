// Package redisadapter implements the distributed adapter on Redis.
// Membership and the server registry are TTL'd keys refreshed by a
// heartbeat; relay rides pub/sub. Two clients are held: one for keyspace
// operations and publishing, one whose connections sit in subscribe mode,
// since a subscribed Redis connection cannot issue other commands.
package redisadapter

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/shuliangfu/wsmesh/adapter"
	"github.com/shuliangfu/wsmesh/internal/defaults"
)

var log = logrus.WithField("prefix", "redisadapter")

// relayEnvelope is the published payload. ServerID lets receivers drop
// their own messages.
type relayEnvelope struct {
	ServerID string               `json:"serverId"`
	Message  adapter.RelayMessage `json:"message"`
}

// Config connects and namespaces the adapter.
type Config struct {
	Addr      string        // host:port of the Redis server.
	Password  string        // Optional AUTH password.
	DB        int           // Logical database index.
	KeyPrefix string        // Key/channel namespace; default "ws".
	Heartbeat time.Duration // Registration renewal cadence; default 30s.
}

// Redis implements adapter.Adapter. Construct with New, then Init.
type Redis struct {
	cfg Config

	mu       sync.RWMutex // Guards everything below.
	serverID string
	kv       *redis.Client // Keyspace ops and publishes.
	sub      *redis.Client // Dedicated subscriber connections.
	handler  adapter.Handler
	closed   bool

	// Rooms this server's peers joined, so the heartbeat can refresh
	// their TTLs: room -> peer set.
	local map[string]map[string]struct{}

	watchBroadcast *redis.PubSub
	watchRooms     *redis.PubSub
	watchDone      chan struct{}

	hbStop chan struct{}
	hbDone chan struct{}
}

// New builds an unconnected adapter; Init dials.
func New(cfg Config) *Redis {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaults.AdapterKeyPrefix
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaults.AdapterHeartbeat
	}
	return &Redis{cfg: cfg, local: make(map[string]map[string]struct{})}
}

func (r *Redis) ttl() time.Duration {
	return time.Duration(defaults.AdapterTTLMultiplier) * r.cfg.Heartbeat
}

func (r *Redis) Init(ctx context.Context, serverID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return adapter.ErrClosed
	}
	r.serverID = serverID
	opts := func() *redis.Options {
		return &redis.Options{Addr: r.cfg.Addr, Password: r.cfg.Password, DB: r.cfg.DB}
	}
	r.kv = redis.NewClient(opts())
	r.sub = redis.NewClient(opts())
	if err := r.kv.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "redis ping")
	}
	return nil
}

// ops snapshots the fields an operation needs, or fails if unusable.
func (r *Redis) ops() (*redis.Client, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, "", adapter.ErrClosed
	}
	if r.kv == nil {
		return nil, "", errors.New("adapter not initialized")
	}
	return r.kv, r.cfg.KeyPrefix, nil
}

func (r *Redis) AddPeerToRoom(ctx context.Context, room, peerID string) error {
	kv, prefix, err := r.ops()
	if err != nil {
		return err
	}
	r.mu.RLock()
	self := r.serverID
	r.mu.RUnlock()
	if err := kv.Set(ctx, roomKey(prefix, room, peerID), self, r.ttl()).Err(); err != nil {
		return errors.Wrap(err, "set room membership")
	}
	list, err := r.readPeerRooms(ctx, kv, prefix, peerID)
	if err != nil {
		return err
	}
	found := false
	for _, existing := range list {
		if existing == room {
			found = true
			break
		}
	}
	if !found {
		list = append(list, room)
	}
	if err := r.writePeerRooms(ctx, kv, prefix, peerID, list); err != nil {
		return err
	}
	r.mu.Lock()
	peers, ok := r.local[room]
	if !ok {
		peers = make(map[string]struct{})
		r.local[room] = peers
	}
	peers[peerID] = struct{}{}
	r.mu.Unlock()
	return nil
}

func (r *Redis) RemovePeerFromRoom(ctx context.Context, room, peerID string) error {
	kv, prefix, err := r.ops()
	if err != nil {
		return err
	}
	if err := kv.Del(ctx, roomKey(prefix, room, peerID)).Err(); err != nil {
		return errors.Wrap(err, "del room membership")
	}
	list, err := r.readPeerRooms(ctx, kv, prefix, peerID)
	if err != nil {
		return err
	}
	kept := list[:0]
	for _, existing := range list {
		if existing != room {
			kept = append(kept, existing)
		}
	}
	if err := r.writePeerRooms(ctx, kv, prefix, peerID, kept); err != nil {
		return err
	}
	r.forgetLocal(room, peerID)
	return nil
}

func (r *Redis) RemovePeerFromAllRooms(ctx context.Context, peerID string) error {
	kv, prefix, err := r.ops()
	if err != nil {
		return err
	}
	list, err := r.readPeerRooms(ctx, kv, prefix, peerID)
	if err != nil {
		return err
	}
	for _, room := range list {
		if err := kv.Del(ctx, roomKey(prefix, room, peerID)).Err(); err != nil {
			return errors.Wrap(err, "del room membership")
		}
		r.forgetLocal(room, peerID)
	}
	if err := kv.Del(ctx, peerRoomsKey(prefix, peerID)).Err(); err != nil {
		return errors.Wrap(err, "del peer rooms")
	}
	return nil
}

func (r *Redis) PeersInRoom(ctx context.Context, room string) ([]string, error) {
	kv, prefix, err := r.ops()
	if err != nil {
		return nil, err
	}
	keys, err := kv.Keys(ctx, roomPattern(prefix, room)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "scan room members")
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, peerFromRoomKey(prefix, room, k))
	}
	return out, nil
}

func (r *Redis) RoomsForPeer(ctx context.Context, peerID string) ([]string, error) {
	kv, prefix, err := r.ops()
	if err != nil {
		return nil, err
	}
	return r.readPeerRooms(ctx, kv, prefix, peerID)
}

func (r *Redis) readPeerRooms(ctx context.Context, kv *redis.Client, prefix, peerID string) ([]string, error) {
	raw, err := kv.Get(ctx, peerRoomsKey(prefix, peerID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get peer rooms")
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, errors.Wrap(err, "decode peer rooms")
	}
	return list, nil
}

func (r *Redis) writePeerRooms(ctx context.Context, kv *redis.Client, prefix, peerID string, list []string) error {
	key := peerRoomsKey(prefix, peerID)
	if len(list) == 0 {
		if err := kv.Del(ctx, key).Err(); err != nil {
			return errors.Wrap(err, "del peer rooms")
		}
		return nil
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	if err := kv.Set(ctx, key, raw, r.ttl()).Err(); err != nil {
		return errors.Wrap(err, "set peer rooms")
	}
	return nil
}

func (r *Redis) forgetLocal(room, peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if peers, ok := r.local[room]; ok {
		delete(peers, peerID)
		if len(peers) == 0 {
			delete(r.local, room)
		}
	}
}

func (r *Redis) Broadcast(ctx context.Context, msg adapter.RelayMessage) error {
	kv, prefix, err := r.ops()
	if err != nil {
		return err
	}
	payload, err := r.sealEnvelope(msg)
	if err != nil {
		return err
	}
	if err := kv.Publish(ctx, broadcastChannel(prefix), payload).Err(); err != nil {
		return errors.Wrap(err, "publish broadcast")
	}
	return nil
}

func (r *Redis) BroadcastToRoom(ctx context.Context, room string, msg adapter.RelayMessage) error {
	kv, prefix, err := r.ops()
	if err != nil {
		return err
	}
	msg.Room = room
	payload, err := r.sealEnvelope(msg)
	if err != nil {
		return err
	}
	if err := kv.Publish(ctx, roomChannel(prefix, room), payload).Err(); err != nil {
		return errors.Wrap(err, "publish room broadcast")
	}
	return nil
}

func (r *Redis) sealEnvelope(msg adapter.RelayMessage) ([]byte, error) {
	r.mu.RLock()
	self := r.serverID
	r.mu.RUnlock()
	payload, err := json.Marshal(relayEnvelope{ServerID: self, Message: msg})
	if err != nil {
		return nil, errors.Wrap(err, "encode relay envelope")
	}
	return payload, nil
}

// Subscribe installs h. The first call opens the broadcast subscription
// and the room pattern subscription and starts the consumer; later calls
// only swap the handler.
func (r *Redis) Subscribe(ctx context.Context, h adapter.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return adapter.ErrClosed
	}
	if r.sub == nil {
		return errors.New("adapter not initialized")
	}
	r.handler = h
	if r.watchDone != nil {
		return nil
	}
	prefix := r.cfg.KeyPrefix
	r.watchBroadcast = r.sub.Subscribe(ctx, broadcastChannel(prefix))
	r.watchRooms = r.sub.PSubscribe(ctx, roomChannelPattern(prefix))
	r.watchDone = make(chan struct{})
	go r.consume(r.watchBroadcast.Channel(), r.watchRooms.Channel(), r.watchDone)
	return nil
}

func (r *Redis) Unsubscribe(context.Context) error {
	r.mu.Lock()
	broadcast, roomsSub, done := r.watchBroadcast, r.watchRooms, r.watchDone
	r.watchBroadcast, r.watchRooms, r.watchDone = nil, nil, nil
	r.handler = nil
	r.mu.Unlock()

	if broadcast != nil {
		_ = broadcast.Close()
	}
	if roomsSub != nil {
		_ = roomsSub.Close()
	}
	if done != nil {
		<-done
	}
	return nil
}

// consume drains both subscriptions until they close.
func (r *Redis) consume(broadcasts, roomMsgs <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for broadcasts != nil || roomMsgs != nil {
		var m *redis.Message
		var ok bool
		select {
		case m, ok = <-broadcasts:
			if !ok {
				broadcasts = nil
				continue
			}
		case m, ok = <-roomMsgs:
			if !ok {
				roomMsgs = nil
				continue
			}
		}
		r.dispatch(m)
	}
}

func (r *Redis) dispatch(m *redis.Message) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
		log.WithError(err).WithField("channel", m.Channel).Warn("dropping undecodable relay payload")
		return
	}
	r.mu.RLock()
	self := r.serverID
	h := r.handler
	prefix := r.cfg.KeyPrefix
	r.mu.RUnlock()
	if h == nil || env.ServerID == self {
		return
	}
	msg := env.Message
	if msg.Room == "" && m.Pattern != "" {
		msg.Room = roomFromChannel(prefix, m.Channel)
	}
	h(msg)
}

// RegisterServer writes the registry key and starts the heartbeat that
// renews it, plus the TTLs of everything this server's peers joined.
func (r *Redis) RegisterServer(ctx context.Context) error {
	kv, prefix, err := r.ops()
	if err != nil {
		return err
	}
	r.mu.RLock()
	self := r.serverID
	r.mu.RUnlock()
	if err := kv.Set(ctx, serverKey(prefix, self), time.Now().Unix(), r.ttl()).Err(); err != nil {
		return errors.Wrap(err, "register server")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hbStop != nil {
		return nil
	}
	r.hbStop = make(chan struct{})
	r.hbDone = make(chan struct{})
	go r.heartbeat(r.hbStop, r.hbDone)
	return nil
}

func (r *Redis) UnregisterServer(ctx context.Context) error {
	r.mu.Lock()
	stop, done := r.hbStop, r.hbDone
	r.hbStop, r.hbDone = nil, nil
	r.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
	kv, prefix, err := r.ops()
	if err != nil {
		return err
	}
	r.mu.RLock()
	self := r.serverID
	r.mu.RUnlock()
	if err := kv.Del(ctx, serverKey(prefix, self)).Err(); err != nil {
		return errors.Wrap(err, "unregister server")
	}
	return nil
}

func (r *Redis) heartbeat(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.renew()
		}
	}
}

// renew refreshes the server key and the membership keys owned by this
// server so soft state outlives missed beats but not dead servers.
func (r *Redis) renew() {
	kv, prefix, err := r.ops()
	if err != nil {
		return
	}
	r.mu.RLock()
	self := r.serverID
	type pair struct{ room, peer string }
	var pairs []pair
	peersSeen := make(map[string]struct{})
	for room, peers := range r.local {
		for peer := range peers {
			pairs = append(pairs, pair{room, peer})
			peersSeen[peer] = struct{}{}
		}
	}
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Heartbeat)
	defer cancel()
	ttl := r.ttl()
	if err := kv.Set(ctx, serverKey(prefix, self), time.Now().Unix(), ttl).Err(); err != nil {
		log.WithError(err).Warn("server heartbeat renewal failed")
	}
	for _, p := range pairs {
		if err := kv.Expire(ctx, roomKey(prefix, p.room, p.peer), ttl).Err(); err != nil {
			log.WithError(err).WithField("room", p.room).Debug("membership TTL renewal failed")
		}
	}
	for peer := range peersSeen {
		_ = kv.Expire(ctx, peerRoomsKey(prefix, peer), ttl).Err()
	}
}

func (r *Redis) ServerIDs(ctx context.Context) ([]string, error) {
	kv, prefix, err := r.ops()
	if err != nil {
		return nil, err
	}
	keys, err := kv.Keys(ctx, serversPattern(prefix)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "scan servers")
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, serverFromKey(prefix, k))
	}
	return out, nil
}

func (r *Redis) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	_ = r.Unsubscribe(ctx)
	_ = r.UnregisterServer(ctx)

	r.mu.Lock()
	r.closed = true
	kv, sub := r.kv, r.sub
	r.kv, r.sub = nil, nil
	r.mu.Unlock()

	if kv != nil {
		_ = kv.Close()
	}
	if sub != nil {
		_ = sub.Close()
	}
	return nil
}
