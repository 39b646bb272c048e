// Package mongoadapter implements the distributed adapter on MongoDB.
// Membership and the server registry are collections; relay inserts into a
// shared message collection consumed via change streams, degrading to
// polling when change streams are unavailable (standalone servers).
package mongoadapter

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shuliangfu/wsmesh/adapter"
	"github.com/shuliangfu/wsmesh/internal/defaults"
)

var log = logrus.WithField("prefix", "mongoadapter")

// sharedMessages is deliberately unprefixed: server groups with different
// collection prefixes still relay through one message bus.
const sharedMessages = "ws_messages"

func roomsCollection(prefix string) string   { return prefix + "_rooms" }
func serversCollection(prefix string) string { return prefix + "_servers" }

// Config connects and namespaces the adapter.
type Config struct {
	URI              string        // mongodb:// connection string.
	Database         string        // Database name; default "wsmesh".
	CollectionPrefix string        // Prefix for rooms/servers; default "ws".
	Heartbeat        time.Duration // Registration renewal cadence; default 30s.
}

// Mongo implements adapter.Adapter. Construct with New, then Init.
type Mongo struct {
	cfg Config

	mu       sync.RWMutex // Guards everything below.
	serverID string
	client   *mongo.Client
	rooms    *mongo.Collection
	servers  *mongo.Collection
	messages *mongo.Collection
	handler  adapter.Handler
	closed   bool

	watchCancel context.CancelFunc
	watchDone   chan struct{}

	hbStop chan struct{}
	hbDone chan struct{}
}

// New builds an unconnected adapter; Init dials.
func New(cfg Config) *Mongo {
	if cfg.Database == "" {
		cfg.Database = "wsmesh"
	}
	if cfg.CollectionPrefix == "" {
		cfg.CollectionPrefix = defaults.AdapterKeyPrefix
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaults.AdapterHeartbeat
	}
	return &Mongo{cfg: cfg}
}

// messageDoc is the relay unit at rest. Data is kept as JSON text so the
// payload round-trips byte-exact through BSON.
type messageDoc struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	ServerID     string             `bson:"serverId"`
	Event        string             `bson:"event"`
	Data         string             `bson:"data,omitempty"`
	Room         string             `bson:"room,omitempty"`
	ExceptPeerID string             `bson:"exceptPeerId,omitempty"`
	CreatedAt    time.Time          `bson:"createdAt"`
}

func docFromRelay(serverID string, msg adapter.RelayMessage, now time.Time) messageDoc {
	return messageDoc{
		ServerID:     serverID,
		Event:        msg.Event,
		Data:         string(msg.Data),
		Room:         msg.Room,
		ExceptPeerID: msg.ExceptPeerID,
		CreatedAt:    now.UTC(),
	}
}

func (d messageDoc) relay() adapter.RelayMessage {
	msg := adapter.RelayMessage{
		Event:        d.Event,
		Room:         d.Room,
		ExceptPeerID: d.ExceptPeerID,
	}
	if d.Data != "" {
		msg.Data = []byte(d.Data)
	}
	return msg
}

func (m *Mongo) Init(ctx context.Context, serverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return adapter.ErrClosed
	}
	m.serverID = serverID
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(m.cfg.URI))
	if err != nil {
		return errors.Wrap(err, "mongo connect")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return errors.Wrap(err, "mongo ping")
	}
	db := client.Database(m.cfg.Database)
	m.client = client
	m.rooms = db.Collection(roomsCollection(m.cfg.CollectionPrefix))
	m.servers = db.Collection(serversCollection(m.cfg.CollectionPrefix))
	m.messages = db.Collection(sharedMessages)

	if err := m.ensureIndexes(ctx); err != nil {
		return err
	}
	return nil
}

// ensureIndexes creates the TTL indexes that expire relayed messages and
// dead server registrations.
func (m *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := m.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "createdAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(defaults.MongoMessageTTL / time.Second)),
	})
	if err != nil {
		return errors.Wrap(err, "create message TTL index")
	}
	ttl := int32(defaults.AdapterTTLMultiplier * m.cfg.Heartbeat / time.Second)
	_, err = m.servers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "lastHeartbeat", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(ttl),
	})
	if err != nil {
		return errors.Wrap(err, "create server TTL index")
	}
	_, err = m.rooms.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "room", Value: 1}, {Key: "peerId", Value: 1}},
	})
	if err != nil {
		return errors.Wrap(err, "create room index")
	}
	return nil
}

// state snapshots the fields an operation needs, or fails if unusable.
func (m *Mongo) state() (string, *mongo.Collection, *mongo.Collection, *mongo.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", nil, nil, nil, adapter.ErrClosed
	}
	if m.client == nil {
		return "", nil, nil, nil, errors.New("adapter not initialized")
	}
	return m.serverID, m.rooms, m.servers, m.messages, nil
}

func (m *Mongo) AddPeerToRoom(ctx context.Context, room, peerID string) error {
	self, roomsColl, _, _, err := m.state()
	if err != nil {
		return err
	}
	_, err = roomsColl.UpdateOne(ctx,
		bson.M{"room": room, "peerId": peerID},
		bson.M{"$set": bson.M{"serverId": self, "updatedAt": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	return errors.Wrap(err, "upsert room membership")
}

func (m *Mongo) RemovePeerFromRoom(ctx context.Context, room, peerID string) error {
	_, roomsColl, _, _, err := m.state()
	if err != nil {
		return err
	}
	_, err = roomsColl.DeleteOne(ctx, bson.M{"room": room, "peerId": peerID})
	return errors.Wrap(err, "delete room membership")
}

func (m *Mongo) RemovePeerFromAllRooms(ctx context.Context, peerID string) error {
	_, roomsColl, _, _, err := m.state()
	if err != nil {
		return err
	}
	_, err = roomsColl.DeleteMany(ctx, bson.M{"peerId": peerID})
	return errors.Wrap(err, "delete peer memberships")
}

func (m *Mongo) PeersInRoom(ctx context.Context, room string) ([]string, error) {
	_, roomsColl, _, _, err := m.state()
	if err != nil {
		return nil, err
	}
	return distinctStrings(ctx, roomsColl, "peerId", bson.M{"room": room})
}

func (m *Mongo) RoomsForPeer(ctx context.Context, peerID string) ([]string, error) {
	_, roomsColl, _, _, err := m.state()
	if err != nil {
		return nil, err
	}
	return distinctStrings(ctx, roomsColl, "room", bson.M{"peerId": peerID})
}

func distinctStrings(ctx context.Context, coll *mongo.Collection, field string, filter bson.M) ([]string, error) {
	values, err := coll.Distinct(ctx, field, filter)
	if err != nil {
		return nil, errors.Wrapf(err, "distinct %s", field)
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Mongo) Broadcast(ctx context.Context, msg adapter.RelayMessage) error {
	self, _, _, messages, err := m.state()
	if err != nil {
		return err
	}
	_, err = messages.InsertOne(ctx, docFromRelay(self, msg, time.Now()))
	return errors.Wrap(err, "insert broadcast")
}

func (m *Mongo) BroadcastToRoom(ctx context.Context, room string, msg adapter.RelayMessage) error {
	msg.Room = room
	return m.Broadcast(ctx, msg)
}

// Subscribe installs h. The first call starts the change-stream watcher
// (or its polling fallback); later calls only swap the handler.
func (m *Mongo) Subscribe(_ context.Context, h adapter.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return adapter.ErrClosed
	}
	if m.client == nil {
		return errors.New("adapter not initialized")
	}
	m.handler = h
	if m.watchDone != nil {
		return nil
	}
	// The watcher outlives the Subscribe call; it stops on Unsubscribe.
	watchCtx, cancel := context.WithCancel(context.Background())
	m.watchCancel = cancel
	m.watchDone = make(chan struct{})
	go m.watch(watchCtx, m.watchDone)
	return nil
}

func (m *Mongo) Unsubscribe(context.Context) error {
	m.mu.Lock()
	cancel, done := m.watchCancel, m.watchDone
	m.watchCancel, m.watchDone = nil, nil
	m.handler = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// watch consumes inserts through a change stream, falling back to polling
// when change streams are unsupported or break mid-run.
func (m *Mongo) watch(ctx context.Context, done chan struct{}) {
	defer close(done)
	self, _, _, messages, err := m.state()
	if err != nil {
		return
	}
	pipeline := mongo.Pipeline{bson.D{{Key: "$match", Value: bson.D{
		{Key: "operationType", Value: "insert"},
		{Key: "fullDocument.serverId", Value: bson.D{{Key: "$ne", Value: self}}},
	}}}}
	cs, err := messages.Watch(ctx, pipeline)
	if err != nil {
		log.WithError(err).Info("change streams unavailable; polling instead")
		m.poll(ctx, messages, self)
		return
	}
	defer cs.Close(context.Background())
	for cs.Next(ctx) {
		var ev struct {
			FullDocument messageDoc `bson:"fullDocument"`
		}
		if err := cs.Decode(&ev); err != nil {
			log.WithError(err).Warn("dropping undecodable change event")
			continue
		}
		m.deliver(ev.FullDocument)
	}
	if ctx.Err() == nil {
		log.WithError(cs.Err()).Warn("change stream ended; polling instead")
		m.poll(ctx, messages, self)
	}
}

// poll scans the message collection on a fixed cadence. The watermark lags
// one second behind the last pass so clock skew between writers cannot
// hide a document; the processed set absorbs the overlap.
func (m *Mongo) poll(ctx context.Context, messages *mongo.Collection, self string) {
	seen := newProcessedSet(defaults.MongoProcessedIDsMax)
	watermark := time.Now().Add(-2 * time.Second)
	ticker := time.NewTicker(defaults.MongoPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		passStart := time.Now()
		cur, err := messages.Find(ctx,
			bson.M{
				"createdAt": bson.M{"$gt": watermark},
				"serverId":  bson.M{"$ne": self},
			},
			options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}),
		)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Debug("message poll failed")
			continue
		}
		for cur.Next(ctx) {
			var doc messageDoc
			if err := cur.Decode(&doc); err != nil {
				continue
			}
			if !doc.ID.IsZero() && !seen.add(doc.ID.Hex()) {
				continue
			}
			m.deliver(doc)
		}
		_ = cur.Close(ctx)
		watermark = passStart.Add(-time.Second)
	}
}

func (m *Mongo) deliver(doc messageDoc) {
	m.mu.RLock()
	h := m.handler
	self := m.serverID
	m.mu.RUnlock()
	if h == nil || doc.ServerID == self {
		return
	}
	h(doc.relay())
}

// RegisterServer upserts the registry document and starts the heartbeat
// that keeps it ahead of the TTL index.
func (m *Mongo) RegisterServer(ctx context.Context) error {
	self, _, servers, _, err := m.state()
	if err != nil {
		return err
	}
	if err := m.touchServer(ctx, servers, self); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hbStop != nil {
		return nil
	}
	m.hbStop = make(chan struct{})
	m.hbDone = make(chan struct{})
	go m.heartbeat(servers, self, m.hbStop, m.hbDone)
	return nil
}

func (m *Mongo) touchServer(ctx context.Context, servers *mongo.Collection, self string) error {
	_, err := servers.UpdateOne(ctx,
		bson.M{"_id": self},
		bson.M{"$set": bson.M{"lastHeartbeat": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	return errors.Wrap(err, "touch server registration")
}

func (m *Mongo) heartbeat(servers *mongo.Collection, self string, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Heartbeat)
			if err := m.touchServer(ctx, servers, self); err != nil {
				log.WithError(err).Warn("server heartbeat renewal failed")
			}
			cancel()
		}
	}
}

func (m *Mongo) UnregisterServer(ctx context.Context) error {
	m.mu.Lock()
	stop, done := m.hbStop, m.hbDone
	m.hbStop, m.hbDone = nil, nil
	m.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
	self, _, servers, _, err := m.state()
	if err != nil {
		return err
	}
	_, err = servers.DeleteOne(ctx, bson.M{"_id": self})
	return errors.Wrap(err, "delete server registration")
}

func (m *Mongo) ServerIDs(ctx context.Context) ([]string, error) {
	_, _, servers, _, err := m.state()
	if err != nil {
		return nil, err
	}
	return distinctStrings(ctx, servers, "_id", bson.M{})
}

func (m *Mongo) Close(ctx context.Context) error {
	m.mu.RLock()
	alreadyClosed := m.closed
	m.mu.RUnlock()
	if alreadyClosed {
		return nil
	}

	_ = m.Unsubscribe(ctx)
	_ = m.UnregisterServer(ctx)

	m.mu.Lock()
	m.closed = true
	client := m.client
	m.client = nil
	m.mu.Unlock()

	if client != nil {
		return errors.Wrap(client.Disconnect(ctx), "mongo disconnect")
	}
	return nil
}
