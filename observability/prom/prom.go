// Package prom exports the server observer to Prometheus.
package prom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shuliangfu/wsmesh/observability"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ServerObserver exports server metrics to Prometheus.
type ServerObserver struct {
	connGauge       prometheus.Gauge
	roomGauge       prometheus.Gauge
	upgradeTotal    *prometheus.CounterVec
	disconnectTotal *prometheus.CounterVec
	messagesIn      *prometheus.CounterVec
	messagesOut     *prometheus.CounterVec
	fanoutAudience  prometheus.Histogram
	uploadTotal     *prometheus.CounterVec
	uploadBytes     prometheus.Counter
	relayPublish    *prometheus.CounterVec
	relayReceive    prometheus.Counter
	relayErrors     *prometheus.CounterVec
}

// NewServerObserver registers server metrics on the registry.
func NewServerObserver(reg *prometheus.Registry) *ServerObserver {
	o := &ServerObserver{
		connGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wsmesh_connections",
			Help: "Current connected peer count.",
		}),
		roomGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wsmesh_rooms",
			Help: "Current occupied room count.",
		}),
		upgradeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsmesh_upgrade_total",
			Help: "WebSocket upgrade attempts by result and reason.",
		}, []string{"result", "reason"}),
		disconnectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsmesh_disconnect_total",
			Help: "Peer disconnects by reason.",
		}, []string{"reason"}),
		messagesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsmesh_messages_in_total",
			Help: "Inbound frames by envelope type.",
		}, []string{"type"}),
		messagesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsmesh_messages_out_total",
			Help: "Outbound frames by envelope type.",
		}, []string{"type"}),
		fanoutAudience: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wsmesh_fanout_audience",
			Help:    "Recipient count per broadcast.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		uploadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsmesh_upload_total",
			Help: "Chunked uploads by result.",
		}, []string{"result"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsmesh_upload_bytes_total",
			Help: "Bytes delivered by completed uploads.",
		}),
		relayPublish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsmesh_relay_publish_total",
			Help: "Messages relayed to other servers by operation.",
		}, []string{"op"}),
		relayReceive: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsmesh_relay_receive_total",
			Help: "Messages received from other servers.",
		}),
		relayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsmesh_relay_errors_total",
			Help: "Adapter relay failures by operation.",
		}, []string{"op"}),
	}
	reg.MustRegister(
		o.connGauge,
		o.roomGauge,
		o.upgradeTotal,
		o.disconnectTotal,
		o.messagesIn,
		o.messagesOut,
		o.fanoutAudience,
		o.uploadTotal,
		o.uploadBytes,
		o.relayPublish,
		o.relayReceive,
		o.relayErrors,
	)
	return o
}

func (o *ServerObserver) ConnCount(n int64) {
	o.connGauge.Set(float64(n))
}

func (o *ServerObserver) RoomCount(n int) {
	o.roomGauge.Set(float64(n))
}

func (o *ServerObserver) Upgrade(result observability.UpgradeResult, reason observability.UpgradeReason) {
	o.upgradeTotal.WithLabelValues(string(result), string(reason)).Inc()
}

func (o *ServerObserver) Disconnect(reason observability.DisconnectReason) {
	o.disconnectTotal.WithLabelValues(string(reason)).Inc()
}

func (o *ServerObserver) MessageIn(kind observability.MessageKind) {
	o.messagesIn.WithLabelValues(string(kind)).Inc()
}

func (o *ServerObserver) MessageOut(kind observability.MessageKind) {
	o.messagesOut.WithLabelValues(string(kind)).Inc()
}

func (o *ServerObserver) Fanout(audience int) {
	o.fanoutAudience.Observe(float64(audience))
}

func (o *ServerObserver) Upload(result observability.UploadResult, bytes int64) {
	o.uploadTotal.WithLabelValues(string(result)).Inc()
	if result == observability.UploadResultOK && bytes > 0 {
		o.uploadBytes.Add(float64(bytes))
	}
}

func (o *ServerObserver) RelayPublish(op observability.RelayOp) {
	o.relayPublish.WithLabelValues(string(op)).Inc()
}

func (o *ServerObserver) RelayReceive() {
	o.relayReceive.Inc()
}

func (o *ServerObserver) RelayError(op observability.RelayOp) {
	o.relayErrors.WithLabelValues(string(op)).Inc()
}
