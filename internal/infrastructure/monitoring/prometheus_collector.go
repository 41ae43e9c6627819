package monitoring

import (
	"time"

	"voicemesh/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	roomsActive        prometheus.Gauge
	participantsActive prometheus.Gauge
	sharesActive       prometheus.Gauge

	joinsTotal           prometheus.Counter
	leavesTotal          prometheus.Counter
	signalsRelayed       *prometheus.CounterVec
	signalsDropped       *prometheus.CounterVec
	rejectionsTotal      *prometheus.CounterVec
	catchUpsScheduled    prometheus.Counter
	connectionsTotal     prometheus.Counter
	reconnectionsTotal   prometheus.Counter

	joinDuration prometheus.Histogram
	roomSize     *prometheus.GaugeVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		roomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voicemesh_rooms_active",
			Help: "Number of live voice rooms",
		}),
		participantsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voicemesh_participants_active",
			Help: "Number of participants across all voice rooms",
		}),
		sharesActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voicemesh_screen_shares_active",
			Help: "Number of active screen shares",
		}),
		joinsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_joins_total",
			Help: "Total voice room joins",
		}),
		leavesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_leaves_total",
			Help: "Total voice room leaves, explicit and implicit",
		}),
		signalsRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemesh_signals_relayed_total",
			Help: "Signaling payloads forwarded between participants",
		}, []string{"type"}),
		signalsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemesh_signals_dropped_total",
			Help: "Signaling messages dropped at the relay boundary",
		}, []string{"reason"}),
		rejectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemesh_rejections_total",
			Help: "Explicit rejections returned to callers",
		}, []string{"reason"}),
		catchUpsScheduled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_screen_share_catchups_total",
			Help: "Late-joiner screen share renegotiations scheduled",
		}),
		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_signal_connections_total",
			Help: "Total signaling connections accepted",
		}),
		reconnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_signal_reconnections_total",
			Help: "Connections that replaced an existing connection for the same user",
		}),
		joinDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicemesh_join_duration_seconds",
			Help:    "Time to register a join and send the roster snapshot",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		roomSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voicemesh_room_participants",
			Help: "Participants per voice room",
		}, []string{"room_id"}),
	}
}

func (p *PrometheusCollector) RecordConnection(reconnect bool) {
	p.connectionsTotal.Inc()
	if reconnect {
		p.reconnectionsTotal.Inc()
	}
}

func (p *PrometheusCollector) RecordJoin(roomID domain.RoomID, roomSize int, took time.Duration) {
	p.joinsTotal.Inc()
	p.participantsActive.Inc()
	p.joinDuration.Observe(took.Seconds())
	p.roomSize.WithLabelValues(string(roomID)).Set(float64(roomSize))
	if roomSize == 1 {
		p.roomsActive.Inc()
	}
}

func (p *PrometheusCollector) RecordLeave(roomID domain.RoomID, roomSize int) {
	p.leavesTotal.Inc()
	p.participantsActive.Dec()
	if roomSize == 0 {
		p.roomsActive.Dec()
		p.roomSize.DeleteLabelValues(string(roomID))
		return
	}
	p.roomSize.WithLabelValues(string(roomID)).Set(float64(roomSize))
}

func (p *PrometheusCollector) RecordRelay(messageType string) {
	p.signalsRelayed.WithLabelValues(messageType).Inc()
}

func (p *PrometheusCollector) RecordDrop(reason string) {
	p.signalsDropped.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordRejection(reason string) {
	p.rejectionsTotal.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordShareStarted() {
	p.sharesActive.Inc()
}

func (p *PrometheusCollector) RecordShareStopped() {
	p.sharesActive.Dec()
}

func (p *PrometheusCollector) RecordCatchUp() {
	p.catchUpsScheduled.Inc()
}
