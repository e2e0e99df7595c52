package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vowsuite/notify/internal/domain"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	ChannelsSent       *prometheus.CounterVec
	ChannelsFailed     *prometheus.CounterVec
	ProcessingLatency  *prometheus.HistogramVec
	NotificationsFinal *prometheus.CounterVec
	LaneDepth          *prometheus.GaugeVec
	QueueAlarms        prometheus.Counter
	ConnectedClients   prometheus.Gauge
	ActiveRooms        prometheus.Gauge
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChannelsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_channel_sent_total",
			Help: "Total channel sends that succeeded.",
		}, []string{"channel"}),

		ChannelsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_channel_failed_total",
			Help: "Total channel sends that permanently failed (retries exhausted or not retryable).",
		}, []string{"channel"}),

		ProcessingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notify_processing_seconds",
			Help:    "End-to-end processing latency from dequeue to final outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"priority"}),

		NotificationsFinal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_notifications_total",
			Help: "Notifications by final status (delivered, failed, expired, no_channel, suppressed).",
		}, []string{"status"}),

		LaneDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "notify_lane_depth",
			Help: "Current number of items waiting in each dispatch lane.",
		}, []string{"priority"}),

		QueueAlarms: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notify_queue_alarms_total",
			Help: "Times a dispatch lane rejected work at capacity. Page on increase: no tenant-facing notification flows while this climbs.",
		}),

		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notify_ws_clients",
			Help: "Currently connected websocket clients on this process.",
		}),

		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notify_ws_rooms",
			Help: "Rooms with at least one local member on this process.",
		}),
	}

	reg.MustRegister(
		m.ChannelsSent,
		m.ChannelsFailed,
		m.ProcessingLatency,
		m.NotificationsFinal,
		m.LaneDepth,
		m.QueueAlarms,
		m.ConnectedClients,
		m.ActiveRooms,
	)

	return m
}

// WorkerHooks returns the metric callbacks injected into the dispatch
// workers, keeping the worker package free of prometheus imports.
func (m *Metrics) WorkerHooks() (
	onChannel func(ch domain.Channel, ok bool),
	onFinal func(priority domain.Priority, status domain.Status, latency time.Duration),
) {
	onChannel = func(ch domain.Channel, ok bool) {
		if ok {
			m.ChannelsSent.WithLabelValues(string(ch)).Inc()
		} else {
			m.ChannelsFailed.WithLabelValues(string(ch)).Inc()
		}
	}
	onFinal = func(priority domain.Priority, status domain.Status, latency time.Duration) {
		m.NotificationsFinal.WithLabelValues(string(status)).Inc()
		m.ProcessingLatency.WithLabelValues(string(priority)).Observe(latency.Seconds())
	}
	return
}
