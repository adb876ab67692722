package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Transport counters
	ConnectionsAccepted atomic.Uint64
	ActiveConnections   atomic.Int64
	StreamsAccepted     atomic.Uint64
	PingsServed         atomic.Uint64

	// Streaming sessions
	ActiveSessions    atomic.Int64
	TotalSessions     atomic.Uint64
	SessionsRejected  atomic.Uint64
	FramesSent        atomic.Uint64
	MailboxDrops      atomic.Uint64
	SendLatencyMicros atomic.Uint64 // Latency of the most recent frame send

	// Filter decisions
	FramesEvaluated atomic.Uint64
	FramesKept      atomic.Uint64
	FramesDropped   atomic.Uint64

	// Error counters
	ProtocolErrors   atomic.Uint64
	SendErrors       atomic.Uint64
	ConnectionErrors atomic.Uint64

	startTime time.Time

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),
	}

	// Register Prometheus gauges
	m.registerPrometheusMetrics()

	return m
}

type gauge struct {
	name  string
	help  string
	value func() float64
}

func counter(v *atomic.Uint64) func() float64 {
	return func() float64 { return float64(v.Load()) }
}

func level(v *atomic.Int64) func() float64 {
	return func() float64 { return float64(v.Load()) }
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	gauges := []gauge{
		{"pvstream_connections_accepted_total", "Total QUIC connections accepted", counter(&m.ConnectionsAccepted)},
		{"pvstream_active_connections", "Number of open QUIC connections", level(&m.ActiveConnections)},
		{"pvstream_streams_accepted_total", "Total bidirectional streams accepted", counter(&m.StreamsAccepted)},
		{"pvstream_pings_total", "Total ping requests answered", counter(&m.PingsServed)},

		{"pvstream_active_sessions", "Number of active video streaming sessions", level(&m.ActiveSessions)},
		{"pvstream_sessions_total", "Total video streaming sessions started", counter(&m.TotalSessions)},
		{"pvstream_sessions_rejected_total", "Video streaming sessions refused by admission control", counter(&m.SessionsRejected)},
		{"pvstream_frames_sent_total", "Total frames written to consumers", counter(&m.FramesSent)},
		{"pvstream_mailbox_drops_total", "Frames overwritten in a session mailbox before being sent", counter(&m.MailboxDrops)},
		{"pvstream_send_latency_us", "Latency of the most recent frame encode and write in microseconds", counter(&m.SendLatencyMicros)},

		{"pvstream_filter_frames_evaluated_total", "Total buffers evaluated by the frame filter", counter(&m.FramesEvaluated)},
		{"pvstream_filter_frames_kept_total", "Total buffers forwarded by the frame filter", counter(&m.FramesKept)},
		{"pvstream_filter_frames_dropped_total", "Total buffers dropped by the frame filter", counter(&m.FramesDropped)},

		{"pvstream_protocol_errors_total", "Total malformed or unknown requests", counter(&m.ProtocolErrors)},
		{"pvstream_send_errors_total", "Total failed frame writes", counter(&m.SendErrors)},
		{"pvstream_connection_errors_total", "Total connections closed with an error", counter(&m.ConnectionErrors)},
	}
	for _, g := range gauges {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			g.value,
		))
	}

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "pvstream_uptime_seconds",
			Help: "Seconds since the process started",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	))
}

// RecordDecision counts one filter decision
func (m *Metrics) RecordDecision(kept bool) {
	m.FramesEvaluated.Add(1)
	if kept {
		m.FramesKept.Add(1)
	} else {
		m.FramesDropped.Add(1)
	}
}

// UpdateSendLatency stores the latency of the most recent frame send
func (m *Metrics) UpdateSendLatency(d time.Duration) {
	m.SendLatencyMicros.Store(uint64(d.Microseconds()))
}

// Snapshot is the JSON view of the counters served by /health
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ActiveConnections int64  `json:"active_connections"`
	ActiveSessions    int64  `json:"active_sessions"`
	TotalSessions     uint64 `json:"total_sessions"`
	SessionsRejected  uint64 `json:"sessions_rejected"`
	FramesEvaluated   uint64 `json:"frames_evaluated"`
	FramesKept        uint64 `json:"frames_kept"`
	FramesDropped     uint64 `json:"frames_dropped"`
	FramesSent        uint64 `json:"frames_sent"`
	ProtocolErrors    uint64 `json:"protocol_errors"`
}

// Snapshot returns the current counter values
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Uptime:            time.Since(m.startTime).Round(time.Second).String(),
		ActiveConnections: m.ActiveConnections.Load(),
		ActiveSessions:    m.ActiveSessions.Load(),
		TotalSessions:     m.TotalSessions.Load(),
		SessionsRejected:  m.SessionsRejected.Load(),
		FramesEvaluated:   m.FramesEvaluated.Load(),
		FramesKept:        m.FramesKept.Load(),
		FramesDropped:     m.FramesDropped.Load(),
		FramesSent:        m.FramesSent.Load(),
		ProtocolErrors:    m.ProtocolErrors.Load(),
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HealthHandler serves a JSON health document. extra, if set, is merged
// under the "info" key.
func (m *Metrics) HealthHandler(extra func() map[string]any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := map[string]any{
			"status":  "ok",
			"metrics": m.Snapshot(),
		}
		if extra != nil {
			health["info"] = extra()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(health)
	})
}

// Mux returns a mux serving /metrics and /health
func (m *Metrics) Mux(extra func() map[string]any) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/health", m.HealthHandler(extra))
	return mux
}
